package filter

import "github.com/dunamismax/pixeltune/internal/domain"

// Preset describes a named filter for listings.
type Preset struct {
	Name   domain.NamedFilter `json:"name"`
	Label  string             `json:"label"`
	Suffix string             `json:"suffix"`
}

// Compose maps adjustments to their filter expression. The four
// continuous terms are always present, neutral or not, and the named-filter
// suffix always comes after them.
func Compose(a domain.Adjustments) Expression {
	return Expression{
		Base: [4]Function{
			percent(Brightness, a.Brightness),
			percent(Contrast, a.Contrast),
			percent(Saturate, a.Saturation),
			{Name: Blur, Value: float64(a.Blur), Unit: UnitPixels},
		},
		Suffix: suffixFor(a.Filter),
	}
}

func suffixFor(f domain.NamedFilter) []Function {
	switch f {
	case domain.FilterGrayscale:
		return []Function{percent(Grayscale, 100)}
	case domain.FilterSepia:
		return []Function{percent(Sepia, 100)}
	case domain.FilterInvert:
		return []Function{percent(Invert, 100)}
	case domain.FilterWarm:
		return []Function{percent(Sepia, 50), percent(Saturate, 150), degrees(HueRotate, -30)}
	case domain.FilterCool:
		return []Function{percent(Sepia, 50), percent(Saturate, 150), degrees(HueRotate, 30)}
	case domain.FilterVintage:
		return []Function{percent(Sepia, 80), percent(Brightness, 120), percent(Contrast, 90)}
	default:
		return nil
	}
}

var presetLabels = map[domain.NamedFilter]string{
	domain.FilterNormal:    "Normal",
	domain.FilterGrayscale: "Grayscale",
	domain.FilterSepia:     "Sepia",
	domain.FilterInvert:    "Invert",
	domain.FilterWarm:      "Warm",
	domain.FilterCool:      "Cool",
	domain.FilterVintage:   "Vintage",
}

func Presets() []Preset {
	names := domain.NamedFilters()
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		out = append(out, Preset{
			Name:   name,
			Label:  presetLabels[name],
			Suffix: joinFunctions(suffixFor(name)),
		})
	}
	return out
}

func percent(name string, v int) Function {
	return Function{Name: name, Value: float64(v), Unit: UnitPercent}
}

func degrees(name string, v int) Function {
	return Function{Name: name, Value: float64(v), Unit: UnitDegrees}
}
