package api

import (
	"net/http"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/filter"
)

type sliderControl struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Step    int    `json:"step"`
	Default int    `json:"default"`
}

type buttonControl struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Label string `json:"label"`
}

type actionControl struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

type controlsResponse struct {
	Sliders []sliderControl `json:"sliders"`
	Buttons []buttonControl `json:"buttons"`
	Filters []filter.Preset `json:"filters"`
	Blur    struct {
		Off int `json:"off"`
		On  int `json:"on"`
	} `json:"blur_toggle"`
	Actions []actionControl `json:"actions"`
}

// controls describes the editing surface: three sliders, a grid of eight
// toggle buttons (seven filter selectors plus blur) and three actions.
func controls() controlsResponse {
	slider := func(name, label string) sliderControl {
		return sliderControl{
			Name:    name,
			Label:   label,
			Min:     domain.MinPercent,
			Max:     domain.MaxPercent,
			Step:    1,
			Default: domain.DefaultPercent,
		}
	}

	presets := filter.Presets()
	labels := make(map[domain.NamedFilter]string, len(presets))
	for _, p := range presets {
		labels[p.Name] = p.Label
	}
	selector := func(f domain.NamedFilter) buttonControl {
		return buttonControl{Kind: "filter", Name: string(f), Label: labels[f]}
	}

	resp := controlsResponse{
		Sliders: []sliderControl{
			slider("brightness", "Brightness"),
			slider("contrast", "Contrast"),
			slider("saturation", "Saturation"),
		},
		Buttons: []buttonControl{
			selector(domain.FilterNormal),
			selector(domain.FilterGrayscale),
			selector(domain.FilterSepia),
			selector(domain.FilterInvert),
			{Kind: "toggle", Name: "blur", Label: "Blur"},
			selector(domain.FilterWarm),
			selector(domain.FilterCool),
			selector(domain.FilterVintage),
		},
		Filters: presets,
		Actions: []actionControl{
			{Name: "reset", Label: "Reset All", Enabled: true},
			{Name: "crop", Label: "Crop", Enabled: false},
			{Name: "download", Label: "Download", Enabled: true},
		},
	}
	resp.Blur.Off = 0
	resp.Blur.On = domain.BlurToggleRadius
	return resp
}

func (s *Server) handleControls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, controls())
}
