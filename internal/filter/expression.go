// Package filter derives the ordered filter expression from a set of
// adjustments. Everything here is pure.
package filter

import (
	"strconv"
	"strings"
)

const (
	Brightness = "brightness"
	Contrast   = "contrast"
	Saturate   = "saturate"
	Blur       = "blur"
	Grayscale  = "grayscale"
	Sepia      = "sepia"
	Invert     = "invert"
	HueRotate  = "hue-rotate"
)

const (
	UnitPercent = "%"
	UnitPixels  = "px"
	UnitDegrees = "deg"
)

// Function is a single filter primitive such as brightness(150%).
type Function struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

func (f Function) String() string {
	return f.Name + "(" + strconv.FormatFloat(f.Value, 'f', -1, 64) + f.Unit + ")"
}

// Amount returns the value in the unit the pixel formulas use: a ratio for
// percentages, pixels for blur and degrees for hue rotation.
func (f Function) Amount() float64 {
	if f.Unit == UnitPercent {
		return f.Value / 100
	}
	return f.Value
}

// Identity reports whether the function leaves every pixel unchanged.
func (f Function) Identity() bool {
	switch f.Name {
	case Brightness, Contrast, Saturate:
		return f.Amount() == 1
	case Blur, Grayscale, Sepia, Invert, HueRotate:
		return f.Value == 0
	default:
		return false
	}
}

// Expression is the four continuous terms followed by the optional
// named-filter suffix.
type Expression struct {
	Base   [4]Function `json:"base"`
	Suffix []Function  `json:"suffix,omitempty"`
}

// Functions returns all terms in application order.
func (e Expression) Functions() []Function {
	out := make([]Function, 0, len(e.Base)+len(e.Suffix))
	out = append(out, e.Base[:]...)
	return append(out, e.Suffix...)
}

func (e Expression) String() string {
	return joinFunctions(e.Functions())
}

func joinFunctions(fns []Function) string {
	parts := make([]string, len(fns))
	for i, fn := range fns {
		parts[i] = fn.String()
	}
	return strings.Join(parts, " ")
}
