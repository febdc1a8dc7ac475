package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NamedFilter is one of the preset treatments appended after the
// continuous adjustments.
type NamedFilter string

const (
	FilterNormal    NamedFilter = "normal"
	FilterGrayscale NamedFilter = "grayscale"
	FilterSepia     NamedFilter = "sepia"
	FilterInvert    NamedFilter = "invert"
	FilterWarm      NamedFilter = "warm"
	FilterCool      NamedFilter = "cool"
	FilterVintage   NamedFilter = "vintage"
)

const (
	DefaultPercent = 100
	MinPercent     = 0
	MaxPercent     = 200
	MaxBlur        = 100

	// BlurToggleRadius is the radius the blur toggle switches on to.
	BlurToggleRadius = 5
)

var ErrInvalidAdjustment = errors.New("invalid adjustment")

var namedFilters = []NamedFilter{
	FilterNormal,
	FilterGrayscale,
	FilterSepia,
	FilterInvert,
	FilterWarm,
	FilterCool,
	FilterVintage,
}

// NamedFilters returns the selectable filters in display order.
func NamedFilters() []NamedFilter {
	out := make([]NamedFilter, len(namedFilters))
	copy(out, namedFilters)
	return out
}

func ParseNamedFilter(s string) (NamedFilter, error) {
	candidate := NamedFilter(strings.ToLower(strings.TrimSpace(s)))
	if candidate == "" {
		return FilterNormal, nil
	}
	for _, f := range namedFilters {
		if f == candidate {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unknown filter %q", ErrInvalidAdjustment, s)
}

type Adjustments struct {
	Brightness int         `json:"brightness" validate:"min=0,max=200"`
	Contrast   int         `json:"contrast" validate:"min=0,max=200"`
	Saturation int         `json:"saturation" validate:"min=0,max=200"`
	Blur       int         `json:"blur" validate:"min=0,max=100"`
	Filter     NamedFilter `json:"filter" validate:"oneof=normal grayscale sepia invert warm cool vintage"`
}

func DefaultAdjustments() Adjustments {
	return Adjustments{
		Brightness: DefaultPercent,
		Contrast:   DefaultPercent,
		Saturation: DefaultPercent,
		Blur:       0,
		Filter:     FilterNormal,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (a Adjustments) Validate() error {
	if err := validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s=%v fails %s=%s", ErrInvalidAdjustment, strings.ToLower(fe.Field()), fe.Value(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", ErrInvalidAdjustment, err)
	}
	return nil
}

// AdjustmentPatch changes any subset of the adjustments in one step.
type AdjustmentPatch struct {
	Brightness *int         `json:"brightness,omitempty"`
	Contrast   *int         `json:"contrast,omitempty"`
	Saturation *int         `json:"saturation,omitempty"`
	Blur       *int         `json:"blur,omitempty"`
	Filter     *NamedFilter `json:"filter,omitempty"`
}

func (p AdjustmentPatch) Empty() bool {
	return p.Brightness == nil && p.Contrast == nil && p.Saturation == nil && p.Blur == nil && p.Filter == nil
}

// ApplyTo returns a copy of a with the patch applied. The result is not
// validated.
func (p AdjustmentPatch) ApplyTo(a Adjustments) Adjustments {
	if p.Brightness != nil {
		a.Brightness = *p.Brightness
	}
	if p.Contrast != nil {
		a.Contrast = *p.Contrast
	}
	if p.Saturation != nil {
		a.Saturation = *p.Saturation
	}
	if p.Blur != nil {
		a.Blur = *p.Blur
	}
	if p.Filter != nil {
		a.Filter = NamedFilter(strings.ToLower(strings.TrimSpace(string(*p.Filter))))
	}
	return a
}
