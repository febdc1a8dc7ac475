package pipeline

import (
	"fmt"
	"image/color"
	"math"

	"github.com/dunamismax/pixeltune/internal/filter"
)

// colorMatrix maps unpremultiplied RGB in [0,1]; each row is
// r, g, b coefficients followed by a constant offset.
type colorMatrix [3][4]float64

// matrixFor returns the Filter Effects 1 colour matrix for fn.
func matrixFor(fn filter.Function) (colorMatrix, error) {
	a := fn.Amount()
	switch fn.Name {
	case filter.Brightness:
		return scaleMatrix(a, 0), nil
	case filter.Contrast:
		return scaleMatrix(a, 0.5-0.5*a), nil
	case filter.Invert:
		a = clamp01(a)
		return scaleMatrix(1-2*a, a), nil
	case filter.Saturate:
		return saturateMatrix(a), nil
	case filter.Grayscale:
		inv := 1 - clamp01(a)
		return colorMatrix{
			{0.2126 + 0.7874*inv, 0.7152 - 0.7152*inv, 0.0722 - 0.0722*inv, 0},
			{0.2126 - 0.2126*inv, 0.7152 + 0.2848*inv, 0.0722 - 0.0722*inv, 0},
			{0.2126 - 0.2126*inv, 0.7152 - 0.7152*inv, 0.0722 + 0.9278*inv, 0},
		}, nil
	case filter.Sepia:
		inv := 1 - clamp01(a)
		return colorMatrix{
			{0.393 + 0.607*inv, 0.769 - 0.769*inv, 0.189 - 0.189*inv, 0},
			{0.349 - 0.349*inv, 0.686 + 0.314*inv, 0.168 - 0.168*inv, 0},
			{0.272 - 0.272*inv, 0.534 - 0.534*inv, 0.131 + 0.869*inv, 0},
		}, nil
	case filter.HueRotate:
		return hueRotateMatrix(a), nil
	default:
		return colorMatrix{}, fmt.Errorf("%w: %s", ErrUnsupportedFunction, fn.Name)
	}
}

func scaleMatrix(k, offset float64) colorMatrix {
	return colorMatrix{
		{k, 0, 0, offset},
		{0, k, 0, offset},
		{0, 0, k, offset},
	}
}

func saturateMatrix(s float64) colorMatrix {
	return colorMatrix{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s, 0},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s, 0},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s, 0},
	}
}

func hueRotateMatrix(deg float64) colorMatrix {
	rad := deg * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return colorMatrix{
		{0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928, 0},
		{0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283, 0},
		{0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072, 0},
	}
}

// apply works on the premultiplied pixels bild hands out: it
// un-premultiplies, applies the matrix, clamps and re-premultiplies.
func (m colorMatrix) apply(c color.RGBA) color.RGBA {
	if c.A == 0 {
		return c
	}
	alpha := float64(c.A) / 255
	r := float64(c.R) / 255 / alpha
	g := float64(c.G) / 255 / alpha
	b := float64(c.B) / 255 / alpha

	nr := clamp01(m[0][0]*r + m[0][1]*g + m[0][2]*b + m[0][3])
	ng := clamp01(m[1][0]*r + m[1][1]*g + m[1][2]*b + m[1][3])
	nb := clamp01(m[2][0]*r + m[2][1]*g + m[2][2]*b + m[2][3])

	return color.RGBA{
		R: quantize(nr * alpha),
		G: quantize(ng * alpha),
		B: quantize(nb * alpha),
		A: c.A,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func quantize(v float64) uint8 {
	return uint8(math.Round(v * 255))
}
