package pipeline

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/anthonynsimon/bild/blur"
	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func renderWith(t *testing.T, src image.Image, a domain.Adjustments) image.Image {
	t.Helper()
	out, err := bildRenderer{}.Render(context.Background(), src, filter.Compose(a))
	require.NoError(t, err)
	return out
}

func TestBildRenderer_ColorFormulas(t *testing.T) {
	tests := []struct {
		name   string
		src    color.RGBA
		adjust func(*domain.Adjustments)
		want   color.RGBA
	}{
		{
			name:   "brightness scales channels",
			src:    color.RGBA{R: 100, G: 100, B: 100, A: 255},
			adjust: func(a *domain.Adjustments) { a.Brightness = 150 },
			want:   color.RGBA{R: 150, G: 150, B: 150, A: 255},
		},
		{
			name:   "brightness clamps at white",
			src:    color.RGBA{R: 200, G: 200, B: 200, A: 255},
			adjust: func(a *domain.Adjustments) { a.Brightness = 200 },
			want:   color.RGBA{R: 255, G: 255, B: 255, A: 255},
		},
		{
			name:   "zero contrast is mid gray",
			src:    color.RGBA{R: 10, G: 200, B: 90, A: 255},
			adjust: func(a *domain.Adjustments) { a.Contrast = 0 },
			want:   color.RGBA{R: 128, G: 128, B: 128, A: 255},
		},
		{
			name:   "grayscale uses luminance weights",
			src:    color.RGBA{R: 255, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterGrayscale },
			want:   color.RGBA{R: 54, G: 54, B: 54, A: 255},
		},
		{
			name:   "sepia on white",
			src:    color.RGBA{R: 255, G: 255, B: 255, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterSepia },
			want:   color.RGBA{R: 255, G: 255, B: 239, A: 255},
		},
		{
			name:   "invert",
			src:    color.RGBA{R: 0, G: 128, B: 255, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterInvert },
			want:   color.RGBA{R: 255, G: 127, B: 0, A: 255},
		},
		{
			name:   "warm suffix",
			src:    color.RGBA{R: 200, G: 100, B: 50, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterWarm },
			want:   color.RGBA{R: 235, G: 105, B: 104, A: 255},
		},
		{
			name:   "cool suffix",
			src:    color.RGBA{R: 200, G: 100, B: 50, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterCool },
			want:   color.RGBA{R: 159, G: 135, B: 30, A: 255},
		},
		{
			name:   "vintage suffix",
			src:    color.RGBA{R: 200, G: 100, B: 50, A: 255},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterVintage },
			want:   color.RGBA{R: 198, G: 160, B: 122, A: 255},
		},
		{
			name:   "brightness on half transparent pixel",
			src:    color.RGBA{R: 64, G: 64, B: 64, A: 128},
			adjust: func(a *domain.Adjustments) { a.Brightness = 150 },
			want:   color.RGBA{R: 96, G: 96, B: 96, A: 128},
		},
		{
			name:   "invert on half transparent pixel",
			src:    color.RGBA{R: 64, G: 32, B: 0, A: 128},
			adjust: func(a *domain.Adjustments) { a.Filter = domain.FilterInvert },
			want:   color.RGBA{R: 64, G: 96, B: 128, A: 128},
		},
		{
			name:   "zero saturation matches grayscale on gray input",
			src:    color.RGBA{R: 90, G: 90, B: 90, A: 255},
			adjust: func(a *domain.Adjustments) { a.Saturation = 0 },
			want:   color.RGBA{R: 90, G: 90, B: 90, A: 255},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := domain.DefaultAdjustments()
			tt.adjust(&a)
			out := renderWith(t, solid(4, 4, tt.src), a)
			require.Equal(t, tt.want, rgbaAt(out, 1, 1))
		})
	}
}

func TestBildRenderer_HueRotate(t *testing.T) {
	tests := []struct {
		degrees int
		src     color.RGBA
		want    color.RGBA
	}{
		{degrees: 30, src: color.RGBA{R: 255, A: 255}, want: color.RGBA{R: 201, G: 26, B: 0, A: 255}},
		{degrees: -30, src: color.RGBA{R: 255, A: 255}, want: color.RGBA{R: 255, G: 0, B: 108, A: 255}},
		{degrees: 30, src: color.RGBA{G: 255, A: 255}, want: color.RGBA{R: 0, G: 255, B: 116, A: 255}},
	}

	for _, tt := range tests {
		expr := filter.Compose(domain.DefaultAdjustments())
		expr.Suffix = []filter.Function{{Name: filter.HueRotate, Value: float64(tt.degrees), Unit: filter.UnitDegrees}}

		out, err := bildRenderer{}.Render(context.Background(), solid(4, 4, tt.src), expr)
		require.NoError(t, err)
		require.Equal(t, tt.want, rgbaAt(out, 2, 2), expr.String())
	}
}

func TestBildRenderer_NeutralIsIdentity(t *testing.T) {
	src := gradient(32, 16)
	out := renderWith(t, src, domain.DefaultAdjustments())

	require.Equal(t, src.Bounds().Size(), out.Bounds().Size())
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			require.Equal(t, src.RGBAAt(x, y), rgbaAt(out, x, y))
		}
	}
}

func TestBildRenderer_DoesNotMutateSource(t *testing.T) {
	src := gradient(20, 20)
	before := append([]uint8(nil), src.Pix...)

	a := domain.DefaultAdjustments()
	a.Brightness = 180
	a.Blur = 3
	a.Filter = domain.FilterVintage
	_ = renderWith(t, src, a)

	require.Equal(t, before, src.Pix)

	// A second render from the same source with neutral settings must
	// restore the original pixels.
	out := renderWith(t, src, domain.DefaultAdjustments())
	require.Equal(t, src.RGBAAt(7, 11), rgbaAt(out, 7, 11))
}

func TestBildRenderer_BlurSpreadsEdges(t *testing.T) {
	src := solid(20, 20, color.RGBA{A: 255})
	for y := 0; y < 20; y++ {
		for x := 10; x < 20; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}

	a := domain.DefaultAdjustments()
	a.Blur = domain.BlurToggleRadius
	out := renderWith(t, src, a)

	edge := rgbaAt(out, 9, 10)
	require.Greater(t, edge.R, uint8(0))
	require.Less(t, edge.R, uint8(255))
}

func TestBlurSigmaMatchesBildKernel(t *testing.T) {
	require.Zero(t, blurSigma(0))
	require.InDelta(t, 2, blurSigma(2), 1e-9)
	require.InDelta(t, math.Sqrt(10), blurSigma(5), 1e-9)

	// A step edge blurred by bild follows a normal CDF with that sigma.
	// Treating radius as sigma would put this pixel near 38% instead of 19%.
	const w, radius = 64, 8
	src := solid(w, 1, color.RGBA{A: 255})
	for x := w / 2; x < w; x++ {
		src.SetRGBA(x, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}
	out := blur.Gaussian(src, radius)
	sigma := blurSigma(radius)
	x := w/2 - int(math.Round(sigma)) - 1
	got := float64(rgbaAt(out, x, 0).R) / 255
	want := 0.5 * math.Erfc((float64(w/2)-0.5-float64(x))/(sigma*math.Sqrt2))
	require.InDelta(t, want, got, 0.03)
}

func TestBildRenderer_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bildRenderer{}.Render(ctx, gradient(8, 8), filter.Compose(domain.DefaultAdjustments()))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBildRenderer_UnsupportedFunction(t *testing.T) {
	expr := filter.Compose(domain.DefaultAdjustments())
	expr.Suffix = []filter.Function{{Name: "drop-shadow", Value: 4, Unit: filter.UnitPixels}}

	_, err := bildRenderer{}.Render(context.Background(), gradient(8, 8), expr)
	require.ErrorIs(t, err, ErrUnsupportedFunction)
}

func TestScaleToHeight(t *testing.T) {
	src := gradient(800, 600)

	scaled := ScaleToHeight(src, 400)
	require.Equal(t, 400, scaled.Bounds().Dy())
	require.Equal(t, 533, scaled.Bounds().Dx())

	small := gradient(100, 50)
	require.Same(t, small, ScaleToHeight(small, 400))
	require.Same(t, src, ScaleToHeight(src, 0))
}
