package pipeline

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"math"

	"github.com/dunamismax/pixeltune/internal/filter"
	xdraw "golang.org/x/image/draw"
)

var ErrUnsupportedFunction = errors.New("unsupported filter function")

// Renderer applies a filter expression to a copy of src. Implementations
// never mutate src.
type Renderer interface {
	Render(ctx context.Context, src image.Image, expr filter.Expression) (image.Image, error)
}

func NewRenderer() (Renderer, error) {
	return newRenderer()
}

// ScaleToHeight downsamples src so it is at most maxHeight tall, keeping the
// aspect ratio. Smaller images and maxHeight <= 0 return src unchanged.
func ScaleToHeight(src image.Image, maxHeight int) image.Image {
	b := src.Bounds()
	if maxHeight <= 0 || b.Dy() <= maxHeight {
		return src
	}
	width := max(1, b.Dx()*maxHeight/b.Dy())
	dst := image.NewNRGBA(image.Rect(0, 0, width, maxHeight))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// blurSigma is the standard deviation of the kernel blur.Gaussian builds for
// radius: weights fall off as exp(-x²/4r) and are cut at ±r. Other backends
// use it so a blur(Npx) term looks the same on every renderer.
func blurSigma(radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return math.Sqrt(2 * radius)
}

func cloneImage(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
