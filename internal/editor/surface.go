package editor

import (
	"context"
	"image"
	"image/draw"

	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/pipeline"
)

// Surface is the pixel buffer behind an editing session. It is drawn once
// from the decoded source at its natural size and is read-only afterwards;
// filters are applied to copies when the surface is presented.
type Surface struct {
	buf    *image.NRGBA
	format string
}

func NewSurface(src image.Image, format string) *Surface {
	b := src.Bounds()
	buf := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(buf, buf.Bounds(), src, b.Min, draw.Src)
	return &Surface{buf: buf, format: format}
}

func (s *Surface) Info() ImageInfo {
	return ImageInfo{
		Width:  s.buf.Rect.Dx(),
		Height: s.buf.Rect.Dy(),
		Format: s.format,
	}
}

// Image returns the unfiltered buffer. Callers must not write to it.
func (s *Surface) Image() image.Image {
	return s.buf
}

// Present renders expr over the buffer, optionally downscaled to maxHeight
// first. maxHeight <= 0 keeps natural dimensions.
func (s *Surface) Present(ctx context.Context, r pipeline.Renderer, expr filter.Expression, maxHeight int) (image.Image, error) {
	return r.Render(ctx, pipeline.ScaleToHeight(s.buf, maxHeight), expr)
}
