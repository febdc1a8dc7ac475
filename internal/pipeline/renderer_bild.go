package pipeline

import (
	"context"
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/dunamismax/pixeltune/internal/filter"
)

type bildRenderer struct{}

func (bildRenderer) Render(ctx context.Context, src image.Image, expr filter.Expression) (image.Image, error) {
	out := src
	applied := false

	for _, fn := range expr.Functions() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if fn.Identity() {
			continue
		}

		switch fn.Name {
		case filter.Blur:
			out = blur.Gaussian(out, fn.Amount())
		default:
			m, err := matrixFor(fn)
			if err != nil {
				return nil, err
			}
			out = adjust.Apply(out, m.apply)
		}
		applied = true
	}

	if !applied {
		return cloneImage(src), nil
	}
	return out, nil
}
