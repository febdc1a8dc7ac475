//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/imageio"
)

type govipsRenderer struct{}

func (r govipsRenderer) Render(ctx context.Context, src image.Image, expr filter.Expression) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	input, err := imageio.PNGBytes(src)
	if err != nil {
		return nil, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, fmt.Errorf("load surface into vips: %w", err)
	}
	defer img.Close()

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
			err = img.GaussianBlur(blurSigma(fn.Amount()))
		default:
			var m colorMatrix
			m, err = matrixFor(fn)
			if err == nil {
				err = applyGovipsMatrix(img, m)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", fn, err)
		}

		// Clamp to 8 bits between functions, as the bild renderer does.
		if err := img.Cast(vips.BandFormatUchar); err != nil {
			return nil, fmt.Errorf("cast after %s: %w", fn, err)
		}
	}

	out, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode vips output: %w", err)
	}
	return decoded, nil
}

func applyGovipsMatrix(img *vips.ImageRef, m colorMatrix) error {
	hasAlpha := img.HasAlpha()

	recomb := make([][]float64, 0, 4)
	for _, row := range m {
		coeffs := []float64{row[0], row[1], row[2]}
		if hasAlpha {
			coeffs = append(coeffs, 0)
		}
		recomb = append(recomb, coeffs)
	}
	if hasAlpha {
		recomb = append(recomb, []float64{0, 0, 0, 1})
	}
	if err := img.Recomb(recomb); err != nil {
		return fmt.Errorf("recomb: %w", err)
	}

	if m[0][3] == 0 && m[1][3] == 0 && m[2][3] == 0 {
		return nil
	}

	scale := []float64{1, 1, 1}
	offset := []float64{m[0][3] * 255, m[1][3] * 255, m[2][3] * 255}
	if hasAlpha {
		scale = append(scale, 1)
		offset = append(offset, 0)
	}
	if err := img.Linear(scale, offset); err != nil {
		return fmt.Errorf("linear: %w", err)
	}
	return nil
}
