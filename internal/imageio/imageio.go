// Package imageio decodes uploaded images and encodes rendered output.
package imageio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ExportFilename is the fixed name of every exported file.
const ExportFilename = "edited-image.png"

const (
	DefaultMaxPixels = 50_000_000
	ContentTypePNG   = "image/png"
)

var ErrDecode = errors.New("file is not a readable image")

type Limits struct {
	// MaxPixels bounds width*height. Zero means DefaultMaxPixels.
	MaxPixels int
}

// Decode reads one image. Anything the registered decoders do not
// recognise, empty images and images above the pixel limit fail with
// ErrDecode.
func Decode(r io.Reader, limits Limits) (image.Image, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("%w: no file selected", ErrDecode)
	}
	maxPixels := limits.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	br := bufio.NewReader(r)
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(br, &header))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(io.MultiReader(&header, br))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

func DecodeBytes(data []byte, limits Limits) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty file", ErrDecode)
	}
	return Decode(bytes.NewReader(data), limits)
}

// EncodePNG writes img losslessly.
func EncodePNG(w io.Writer, img image.Image) error {
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func PNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
