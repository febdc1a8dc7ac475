package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dunamismax/pixeltune/internal/editor"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(log.New(io.Discard, "", 0), &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestComposeDefaults(t *testing.T) {
	out, err := execute(t, "compose")
	require.NoError(t, err)
	require.Equal(t, "brightness(100%) contrast(100%) saturate(100%) blur(0px)\n", out)
}

func TestComposeVintage(t *testing.T) {
	out, err := execute(t, "compose", "--brightness", "110", "--blur", "2", "--filter", "Vintage")
	require.NoError(t, err)
	require.Equal(t, "brightness(110%) contrast(100%) saturate(100%) blur(2px) sepia(80%) brightness(120%) contrast(90%)\n", out)
}

func TestComposeRejectsOutOfRange(t *testing.T) {
	_, err := execute(t, "compose", "--contrast", "250")
	require.Error(t, err)

	_, err = execute(t, "compose", "--filter", "lomo")
	require.Error(t, err)
}

func TestFiltersListsPresets(t *testing.T) {
	out, err := execute(t, "filters")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	require.True(t, strings.HasPrefix(lines[1], "normal"))
	require.Contains(t, out, "hue-rotate(-30deg)")
}

func TestEditWritesPNG(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "in.png")
	outPath := filepath.Join(dir, "out.png")

	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 200, 100, 50, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(inPath, buf.Bytes(), 0o644))

	_, err := execute(t, "edit", "--in", inPath, "--out", outPath, "--filter", "invert")
	require.NoError(t, err)

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), got.Bounds())
	require.Equal(t, color.NRGBAModel.Convert(color.NRGBA{R: 55, G: 155, B: 205, A: 255}), color.NRGBAModel.Convert(got.At(10, 10)))
}

func TestEditRequiresInput(t *testing.T) {
	_, err := execute(t, "edit")
	require.Error(t, err)
}

func TestEditRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(inPath, []byte("hello"), 0o644))

	_, err := execute(t, "edit", "--in", inPath, "--out", filepath.Join(dir, "out.png"))
	require.Error(t, err)
}

type failingExporter struct{}

func (failingExporter) Export(_ context.Context, w io.Writer) (editor.ImageInfo, error) {
	if _, err := w.Write([]byte("\x89PNG\r\n")); err != nil {
		return editor.ImageInfo{}, err
	}
	return editor.ImageInfo{}, errors.New("encoder failed")
}

func TestWriteExportRemovesPartialFile(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.png")

	err := writeExport(context.Background(), failingExporter{}, outPath)
	require.ErrorContains(t, err, "encoder failed")

	_, statErr := os.Stat(outPath)
	require.True(t, os.IsNotExist(statErr), "partial output left at %s", outPath)
}

func TestWriteExportUnavailableLeavesNoFile(t *testing.T) {
	c, err := editor.New()
	require.NoError(t, err)
	outPath := filepath.Join(t.TempDir(), "out.png")

	err = writeExport(context.Background(), c, outPath)
	require.ErrorIs(t, err, editor.ErrExportUnavailable)

	_, statErr := os.Stat(outPath)
	require.True(t, os.IsNotExist(statErr))
}
