package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"testing"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/stretchr/testify/require"
)

func BenchmarkProcessorColorMatrix(b *testing.B) {
	adjustments := domain.DefaultAdjustments()
	adjustments.Brightness = 120
	adjustments.Saturation = 140
	adjustments.Filter = domain.FilterVintage
	benchmarkProcess(b, adjustments)
}

func BenchmarkProcessorBlur(b *testing.B) {
	adjustments := domain.DefaultAdjustments()
	adjustments.Blur = domain.BlurToggleRadius
	benchmarkProcess(b, adjustments)
}

func benchmarkProcess(b *testing.B, adjustments domain.Adjustments) {
	b.Helper()

	source := benchmarkPNG(b, 1920, 1080)
	processor, err := NewProcessor(staticFetcher{data: source}, discardEmitter{})
	require.NoError(b, err)

	req := Request{
		SourceType:  SourceTypeLocalFile,
		ObjectKey:   "ignored.png",
		Adjustments: adjustments,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		_, err := processor.Process(context.Background(), req)
		require.NoError(b, err)
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, data []byte, width, height int) (Output, error) {
	return Output{
		Format: "png",
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

func benchmarkPNG(b *testing.B, w, h int) []byte {
	b.Helper()

	var buf bytes.Buffer
	require.NoError(b, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}
