package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dunamismax/pixeltune/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T) *Controller {
	t.Helper()
	c, err := New()
	require.NoError(t, err)
	return c
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 90,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestController_DefaultState(t *testing.T) {
	c := newController(t)

	state := c.State()
	require.Equal(t, uint64(0), state.Version)
	require.Equal(t, domain.DefaultAdjustments(), state.Adjustments)
	require.Equal(t, "brightness(100%) contrast(100%) saturate(100%) blur(0px)", state.Expression)
	require.Nil(t, state.Image)
}

func TestController_ResetIsOneTransition(t *testing.T) {
	c := newController(t)

	_, err := c.Apply(domain.AdjustmentPatch{
		Brightness: intPtr(30),
		Contrast:   intPtr(170),
		Saturation: intPtr(0),
		Blur:       intPtr(12),
		Filter:     filterPtr(domain.FilterVintage),
	})
	require.NoError(t, err)

	var seen []State
	cancel := c.Subscribe(func(s State) { seen = append(seen, s) })
	defer cancel()

	state := c.Reset()
	require.Equal(t, domain.DefaultAdjustments(), state.Adjustments)
	require.Len(t, seen, 1)
	require.Equal(t, state, seen[0])
}

func TestController_SettersValidateRanges(t *testing.T) {
	c := newController(t)

	tests := []struct {
		name string
		set  func() (State, error)
	}{
		{name: "brightness above max", set: func() (State, error) { return c.SetBrightness(201) }},
		{name: "contrast negative", set: func() (State, error) { return c.SetContrast(-1) }},
		{name: "saturation above max", set: func() (State, error) { return c.SetSaturation(500) }},
		{name: "blur above max", set: func() (State, error) { return c.SetBlur(domain.MaxBlur + 1) }},
		{name: "unknown filter", set: func() (State, error) { return c.SetFilter("noir") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := c.State()
			state, err := tt.set()
			require.ErrorIs(t, err, domain.ErrInvalidAdjustment)
			require.Equal(t, before, state)
			require.Equal(t, before, c.State())
		})
	}

	state, err := c.SetBrightness(200)
	require.NoError(t, err)
	require.Equal(t, 200, state.Adjustments.Brightness)
	require.Equal(t, uint64(1), state.Version)
}

func TestController_ToggleBlurRoundTrip(t *testing.T) {
	c := newController(t)

	state, err := c.ToggleBlur()
	require.NoError(t, err)
	require.Equal(t, domain.BlurToggleRadius, state.Adjustments.Blur)

	state, err = c.ToggleBlur()
	require.NoError(t, err)
	require.Equal(t, 0, state.Adjustments.Blur)

	_, err = c.SetBlur(40)
	require.NoError(t, err)
	state, err = c.ToggleBlur()
	require.NoError(t, err)
	require.Equal(t, 0, state.Adjustments.Blur)
}

func TestController_UploadKeepsAdjustments(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 40, 20)))
	require.NoError(t, err)

	patch := domain.AdjustmentPatch{
		Brightness: intPtr(130),
		Contrast:   intPtr(60),
		Saturation: intPtr(190),
		Blur:       intPtr(domain.BlurToggleRadius),
		Filter:     filterPtr(domain.FilterCool),
	}
	want, err := c.Apply(patch)
	require.NoError(t, err)

	info, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 64, 48)))
	require.NoError(t, err)
	require.Equal(t, ImageInfo{Width: 64, Height: 48, Format: "png"}, info)

	state := c.State()
	require.Equal(t, want.Adjustments, state.Adjustments)
	require.Equal(t, &info, state.Image)
}

func TestController_LoadRejectsNonImage(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 10, 10)))
	require.NoError(t, err)
	before := c.State()

	_, err = c.Load(ctx, strings.NewReader("definitely not an image"))
	require.ErrorIs(t, err, imageio.ErrDecode)
	require.Equal(t, before, c.State())
}

func TestController_ExportWithoutImage(t *testing.T) {
	c := newController(t)
	_, err := c.SetBrightness(150)
	require.NoError(t, err)
	before := c.State()

	var out bytes.Buffer
	_, err = c.Export(context.Background(), &out)
	require.ErrorIs(t, err, ErrExportUnavailable)
	require.ErrorIs(t, err, ErrNoImage)
	require.Zero(t, out.Len())
	require.Equal(t, before, c.State())
}

func TestController_CropIsInert(t *testing.T) {
	c := newController(t)
	before := c.State()

	require.ErrorIs(t, c.Crop(), ErrCropUnsupported)
	require.Equal(t, before, c.State())
}

func TestController_ExportEndToEnd(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	source := pngFixture(t, 100, 100)
	_, err := c.Load(ctx, bytes.NewReader(source))
	require.NoError(t, err)

	state, err := c.Apply(domain.AdjustmentPatch{
		Brightness: intPtr(150),
		Contrast:   intPtr(80),
		Saturation: intPtr(120),
		Blur:       intPtr(0),
		Filter:     filterPtr(domain.FilterSepia),
	})
	require.NoError(t, err)
	require.Equal(t, "brightness(150%) contrast(80%) saturate(120%) blur(0px) sepia(100%)", state.Expression)

	var out bytes.Buffer
	info, err := c.Export(ctx, &out)
	require.NoError(t, err)
	require.Equal(t, 100, info.Width)
	require.Equal(t, 100, info.Height)

	exported, err := png.Decode(&out)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 100), exported.Bounds())

	src, _, err := imageio.DecodeBytes(source, imageio.Limits{})
	require.NoError(t, err)
	renderer, err := pipeline.NewRenderer()
	require.NoError(t, err)
	want, err := renderer.Render(ctx, src, filter.Compose(state.Adjustments))
	require.NoError(t, err)

	for _, p := range []image.Point{{0, 0}, {25, 75}, {50, 50}, {99, 99}} {
		require.Equal(t,
			color.NRGBAModel.Convert(want.At(p.X, p.Y)),
			color.NRGBAModel.Convert(exported.At(p.X, p.Y)),
			"pixel %v", p)
	}
	require.NotEqual(t,
		color.NRGBAModel.Convert(src.At(50, 50)),
		color.NRGBAModel.Convert(exported.At(50, 50)))
}

func TestController_RenderingIsNonDestructive(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	source := pngFixture(t, 30, 30)
	_, err := c.Load(ctx, bytes.NewReader(source))
	require.NoError(t, err)

	neutral, err := c.Render(ctx)
	require.NoError(t, err)

	_, err = c.Apply(domain.AdjustmentPatch{Brightness: intPtr(10), Filter: filterPtr(domain.FilterInvert)})
	require.NoError(t, err)
	_, err = c.Render(ctx)
	require.NoError(t, err)

	c.Reset()
	restored, err := c.Render(ctx)
	require.NoError(t, err)

	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			require.Equal(t, neutral.At(x, y), restored.At(x, y))
		}
	}
}

func TestController_Preview(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Preview(ctx, 0)
	require.ErrorIs(t, err, ErrNoImage)

	_, err = c.Load(ctx, bytes.NewReader(pngFixture(t, 1000, 800)))
	require.NoError(t, err)

	preview, err := c.Preview(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultPreviewHeight, preview.Bounds().Dy())
	require.Equal(t, 500, preview.Bounds().Dx())

	preview, err = c.Preview(ctx, 80)
	require.NoError(t, err)
	require.Equal(t, 80, preview.Bounds().Dy())
}

func TestController_WriteSourceIsUnfiltered(t *testing.T) {
	c := newController(t)

	var empty bytes.Buffer
	_, err := c.WriteSource(&empty)
	require.ErrorIs(t, err, ErrExportUnavailable)

	source := pngFixture(t, 12, 8)
	_, err = c.Load(context.Background(), bytes.NewReader(source))
	require.NoError(t, err)
	_, err = c.SetFilter(domain.FilterInvert)
	require.NoError(t, err)

	var out bytes.Buffer
	adjustments, err := c.WriteSource(&out)
	require.NoError(t, err)
	require.Equal(t, domain.FilterInvert, adjustments.Filter)

	got, err := png.Decode(&out)
	require.NoError(t, err)
	want, err := png.Decode(bytes.NewReader(source))
	require.NoError(t, err)
	require.Equal(t,
		color.NRGBAModel.Convert(want.At(3, 4)),
		color.NRGBAModel.Convert(got.At(3, 4)))
}

func TestController_LastSubmittedUploadWins(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	slow := newGatedReader(pngFixture(t, 20, 20))
	result := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, slow)
		result <- err
	}()
	<-slow.started

	_, err := c.SetBrightness(150)
	require.NoError(t, err)

	info, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 50, 10)))
	require.NoError(t, err)

	close(slow.release)
	require.ErrorIs(t, <-result, ErrSuperseded)

	state := c.State()
	require.Equal(t, &info, state.Image)
	require.Equal(t, 150, state.Adjustments.Brightness)
}

func TestController_FailedLaterUploadStillSupersedes(t *testing.T) {
	c := newController(t)
	ctx := context.Background()

	_, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 8, 8)))
	require.NoError(t, err)
	before := c.State()

	slow := newGatedReader(pngFixture(t, 20, 20))
	result := make(chan error, 1)
	go func() {
		_, err := c.Load(ctx, slow)
		result <- err
	}()
	<-slow.started

	_, err = c.Load(ctx, strings.NewReader("nope"))
	require.ErrorIs(t, err, imageio.ErrDecode)

	close(slow.release)
	require.ErrorIs(t, <-result, ErrSuperseded)
	require.Equal(t, before, c.State())
}

func TestController_ConcurrentMutations(t *testing.T) {
	c := newController(t)

	var (
		mu    sync.Mutex
		count int
	)
	c.Subscribe(func(State) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.SetSaturation(i)
		}(i)
	}
	wg.Wait()

	require.Equal(t, uint64(50), c.State().Version)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 50, count)
}

func TestController_SubscribeCancel(t *testing.T) {
	c := newController(t)

	calls := 0
	cancel := c.Subscribe(func(State) { calls++ })
	c.Reset()
	cancel()
	cancel()
	c.Reset()

	require.Equal(t, 1, calls)
}

func TestController_LoadHonoursCancellation(t *testing.T) {
	c := newController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 10, 10)))
	require.True(t, errors.Is(err, context.Canceled))
	require.Nil(t, c.State().Image)
}

// gatedReader blocks its first Read until release is closed.
type gatedReader struct {
	r       io.Reader
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newGatedReader(data []byte) *gatedReader {
	return &gatedReader{
		r:       bytes.NewReader(data),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.r.Read(p)
}

func intPtr(v int) *int { return &v }

func filterPtr(f domain.NamedFilter) *domain.NamedFilter { return &f }

// hookRenderer runs onRender once, during the first Render call, before
// delegating to the real renderer.
type hookRenderer struct {
	next     pipeline.Renderer
	once     sync.Once
	onRender func()
}

func (h *hookRenderer) Render(ctx context.Context, src image.Image, expr filter.Expression) (image.Image, error) {
	h.once.Do(h.onRender)
	return h.next.Render(ctx, src, expr)
}

func TestController_ExportUsesOneSnapshot(t *testing.T) {
	ctx := context.Background()
	base, err := pipeline.NewRenderer()
	require.NoError(t, err)

	hook := &hookRenderer{next: base}
	c, err := New(WithRenderer(hook))
	require.NoError(t, err)

	_, err = c.Load(ctx, bytes.NewReader(pngFixture(t, 10, 10)))
	require.NoError(t, err)

	// A new upload and a filter change land while the export renders.
	hook.onRender = func() {
		_, err := c.Load(ctx, bytes.NewReader(pngFixture(t, 20, 30)))
		require.NoError(t, err)
		_, err = c.SetFilter(domain.FilterInvert)
		require.NoError(t, err)
	}

	var out bytes.Buffer
	info, err := c.Export(ctx, &out)
	require.NoError(t, err)

	exported, err := png.Decode(&out)
	require.NoError(t, err)
	require.Equal(t, 10, info.Width)
	require.Equal(t, 10, info.Height)
	require.Equal(t, image.Rect(0, 0, info.Width, info.Height), exported.Bounds())

	src, _, err := imageio.DecodeBytes(pngFixture(t, 10, 10), imageio.Limits{})
	require.NoError(t, err)
	require.Equal(t,
		color.NRGBAModel.Convert(src.At(3, 4)),
		color.NRGBAModel.Convert(exported.At(3, 4)))

	// The concurrent changes still took effect for later renders.
	state := c.State()
	require.Equal(t, domain.FilterInvert, state.Adjustments.Filter)
	require.Equal(t, 20, state.Image.Width)
}
