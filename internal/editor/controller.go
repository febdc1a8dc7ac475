// Package editor owns the state of one image-editing session: the loaded
// surface and the five adjustments applied to it.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dunamismax/pixeltune/internal/pipeline"
)

// DefaultPreviewHeight matches the display box the editor shows previews in.
const DefaultPreviewHeight = 400

var (
	ErrNoImage           = errors.New("no image loaded")
	ErrExportUnavailable = fmt.Errorf("export unavailable: %w", ErrNoImage)
	ErrSuperseded        = errors.New("upload superseded by a newer upload")
	ErrCropUnsupported   = errors.New("crop is not supported")
)

type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// State is a snapshot taken after a transition. Version increases by one
// per transition.
type State struct {
	Version     uint64             `json:"version"`
	Adjustments domain.Adjustments `json:"adjustments"`
	Expression  string             `json:"filter_expression"`
	Image       *ImageInfo         `json:"image,omitempty"`
}

type Option func(*Controller)

func WithRenderer(r pipeline.Renderer) Option {
	return func(c *Controller) {
		c.renderer = r
	}
}

func WithLimits(limits imageio.Limits) Option {
	return func(c *Controller) {
		c.limits = limits
	}
}

// Controller serializes every mutation of a session. Decoding and rendering
// happen outside the lock on immutable snapshots, and observers are called
// after the lock is released.
type Controller struct {
	renderer pipeline.Renderer
	limits   imageio.Limits

	mu           sync.Mutex
	adjustments  domain.Adjustments
	surface      *Surface
	version      uint64
	loadSeq      uint64
	observers    map[int]func(State)
	nextObserver int
}

func New(opts ...Option) (*Controller, error) {
	c := &Controller{
		adjustments: domain.DefaultAdjustments(),
		observers:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.renderer == nil {
		r, err := pipeline.NewRenderer()
		if err != nil {
			return nil, fmt.Errorf("build renderer: %w", err)
		}
		c.renderer = r
	}
	return c, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive the state after every transition.
// The returned func removes it.
func (c *Controller) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// Load decodes r and installs it as the new surface. Adjustments are kept.
// If another Load started after this one, the result is discarded with
// ErrSuperseded, even when the newer upload fails to decode.
func (c *Controller) Load(ctx context.Context, r io.Reader) (ImageInfo, error) {
	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	img, format, err := imageio.Decode(r, c.limits)
	if err != nil {
		return ImageInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return ImageInfo{}, err
	}
	surface := NewSurface(img, format)

	c.mu.Lock()
	if seq != c.loadSeq {
		c.mu.Unlock()
		return ImageInfo{}, ErrSuperseded
	}
	c.surface = surface
	state, observers := c.transitionLocked()
	c.mu.Unlock()

	notify(observers, state)
	return surface.Info(), nil
}

func (c *Controller) SetBrightness(v int) (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		a.Brightness = v
		return a
	})
}

func (c *Controller) SetContrast(v int) (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		a.Contrast = v
		return a
	})
}

func (c *Controller) SetSaturation(v int) (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		a.Saturation = v
		return a
	})
}

func (c *Controller) SetBlur(px int) (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		a.Blur = px
		return a
	})
}

func (c *Controller) SetFilter(f domain.NamedFilter) (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		a.Filter = f
		return a
	})
}

// Apply changes every field set in p as a single transition.
func (c *Controller) Apply(p domain.AdjustmentPatch) (State, error) {
	return c.update(p.ApplyTo)
}

// ToggleBlur switches blur between off and domain.BlurToggleRadius. Any
// non-zero radius toggles to off.
func (c *Controller) ToggleBlur() (State, error) {
	return c.update(func(a domain.Adjustments) domain.Adjustments {
		if a.Blur == 0 {
			a.Blur = domain.BlurToggleRadius
		} else {
			a.Blur = 0
		}
		return a
	})
}

func (c *Controller) Reset() State {
	state, _ := c.update(func(domain.Adjustments) domain.Adjustments {
		return domain.DefaultAdjustments()
	})
	return state
}

func (c *Controller) Crop() error {
	return ErrCropUnsupported
}

// Render returns the surface at natural size with the current adjustments
// applied.
func (c *Controller) Render(ctx context.Context) (image.Image, error) {
	return c.present(ctx, 0)
}

// Preview is Render downscaled to at most maxHeight pixels tall.
func (c *Controller) Preview(ctx context.Context, maxHeight int) (image.Image, error) {
	if maxHeight <= 0 {
		maxHeight = DefaultPreviewHeight
	}
	return c.present(ctx, maxHeight)
}

// Export writes the filtered surface as PNG at natural dimensions. With no
// image loaded it writes nothing and returns ErrExportUnavailable. The
// returned info, the pixels and the adjustments all come from one snapshot,
// so a Load racing the export cannot mix two images.
func (c *Controller) Export(ctx context.Context, w io.Writer) (ImageInfo, error) {
	surface, adjustments := c.snapshot()
	if surface == nil {
		return ImageInfo{}, ErrExportUnavailable
	}

	img, err := surface.Present(ctx, c.renderer, filter.Compose(adjustments), 0)
	if err != nil {
		return ImageInfo{}, err
	}
	if err := imageio.EncodePNG(w, img); err != nil {
		return ImageInfo{}, err
	}
	return surface.Info(), nil
}

// WriteSource writes the unfiltered surface as PNG and returns the
// adjustments current at the same instant.
func (c *Controller) WriteSource(w io.Writer) (domain.Adjustments, error) {
	surface, adjustments := c.snapshot()
	if surface == nil {
		return domain.Adjustments{}, ErrExportUnavailable
	}
	if err := imageio.EncodePNG(w, surface.Image()); err != nil {
		return domain.Adjustments{}, err
	}
	return adjustments, nil
}

func (c *Controller) present(ctx context.Context, maxHeight int) (image.Image, error) {
	surface, adjustments := c.snapshot()
	if surface == nil {
		return nil, ErrNoImage
	}
	return surface.Present(ctx, c.renderer, filter.Compose(adjustments), maxHeight)
}

func (c *Controller) snapshot() (*Surface, domain.Adjustments) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface, c.adjustments
}

func (c *Controller) update(fn func(domain.Adjustments) domain.Adjustments) (State, error) {
	c.mu.Lock()
	next := fn(c.adjustments)
	if err := next.Validate(); err != nil {
		state := c.snapshotLocked()
		c.mu.Unlock()
		return state, err
	}
	c.adjustments = next
	state, observers := c.transitionLocked()
	c.mu.Unlock()

	notify(observers, state)
	return state, nil
}

func (c *Controller) transitionLocked() (State, []func(State)) {
	c.version++
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	return c.snapshotLocked(), observers
}

func (c *Controller) snapshotLocked() State {
	state := State{
		Version:     c.version,
		Adjustments: c.adjustments,
		Expression:  filter.Compose(c.adjustments).String(),
	}
	if c.surface != nil {
		info := c.surface.Info()
		state.Image = &info
	}
	return state
}

func notify(observers []func(State), state State) {
	for _, fn := range observers {
		fn(state)
	}
}
