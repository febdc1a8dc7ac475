package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/filter"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceTypeLocalFile   = domain.SourceTypeLocalFile
	SourceTypeObjectStore = domain.SourceTypeObjectStore

	sourceFilename = "source.png"
)

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

// Request is one export: a staged unfiltered surface plus the adjustments
// to bake into it.
type Request struct {
	JobID       string
	SourceType  string
	ObjectKey   string
	Adjustments domain.Adjustments
}

type Output struct {
	Format     string `json:"format"`
	Path       string `json:"path"`
	Expression string `json:"filter_expression"`
	Bytes      int    `json:"bytes"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

type Result struct {
	SourceBytes int
	Output      Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, width, height int) (Output, error)
}

// Stager stores the unfiltered surface of a session so a worker can pick
// it up later.
type Stager interface {
	Stage(ctx context.Context, jobID string, data []byte) (sourceType, objectKey string, err error)
}

type Processor struct {
	fetcher  Fetcher
	renderer Renderer
	emitter  Emitter
	limits   imageio.Limits
	tracer   trace.Tracer
}

func NewLocalProcessor(outputDir string) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir})
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter) (*Processor, error) {
	return NewProcessor(fetcher, emitter)
}

func NewProcessor(fetcher Fetcher, emitter Emitter) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	renderer, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}

	return &Processor{
		fetcher:  fetcher,
		renderer: renderer,
		emitter:  emitter,
		tracer:   otel.Tracer("pixeltune/pipeline"),
	}, nil
}

// WithLimits sets the decode limits applied to fetched sources.
func (p *Processor) WithLimits(limits imageio.Limits) *Processor {
	p.limits = limits
	return p
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if err := req.Adjustments.Validate(); err != nil {
		return Result{}, err
	}

	expr := filter.Compose(req.Adjustments)
	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("job.source_type", req.SourceType),
		attribute.String("filter.expression", expr.String()),
	)
	defer span.End()

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	src, _, err := imageio.DecodeBytes(sourceBytes, p.limits)
	if err != nil {
		return Result{}, fmt.Errorf("decode stage: %w", err)
	}

	rendered, err := p.renderer.Render(ctx, src, expr)
	if err != nil {
		return Result{}, fmt.Errorf("render stage expression=%q: %w", expr, err)
	}

	data, err := imageio.PNGBytes(rendered)
	if err != nil {
		return Result{}, fmt.Errorf("encode stage: %w", err)
	}

	bounds := rendered.Bounds()
	written, err := p.emitter.Emit(ctx, req, data, bounds.Dx(), bounds.Dy())
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}
	written.Expression = expr.String()

	return Result{SourceBytes: len(sourceBytes), Output: written}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, width, height int) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, imageio.ExportFilename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return Output{
		Format: "png",
		Path:   fullPath,
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

// LocalFileStager writes sources under Dir, which the worker must share.
type LocalFileStager struct {
	Dir string
}

func (s LocalFileStager) Stage(_ context.Context, jobID string, data []byte) (string, string, error) {
	if strings.TrimSpace(s.Dir) == "" {
		return "", "", errors.New("staging directory is required")
	}

	jobDir := filepath.Join(s.Dir, sanitizePathToken(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create staging dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, sourceFilename)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write staged source: %w", err)
	}
	return SourceTypeLocalFile, fullPath, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
