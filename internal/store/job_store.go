package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixeltune/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type ExportJobStore interface {
	Create(ctx context.Context, job domain.ExportJob) error
	Get(ctx context.Context, id string) (domain.ExportJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.ExportJob, error)
	SetOutput(ctx context.Context, id, outputPath string) error
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
