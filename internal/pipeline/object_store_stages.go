package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixeltune/internal/imageio"
)

// ObjectStore is the slice of the storage client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, data []byte, width, height int) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := path.Join(
		defaultPrefix(e.OutputPrefix, "exports"),
		sanitizePathToken(req.JobID),
		imageio.ExportFilename,
	)

	if err := e.Storage.WriteObject(ctx, objectKey, data, imageio.ContentTypePNG); err != nil {
		return Output{}, err
	}

	return Output{
		Format: "png",
		Path:   objectKey,
		Bytes:  len(data),
		Width:  width,
		Height: height,
	}, nil
}

type ObjectStoreStager struct {
	Storage      ObjectStore
	UploadPrefix string
}

func (s ObjectStoreStager) Stage(ctx context.Context, jobID string, data []byte) (string, string, error) {
	if s.Storage == nil {
		return "", "", errors.New("storage client is required")
	}

	objectKey := path.Join(defaultPrefix(s.UploadPrefix, "uploads"), sanitizePathToken(jobID), sourceFilename)
	if err := s.Storage.WriteObject(ctx, objectKey, data, imageio.ContentTypePNG); err != nil {
		return "", "", fmt.Errorf("stage source: %w", err)
	}
	return SourceTypeObjectStore, objectKey, nil
}

func defaultPrefix(prefix, fallback string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fallback
	}
	return prefix
}
