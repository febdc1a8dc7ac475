package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

// CreateExportRequest is the body of an asynchronous export request. The
// adjustments are taken from the session at request time.
type CreateExportRequest struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

type ExportJob struct {
	ID          string      `json:"job_id"`
	SessionID   string      `json:"session_id"`
	Status      string      `json:"status"`
	SourceType  string      `json:"source_type"`
	ObjectKey   string      `json:"object_key"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
	Adjustments Adjustments `json:"adjustments"`
	OutputPath  string      `json:"output_path,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (r CreateExportRequest) Validate() error {
	raw := strings.TrimSpace(r.WebhookURL)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook_url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported webhook_url scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("webhook_url requires a host")
	}
	return nil
}

func ValidSourceType(sourceType string) bool {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case SourceTypeLocalFile, SourceTypeObjectStore:
		return true
	default:
		return false
	}
}
