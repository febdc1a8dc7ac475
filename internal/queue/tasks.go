package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeExportImage = "image:export"

type ExportImagePayload struct {
	JobID       string             `json:"job_id"`
	SessionID   string             `json:"session_id"`
	SourceType  string             `json:"source_type"`
	ObjectKey   string             `json:"object_key"`
	Adjustments domain.Adjustments `json:"adjustments"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewExportImageTask(payload ExportImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportImage, body), nil
}

func ParseExportImagePayload(task *asynq.Task) (ExportImagePayload, error) {
	var payload ExportImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportImagePayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	return payload, nil
}
