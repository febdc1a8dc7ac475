package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestExportImageTaskRoundTrip(t *testing.T) {
	adjustments := domain.DefaultAdjustments()
	adjustments.Brightness = 150
	adjustments.Filter = domain.FilterWarm

	payload := ExportImagePayload{
		JobID:       "job-123",
		SessionID:   "session-9",
		SourceType:  domain.SourceTypeObjectStore,
		ObjectKey:   "uploads/job-123/source.png",
		Adjustments: adjustments,
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewExportImageTask(payload)
	require.NoError(t, err)
	require.Equal(t, TypeExportImage, task.Type())

	parsed, err := ParseExportImagePayload(task)
	require.NoError(t, err)
	require.Equal(t, payload.JobID, parsed.JobID)
	require.Equal(t, payload.SessionID, parsed.SessionID)
	require.Equal(t, adjustments, parsed.Adjustments)
}

func TestExportImagePayloadWireShape(t *testing.T) {
	task, err := NewExportImageTask(ExportImagePayload{
		JobID:       "job-1",
		SessionID:   "s-1",
		SourceType:  domain.SourceTypeLocalFile,
		ObjectKey:   "/tmp/job-1/source.png",
		Adjustments: domain.DefaultAdjustments(),
	})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(task.Payload(), &fields))
	for _, key := range []string{"job_id", "session_id", "source_type", "object_key", "adjustments", "requested_at"} {
		require.Contains(t, fields, key, "payload %s", task.Payload())
	}
	require.NotContains(t, fields, "webhook_url", "empty webhook_url is omitted")
}

func TestParseExportImagePayloadRejectsGarbage(t *testing.T) {
	_, err := ParseExportImagePayload(asynq.NewTask(TypeExportImage, []byte("{")))
	require.Error(t, err)
}
