package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/id"
	"github.com/dunamismax/pixeltune/internal/queue"
	"github.com/dustin/go-humanize"
)

var errExportsDisabled = errors.New("asynchronous exports are disabled")

func (s *Server) asyncExportsEnabled() bool {
	return s.queueClient != nil && s.jobStore != nil && s.stager != nil
}

// handleCreateExport snapshots the unfiltered surface and the adjustments
// current at request time and hands both to the worker.
func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	if !s.asyncExportsEnabled() {
		s.writeError(w, errExportsDisabled)
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req domain.CreateExportRequest
	if hasBody(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var source bytes.Buffer
	adjustments, err := sess.Controller.WriteSource(&source)
	if err != nil {
		s.writeError(w, err)
		return
	}

	jobID := id.New()
	sourceType, objectKey, err := s.stager.Stage(r.Context(), jobID, source.Bytes())
	if err != nil {
		s.logger.Printf("stage source failed job_id=%s err=%v", jobID, err)
		s.writeError(w, fmt.Errorf("stage source: %w", err))
		return
	}

	now := time.Now().UTC()
	job := domain.ExportJob{
		ID:          jobID,
		SessionID:   sess.ID,
		Status:      domain.JobStatusCreated,
		SourceType:  sourceType,
		ObjectKey:   objectKey,
		WebhookURL:  req.WebhookURL,
		Adjustments: adjustments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueExportImage(r.Context(), queue.ExportImagePayload{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		SourceType:  job.SourceType,
		ObjectKey:   job.ObjectKey,
		Adjustments: job.Adjustments,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, updateErr := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusFailed); updateErr != nil {
			s.logger.Printf("update status failed job_id=%s err=%v", job.ID, updateErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()
	s.logger.Printf(
		"queued export job_id=%s session_id=%s source=%s size=%s",
		job.ID,
		job.SessionID,
		job.SourceType,
		humanize.Bytes(uint64(source.Len())),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/exports/" + job.ID,
	})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		s.writeError(w, errExportsDisabled)
		return
	}

	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
