package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/pixeltune/internal/config"
	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dunamismax/pixeltune/internal/pipeline"
	"github.com/dunamismax/pixeltune/internal/queue"
	"github.com/dunamismax/pixeltune/internal/storage"
	"github.com/dunamismax/pixeltune/internal/store"
	"github.com/dunamismax/pixeltune/internal/webhook"
	"github.com/dustin/go-humanize"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]exportProcessor
	objects       objectStore
	presignTTL    time.Duration
	webhookClient webhookSender
	jobStore      store.ExportJobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type exportProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type objectStore interface {
	PresignedDownloadURL(ctx context.Context, objectKey, filename string, expiry time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the collaborators shared with the API. Storage may be nil when
// only local staging is in use.
type Deps struct {
	Storage    *storage.Client
	Webhook    *webhook.Client
	JobStore   store.ExportJobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageCfg config.StorageConfig,
	editorCfg config.EditorConfig,
	deps Deps,
) (*Server, error) {
	limits := imageio.Limits{MaxPixels: editorCfg.MaxPixels}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	processors := map[string]exportProcessor{
		domain.SourceTypeLocalFile: localProcessor.WithLimits(limits),
	}

	s := &Server{
		logger:     logger,
		processors: processors,
		presignTTL: storageCfg.PresignTTL,
		jobStore:   deps.JobStore,
		usageStore: deps.UsageStore,
		metrics:    newMetrics(pipeline.RendererName()),
		tracer:     otel.Tracer("pixeltune/worker"),
		sem:        make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
	}

	if deps.Storage != nil {
		objectProcessor, err := pipeline.NewObjectStoreProcessor(
			pipeline.ObjectStoreFetcher{Storage: deps.Storage},
			pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: storageCfg.OutputPrefix},
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		processors[domain.SourceTypeObjectStore] = objectProcessor.WithLimits(limits)
		s.objects = deps.Storage
	}
	if deps.Webhook != nil {
		s.webhookClient = deps.Webhook
	}
	if s.usageStore == nil {
		if usage, ok := deps.JobStore.(store.UsageStore); ok {
			s.usageStore = usage
		}
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeExportImage, s.handleExportImage)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleExportImage(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseExportImagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Adjustments.Validate(); err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		return fmt.Errorf("job_id=%s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}

	processor, ok := s.processors[payload.SourceType]
	if !ok {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		reason := "unknown"
		if domain.ValidSourceType(payload.SourceType) {
			reason = "not configured on this worker"
		}
		return fmt.Errorf("job_id=%s: %w %s (%s): %w", payload.JobID, pipeline.ErrUnsupportedSourceType, payload.SourceType, reason, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.export_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.session_id", payload.SessionID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.filter", string(payload.Adjustments.Filter)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s session_id=%s source_type=%s object_key=%s",
		payload.JobID,
		payload.SessionID,
		payload.SourceType,
		payload.ObjectKey,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:       payload.JobID,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		Adjustments: payload.Adjustments,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		if !finalAttempt(ctx) && !errors.Is(err, imageio.ErrDecode) {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
			return fmt.Errorf("export job_id=%s: %w", payload.JobID, err)
		}

		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		_ = s.dispatchWebhook(ctx, payload, webhook.EventExportFailed, map[string]any{
			"job_id":       payload.JobID,
			"session_id":   payload.SessionID,
			"status":       domain.JobStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if errors.Is(err, imageio.ErrDecode) {
			return fmt.Errorf("export job_id=%s: %v: %w", payload.JobID, err, asynq.SkipRetry)
		}
		return fmt.Errorf("export job_id=%s: %w", payload.JobID, err)
	}

	s.logger.Printf(
		"Exported job_id=%s size=%dx%d bytes=%s path=%s",
		payload.JobID,
		result.Output.Width,
		result.Output.Height,
		humanize.Bytes(uint64(result.Output.Bytes)),
		result.Output.Path,
	)
	s.setJobOutput(ctx, payload.JobID, result.Output.Path)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.metrics.outputBytesTotal.Add(float64(result.Output.Bytes))
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	s.removeStagedSource(ctx, payload)

	body := map[string]any{
		"job_id":       payload.JobID,
		"session_id":   payload.SessionID,
		"status":       domain.JobStatusSucceeded,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       result.Output,
	}
	if url := s.downloadURL(ctx, payload, result.Output); url != "" {
		body["download_url"] = url
	}
	if err := s.dispatchWebhook(ctx, payload, webhook.EventExportCompleted, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "exported")
	return nil
}

// finalAttempt reports whether asynq will not retry the task again. Outside
// a worker context every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) setJobOutput(ctx context.Context, jobID, outputPath string) {
	if s.jobStore == nil {
		return
	}
	if err := s.jobStore.SetOutput(ctx, jobID, outputPath); err != nil {
		s.logger.Printf("job output update failed job_id=%s err=%v", jobID, err)
	}
}

// Webhook failures are logged and do not fail the export; the output is
// already written.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ExportImagePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) downloadURL(ctx context.Context, payload queue.ExportImagePayload, output pipeline.Output) string {
	if payload.SourceType != domain.SourceTypeObjectStore || s.objects == nil {
		return ""
	}
	url, err := s.objects.PresignedDownloadURL(ctx, output.Path, imageio.ExportFilename, s.presignTTL)
	if err != nil {
		s.logger.Printf("presign download failed job_id=%s err=%v", payload.JobID, err)
		return ""
	}
	return url
}

func (s *Server) removeStagedSource(ctx context.Context, payload queue.ExportImagePayload) {
	var err error
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		if err = os.Remove(payload.ObjectKey); errors.Is(err, os.ErrNotExist) {
			err = nil
		}
	case domain.SourceTypeObjectStore:
		if s.objects != nil {
			err = s.objects.DeleteObject(ctx, payload.ObjectKey)
		}
	}
	if err != nil {
		s.logger.Printf("staged source cleanup failed job_id=%s key=%s err=%v", payload.JobID, payload.ObjectKey, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ExportImagePayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	pixelsProcessed := int64(result.Output.Width) * int64(result.Output.Height)
	bytesSaved := max(0, int64(result.SourceBytes-result.Output.Bytes))
	computeTimeMS := max(1, computeDuration.Milliseconds())

	usage := domain.UsageLog{
		JobID:           payload.JobID,
		SessionID:       payload.SessionID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
