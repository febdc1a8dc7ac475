package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"

	"github.com/dunamismax/pixeltune/internal/domain"
	"github.com/dunamismax/pixeltune/internal/editor"
	"github.com/dunamismax/pixeltune/internal/id"
	"github.com/dunamismax/pixeltune/internal/imageio"
	"github.com/dunamismax/pixeltune/internal/pipeline"
	"github.com/dunamismax/pixeltune/internal/queue"
	"github.com/dunamismax/pixeltune/internal/session"
	"github.com/dunamismax/pixeltune/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxUploadBytes = 32 << 20

type Options struct {
	Sessions *session.Manager
	// Queue, JobStore and Stager enable asynchronous exports. With any of
	// them nil the exports endpoint answers 503.
	Queue    queueEnqueuer
	JobStore store.ExportJobStore
	Stager   pipeline.Stager

	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	MaxUploadBytes        int64
	PreviewHeight         int
	QueueName             string
}

type Server struct {
	logger                *log.Logger
	sessions              *session.Manager
	queueClient           queueEnqueuer
	queueName             string
	jobStore              store.ExportJobStore
	stager                pipeline.Stager
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	maxUploadBytes        int64
	previewHeight         int
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueExportImage(ctx context.Context, payload queue.ExportImagePayload) (*asynq.TaskInfo, error)
}

func NewServer(logger *log.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.PreviewHeight <= 0 {
		opts.PreviewHeight = editor.DefaultPreviewHeight
	}
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		sessions:              opts.Sessions,
		queueClient:           opts.Queue,
		queueName:             opts.QueueName,
		jobStore:              opts.JobStore,
		stager:                opts.Stager,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		maxUploadBytes:        opts.MaxUploadBytes,
		previewHeight:         opts.PreviewHeight,
		metrics:               newMetrics(opts.Sessions),
		tracer:                otel.Tracer("pixeltune/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/controls", s.handleControls)

	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/image", s.handleUpload)
	s.mux.HandleFunc("PATCH /v1/sessions/{id}/adjustments", s.handleAdjust)
	s.mux.HandleFunc("POST /v1/sessions/{id}/blur/toggle", s.handleToggleBlur)
	s.mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)
	s.mux.HandleFunc("POST /v1/sessions/{id}/crop", s.handleCrop)
	s.mux.HandleFunc("GET /v1/sessions/{id}/preview", s.handlePreview)
	s.mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleExport)
	s.mux.HandleFunc("POST /v1/sessions/{id}/exports", s.handleCreateExport)
	s.mux.HandleFunc("GET /v1/exports/{id}", s.handleGetExport)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	State     editor.State `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.Create()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: sess.ID, State: sess.Controller.State()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, State: sess.Controller.State()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	body, err := uploadBody(r, s.maxUploadBytes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer body.Close()

	info, err := sess.Controller.Load(r.Context(), body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.uploadsTotal.WithLabelValues(info.Format).Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"image":      info,
		"state":      sess.Controller.State(),
	})
}

// uploadBody accepts either a multipart form with a "file" part or the raw
// image bytes as the request body.
func uploadBody(r *http.Request, maxBytes int64) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}

	if err := r.ParseMultipartForm(min(maxBytes, 8<<20)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, fmt.Errorf("%w: no file selected", imageio.ErrDecode)
		}
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return file, nil
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var patch domain.AdjustmentPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if patch.Empty() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no adjustments given"})
		return
	}

	state, err := sess.Controller.Apply(patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, State: state})
}

func (s *Server) handleToggleBlur(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state, err := sess.Controller.ToggleBlur()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, State: state})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, State: sess.Controller.Reset()})
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeError(w, sess.Controller.Crop())
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	maxHeight := s.previewHeight
	if raw := r.URL.Query().Get("max_height"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max_height must be a positive integer"})
			return
		}
		maxHeight = parsed
	}

	img, err := sess.Controller.Preview(r.Context(), maxHeight)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := imageio.PNGBytes(img)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.rendersTotal.WithLabelValues("preview").Inc()

	w.Header().Set("Cache-Control", "no-store")
	writePNG(w, data, "")
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := sess.Controller.Export(r.Context(), &buf); err != nil {
		s.writeError(w, err)
		return
	}
	s.metrics.rendersTotal.WithLabelValues("export").Inc()

	writePNG(w, buf.Bytes(), imageio.ExportFilename)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := r.PathValue("id")
	if !id.Valid(sessionID) {
		s.writeError(w, session.ErrNotFound)
		return nil, false
	}
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

var errBadRequest = errors.New("bad request")

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest), errors.Is(err, domain.ErrInvalidAdjustment):
		status = http.StatusBadRequest
	case errors.Is(err, imageio.ErrDecode):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, editor.ErrSuperseded), errors.Is(err, editor.ErrNoImage):
		status = http.StatusConflict
	case errors.Is(err, editor.ErrCropUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrLimit), errors.Is(err, errExportsDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Printf("request failed err=%v", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writePNG(w http.ResponseWriter, data []byte, filename string) {
	w.Header().Set("Content-Type", imageio.ContentTypePNG)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if filename != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
