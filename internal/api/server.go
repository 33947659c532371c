// Package api exposes the HTTP interface for the publishing service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contentloop/publishd/internal/config"
	"github.com/contentloop/publishd/internal/dispatcher"
	"github.com/contentloop/publishd/internal/events"
	"github.com/contentloop/publishd/internal/metrics"
	"github.com/contentloop/publishd/internal/pipeline"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   pipeline.JobStore
	dispatcher *dispatcher.Dispatcher
	creds      pipeline.CredentialSource
	engine     pipeline.Engine
	idGen      pipeline.IDGenerator
	clock      pipeline.Clock
	emitter    events.Emitter
	cfg        config.Config
	logger     *zap.Logger
	started    time.Time
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore pipeline.JobStore,
	dispatcher *dispatcher.Dispatcher,
	creds pipeline.CredentialSource,
	engine pipeline.Engine,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	emitter events.Emitter,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		creds:      creds,
		engine:     engine,
		idGen:      idGen,
		clock:      clock,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
		started:    clock.Now(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	// Health and metrics stay reachable without the shared secret so probes
	// and scrapers keep working.
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(s.cfg.Auth.Secret))
		}
		r.Post("/publish", s.submitPublishJob)
		r.Post("/test-login", s.testLogin)
		r.Get("/status", s.status)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	payload := map[string]any{
		"status":    "running",
		"uptime":    now.Sub(s.started).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	counts, err := s.jobStore.Counts(r.Context())
	if err != nil {
		s.logger.Error("status counts failed", zap.Error(err))
	} else {
		payload["jobs"] = counts
	}
	s.writeJSON(w, http.StatusOK, payload)
}

type publishRequest struct {
	Topic              string   `json:"topic"`
	Site               string   `json:"site"`
	Instructions       string   `json:"instructions"`
	Category           string   `json:"category"`
	Tags               []string `json:"tags"`
	PublishImmediately *bool    `json:"publishImmediately"`
}

type publishResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"jobId"`
	EstimatedTime string `json:"estimatedTime"`
}

func (s *Server) submitPublishJob(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if strings.TrimSpace(req.Site) == "" {
		s.writeError(w, http.StatusBadRequest, "site is required")
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}
	now := s.clock.Now()
	job := pipeline.PublishJob{
		ID:                 jobID,
		Topic:              strings.TrimSpace(req.Topic),
		Site:               strings.TrimSpace(req.Site),
		Instructions:       req.Instructions,
		Category:           req.Category,
		Tags:               req.Tags,
		PublishImmediately: req.PublishImmediately == nil || *req.PublishImmediately,
		Status:             pipeline.JobStatusQueued,
		Submitted:          now,
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	item := pipeline.QueueItem{JobID: jobID, Submitted: now.Unix()}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// Roll the record back so the job does not sit queued forever with
		// no queue entry behind it. The request context may already be
		// canceled (a gone client is one way enqueue fails), so the rollback
		// gets its own deadline.
		rollbackCtx, rollbackCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rollbackCancel()
		if cancelErr := s.jobStore.CancelQueued(rollbackCtx, jobID); cancelErr != nil {
			s.logger.Error("job rollback failed", zap.String("job_id", jobID), zap.Error(cancelErr))
		}
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, fmt.Sprintf("enqueue job: %v", err))
		return
	}

	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			JobID: jobID,
			TS:    now.UTC(),
			Stage: events.StageJobQueued,
			Site:  job.Site,
		})
	}
	s.writeJSON(w, http.StatusAccepted, publishResponse{
		Success:       true,
		JobID:         jobID,
		EstimatedTime: s.estimateTime(r.Context()),
	})
}

// estimateTime projects when a freshly queued job should start, based on
// queue depth and the configured throughput cap.
func (s *Server) estimateTime(ctx context.Context) string {
	perSlot := s.cfg.RateWindow() / time.Duration(maxInt(s.cfg.Pool.RateLimit, 1))
	ahead := 0
	if counts, err := s.jobStore.Counts(ctx); err == nil {
		ahead = counts.Queued + counts.Active
	}
	estimate := time.Duration(maxInt(ahead, 1)) * perSlot
	if estimate < 30*time.Second {
		estimate = 30 * time.Second
	}
	return "~" + estimate.Round(time.Second).String()
}

type testLoginRequest struct {
	Site string `json:"site"`
}

func (s *Server) testLogin(w http.ResponseWriter, r *http.Request) {
	var req testLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Site) == "" {
		s.writeError(w, http.StatusBadRequest, "site is required")
		return
	}

	creds, ok, err := s.creds.Resolve(req.Site)
	if err != nil {
		s.writeErrorDetails(w, http.StatusInternalServerError, "credential lookup failed", err.Error())
		return
	}
	if !ok {
		// Fails before any network traffic.
		s.writeErrorDetails(w, http.StatusInternalServerError, "login failed",
			fmt.Sprintf("no credentials configured for site %q", req.Site))
		return
	}

	if err := s.engine.TestLogin(r.Context(), creds); err != nil {
		s.writeErrorDetails(w, http.StatusInternalServerError, "login failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobStore.CancelQueued(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "canceled"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeErrorDetails(w http.ResponseWriter, status int, msg, details string) {
	s.writeJSON(w, status, map[string]string{"error": msg, "details": details})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
