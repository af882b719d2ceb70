package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// maxPlanBytes caps the plan request body.
const maxPlanBytes = 4 << 20

// JobService is the jobs API served under /v1/jobs.
type JobService interface {
	Submit(ctx context.Context, plan pipeline.Plan) (export.JobStatus, error)
	Get(ctx context.Context, id string) (export.JobStatus, error)
	Cancel(ctx context.Context, id string) (export.JobStatus, error)
}

// Server exposes the jobs API together with health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	jobs       JobService
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /v1/jobs, /healthz, /readyz, and
// /metrics routes.
func NewServer(addr string, jobs JobService, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		jobs:   jobs,
		logger: logger,
	}

	mux.HandleFunc("POST /v1/jobs", s.handleSubmit)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGet)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	var plan pipeline.Plan
	if err := json.Unmarshal(body, &plan); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	st, err := s.jobs.Submit(r.Context(), plan)
	if err != nil {
		s.logger.Warn("job submit rejected", "output", plan.OutputName, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ErrorBody is the JSON body of every non-2xx jobs API response.
type ErrorBody struct {
	Error     string `json:"error"`
	Permanent bool   `json:"permanent"`
}

func statusFor(err error) int {
	var bf *domain.BackendJobFailure
	switch {
	case errors.Is(err, worker.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &bf) && bf.Permanent:
		return http.StatusUnprocessableEntity
	case errors.As(err, &bf):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorBody{
		Error:     err.Error(),
		Permanent: status < http.StatusInternalServerError,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
