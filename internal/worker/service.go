package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

// Service is the jobs API behind the HTTP adapter.
type Service struct {
	store   JobStore
	queue   Queue
	running *registry
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService creates a Service. Pass the same Service to NewRunner so that
// cancellation reaches running jobs.
func NewService(store JobStore, queue Queue, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		queue:   queue,
		running: newRegistry(),
		logger:  logger,
		metrics: metrics,
	}
}

// Submit records a queued job for plan and enqueues it. Plans over their
// pixel budget are rejected with a permanent BackendJobFailure.
func (s *Service) Submit(ctx context.Context, plan pipeline.Plan) (export.JobStatus, error) {
	if err := plan.Validate(); err != nil {
		return export.JobStatus{}, &domain.BackendJobFailure{Permanent: true, Reason: "invalid plan", Err: err}
	}
	layout, err := grid.Layout(plan.Target)
	if err != nil {
		return export.JobStatus{}, &domain.BackendJobFailure{Permanent: true, Reason: "invalid target grid", Err: err}
	}
	if err := grid.CheckBudget(plan.OutputName, layout, plan.MaxPixels); err != nil {
		s.metrics.PixelBudgetRejections.Inc()
		return export.JobStatus{}, &domain.BackendJobFailure{Permanent: true, Reason: "pixel budget", Err: err}
	}

	now := domain.Now()
	st := export.JobStatus{
		ID:          uuid.NewString(),
		State:       export.StateQueued,
		Variable:    plan.Variable,
		OutputName:  plan.OutputName,
		PlanKey:     plan.Key(),
		Notes:       plan.Notes,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, Record{Status: st, Plan: plan}); err != nil {
		return export.JobStatus{}, fmt.Errorf("store job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, Request{JobID: st.ID, PlanKey: st.PlanKey, QueuedAt: now}); err != nil {
		reason := "enqueue failed: " + err.Error()
		if _, uerr := s.store.Update(ctx, st.ID, func(cur *export.JobStatus) error {
			cur.State, cur.Error, cur.UpdatedAt = export.StateFailed, reason, domain.Now()
			return nil
		}); uerr != nil {
			s.logger.Error("mark unqueued job failed", "job_id", st.ID, "error", uerr)
		}
		return export.JobStatus{}, &domain.BackendJobFailure{JobID: st.ID, Reason: "enqueue", Err: err}
	}

	s.metrics.JobsSubmitted.Inc()
	s.logger.Info("job queued", "job_id", st.ID, "output", st.OutputName, "plan_key", st.PlanKey)
	return st, nil
}

// Get returns the job's current status.
func (s *Service) Get(ctx context.Context, id string) (export.JobStatus, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return export.JobStatus{}, err
	}
	return rec.Status, nil
}

// Cancel marks a non-terminal job cancelled and stops it if it is running in
// this process. Cancelling a finished job is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (export.JobStatus, error) {
	st, err := s.store.Update(ctx, id, func(cur *export.JobStatus) error {
		if cur.State.Terminal() {
			return errSkip
		}
		cur.State, cur.UpdatedAt = export.StateCancelled, domain.Now()
		return nil
	})
	if errors.Is(err, errSkip) {
		return s.Get(ctx, id)
	}
	if err != nil {
		return export.JobStatus{}, err
	}
	if s.running.cancel(id) {
		s.logger.Info("running job cancelled", "job_id", id)
	} else {
		s.logger.Info("job cancelled", "job_id", id)
	}
	s.metrics.JobsFinished.WithLabelValues(string(export.StateCancelled)).Inc()
	return st, nil
}

// registry tracks cancel funcs of jobs running in this process.
type registry struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]context.CancelFunc)}
}

func (r *registry) add(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = cancel
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *registry) cancel(id string) bool {
	r.mu.Lock()
	cancel, ok := r.jobs[id]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
