// Package export submits plans to an execution backend and tracks the resulting jobs.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/jonboulle/clockwork"
)

// Backend executes plans asynchronously.
type Backend interface {
	Submit(ctx context.Context, plan pipeline.Plan) (string, error)
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
}

// Exporter submits plans to a backend and hands out job handles.
type Exporter struct {
	backend        Backend
	logger         *slog.Logger
	clock          clockwork.Clock
	pollInterval   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	submitAttempts int
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock sets the clock used for polling and backoff.
func WithClock(c clockwork.Clock) Option {
	return func(e *Exporter) { e.clock = c }
}

// WithPollInterval sets how often Await polls the backend.
func WithPollInterval(d time.Duration) Option {
	return func(e *Exporter) { e.pollInterval = d }
}

// WithBackoff sets the submit retry backoff bounds.
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(e *Exporter) { e.initialBackoff, e.maxBackoff = initial, maxBackoff }
}

// WithSubmitAttempts caps submit attempts for transient failures.
func WithSubmitAttempts(n int) Option {
	return func(e *Exporter) { e.submitAttempts = max(n, 1) }
}

// NewExporter creates an Exporter over backend.
func NewExporter(backend Backend, logger *slog.Logger, opts ...Option) *Exporter {
	e := &Exporter{
		backend:        backend,
		logger:         logger,
		clock:          clockwork.NewRealClock(),
		pollInterval:   5 * time.Second,
		initialBackoff: 200 * time.Millisecond,
		maxBackoff:     5 * time.Second,
		submitAttempts: 5,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Materialize checks the pixel budget locally, then submits the plan. It
// returns as soon as the backend has accepted the job.
func (e *Exporter) Materialize(ctx context.Context, plan pipeline.Plan) (*Job, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	layout, err := grid.Layout(plan.Target)
	if err != nil {
		return nil, err
	}
	if err := grid.CheckBudget(plan.OutputName, layout, plan.MaxPixels); err != nil {
		return nil, err
	}

	backoff := e.initialBackoff
	for attempt := 1; ; attempt++ {
		id, err := e.backend.Submit(ctx, plan)
		if err == nil {
			e.logger.Info("export submitted",
				"job_id", id,
				"output", plan.OutputName,
				"pixels", grid.PixelCount(layout),
			)
			return &Job{ID: id, Plan: plan, exporter: e}, nil
		}
		if !domain.IsTransient(err) || attempt >= e.submitAttempts {
			return nil, fmt.Errorf("submit %s: %w", plan.OutputName, err)
		}
		e.logger.Warn("export submit failed, retrying",
			"output", plan.OutputName,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.clock.After(backoff):
		}
		backoff = nextBackoff(backoff, e.maxBackoff)
	}
}

// Attach returns a handle for a job submitted earlier, e.g. by another process.
func (e *Exporter) Attach(jobID string) *Job {
	return &Job{ID: jobID, exporter: e}
}

// Result is the outcome of materializing one plan.
type Result struct {
	Plan pipeline.Plan
	Job  *Job
	Err  error
}

// MaterializeAll submits every plan independently; one failure never stops
// the others. Results are in plan order.
func (e *Exporter) MaterializeAll(ctx context.Context, plans []pipeline.Plan) []Result {
	results := make([]Result, len(plans))
	for i, p := range plans {
		job, err := e.Materialize(ctx, p)
		if err != nil {
			e.logger.Error("export failed", "output", p.OutputName, "error", err)
		}
		results[i] = Result{Plan: p, Job: job, Err: err}
	}
	return results
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
