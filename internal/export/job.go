package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

// ErrAwaitTimeout is returned by Job.Await when the caller's timeout elapses
// before the job reaches a terminal state.
var ErrAwaitTimeout = errors.New("await timed out")

// JobState is the lifecycle state of an export job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// JobStatus is the backend's view of one export job.
type JobStatus struct {
	ID          string    `json:"id"`
	State       JobState  `json:"state"`
	Variable    string    `json:"variable"`
	OutputName  string    `json:"output_name"`
	PlanKey     string    `json:"plan_key"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	ManifestKey string    `json:"manifest_key,omitempty"`
	Bands       int       `json:"bands,omitempty"`
	EmptyBands  int       `json:"empty_bands,omitempty"`
	Notes       []string  `json:"notes,omitempty"`
	Error       string    `json:"error,omitempty"`
	Permanent   bool      `json:"permanent,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Failure converts a failed status into a BackendJobFailure; nil otherwise.
func (s JobStatus) Failure() error {
	if s.State != StateFailed {
		return nil
	}
	return &domain.BackendJobFailure{JobID: s.ID, Permanent: s.Permanent, Reason: s.Error}
}

// Job is a handle to a submitted export.
type Job struct {
	ID   string
	Plan pipeline.Plan

	exporter *Exporter
}

// Status fetches the current job status from the backend.
func (j *Job) Status(ctx context.Context) (JobStatus, error) {
	return j.exporter.backend.Status(ctx, j.ID)
}

// Await polls until the job is terminal, ctx is done, or timeout elapses. A
// failed job returns its status together with a BackendJobFailure.
func (j *Job) Await(ctx context.Context, timeout time.Duration) (JobStatus, error) {
	clock := j.exporter.clock
	deadline := clock.Now().Add(timeout)
	var st JobStatus
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var err error
		st, err = j.Status(ctx)
		if err != nil && !domain.IsTransient(err) {
			return st, fmt.Errorf("job %s status: %w", j.ID, err)
		}
		if err == nil && st.State.Terminal() {
			return st, st.Failure()
		}

		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return st, fmt.Errorf("job %s: %w after %s", j.ID, ErrAwaitTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-clock.After(min(j.exporter.pollInterval, remaining)):
		}
	}
}

// Cancel asks the backend to stop the job. Cancellation is best-effort: a job
// that already finished keeps its terminal state.
func (j *Job) Cancel(ctx context.Context) error {
	return j.exporter.backend.Cancel(ctx, j.ID)
}
