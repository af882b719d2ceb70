// Package worker is the export backend: it accepts plans, queues them, and
// runs them into stored artifacts.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

var (
	// ErrJobNotFound is returned by a JobStore for an unknown job id.
	ErrJobNotFound = errors.New("job not found")
	// errSkip aborts a store update without error.
	errSkip = errors.New("skip update")
)

// Record is a stored job: its status and the plan it runs.
type Record struct {
	Status export.JobStatus `json:"status"`
	Plan   pipeline.Plan    `json:"plan"`
}

// JobStore persists job records. Update applies fn to the current status
// atomically; fn returning an error leaves the record unchanged.
type JobStore interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, fn func(*export.JobStatus) error) (export.JobStatus, error)
}

// Request is the queue message asking the runner to execute one job.
type Request struct {
	JobID    string    `json:"job_id"`
	PlanKey  string    `json:"plan_key"`
	QueuedAt time.Time `json:"queued_at"`
}

// Delivery is a request read from the queue, with its commit hook.
type Delivery struct {
	Request   Request
	Topic     string
	Partition int
	Offset    int64
	Commit    func(ctx context.Context) error
}

// Queue accepts requests for execution.
type Queue interface {
	Enqueue(ctx context.Context, req Request) error
}

// RequestReader reads up to batchSize requests from the queue.
type RequestReader interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]Delivery, error)
}

// Event announces that a job reached a terminal state.
type Event struct {
	JobID       string          `json:"job_id"`
	State       export.JobState `json:"state"`
	OutputName  string          `json:"output_name"`
	PlanKey     string          `json:"plan_key"`
	ArtifactKey string          `json:"artifact_key,omitempty"`
	ManifestKey string          `json:"manifest_key,omitempty"`
	Bands       int             `json:"bands,omitempty"`
	EmptyBands  int             `json:"empty_bands,omitempty"`
	Error       string          `json:"error,omitempty"`
	Permanent   bool            `json:"permanent,omitempty"`
	At          time.Time       `json:"at"`
}

// EventFromStatus builds the event for a terminal status.
func EventFromStatus(st export.JobStatus) Event {
	return Event{
		JobID:       st.ID,
		State:       st.State,
		OutputName:  st.OutputName,
		PlanKey:     st.PlanKey,
		ArtifactKey: st.ArtifactKey,
		ManifestKey: st.ManifestKey,
		Bands:       st.Bands,
		EmptyBands:  st.EmptyBands,
		Error:       st.Error,
		Permanent:   st.Permanent,
		At:          st.UpdatedAt,
	}
}

// EventPublisher writes job events to the destination.
type EventPublisher interface {
	PublishBatch(ctx context.Context, events []Event) error
}

// Evaluator turns a plan into a raster and its manifest.
type Evaluator interface {
	Evaluate(ctx context.Context, p pipeline.Plan) (domain.Raster, pipeline.Manifest, error)
}

// Encoder serialises an evaluated raster into an artifact.
type Encoder interface {
	Encode(r domain.Raster, m pipeline.Manifest) ([]byte, error)
	Extension() string
}

// ObjectStore stores artifacts by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
