package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// JobStore keeps job records in a map.
type JobStore struct {
	mu   sync.Mutex
	recs map[string]worker.Record
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{recs: make(map[string]worker.Record)}
}

// Create stores a new record.
func (s *JobStore) Create(_ context.Context, rec worker.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Status.ID]; ok {
		return fmt.Errorf("job %s already exists", rec.Status.ID)
	}
	s.recs[rec.Status.ID] = clone(rec)
	return nil
}

// Get returns a copy of the record.
func (s *JobStore) Get(_ context.Context, id string) (worker.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return worker.Record{}, fmt.Errorf("%w: %s", worker.ErrJobNotFound, id)
	}
	return clone(rec), nil
}

// Update applies fn under the store lock.
func (s *JobStore) Update(_ context.Context, id string, fn func(*export.JobStatus) error) (export.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return export.JobStatus{}, fmt.Errorf("%w: %s", worker.ErrJobNotFound, id)
	}
	st := rec.Status
	st.Notes = slices.Clone(st.Notes)
	if err := fn(&st); err != nil {
		return export.JobStatus{}, err
	}
	rec.Status = st
	s.recs[id] = rec
	return st, nil
}

func clone(rec worker.Record) worker.Record {
	rec.Status.Notes = slices.Clone(rec.Status.Notes)
	return rec
}
