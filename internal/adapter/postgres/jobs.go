package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

const schema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id           TEXT PRIMARY KEY,
	state        TEXT NOT NULL,
	plan_key     TEXT NOT NULL,
	output_name  TEXT NOT NULL,
	status       JSONB NOT NULL,
	plan         JSONB NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS export_jobs_plan_key_idx ON export_jobs (plan_key);
CREATE INDEX IF NOT EXISTS export_jobs_state_idx ON export_jobs (state);
`

// ErrDuplicateJob is returned by Create for an id that already exists.
var ErrDuplicateJob = errors.New("duplicate job")

// JobStore implements worker.JobStore on the export_jobs table.
type JobStore struct {
	db *sql.DB
}

// NewJobStore wraps db. Call Migrate before first use.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Migrate creates the export_jobs table if needed.
func (s *JobStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate export_jobs: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *JobStore) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a new job record.
func (s *JobStore) Create(ctx context.Context, rec worker.Record) error {
	status, plan, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, state, plan_key, output_name, status, plan, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.Status.ID, string(rec.Status.State), rec.Status.PlanKey, rec.Status.OutputName,
		status, plan, rec.Status.SubmittedAt, rec.Status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", rec.Status.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, rec.Status.ID)
	}
	return nil
}

// Get loads a job record.
func (s *JobStore) Get(ctx context.Context, id string) (worker.Record, error) {
	var status, plan []byte
	err := s.db.QueryRowContext(ctx, `SELECT status, plan FROM export_jobs WHERE id = $1`, id).Scan(&status, &plan)
	if errors.Is(err, sql.ErrNoRows) {
		return worker.Record{}, fmt.Errorf("%w: %s", worker.ErrJobNotFound, id)
	}
	if err != nil {
		return worker.Record{}, fmt.Errorf("select job %s: %w", id, err)
	}
	return decodeRecord(status, plan)
}

// Update applies fn to the stored status under a row lock. fn returning an
// error rolls back and the error is returned unchanged.
func (s *JobStore) Update(ctx context.Context, id string, fn func(*export.JobStatus) error) (export.JobStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return export.JobStatus{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT status FROM export_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return export.JobStatus{}, fmt.Errorf("%w: %s", worker.ErrJobNotFound, id)
	}
	if err != nil {
		return export.JobStatus{}, fmt.Errorf("lock job %s: %w", id, err)
	}

	var st export.JobStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return export.JobStatus{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	if err := fn(&st); err != nil {
		return export.JobStatus{}, err
	}
	updated, err := json.Marshal(st)
	if err != nil {
		return export.JobStatus{}, fmt.Errorf("encode job %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE export_jobs SET state = $2, status = $3, updated_at = $4 WHERE id = $1`,
		id, string(st.State), updated, st.UpdatedAt,
	); err != nil {
		return export.JobStatus{}, fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return export.JobStatus{}, fmt.Errorf("commit job %s: %w", id, err)
	}
	return st, nil
}

func encodeRecord(rec worker.Record) ([]byte, []byte, error) {
	status, err := json.Marshal(rec.Status)
	if err != nil {
		return nil, nil, fmt.Errorf("encode status: %w", err)
	}
	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return nil, nil, fmt.Errorf("encode plan: %w", err)
	}
	return status, plan, nil
}

func decodeRecord(status, plan []byte) (worker.Record, error) {
	var rec worker.Record
	if err := json.Unmarshal(status, &rec.Status); err != nil {
		return worker.Record{}, fmt.Errorf("decode status: %w", err)
	}
	var p pipeline.Plan
	if err := json.Unmarshal(plan, &p); err != nil {
		return worker.Record{}, fmt.Errorf("decode plan: %w", err)
	}
	rec.Plan = p
	return rec, nil
}
