//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/postgres"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// Requires a reachable database in TEST_DATABASE_URL.
func openStore(t *testing.T) *postgres.JobStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := postgres.Open(ctx, postgres.DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := postgres.NewJobStore(db)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestJobStore_CreateGetUpdate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := worker.Record{
		Status: export.JobStatus{
			ID: uuid.NewString(), State: export.StateQueued, OutputName: "GRB_SRTM_DEM",
			PlanKey: "abc", SubmittedAt: now, UpdatedAt: now,
		},
		Plan: pipeline.Plan{Variable: "dem", OutputName: "GRB_SRTM_DEM", Op: pipeline.OpStatic},
	}
	require.NoError(t, store.Create(ctx, rec))
	require.ErrorIs(t, store.Create(ctx, rec), postgres.ErrDuplicateJob)

	got, err := store.Get(ctx, rec.Status.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Status.OutputName, got.Status.OutputName)
	assert.Equal(t, "dem", got.Plan.Variable)

	st, err := store.Update(ctx, rec.Status.ID, func(cur *export.JobStatus) error {
		cur.State = export.StateRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, export.StateRunning, st.State)

	abort := errors.New("abort")
	_, err = store.Update(ctx, rec.Status.ID, func(cur *export.JobStatus) error {
		cur.State = export.StateFailed
		return abort
	})
	require.ErrorIs(t, err, abort)

	got, err = store.Get(ctx, rec.Status.ID)
	require.NoError(t, err)
	assert.Equal(t, export.StateRunning, got.Status.State)
}

func TestJobStore_Unknown(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, worker.ErrJobNotFound)
	_, err = store.Update(context.Background(), "missing", func(*export.JobStatus) error { return nil })
	assert.ErrorIs(t, err, worker.ErrJobNotFound)
}
