package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/backend"
	httpadapter "github.com/couchcryptid/snow-forcing-etl/internal/adapter/http"
	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/memory"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testClient(baseURL string) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL:          baseURL,
		Timeout:          5 * time.Second,
		MaxFailures:      2,
		OpenTimeout:      time.Minute,
		HalfOpenRequests: 1,
	}, discard())
}

type readyStub struct{}

func (readyStub) CheckReadiness(context.Context) error { return nil }

func jobsServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := worker.NewService(memory.NewJobStore(), memory.NewQueue(8, time.Millisecond), discard(), observability.NewMetricsForTesting())
	srv := httptest.NewServer(httpadapter.NewServer(":0", svc, readyStub{}, discard()))
	t.Cleanup(srv.Close)
	return srv
}

func demPlan(t *testing.T) pipeline.Plan {
	t.Helper()
	d, err := domain.NewDomainSpec("GRB", domain.Rect{
		MinLat: 42.363116, MinLong: -111.155208, MaxLat: 44.582480, MaxLong: -109.477849,
	}, domain.DefaultBuffer())
	require.NoError(t, err)
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(pipeline.RunSpec{
		Domain:                   d,
		Variables:                []string{"dem"},
		Begin:                    time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		End:                      time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
		ClimatologyFromYear:      2000,
		ClimatologyToYear:        2000,
		CRS:                      "EPSG:4326",
		ModelResolutionMeters:    20000,
		ReferenceArcSecondMeters: 22.57,
	})
	require.NoError(t, err)
	return plans[0]
}

func TestClient_SubmitStatusCancel(t *testing.T) {
	c := testClient(jobsServer(t).URL)
	ctx := context.Background()

	id, err := c.Submit(ctx, demPlan(t))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st, err := c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, export.StateQueued, st.State)

	require.NoError(t, c.Cancel(ctx, id))
	st, err = c.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, export.StateCancelled, st.State)
}

func TestClient_BudgetRejectionIsPermanent(t *testing.T) {
	c := testClient(jobsServer(t).URL)
	plan := demPlan(t)
	plan.MaxPixels = 10

	_, err := c.Submit(context.Background(), plan)
	var bf *domain.BackendJobFailure
	require.ErrorAs(t, err, &bf)
	assert.True(t, bf.Permanent)
	assert.Contains(t, bf.Reason, "422")
}

func TestClient_UnknownJobIsPermanent(t *testing.T) {
	c := testClient(jobsServer(t).URL)
	_, err := c.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Status(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestClient_BreakerOpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for range 2 {
		_, err := c.Status(context.Background(), "job-1")
		require.Error(t, err)
	}
	require.Error(t, c.HealthCheck(context.Background()))

	_, err := c.Status(context.Background(), "job-1")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, domain.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_PermanentFailuresKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for range 5 {
		_, err := c.Status(context.Background(), "job-1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.NoError(t, c.HealthCheck(context.Background()))
}

func TestClient_WithExporterAwait(t *testing.T) {
	c := testClient(jobsServer(t).URL)
	exp := export.NewExporter(c, discard(), export.WithPollInterval(time.Millisecond))
	ctx := context.Background()

	job, err := exp.Materialize(ctx, demPlan(t))
	require.NoError(t, err)
	require.NoError(t, job.Cancel(ctx))

	st, err := job.Await(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, export.StateCancelled, st.State)
}
