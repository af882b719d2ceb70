package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/memory"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

// --- fakes ---

type jsonEncoder struct{ err error }

func (e jsonEncoder) Encode(r domain.Raster, _ pipeline.Manifest) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return json.Marshal(r.Grid)
}

func (jsonEncoder) Extension() string { return ".json" }

type sliceReader struct {
	mu        sync.Mutex
	batches   [][]worker.Delivery
	committed []int64
	err       error
}

func (r *sliceReader) ExtractBatch(ctx context.Context, _ int) ([]worker.Delivery, error) {
	r.mu.Lock()
	if r.err != nil {
		defer r.mu.Unlock()
		return nil, r.err
	}
	if len(r.batches) == 0 {
		// Commits and commits() need the lock while the runner waits here.
		r.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	b := r.batches[0]
	r.batches = r.batches[1:]
	r.mu.Unlock()
	for i := range b {
		off := b[i].Offset
		b[i].Commit = func(context.Context) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.committed = append(r.committed, off)
			return nil
		}
	}
	return b, nil
}

func (r *sliceReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishBatch(context.Context, []worker.Event) error {
	p.calls++
	return errors.New("broker unavailable")
}

// blockingEvaluator blocks until its job context is cancelled.
type blockingEvaluator struct{ started chan struct{} }

func (e blockingEvaluator) Evaluate(ctx context.Context, _ pipeline.Plan) (domain.Raster, pipeline.Manifest, error) {
	close(e.started)
	<-ctx.Done()
	return domain.Raster{}, pipeline.Manifest{}, ctx.Err()
}

// --- helpers ---

func demPlan(t *testing.T) pipeline.Plan {
	t.Helper()
	return buildPlan(t, "dem")
}

func buildPlan(t *testing.T, variable string) pipeline.Plan {
	t.Helper()
	d, err := domain.NewDomainSpec("GRB", domain.Rect{
		MinLat: 42.363116, MinLong: -111.155208, MaxLat: 44.582480, MaxLong: -109.477849,
	}, domain.DefaultBuffer())
	require.NoError(t, err)
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(pipeline.RunSpec{
		Domain:                   d,
		Variables:                []string{variable},
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

func demCatalog() *memory.Catalog {
	g := domain.Grid{
		Cols: 40, Rows: 40, CRS: "EPSG:4326",
		Transform: domain.GeoTransform{OriginX: -112, OriginY: 45, PixelWidth: 0.1, PixelHeight: 0.1},
	}
	data := make([]float64, g.Size())
	for i := range data {
		data[i] = 2100
	}
	return memory.NewCatalog(domain.Collection{ID: domain.CollectionSRTM90, Images: []domain.Image{
		{Grid: g, Fields: map[string][]float64{"elevation": data}},
	}})
}

type harness struct {
	store   *memory.JobStore
	queue   *memory.Queue
	objects *memory.Objects
	events  *memory.Events
	svc     *worker.Service
	metrics *observability.Metrics
}

func newHarness() *harness {
	h := &harness{
		store:   memory.NewJobStore(),
		queue:   memory.NewQueue(16, time.Millisecond),
		objects: memory.NewObjects(),
		events:  &memory.Events{},
		metrics: observability.NewMetricsForTesting(),
	}
	h.svc = worker.NewService(h.store, h.queue, slog.Default(), h.metrics)
	return h
}

func (h *harness) runner(reader worker.RequestReader, ev worker.Evaluator, pub worker.EventPublisher) *worker.Runner {
	if pub == nil {
		pub = h.events
	}
	return worker.NewRunner(worker.RunnerConfig{
		Reader:      reader,
		Store:       h.store,
		Evaluator:   ev,
		Encoder:     jsonEncoder{},
		Objects:     h.objects,
		Events:      pub,
		BatchSize:   4,
		Concurrency: 2,
	}, h.svc, slog.Default(), h.metrics)
}

func waitForState(t *testing.T, svc *worker.Service, id string, want export.JobState) export.JobStatus {
	t.Helper()
	var st export.JobStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = svc.Get(context.Background(), id)
		return err == nil && st.State == want
	}, 5*time.Second, 5*time.Millisecond)
	return st
}

// --- tests ---

func TestRunner_ExecutesQueuedJob(t *testing.T) {
	h := newHarness()
	plan := demPlan(t)
	st, err := h.svc.Submit(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, export.StateQueued, st.State)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := h.runner(h.queue, pipeline.NewEvaluator(demCatalog(), slog.Default()), nil)
	require.Error(t, r.CheckReadiness(ctx))
	go func() { _ = r.Run(ctx) }()

	done := waitForState(t, h.svc, st.ID, export.StateSucceeded)
	assert.Equal(t, worker.ArtifactKey(plan.Key(), plan.OutputName, ".json"), done.ArtifactKey)
	assert.Equal(t, 1, done.Bands)

	_, ok := h.objects.Get(done.ArtifactKey)
	assert.True(t, ok)
	raw, ok := h.objects.Get(done.ManifestKey)
	require.True(t, ok)
	var m pipeline.Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, plan.OutputName, m.OutputName)
	assert.Equal(t, plan.Key(), m.PlanKey)

	require.Eventually(t, func() bool { return len(h.events.All()) == 1 }, time.Second, time.Millisecond)
	ev := h.events.All()[0]
	assert.Equal(t, st.ID, ev.JobID)
	assert.Equal(t, export.StateSucceeded, ev.State)
	assert.NoError(t, r.CheckReadiness(ctx))
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.JobsFinished.WithLabelValues("succeeded")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.BandsProduced), 0)
}

func TestRunner_EvaluationFailureIsIsolated(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	good, err := h.svc.Submit(ctx, demPlan(t))
	require.NoError(t, err)
	// No PRISM collection in the catalog: this job fails, the DEM job must not.
	bad, err := h.svc.Submit(ctx, buildPlan(t, "precip_climatology"))
	require.NoError(t, err)

	reader := &sliceReader{batches: [][]worker.Delivery{{
		{Request: worker.Request{JobID: good.ID}, Topic: "t", Offset: 1},
		{Request: worker.Request{JobID: bad.ID}, Topic: "t", Offset: 2},
	}}}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = h.runner(reader, pipeline.NewEvaluator(demCatalog(), slog.Default()), nil).Run(runCtx) }()

	waitForState(t, h.svc, good.ID, export.StateSucceeded)
	failed := waitForState(t, h.svc, bad.ID, export.StateFailed)
	assert.True(t, failed.Permanent)
	assert.Contains(t, failed.Error, domain.CollectionPRISM)

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []int64{1, 2}, reader.commits())
}

func TestRunner_SkipsJobCancelledWhileQueued(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	st, err := h.svc.Submit(ctx, demPlan(t))
	require.NoError(t, err)
	cancelled, err := h.svc.Cancel(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, export.StateCancelled, cancelled.State)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = h.runner(h.queue, pipeline.NewEvaluator(demCatalog(), slog.Default()), nil).Run(runCtx) }()

	require.Eventually(t, func() bool { return len(h.events.All()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, export.StateCancelled, h.events.All()[0].State)
	assert.Empty(t, h.objects.Keys())
}

func TestRunner_CancelStopsRunningJob(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	st, err := h.svc.Submit(ctx, demPlan(t))
	require.NoError(t, err)

	ev := blockingEvaluator{started: make(chan struct{})}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = h.runner(h.queue, ev, nil).Run(runCtx) }()

	select {
	case <-ev.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	waitForState(t, h.svc, st.ID, export.StateRunning)
	_, err = h.svc.Cancel(ctx, st.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.events.All()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, export.StateCancelled, h.events.All()[0].State)
	final, err := h.svc.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, export.StateCancelled, final.State)
}

func TestRunner_PublishFailureLeavesBatchUncommitted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	st, err := h.svc.Submit(ctx, demPlan(t))
	require.NoError(t, err)

	reader := &sliceReader{batches: [][]worker.Delivery{{
		{Request: worker.Request{JobID: st.ID}, Topic: "t", Offset: 7},
	}}}
	pub := &failingPublisher{}
	runCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	require.NoError(t, h.runner(reader, pipeline.NewEvaluator(demCatalog(), slog.Default()), pub).Run(runCtx))

	assert.Equal(t, 1, pub.calls)
	assert.Empty(t, reader.commits())
}

func TestRunner_UnknownJobIsCommitted(t *testing.T) {
	h := newHarness()
	reader := &sliceReader{batches: [][]worker.Delivery{{
		{Request: worker.Request{JobID: "missing"}, Topic: "t", Offset: 3},
	}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.runner(reader, pipeline.NewEvaluator(demCatalog(), slog.Default()), nil).Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, h.events.All())
}

func TestRunner_ExtractErrorBacksOff(t *testing.T) {
	h := newHarness()
	reader := &sliceReader{err: errors.New("broker down")}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := h.runner(reader, pipeline.NewEvaluator(demCatalog(), slog.Default()), nil)
	require.NoError(t, r.Run(ctx))
	assert.Error(t, r.CheckReadiness(ctx))
}
