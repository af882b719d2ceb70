package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

// Runner consumes export requests and turns them into stored artifacts.
type Runner struct {
	reader      RequestReader
	store       JobStore
	evaluator   Evaluator
	encoder     Encoder
	objects     ObjectStore
	events      EventPublisher
	running     *registry
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	batchSize   int
	concurrency int
}

// RunnerConfig bundles the runner's collaborators.
type RunnerConfig struct {
	Reader      RequestReader
	Store       JobStore
	Evaluator   Evaluator
	Encoder     Encoder
	Objects     ObjectStore
	Events      EventPublisher
	BatchSize   int
	Concurrency int
}

// NewRunner creates a Runner. svc shares its running-job registry so that
// Service.Cancel can stop jobs evaluated here.
func NewRunner(cfg RunnerConfig, svc *Service, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		reader:      cfg.Reader,
		store:       cfg.Store,
		evaluator:   cfg.Evaluator,
		encoder:     cfg.Encoder,
		objects:     cfg.Objects,
		events:      cfg.Events,
		running:     svc.running,
		logger:      logger,
		metrics:     metrics,
		batchSize:   max(cfg.BatchSize, 1),
		concurrency: max(cfg.Concurrency, 1),
	}
}

// CheckReadiness returns nil once the runner has read from the queue.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("runner has not reached the request queue yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner started", "batch_size", r.batchSize, "concurrency", r.concurrency)
	r.metrics.RunnerRunning.Set(1)
	defer r.metrics.RunnerRunning.Set(0)

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !r.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

// processBatch runs one extract-execute-publish cycle. Returns false if the
// runner should stop.
func (r *Runner) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	batch, err := r.reader.ExtractBatch(ctx, r.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.logger.Error("extract batch failed", "error", err)
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}
	r.ready.Store(true)

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	r.metrics.RequestsConsumed.Add(float64(len(batch)))
	r.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = 200 * time.Millisecond

	outcomes := r.executeBatch(ctx, batch)
	if ctx.Err() != nil {
		// Shutdown mid-batch: unfinished requests stay uncommitted and are redelivered.
		r.publishAndCommit(context.WithoutCancel(ctx), batch, outcomes)
		return false
	}
	if !r.publishAndCommit(ctx, batch, outcomes) {
		return r.backoffOrStop(ctx, backoff, maxBackoff)
	}
	return true
}

type outcome struct {
	event    *Event
	finished bool
}

// executeBatch runs every delivery with bounded concurrency. Outcomes are
// in batch order.
func (r *Runner) executeBatch(ctx context.Context, batch []Delivery) []outcome {
	outcomes := make([]outcome, len(batch))
	g := errgroup.Group{}
	g.SetLimit(r.concurrency)
	for i, d := range batch {
		g.Go(func() error {
			ev, finished := r.execute(ctx, d)
			outcomes[i] = outcome{event: ev, finished: finished}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// publishAndCommit writes the batch's events, then commits finished
// deliveries in order. A partition stops committing at its first unfinished
// delivery so that it is redelivered. Returns false if publishing failed;
// nothing is committed in that case.
func (r *Runner) publishAndCommit(ctx context.Context, batch []Delivery, outcomes []outcome) bool {
	var events []Event
	for _, o := range outcomes {
		if o.event != nil {
			events = append(events, *o.event)
		}
	}
	if len(events) > 0 {
		if err := r.events.PublishBatch(ctx, events); err != nil {
			r.logger.Error("publish job events failed", "error", err, "events", len(events))
			return false
		}
	}

	blocked := make(map[string]bool)
	for i, d := range batch {
		part := fmt.Sprintf("%s/%d", d.Topic, d.Partition)
		if blocked[part] {
			continue
		}
		if !outcomes[i].finished {
			blocked[part] = true
			continue
		}
		r.commit(ctx, d)
	}
	return true
}

// execute runs one job. It reports the terminal event (nil if the job did
// not finish) and whether the delivery can be committed.
func (r *Runner) execute(ctx context.Context, d Delivery) (*Event, bool) {
	id := d.Request.JobID
	logger := r.logger.With("job_id", id, "offset", d.Offset)

	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		logger.Warn("request for unknown job, skipping")
		return nil, true
	}
	if err != nil {
		logger.Error("load job failed", "error", err)
		return nil, false
	}
	if rec.Status.State.Terminal() {
		// Redelivered or cancelled while queued; announce the settled state again.
		logger.Info("job already settled, skipping", "state", rec.Status.State)
		ev := EventFromStatus(rec.Status)
		return &ev, true
	}

	st, err := r.store.Update(ctx, id, func(cur *export.JobStatus) error {
		if cur.State.Terminal() {
			return errSkip
		}
		cur.State, cur.UpdatedAt = export.StateRunning, domain.Now()
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil, true
	}
	if err != nil {
		logger.Error("mark job running failed", "error", err)
		return nil, false
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.running.add(id, cancel)
	defer func() {
		r.running.remove(id)
		cancel()
	}()

	r.metrics.JobsRunning.Inc()
	start := time.Now()
	out, err := r.produce(jobCtx, rec.Plan, st.PlanKey)
	r.metrics.JobsRunning.Dec()
	r.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() != nil {
		// Stopped by shutdown, not by the job; leave it for redelivery.
		logger.Warn("job interrupted by shutdown", "error", err)
		return nil, false
	}

	final, uerr := r.store.Update(context.WithoutCancel(ctx), id, func(cur *export.JobStatus) error {
		if cur.State == export.StateCancelled {
			return errSkip
		}
		cur.UpdatedAt = domain.Now()
		if err != nil {
			cur.State = export.StateFailed
			cur.Error = err.Error()
			cur.Permanent = !domain.IsTransient(err)
			return nil
		}
		cur.State = export.StateSucceeded
		cur.ArtifactKey, cur.ManifestKey = out.artifactKey, out.manifestKey
		cur.Bands, cur.EmptyBands = out.bands, out.emptyBands
		cur.Notes = out.notes
		return nil
	})
	if errors.Is(uerr, errSkip) {
		logger.Info("job cancelled while running")
		rec, gerr := r.store.Get(context.WithoutCancel(ctx), id)
		if gerr != nil {
			return nil, true
		}
		ev := EventFromStatus(rec.Status)
		return &ev, true
	}
	if uerr != nil {
		logger.Error("record job result failed", "error", uerr)
		return nil, false
	}

	switch {
	case err == nil:
		r.metrics.BandsProduced.Add(float64(out.bands))
		r.metrics.EmptyBands.Add(float64(out.emptyBands))
		logger.Info("job succeeded", "output", final.OutputName, "artifact", final.ArtifactKey, "bands", final.Bands)
	case errors.Is(err, domain.ErrPixelBudgetExceeded):
		r.metrics.PixelBudgetRejections.Inc()
		logger.Error("job rejected", "output", final.OutputName, "error", err)
	default:
		logger.Error("job failed", "output", final.OutputName, "error", err)
	}
	r.metrics.JobsFinished.WithLabelValues(string(final.State)).Inc()

	ev := EventFromStatus(final)
	return &ev, true
}

type produced struct {
	artifactKey string
	manifestKey string
	bands       int
	emptyBands  int
	notes       []string
}

// produce evaluates the plan and stores artifact and manifest under
// <planKey>/<output>. Stores overwrite, so reruns of a plan are idempotent.
func (r *Runner) produce(ctx context.Context, plan pipeline.Plan, planKey string) (produced, error) {
	raster, manifest, err := r.evaluator.Evaluate(ctx, plan)
	if err != nil {
		return produced{}, err
	}
	if err := ctx.Err(); err != nil {
		return produced{}, err
	}

	data, err := r.encoder.Encode(raster, manifest)
	if err != nil {
		return produced{}, fmt.Errorf("encode %s: %w", plan.OutputName, err)
	}
	meta, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return produced{}, fmt.Errorf("encode manifest %s: %w", plan.OutputName, err)
	}

	out := produced{
		artifactKey: ArtifactKey(planKey, plan.OutputName, r.encoder.Extension()),
		manifestKey: ManifestKey(planKey, plan.OutputName),
		bands:       raster.BandCount(),
		emptyBands:  manifest.EmptyBandCount(),
		notes:       manifest.Notes,
	}
	if err := r.objects.Put(ctx, out.artifactKey, data, "application/x-netcdf"); err != nil {
		return produced{}, &domain.BackendJobFailure{Reason: "store artifact", Err: err}
	}
	if err := r.objects.Put(ctx, out.manifestKey, meta, "application/json"); err != nil {
		return produced{}, &domain.BackendJobFailure{Reason: "store manifest", Err: err}
	}
	return out, nil
}

// ArtifactKey is the object key of a plan's artifact.
func ArtifactKey(planKey, outputName, ext string) string {
	return path.Join(planKey, outputName+ext)
}

// ManifestKey is the object key of a plan's band manifest.
func ManifestKey(planKey, outputName string) string {
	return path.Join(planKey, outputName+".manifest.json")
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the runner should stop.
func (r *Runner) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func (r *Runner) commit(ctx context.Context, d Delivery) {
	if d.Commit == nil {
		return
	}
	if err := d.Commit(ctx); err != nil {
		r.logger.Warn("commit offset failed", "error", err,
			"topic", d.Topic, "partition", d.Partition, "offset", d.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
