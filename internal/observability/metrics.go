package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snow_forcing"

// Metrics holds the Prometheus counters, histograms, and gauges for the export worker.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsFinished  *prometheus.CounterVec // labels: state={succeeded,failed,cancelled}
	RunnerRunning prometheus.Gauge
	JobsRunning   prometheus.Gauge

	// Evaluation metrics.
	BandsProduced         prometheus.Counter
	EmptyBands            prometheus.Counter
	EvaluationDuration    prometheus.Histogram
	PixelBudgetRejections prometheus.Counter

	// Queue metrics.
	RequestsConsumed prometheus.Counter
	BatchSize        prometheus.Histogram

	// Source catalog cache.
	CatalogCache *prometheus.CounterVec // labels: result={hit,miss}
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      help("Total export jobs accepted by the jobs API."),
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      help("Export jobs reaching a terminal state, by state."),
		}, []string{"state"}),
		RunnerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_running",
			Help:      help("1 when the job runner is active, 0 when shut down."),
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      help("Export jobs currently being evaluated by this replica."),
		}),
		BandsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bands_produced_total",
			Help:      help("Total raster bands written to artifacts."),
		}),
		EmptyBands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_bands_total",
			Help:      help("Bands whose period selector matched no source entry."),
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      help("Duration of evaluating, encoding and storing one export."),
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		}),
		PixelBudgetRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixel_budget_rejections_total",
			Help:      help("Exports rejected because the output grid exceeds its pixel ceiling."),
		}),
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_consumed_total",
			Help:      help("Export requests read from the queue."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of export requests per batch read from the queue."),
			Buckets:   []float64{1, 2, 4, 8, 16, 32},
		}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      help("Source catalog cache lookups by result."),
		}, []string{"result"}),
	}
}

// NewMetrics creates and registers all worker metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.JobsSubmitted,
		m.JobsFinished,
		m.RunnerRunning,
		m.JobsRunning,
		m.BandsProduced,
		m.EmptyBands,
		m.EvaluationDuration,
		m.PixelBudgetRejections,
		m.RequestsConsumed,
		m.BatchSize,
		m.CatalogCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}
