package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SyncRuns         *prometheus.CounterVec
	ItemsFetched     *prometheus.CounterVec
	ItemsInserted    *prometheus.CounterVec
	ItemsSkipped     *prometheus.CounterVec
	ItemsFailed      *prometheus.CounterVec
	JobsEnqueued     *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	RateLimitDenials *prometheus.CounterVec
	DeadlineExits    *prometheus.CounterVec
}

// NewMetrics creates metrics on the default registerer.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates metrics on an explicit registerer. Tests pass a
// fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_runs_total",
			Help: "Total number of sync runs by kind and outcome",
		}, []string{"kind", "status"}),
		ItemsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_items_fetched_total",
			Help: "Total number of provider items fetched",
		}, []string{"kind"}),
		ItemsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_items_inserted_total",
			Help: "Total number of raw events inserted",
		}, []string{"kind"}),
		ItemsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_items_skipped_total",
			Help: "Total number of items skipped by filters or the since bound",
		}, []string{"kind"}),
		ItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_items_failed_total",
			Help: "Total number of per-item fetch or persist failures",
		}, []string{"kind"}),
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_jobs_enqueued_total",
			Help: "Total number of follow-up jobs enqueued",
		}, []string{"kind"}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_google_sync_run_duration_seconds",
			Help:    "Time spent per sync run",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		RateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_rate_limit_denials_total",
			Help: "Total number of rate limiter admission denials",
		}, []string{"operation", "reason"}),
		DeadlineExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_google_sync_deadline_exits_total",
			Help: "Total number of runs terminated early by the wall-clock deadline",
		}, []string{"kind"}),
	}
}
