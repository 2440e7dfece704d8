package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

type Metrics struct {
	SyncRuns     *prometheus.CounterVec
	SyncFailures *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SyncRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waplink",
			Name:      "sync_runs_total",
			Help:      "Reconciliation attempts per provider.",
		}, []string{"provider"}),
		SyncFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waplink",
			Name:      "sync_failures_total",
			Help:      "Reconciliation attempts that ended in an error, per provider and class.",
		}, []string{"provider", "reason"}),
		SyncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waplink",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a single-session reconciliation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
