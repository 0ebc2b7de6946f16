package syncer

import (
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "loancollect"
	subsystem = "sync"
)

// Metrics are registered on the Registerer given to NewMetrics; a nil
// Registerer leaves them unregistered.
type Metrics struct {
	QueueLength    prometheus.Gauge
	Processed      *prometheus.CounterVec
	Failed         *prometheus.CounterVec
	PullDuration   *prometheus.HistogramVec
	PullFailures   prometheus.Counter
	FullSyncs      prometheus.Counter
	WatchdogResets prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Mutations waiting to be pushed",
		}),
		Processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_processed_total",
			Help:      "Mutations confirmed by the server",
		}, []string{"table"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_failed_total",
			Help:      "Mutations left in the queue after a failed push",
		}, []string{"table"}),
		PullDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pull_duration_seconds",
			Help:      "Duration of successful pulls",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"mode"}),
		PullFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pull_failures_total",
			Help:      "Pulls that did not complete",
		}),
		FullSyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "full_syncs_total",
			Help:      "Completed full pulls",
		}),
		WatchdogResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "watchdog_resets_total",
			Help:      "Sync cycles abandoned by the stuck watchdog",
		}),
	}
}

func (m *Metrics) observeProcess(res queue.Result) {
	for t, n := range res.ProcessedByTable {
		m.Processed.WithLabelValues(string(t)).Add(float64(n))
	}
	for t, n := range res.FailedByTable {
		m.Failed.WithLabelValues(string(t)).Add(float64(n))
	}
}

func (m *Metrics) observePull(full bool, d time.Duration) {
	mode := "incremental"
	if full {
		mode = "full"
		m.FullSyncs.Inc()
	}
	m.PullDuration.WithLabelValues(mode).Observe(d.Seconds())
}
