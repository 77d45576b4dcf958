package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sentry"

// Metrics groups the crawler's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ItemsTotal        *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	FetchErrorsTotal  *prometheus.CounterVec
	DispatchesTotal   *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	RunsInFlight      prometheus.Gauge
	MatcherRecompiles prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "items_total",
			Help:      "Candidate entries processed, by source and outcome",
		}, []string{"source", "outcome"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "runs_total",
			Help:      "Executor runs, by source kind and log status",
		}, []string{"kind", "status"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "run_duration_seconds",
			Help:      "Duration of executor runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),

		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "fetch_errors_total",
			Help:      "Failed network fetches, by target",
		}, []string{"target"}),

		DispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatches_total",
			Help:      "Task dispatch attempts, by result",
		}, []string{"result"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),

		RunsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_in_flight",
			Help:      "Jobs currently executing",
		}),

		MatcherRecompiles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "recompiles_total",
			Help:      "Keyword matcher rebuilds after rule changes",
		}),
	}
}

func (m *Metrics) ObserveItems(source string, created, skipped, failed int) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(source, "created").Add(float64(created))
	m.ItemsTotal.WithLabelValues(source, "skipped").Add(float64(skipped))
	m.ItemsTotal.WithLabelValues(source, "failed").Add(float64(failed))
}

func (m *Metrics) ObserveRun(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(kind, status).Inc()
	m.RunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) FetchError(target string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(target).Inc()
}

func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
}

func (m *Metrics) MatcherRecompiled() {
	if m == nil {
		return
	}
	m.MatcherRecompiles.Inc()
}
