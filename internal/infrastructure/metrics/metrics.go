package metrics

import (
	"net/http"
	"time"

	"github.com/andreyxaxa/Event-Queue/internal/entity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "event_queue"

// Metrics owns a private registry, so several instances can live in one process (tests).
type Metrics struct {
	reg *prometheus.Registry

	processed      *prometheus.CounterVec
	failed         *prometheus.CounterVec
	panics         prometheus.Counter
	duration       *prometheus.HistogramVec
	queueEvents    *prometheus.GaugeVec
	expired        prometheus.Gauge
	workersRunning prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Events processed successfully.",
		}, []string{"event_type"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Failed processing attempts.",
		}, []string{"event_type", "kind"}),
		panics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_panics_recovered_total",
			Help:      "Panics recovered while processing an event.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_seconds",
			Help:      "Time spent in the processing function.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9, 20, 30, 60, 90, 120},
		}, []string{"event_type"}),
		queueEvents: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events",
			Help:      "Events in the store by status.",
		}, []string{"status"}),
		expired: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expired_processing_events",
			Help:      "Processing events whose lease has run out.",
		}),
		workersRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Workers currently running.",
		}),
	}
}

func (m *Metrics) EventProcessed(eventType string, took time.Duration) {
	m.processed.WithLabelValues(eventType).Inc()
	m.duration.WithLabelValues(eventType).Observe(took.Seconds())
}

func (m *Metrics) EventFailed(eventType string, permanent bool, took time.Duration) {
	kind := "transient"
	if permanent {
		kind = "permanent"
	}

	m.failed.WithLabelValues(eventType, kind).Inc()
	m.duration.WithLabelValues(eventType).Observe(took.Seconds())
}

func (m *Metrics) PanicRecovered() {
	m.panics.Inc()
}

func (m *Metrics) SetQueueStats(s entity.QueueStats) {
	for _, st := range entity.Statuses {
		m.queueEvents.WithLabelValues(string(st)).Set(float64(s.Counts[st]))
	}
	m.expired.Set(float64(s.ExpiredProcessing))
}

func (m *Metrics) SetWorkersRunning(n int) {
	m.workersRunning.Set(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
