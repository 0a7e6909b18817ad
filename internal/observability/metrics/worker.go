package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry
	engine   *EngineMetrics

	eventTotal    *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventInFlight prometheus.Gauge
	eventLag      *prometheus.HistogramVec
	caseMissing   *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	eventTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casedocs",
			Subsystem: "worker",
			Name:      "events_total",
			Help:      "Total handled document events by type and status.",
		},
		[]string{"service", "type", "status"},
	)
	eventDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casedocs",
			Subsystem: "worker",
			Name:      "event_duration_seconds",
			Help:      "Document event handling duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	eventInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "casedocs",
			Subsystem: "worker",
			Name:      "events_in_flight",
			Help:      "Number of document events being handled.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	eventLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casedocs",
			Subsystem: "worker",
			Name:      "event_lag_seconds",
			Help:      "Delay between a committed mutation and its handling.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	caseMissing := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "casedocs",
			Subsystem: "worker",
			Name:      "case_missing_required_documents",
			Help:      "Missing required documents per case at last recompute.",
		},
		[]string{"service", "case_id"},
	)

	registry.MustRegister(eventTotal, eventDuration, eventInFlight, eventLag, caseMissing)

	return &WorkerMetrics{
		service:       service,
		registry:      registry,
		engine:        NewEngineMetrics(service, registry),
		eventTotal:    eventTotal,
		eventDuration: eventDuration,
		eventInFlight: eventInFlight,
		eventLag:      eventLag,
		caseMissing:   caseMissing,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Engine() *EngineMetrics {
	return m.engine
}

func (m *WorkerMetrics) StartEvent() {
	m.eventInFlight.Inc()
}

func (m *WorkerMetrics) FinishEvent(service, eventType string, duration time.Duration, err error) {
	m.eventInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.eventTotal.WithLabelValues(service, eventType, status).Inc()
	m.eventDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveEventLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.eventLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) SetCaseMissing(caseID string, missing int) {
	m.caseMissing.WithLabelValues(m.service, caseID).Set(float64(missing))
}

func (m *WorkerMetrics) ForgetCase(caseID string) {
	m.caseMissing.DeleteLabelValues(m.service, caseID)
}
