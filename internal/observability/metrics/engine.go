package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/case-documents/internal/core/domain"
)

// EngineMetrics records version-chain, linkage and overview outcomes.
type EngineMetrics struct {
	service string

	replaceTotal     *prometheus.CounterVec
	classifyTotal    *prometheus.CounterVec
	overviewTotal    *prometheus.CounterVec
	overviewDuration *prometheus.HistogramVec
	missingDocuments *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
}

func NewEngineMetrics(service string, registerer prometheus.Registerer) *EngineMetrics {
	replaceTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casedocs",
			Subsystem: "versions",
			Name:      "replacements_total",
			Help:      "File reference replacements by outcome.",
		},
		[]string{"service", "outcome"},
	)
	classifyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casedocs",
			Subsystem: "linkage",
			Name:      "classifications_total",
			Help:      "Classification attempts by result.",
		},
		[]string{"service", "result"},
	)
	overviewTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "casedocs",
			Subsystem: "overview",
			Name:      "computations_total",
			Help:      "Case overview computations by result.",
		},
		[]string{"service", "result"},
	)
	overviewDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casedocs",
			Subsystem: "overview",
			Name:      "duration_seconds",
			Help:      "Case overview computation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	missingDocuments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "casedocs",
			Subsystem: "overview",
			Name:      "missing_required_documents",
			Help:      "Distribution of missing required documents per computed overview.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "casedocs",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation (0 closed, 1 half-open, 2 open).",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(replaceTotal, classifyTotal, overviewTotal, overviewDuration, missingDocuments, breakerState)

	return &EngineMetrics{
		service:          service,
		replaceTotal:     replaceTotal,
		classifyTotal:    classifyTotal,
		overviewTotal:    overviewTotal,
		overviewDuration: overviewDuration,
		missingDocuments: missingDocuments,
		breakerState:     breakerState,
	}
}

func (m *EngineMetrics) RecordReplace(outcome domain.ReplaceOutcome, err error) {
	label := string(outcome)
	if err != nil {
		label = errorLabel(err)
	}
	m.replaceTotal.WithLabelValues(m.service, label).Inc()
}

func (m *EngineMetrics) RecordClassify(err error) {
	m.classifyTotal.WithLabelValues(m.service, resultLabel(err)).Inc()
}

func (m *EngineMetrics) RecordOverview(duration time.Duration, missing int, err error) {
	m.overviewTotal.WithLabelValues(m.service, resultLabel(err)).Inc()
	if err != nil {
		return
	}
	m.overviewDuration.WithLabelValues(m.service).Observe(duration.Seconds())
	m.missingDocuments.WithLabelValues(m.service).Observe(float64(missing))
}

// ObserveBreaker matches resilience.StateObserver.
func (m *EngineMetrics) ObserveBreaker(operation string, state gobreaker.State) {
	value := 0.0
	switch state {
	case gobreaker.StateHalfOpen:
		value = 1
	case gobreaker.StateOpen:
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return errorLabel(err)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, domain.ErrTemporary):
		return "temporary"
	default:
		return "error"
	}
}
