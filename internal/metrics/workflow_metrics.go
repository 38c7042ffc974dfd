package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций workflow для метки result.
const (
	ResultApplied  = "applied"
	ResultNoop     = "noop"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// WorkflowMetrics содержит метрики операций над заказами.
type WorkflowMetrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	versionConflicts  *prometheus.CounterVec
	retriesExhausted  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	payments          *prometheus.CounterVec
	priceLocks        prometheus.Counter
	timelineEvents    prometheus.Counter
	outboxEvents      prometheus.Counter
	inFlight          prometheus.Gauge
}

// NewWorkflowMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewWorkflowMetrics() *WorkflowMetrics {
	return NewWorkflowMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWorkflowMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewWorkflowMetricsWithRegisterer(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkflowMetrics{
		operations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_operations_total",
			Help: "Total number of order operations by result",
		}, []string{"operation", "result"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fulfillment_operation_duration_seconds",
			Help:    "Duration of order operations including conflict retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"})),
		versionConflicts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_version_conflicts_total",
			Help: "Optimistic locking conflicts detected while committing an order",
		}, []string{"operation"})),
		retriesExhausted: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_conflict_retries_exhausted_total",
			Help: "Operations that returned a conflict after all retry attempts",
		}, []string{"operation"})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_status_transitions_total",
			Help: "Applied order status transitions",
		}, []string{"from", "to"})),
		payments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_payments_recorded_total",
			Help: "Recorded customer payments by method",
		}, []string{"method"})),
		priceLocks: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_price_locks_total",
			Help: "Orders whose price adjustments became locked",
		})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulfillment_operations_in_flight",
			Help: "Number of order operations currently executing",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// OperationStarted отмечает начало операции и возвращает функцию завершения,
// которая фиксирует длительность и результат.
func (m *WorkflowMetrics) OperationStarted(operation string) func(result string) {
	if m == nil {
		return func(string) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		m.operations.WithLabelValues(operation, result).Inc()
	}
}

// RecordVersionConflict учитывает конфликт версий при коммите.
func (m *WorkflowMetrics) RecordVersionConflict(operation string) {
	if m == nil {
		return
	}
	m.versionConflicts.WithLabelValues(operation).Inc()
}

// RecordRetriesExhausted учитывает операцию, для которой закончились попытки.
func (m *WorkflowMetrics) RecordRetriesExhausted(operation string) {
	if m == nil {
		return
	}
	m.retriesExhausted.WithLabelValues(operation).Inc()
}

// RecordTransition учитывает применённый переход статуса.
func (m *WorkflowMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordPayment учитывает записанный платёж.
func (m *WorkflowMetrics) RecordPayment(method string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method).Inc()
}

// RecordPriceLock учитывает включение блокировки корректировок.
func (m *WorkflowMetrics) RecordPriceLock() {
	if m == nil {
		return
	}
	m.priceLocks.Inc()
}

// RecordCommitted учитывает записанные вместе с заказом события журнала и outbox.
func (m *WorkflowMetrics) RecordCommitted(timelineEvents, outboxEvents int) {
	if m == nil {
		return
	}
	m.timelineEvents.Add(float64(timelineEvents))
	m.outboxEvents.Add(float64(outboxEvents))
}
