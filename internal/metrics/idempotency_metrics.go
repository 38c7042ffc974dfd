package metrics

import "github.com/prometheus/client_golang/prometheus"

// Исходы обработки запроса с idempotency-key.
const (
	IdempotencyExecuted       = "executed"
	IdempotencyReplayedDone   = "replayed_done"
	IdempotencyReplayedFailed = "replayed_failed"
	IdempotencyInProgress     = "in_progress"
	IdempotencyHashMismatch   = "hash_mismatch"
	IdempotencyReleased       = "released"
)

// IdempotencyMetrics — метрики защиты от повторов и очистки просроченных ключей.
type IdempotencyMetrics struct {
	requests           *prometheus.CounterVec
	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewIdempotencyMetricsWithRegisterer регистрирует метрики idempotency.
func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &IdempotencyMetrics{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_idempotency_requests_total",
			Help: "Total number of requests carrying an idempotency key grouped by outcome",
		}, []string{"outcome"})),
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"})),
		cleanupDeleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		})),
		cleanupLastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fulfillment_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run",
		})),
	}
}

// RecordRequest учитывает исход обработки запроса с ключом.
func (m *IdempotencyMetrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// RecordCleanup фиксирует результат прогона очистки: ok или error.
func (m *IdempotencyMetrics) RecordCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result == "ok" {
		m.cleanupLastDeleted.Set(float64(deleted))
	}
}

// AddDeleted увеличивает счётчик удалённых записей.
func (m *IdempotencyMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(n))
}
