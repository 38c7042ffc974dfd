package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestIdempotencyMetrics(t *testing.T) {
	m := NewIdempotencyMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordRequest(IdempotencyExecuted)
	m.RecordRequest(IdempotencyReplayedDone)
	m.RecordRequest(IdempotencyReplayedDone)
	if got := counterValue(t, m.requests.WithLabelValues(IdempotencyReplayedDone)); got != 2 {
		t.Fatalf("expected 2 replays, got %f", got)
	}

	m.AddDeleted(5)
	m.AddDeleted(0)
	m.RecordCleanup("ok", 5)
	m.RecordCleanup("error", 0)
	if got := counterValue(t, m.cleanupDeleted); got != 5 {
		t.Fatalf("expected 5 deleted, got %f", got)
	}
	if got := gaugeValue(t, m.cleanupLastDeleted); got != 5 {
		t.Fatalf("error run must not reset last deleted, got %f", got)
	}
	if got := counterValue(t, m.cleanupRuns.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %f", got)
	}
}

func TestIdempotencyMetrics_NilSafe(t *testing.T) {
	var m *IdempotencyMetrics
	m.RecordRequest(IdempotencyExecuted)
	m.RecordCleanup("ok", 1)
	m.AddDeleted(1)
}
