package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordAttempt("sent")
	m.RecordAttempt("sent")
	if got := counterValue(t, m.publishAttempts.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent attempts, got %f", got)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetBacklog(3, now.Add(-90*time.Second), now)
	if got := gaugeValue(t, m.pendingRecords); got != 3 {
		t.Fatalf("expected 3 pending, got %f", got)
	}
	if got := gaugeValue(t, m.oldestPendingAge); got != 90 {
		t.Fatalf("expected age 90s, got %f", got)
	}

	m.SetBacklog(0, time.Time{}, now)
	if got := gaugeValue(t, m.oldestPendingAge); got != 0 {
		t.Fatalf("expected age reset, got %f", got)
	}
}

func TestOutboxMetrics_NilSafe(t *testing.T) {
	var m *OutboxMetrics
	m.RecordAttempt("sent")
	m.SetBacklog(1, time.Now(), time.Now())
}
