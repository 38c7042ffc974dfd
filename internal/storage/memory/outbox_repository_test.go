package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOutboxRepository_PullAndMark(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewOutboxRepository(store)

	store.mu.Lock()
	store.enqueueLocked(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: "order.placed", Payload: []byte(`{}`)})
	store.enqueueLocked(domain.OutboxMessage{ID: "fixed", AggregateType: "order", AggregateID: "order-1", EventType: "order.payment_recorded"})
	store.mu.Unlock()

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending messages, got %d", len(pending))
	}
	if pending[0].ID == "" || pending[0].EventType != "order.placed" {
		t.Fatalf("expected generated id and insertion order, got %+v", pending[0])
	}

	stats, err := repo.Stats(ctx)
	if err != nil || stats.PendingCount != 2 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v err=%v", stats, err)
	}

	if err := repo.MarkSent(ctx, pending[0].ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "fixed", "broker down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.MarkFailed(ctx, "missing", "x"); err == nil {
		t.Fatal("expected error for missing record")
	}

	pending, _ = repo.PullPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}

	all := store.AllOutbox()
	if all[1].Status != domain.OutboxStatusFailed || all[1].LastError != "broker down" || all[1].AttemptCount != 1 {
		t.Fatalf("unexpected failed record %+v", all[1])
	}
}

func TestTimelineRepository_ListSorted(t *testing.T) {
	store := NewStore()
	repo := NewTimelineRepository(store)
	base := timeNow()

	store.mu.Lock()
	store.timeline["order-1"] = []domain.TimelineEvent{
		{OrderID: "order-1", Type: "second", Occurred: base.Add(2)},
		{OrderID: "order-1", Type: "first", Occurred: base.Add(1)},
	}
	store.mu.Unlock()

	events, err := repo.List(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 || events[0].Type != "first" {
		t.Fatalf("unexpected order %+v", events)
	}
}

func timeNow() time.Time { return time.Now().UTC() }
