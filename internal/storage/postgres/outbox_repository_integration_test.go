package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestOutboxAndTimeline_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	orders := NewOrderRepository(store)
	outbox := NewOutboxRepository(store)
	timeline := NewTimelineRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order := sampleOrder(t, "order-1", "customer-1", now)
	require.NoError(t, orders.Create(ctx, domain.OrderChange{
		Order: order,
		Timeline: []domain.TimelineEvent{
			{OrderID: order.ID, Type: domain.TimelineStatusChanged, Reason: "second", Occurred: now.Add(time.Second)},
			{OrderID: order.ID, Type: domain.TimelineOrderPlaced, Actor: "sales", Occurred: now},
		},
		Outbox: []domain.OutboxMessage{
			{AggregateType: "order", AggregateID: order.ID, EventType: "order.placed", Payload: []byte(`{"n":1}`)},
			{AggregateType: "order", AggregateID: order.ID, EventType: "order.status_changed", Payload: []byte(`{"n":2}`)},
		},
	}))

	events, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineOrderPlaced, events[0].Type)
	assert.Equal(t, "sales", events[0].Actor)

	stats, err := outbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	pending, err := outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "order.placed", pending[0].EventType)

	require.NoError(t, outbox.MarkSent(ctx, pending[0].ID))
	require.NoError(t, outbox.MarkFailed(ctx, pending[1].ID, strings.Repeat("x", 2000)))
	require.ErrorIs(t, outbox.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	pending, err = outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var lastError string
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT last_error FROM outbox_messages WHERE event_type = 'order.status_changed'`).Scan(&lastError))
	assert.Len(t, lastError, maxLastErrorLen)
}
