package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newOrder(t *testing.T, id string) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	item, err := domain.RecomputeLine(domain.OrderItem{ID: id + "-item-1", ProductID: "cement", Pallets: 2}, 100, money.FromUnits(5))
	if err != nil {
		t.Fatalf("recompute line: %v", err)
	}
	order, err := domain.NewOrder(id, "customer-1", "Acme", []domain.OrderItem{item}, now)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	return order
}

func newRepos() (*memory.Store, domain.OrderRepository) {
	store := memory.NewStore()
	return store, memory.NewOrderRepository(store)
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepos()
	order := newOrder(t, "order-1")

	if err := repo.Create(ctx, domain.OrderChange{Order: order}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, domain.OrderChange{Order: order}); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || !stored.FinalAmount.Equal(order.FinalAmount) {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	stored.Items[0].Pallets = 42
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Pallets != 2 {
		t.Fatal("repository leaked internal items slice")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByCustomer(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepos()

	first := newOrder(t, "order-1")
	second := newOrder(t, "order-2")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	other := newOrder(t, "order-3")
	other.CustomerID = "customer-2"

	for _, order := range []domain.Order{first, second, other} {
		if err := repo.Create(ctx, domain.OrderChange{Order: order}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	orders, err := repo.ListByCustomer(ctx, "customer-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "order-2" {
		t.Fatalf("expected newest first for customer-1, got %+v", orders)
	}

	all, err := repo.ListByCustomer(ctx, "", 2)
	if err != nil {
		t.Fatalf("list all failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}
}

func TestOrderRepository_CommitVersionConflict(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepos()
	order := newOrder(t, "order-1")
	if err := repo.Create(ctx, domain.OrderChange{Order: order}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stale := order
	payment, err := order.RecordPayment("pay-1", domain.PaymentInput{Amount: money.FromUnits(100), Method: domain.PaymentMethodCash, ReceivedBy: "Jane"}, time.Now())
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if err := repo.Commit(ctx, domain.OrderChange{Order: order, Payment: &payment}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Version != order.Version+1 {
		t.Fatalf("expected version %d, got %d", order.Version+1, stored.Version)
	}

	// Второй писатель с устаревшей версией не должен ничего записать.
	stalePayment := domain.PaymentEvent{ID: "pay-2", OrderID: order.ID, Amount: money.FromUnits(1)}
	err = repo.Commit(ctx, domain.OrderChange{Order: stale, Payment: &stalePayment})
	if !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	history, err := repo.History(ctx, order.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history.Payments) != 1 || history.Payments[0].ID != "pay-1" {
		t.Fatalf("conflicting commit leaked a payment row: %+v", history.Payments)
	}

	missing := newOrder(t, "ghost")
	if err := repo.Commit(ctx, domain.OrderChange{Order: missing}); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found for unknown order, got %v", err)
	}
}

func TestOrderRepository_CommitIsAtomicAcrossLogs(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepos()
	order := newOrder(t, "order-1")
	if err := repo.Create(ctx, domain.OrderChange{
		Order:    order,
		Timeline: []domain.TimelineEvent{{OrderID: order.ID, Type: domain.TimelineOrderPlaced, Occurred: order.CreatedAt}},
		Outbox:   []domain.OutboxMessage{{AggregateType: "order", AggregateID: order.ID, EventType: "order.placed"}},
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	adjustment, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{order.Items[0].ID: money.FromUnits(4)},
		Reason:    "promo",
	}, time.Now())
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	err = repo.Commit(ctx, domain.OrderChange{
		Order:      order,
		Adjustment: &adjustment,
		Timeline:   []domain.TimelineEvent{{OrderID: order.ID, Type: domain.TimelinePricesAdjusted, Occurred: time.Now()}},
		Outbox:     []domain.OutboxMessage{{AggregateType: "order", AggregateID: order.ID, EventType: "order.prices_adjusted"}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	history, err := repo.History(ctx, order.ID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history.Adjustments) != 1 || len(history.Timeline) != 2 {
		t.Fatalf("unexpected history %+v", history)
	}
	if outbox := store.AllOutbox(); len(outbox) != 2 || outbox[1].EventType != "order.prices_adjusted" {
		t.Fatalf("unexpected outbox %+v", outbox)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.FinalAmount.String() != "800.00" {
		t.Fatalf("final amount = %s", stored.FinalAmount)
	}
}

func TestOrderRepository_ConcurrentCommitsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepos()
	order := newOrder(t, "order-1")
	if err := repo.Create(ctx, domain.OrderChange{Order: order}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot, _ := repo.Get(ctx, order.ID)
			snapshot.Version = order.Version
			err := repo.Commit(ctx, domain.OrderChange{Order: snapshot})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.IsVersionConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got succeeded=%d conflicts=%d", succeeded, conflicts)
	}
}
