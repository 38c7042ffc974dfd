package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/catalog"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

var engineNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// EngineTestSuite проверяет движок поверх in-memory хранилища.
type EngineTestSuite struct {
	suite.Suite
	store   *memory.Store
	orders  domain.OrderRepository
	catalog *catalog.StaticCatalog
	engine  *Engine
	ctx     context.Context
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return logger.WithField("component", "workflow-test")
}

func testCatalog(t require.TestingT) *catalog.StaticCatalog {
	c, err := catalog.NewStatic(
		domain.CatalogEntry{ProductID: "cement", Name: "Cement 50kg", PacksPerPallet: 100, PricePerPack: money.FromUnits(500)},
		domain.CatalogEntry{ProductID: "rebar", Name: "Rebar 12mm", PacksPerPallet: 50, PricePerPack: money.FromUnits(300)},
	)
	require.NoError(t, err)
	return c
}

func (s *EngineTestSuite) SetupTest() {
	s.store = memory.NewStore()
	s.orders = memory.NewOrderRepository(s.store)
	s.catalog = testCatalog(s.T())
	s.ctx = domain.WithActor(context.Background(), "Jane")

	engine, err := NewEngine(s.orders, s.catalog,
		WithLogger(testLogger()),
		WithMetrics(metrics.NewWorkflowMetricsWithRegisterer(prometheus.NewRegistry())),
		WithClock(func() time.Time { return engineNow }),
		WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
		WithTimeline(memory.NewTimelineRepository(s.store)),
	)
	s.Require().NoError(err)
	s.engine = engine
}

// placeSample оформляет заказ из сценария: 1000 пачек по 500 и 270 пачек по 300, итого 581000.
func (s *EngineTestSuite) placeSample() domain.Order {
	order, err := s.engine.PlaceOrder(s.ctx, PlaceOrderInput{
		CustomerID:   "customer-1",
		CustomerName: "Acme Builders",
		Items: []PlaceOrderItem{
			{ProductID: "cement", Pallets: 10},
			{ProductID: "rebar", Pallets: 5, AddonPacks: 20},
		},
	})
	s.Require().NoError(err)
	return order
}

func (s *EngineTestSuite) eventTypes() []string {
	var types []string
	for _, msg := range s.store.AllOutbox() {
		types = append(types, msg.EventType)
	}
	return types
}

func (s *EngineTestSuite) TestPlaceOrder_RejectsOverflowingLine() {
	_, err := s.engine.PlaceOrder(s.ctx, PlaceOrderInput{
		CustomerID: "customer-1",
		Items:      []PlaceOrderItem{{ProductID: "cement", Pallets: 184467440737095517}},
	})
	s.Equal(domain.KindValidation, domain.KindOf(err))

	_, err = s.engine.PlaceOrder(s.ctx, PlaceOrderInput{
		CustomerID: "customer-1",
		Items:      []PlaceOrderItem{{ProductID: "cement", Pallets: 10_000_000_000_000}},
	})
	s.Equal(domain.KindValidation, domain.KindOf(err))

	orders, err := s.engine.ListOrders(s.ctx, "customer-1", 10)
	s.Require().NoError(err)
	s.Empty(orders)
	s.Empty(s.eventTypes())
}

func (s *EngineTestSuite) TestPlaceOrder() {
	order := s.placeSample()

	s.Equal(domain.OrderStatusPending, order.Status)
	s.Equal(domain.PaymentStatusPending, order.PaymentStatus)
	s.Equal(int64(1), order.Version)
	s.Require().Len(order.Items, 2)
	s.Equal(int64(1000), order.Items[0].Packs)
	s.Equal("Cement 50kg", order.Items[0].ProductName)
	s.True(order.Items[0].Amount.Equal(money.FromUnits(500000)))
	s.Equal(int64(270), order.Items[1].Packs)
	s.True(order.Items[1].Amount.Equal(money.FromUnits(81000)))
	s.True(order.FinalAmount.Equal(money.FromUnits(581000)))
	s.True(order.OriginalAmount.Equal(order.FinalAmount))
	s.True(order.Balance.Equal(order.FinalAmount))

	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(order.ID, stored.ID)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(history.Timeline, 1)
	s.Equal(domain.TimelineOrderPlaced, history.Timeline[0].Type)
	s.Equal("Jane", history.Timeline[0].Actor)
	s.Equal([]string{string(kafka.EventOrderPlaced)}, s.eventTypes())
}

func (s *EngineTestSuite) TestPlaceOrder_Validation() {
	_, err := s.engine.PlaceOrder(s.ctx, PlaceOrderInput{CustomerID: " ", Items: []PlaceOrderItem{{ProductID: "cement", Pallets: 1}}})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.engine.PlaceOrder(s.ctx, PlaceOrderInput{CustomerID: "c"})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.engine.PlaceOrder(s.ctx, PlaceOrderInput{CustomerID: "c", Items: []PlaceOrderItem{{ProductID: "granite", Pallets: 1}}})
	s.ErrorIs(err, domain.ErrProductNotFound)
	s.Equal(domain.KindNotFound, domain.KindOf(err))

	_, err = s.engine.PlaceOrder(s.ctx, PlaceOrderInput{CustomerID: "c", Items: []PlaceOrderItem{{ProductID: "cement"}}})
	s.ErrorIs(err, domain.ErrValidation, "zero packs is rejected")

	_, err = s.engine.PlaceOrder(s.ctx, PlaceOrderInput{CustomerID: "c", Items: []PlaceOrderItem{{ProductID: "cement", Pallets: -1, AddonPacks: 5}}})
	s.ErrorIs(err, domain.ErrValidation)

	orders, err := s.engine.ListOrders(s.ctx, "", 0)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *EngineTestSuite) TestPaymentScenario() {
	order := s.placeSample()

	updated, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount:     money.FromUnits(581000),
		Method:     domain.PaymentMethodBankTransfer,
		ReceivedBy: "Jane",
	})
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusConfirmed, updated.PaymentStatus)
	s.True(updated.Balance.IsZero())
	s.Equal(int64(2), updated.Version)

	confirmed, err := s.engine.ConfirmPayment(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(confirmed.PaymentConfirmed)
	s.Equal("Jane", confirmed.PaymentConfirmedBy)
	s.Equal(int64(3), confirmed.Version)

	again, err := s.engine.ConfirmPayment(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(int64(3), again.Version, "repeated confirmation is a no-op")

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(history.Payments, 1)
	s.Equal(domain.PaymentMethodBankTransfer, history.Payments[0].Method)
	s.Len(history.Timeline, 3)
}

func (s *EngineTestSuite) TestConfirmPayment_IncompleteBalance() {
	order := s.placeSample()

	_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount:     money.MustParse("580999.99"),
		Method:     domain.PaymentMethodCash,
		ReceivedBy: "Jane",
	})
	s.Require().NoError(err)

	_, err = s.engine.ConfirmPayment(s.ctx, order.ID)
	var incomplete *domain.IncompletePaymentError
	s.Require().ErrorAs(err, &incomplete)
	s.True(incomplete.Balance.Equal(money.MustParse("0.01")))

	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.False(stored.PaymentConfirmed)
}

func (s *EngineTestSuite) TestTimeline() {
	order := s.placeSample()
	_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount:     money.FromUnits(1000),
		Method:     domain.PaymentMethodCash,
		ReceivedBy: "Jane",
	})
	s.Require().NoError(err)

	events, err := s.engine.Timeline(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(domain.TimelineOrderPlaced, events[0].Type)
	s.Equal(domain.TimelinePaymentRecorded, events[1].Type)
	s.Equal("Jane", events[1].Actor)

	_, err = s.engine.Timeline(s.ctx, "missing")
	s.Equal(domain.KindNotFound, domain.KindOf(err))
}

func (s *EngineTestSuite) TestRecordPayment_Validation() {
	order := s.placeSample()

	_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{Amount: money.Zero, Method: domain.PaymentMethodCash, ReceivedBy: "Jane"})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{Amount: money.FromUnits(1), Method: domain.PaymentMethodCash})
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.engine.RecordPayment(s.ctx, "missing", domain.PaymentInput{Amount: money.FromUnits(1), Method: domain.PaymentMethodCash, ReceivedBy: "Jane"})
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *EngineTestSuite) TestAdjustPrices() {
	order := s.placeSample()
	_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount: money.FromUnits(100000), Method: domain.PaymentMethodPOS, ReceivedBy: "Jane",
	})
	s.Require().NoError(err)

	cementID, rebarID := order.Items[0].ID, order.Items[1].ID
	updated, adjustment, err := s.engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{
			cementID: money.FromUnits(520),
			rebarID:  money.MustParse("300.01"),
		},
		Reason:     "supplier invoice",
		InvoiceRef: "INV-7",
	})
	s.Require().NoError(err)

	s.True(updated.FinalAmount.Equal(money.FromUnits(601000)))
	s.True(updated.Balance.Equal(money.FromUnits(501000)))
	s.True(updated.OriginalAmount.Equal(money.FromUnits(581000)))
	s.Equal(domain.PaymentStatusPartial, updated.PaymentStatus)

	s.Require().Len(adjustment.ItemChanges, 1, "price within epsilon is not a change")
	s.Equal(cementID, adjustment.ItemChanges[0].ItemID)
	s.Equal("Jane", adjustment.AdjustedBy)
	s.Equal("INV-7", adjustment.SupplierInvoiceReference)

	_, _, err = s.engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{cementID: money.FromUnits(520)},
		Reason:    "again",
	})
	s.ErrorIs(err, domain.ErrNoPriceChange)

	_, _, err = s.engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{cementID: money.FromUnits(530)},
		Reason:    "   ",
	})
	s.ErrorIs(err, domain.ErrValidation)

	_, _, err = s.engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{"unknown": money.FromUnits(530)},
		Reason:    "typo",
	})
	s.ErrorIs(err, domain.ErrItemNotFound)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history.Adjustments, 1, "rejected adjustments leave no audit record")
}

func (s *EngineTestSuite) TestSupplierLockBlocksAdjustments() {
	order := s.placeSample()

	raised := engineNow.Add(-time.Hour)
	locked, err := s.engine.SetSupplierStatus(s.ctx, order.ID, domain.SupplierStatusInput{
		Status:        domain.SupplierStatusOrderRaised,
		OrderRaisedAt: &raised,
	})
	s.Require().NoError(err)
	s.True(locked.PriceAdjustmentsLocked)
	s.Equal(domain.OrderStatusPending, locked.Status, "supplier track never drives the primary status")

	_, _, err = s.engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{order.Items[0].ID: money.FromUnits(1)},
		Reason:    "discount",
	})
	s.ErrorIs(err, domain.ErrPriceAdjustmentsLocked)

	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(stored.FinalAmount.Equal(order.FinalAmount))
	s.True(stored.Balance.Equal(order.Balance))

	loaded, err := s.engine.SetSupplierStatus(s.ctx, order.ID, domain.SupplierStatusInput{Status: domain.SupplierStatusLoaded})
	s.Require().NoError(err)
	s.True(loaded.PriceAdjustmentsLocked)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	var types []string
	for _, event := range history.Timeline {
		types = append(types, event.Type)
	}
	s.Equal([]string{
		domain.TimelineOrderPlaced,
		domain.TimelineSupplierStatusChanged,
		domain.TimelinePriceLockEngaged,
		domain.TimelineSupplierStatusChanged,
	}, types)
}

func (s *EngineTestSuite) TestStatusLifecycle() {
	order := s.placeSample()

	same, err := s.engine.TransitionStatus(s.ctx, order.ID, domain.OrderStatusPending)
	s.Require().NoError(err)
	s.Equal(order.Version, same.Version, "self transition does not write")

	_, err = s.engine.TransitionStatus(s.ctx, order.ID, domain.OrderStatusDelivered)
	var invalid *domain.InvalidTransitionError
	s.Require().ErrorAs(err, &invalid)
	s.Equal("Cannot change status from PENDING to DELIVERED", err.Error())

	inTransit, err := s.engine.AssignTransport(s.ctx, order.ID, domain.TransportAssignment{
		Carrier:       "FastTrucks",
		VehicleNumber: "KA-01-1234",
		DriverName:    "Ravi",
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusInTransit, inTransit.Status)
	s.Require().NotNil(inTransit.Transport)
	s.Equal("Jane", inTransit.Transport.AssignedBy)
	s.NotNil(inTransit.DispatchedAt)

	partial, err := s.engine.RecordDelivery(s.ctx, order.ID, domain.DeliveryInput{
		Outcome:          domain.DeliveryPartiallyDelivered,
		DeliveredPallets: ptr(int64(10)),
		DeliveredPacks:   ptr(int64(1000)),
		DeliveredBy:      "Ravi",
		Reason:           "truck capacity",
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPartiallyDelivered, partial.Status)

	_, err = s.engine.RecordDelivery(s.ctx, order.ID, domain.DeliveryInput{
		Outcome:        domain.DeliveryPartiallyDelivered,
		DeliveredPacks: ptr(int64(1300)),
		DeliveredBy:    "Ravi",
		Reason:         "overcount",
	})
	s.ErrorIs(err, domain.ErrValidation, "delivered packs cannot exceed ordered packs")

	failed, err := s.engine.RecordDelivery(s.ctx, order.ID, domain.DeliveryInput{
		Outcome:     domain.DeliveryFailed,
		DeliveredBy: "Ravi",
		Reason:      "site closed",
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPartiallyDelivered, failed.Status, "failed delivery keeps the order actionable")

	delivered, err := s.engine.RecordDelivery(s.ctx, order.ID, domain.DeliveryInput{
		Outcome:     domain.DeliveryFullyDelivered,
		DeliveredBy: "Ravi",
	})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, delivered.Status)
	s.NotNil(delivered.DeliveredAt)

	for _, target := range []domain.OrderStatus{domain.OrderStatusInTransit, domain.OrderStatusCancelled, domain.OrderStatusPending} {
		_, err = s.engine.TransitionStatus(s.ctx, order.ID, target)
		s.ErrorIs(err, domain.ErrInvalidTransition, "terminal DELIVERED -> %s", target)
	}

	eventsBefore := len(s.eventTypes())
	for _, outcome := range []domain.DeliveryOutcome{domain.DeliveryFullyDelivered, domain.DeliveryFailed} {
		_, err = s.engine.RecordDelivery(s.ctx, order.ID, domain.DeliveryInput{
			Outcome:     outcome,
			DeliveredBy: "Ravi",
			Reason:      "repeat",
		})
		s.ErrorIs(err, domain.ErrInvalidTransition, "delivered order accepts no %s record", outcome)
	}
	s.Len(s.eventTypes(), eventsBefore)
	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(delivered.Version, stored.Version)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history.Deliveries, 3)

	statusEvents := 0
	for _, eventType := range s.eventTypes() {
		if eventType == string(kafka.EventStatusChanged) {
			statusEvents++
		}
	}
	s.Equal(3, statusEvents, "PENDING->IN_TRANSIT->PARTIALLY_DELIVERED->DELIVERED")
}

func (s *EngineTestSuite) TestCancelOrder() {
	order := s.placeSample()

	_, err := s.engine.CancelOrder(s.ctx, order.ID, "")
	s.ErrorIs(err, domain.ErrValidation)

	cancelled, err := s.engine.CancelOrder(s.ctx, order.ID, "customer withdrew")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)
	s.Equal("customer withdrew", cancelled.CancellationReason)

	again, err := s.engine.CancelOrder(s.ctx, order.ID, "duplicate click")
	s.Require().NoError(err)
	s.Equal(cancelled.Version, again.Version)
	s.Equal("customer withdrew", again.CancellationReason)

	_, err = s.engine.TransitionStatus(s.ctx, order.ID, domain.OrderStatusInTransit)
	s.ErrorIs(err, domain.ErrInvalidTransition)
}

func (s *EngineTestSuite) TestListOrders() {
	first := s.placeSample()
	second := s.placeSample()

	orders, err := s.engine.ListOrders(s.ctx, "customer-1", 10)
	s.Require().NoError(err)
	s.Len(orders, 2)

	ids := map[string]bool{orders[0].ID: true, orders[1].ID: true}
	s.True(ids[first.ID] && ids[second.ID])

	none, err := s.engine.ListOrders(s.ctx, "customer-2", 10)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *EngineTestSuite) TestOutboxPayloads() {
	order := s.placeSample()
	_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount: money.FromUnits(81000), Method: domain.PaymentMethodMobileMoney, ReceivedBy: "Jane",
	})
	s.Require().NoError(err)

	messages := s.store.AllOutbox()
	s.Require().Len(messages, 2)
	last := messages[1]
	s.Equal(string(kafka.EventPaymentRecorded), last.EventType)
	s.Equal(order.ID, last.AggregateID)
	s.Equal(aggregateOrder, last.AggregateType)

	var payload PaymentRecordedPayload
	s.Require().NoError(json.Unmarshal(last.Payload, &payload))
	s.True(payload.Balance.Equal(money.FromUnits(500000)))
	s.Equal(domain.PaymentStatusPartial, payload.PaymentStatus)
}

// conflictingRepository перед первыми n коммитами записывает конкурирующее
// изменение в то же хранилище, имитируя второй экземпляр сервиса.
type conflictingRepository struct {
	domain.OrderRepository
	remaining atomic.Int32
	interfere func(ctx context.Context, orderID string)
}

func (r *conflictingRepository) Commit(ctx context.Context, change domain.OrderChange) error {
	if r.remaining.Add(-1) >= 0 {
		r.interfere(ctx, change.Order.ID)
	}
	return r.OrderRepository.Commit(ctx, change)
}

func (s *EngineTestSuite) newConflictingEngine(conflicts int32, interfere func(ctx context.Context, orderID string)) *Engine {
	repo := &conflictingRepository{OrderRepository: s.orders, interfere: interfere}
	repo.remaining.Store(conflicts)
	engine, err := NewEngine(repo, s.catalog,
		WithLogger(testLogger()),
		WithClock(func() time.Time { return engineNow }),
		WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
	)
	s.Require().NoError(err)
	return engine
}

func (s *EngineTestSuite) TestAdjustPrices_RetriesAfterRacingPayment() {
	order := s.placeSample()

	engine := s.newConflictingEngine(1, func(ctx context.Context, orderID string) {
		_, err := s.engine.RecordPayment(ctx, orderID, domain.PaymentInput{
			Amount: money.FromUnits(81000), Method: domain.PaymentMethodCheck, ReceivedBy: "Jane",
		})
		s.Require().NoError(err)
	})

	updated, _, err := engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{order.Items[0].ID: money.FromUnits(400)},
		Reason:    "volume discount",
	})
	s.Require().NoError(err)

	s.True(updated.FinalAmount.Equal(money.FromUnits(481000)))
	s.True(updated.AmountPaid.Equal(money.FromUnits(81000)), "retry re-read the racing payment")
	s.True(updated.Balance.Equal(money.FromUnits(400000)))
	s.Equal(int64(3), updated.Version)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history.Adjustments, 1, "losing attempt left no audit record")
	s.Len(history.Payments, 1)
}

func (s *EngineTestSuite) TestAdjustPrices_RetryRevalidatesLock() {
	order := s.placeSample()

	engine := s.newConflictingEngine(1, func(ctx context.Context, orderID string) {
		_, err := s.engine.SetSupplierStatus(ctx, orderID, domain.SupplierStatusInput{Status: domain.SupplierStatusOrderRaised})
		s.Require().NoError(err)
	})

	_, _, err := engine.AdjustPrices(s.ctx, order.ID, AdjustPricesInput{
		NewPrices: map[string]money.Money{order.Items[0].ID: money.FromUnits(400)},
		Reason:    "volume discount",
	})
	s.ErrorIs(err, domain.ErrPriceAdjustmentsLocked, "retry must observe the lock set by the winner")
}

func (s *EngineTestSuite) TestConflictSurfacesAfterRetries() {
	order := s.placeSample()

	engine := s.newConflictingEngine(5, func(ctx context.Context, orderID string) {
		_, err := s.engine.SetSupplierStatus(ctx, orderID, domain.SupplierStatusInput{Status: domain.SupplierStatusProcessing})
		s.Require().NoError(err)
	})

	_, err := engine.ConfirmPayment(s.ctx, order.ID)
	s.Require().Error(err)
	s.Equal(domain.KindIncompletePayment, domain.KindOf(err), "business precondition is checked before commit")

	_, err = engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
		Amount: money.FromUnits(1), Method: domain.PaymentMethodCash, ReceivedBy: "Jane",
	})
	s.True(domain.IsVersionConflict(err))
	s.Equal(domain.KindConflict, domain.KindOf(err))

	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(stored.AmountPaid.IsZero(), "failed attempts never partially apply")
}

func (s *EngineTestSuite) TestConcurrentPaymentsKeepBalanceExact() {
	order := s.placeSample()

	const workers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.engine.RecordPayment(s.ctx, order.ID, domain.PaymentInput{
				Amount: money.FromUnits(1000), Method: domain.PaymentMethodCash, ReceivedBy: "Jane",
			})
			if err == nil {
				succeeded.Add(1)
				return
			}
			if !domain.IsVersionConflict(err) {
				s.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := s.engine.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.True(stored.AmountPaid.Equal(money.FromUnits(1000 * succeeded.Load())))
	s.True(stored.Balance.Equal(stored.FinalAmount.Sub(stored.AmountPaid)))
	s.Equal(1+succeeded.Load(), stored.Version)

	history, err := s.engine.History(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Len(history.Payments, int(succeeded.Load()))
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, testCatalog(t))
	require.Error(t, err)

	_, err = NewEngine(memory.NewOrderRepository(memory.NewStore()), nil)
	require.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
