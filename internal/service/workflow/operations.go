package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// PlaceOrderItem — строка нового заказа. Цены и фасовка берутся из каталога.
type PlaceOrderItem struct {
	ProductID  string
	Pallets    int64
	AddonPacks int64
}

// PlaceOrderInput — данные для оформления заказа.
type PlaceOrderInput struct {
	CustomerID   string
	CustomerName string
	Items        []PlaceOrderItem
}

// AdjustPricesInput — новые цены за пачку по ID позиции.
type AdjustPricesInput struct {
	NewPrices  map[string]money.Money
	Reason     string
	InvoiceRef string
}

// PlaceOrder оформляет заказ по каталогу поставщика.
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceOrderInput) (order domain.Order, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+OpPlaceOrder)
	done := e.metrics.OperationStarted(OpPlaceOrder)
	defer func() {
		e.finish(span, done, OpPlaceOrder, order.ID, err == nil, err)
	}()

	if strings.TrimSpace(in.CustomerID) == "" {
		return domain.Order{}, domain.NewValidationError("customer_id", "is required")
	}
	if len(in.Items) == 0 {
		return domain.Order{}, domain.NewValidationError("items", "order must contain at least one item")
	}

	now := e.now()
	items := make([]domain.OrderItem, 0, len(in.Items))
	entries := make(map[string]domain.CatalogEntry, len(in.Items))
	for i, line := range in.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return domain.Order{}, domain.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		entry, ok := entries[productID]
		if !ok {
			entry, err = e.catalog.Lookup(ctx, productID)
			if err != nil {
				if domain.KindOf(err) == domain.KindNotFound {
					return domain.Order{}, err
				}
				return domain.Order{}, errors.Wrapf(err, "lookup product %s", productID)
			}
			entries[productID] = entry
		}

		item, err := domain.RecomputeLine(domain.OrderItem{
			ID:          e.newID(),
			ProductID:   productID,
			ProductName: entry.Name,
			Pallets:     line.Pallets,
			AddonPacks:  line.AddonPacks,
			CreatedAt:   now,
		}, entry.PacksPerPallet, entry.PricePerPack)
		if err != nil {
			return domain.Order{}, errors.Wrapf(err, "item %d", i)
		}
		items = append(items, item)
	}

	placed, err := domain.NewOrder(e.newID(), in.CustomerID, in.CustomerName, items, now)
	if err != nil {
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", placed.ID))

	cs := &changeSet{order: &placed, now: now, actor: domain.ActorFromContext(ctx), newID: e.newID}
	cs.addTimeline(domain.TimelineOrderPlaced, "")
	totals, err := placed.Totals()
	if err != nil {
		return domain.Order{}, err
	}
	if err := cs.addEvent(kafka.EventOrderPlaced, OrderPlacedPayload{
		OrderID:      placed.ID,
		CustomerID:   placed.CustomerID,
		Items:        len(placed.Items),
		TotalPallets: totals.TotalPallets,
		TotalPacks:   totals.TotalPacks,
		FinalAmount:  placed.FinalAmount,
		PlacedAt:     now,
	}); err != nil {
		return domain.Order{}, err
	}

	if err := e.orders.Create(ctx, cs.build()); err != nil {
		return domain.Order{}, errors.Wrap(err, "create order")
	}
	e.recordCommitted(cs)
	return placed, nil
}

// AdjustPrices применяет новые цены позиций и возвращает снимок вместе с записью аудита.
func (e *Engine) AdjustPrices(ctx context.Context, orderID string, in AdjustPricesInput) (domain.Order, domain.PriceAdjustment, error) {
	var adjustment domain.PriceAdjustment
	order, err := e.mutate(ctx, OpAdjustPrices, orderID, func(cs *changeSet) (bool, error) {
		record, err := cs.order.AdjustPrices(cs.newID(), domain.AdjustmentInput{
			NewPrices:  in.NewPrices,
			Reason:     in.Reason,
			InvoiceRef: in.InvoiceRef,
			AdjustedBy: cs.actor,
		}, cs.now)
		if err != nil {
			return false, err
		}

		cs.adjustment = &record
		cs.addTimeline(domain.TimelinePricesAdjusted, record.Reason)
		if err := cs.addEvent(kafka.EventPricesAdjusted, PricesAdjustedPayload{
			OrderID:        cs.order.ID,
			AdjustmentID:   record.ID,
			PreviousAmount: record.PreviousAmount,
			AdjustedAmount: record.AdjustedAmount,
			Balance:        cs.order.Balance,
			PaymentStatus:  cs.order.PaymentStatus,
			Reason:         record.Reason,
			AdjustedBy:     record.AdjustedBy,
			ItemChanges:    record.ItemChanges,
		}); err != nil {
			return false, err
		}
		adjustment = record
		return true, nil
	})
	if err != nil {
		return domain.Order{}, domain.PriceAdjustment{}, err
	}
	return order, adjustment, nil
}

// RecordPayment добавляет платёж в журнал и пересчитывает баланс.
func (e *Engine) RecordPayment(ctx context.Context, orderID string, in domain.PaymentInput) (domain.Order, error) {
	return e.mutate(ctx, OpRecordPayment, orderID, func(cs *changeSet) (bool, error) {
		event, err := cs.order.RecordPayment(cs.newID(), in, cs.now)
		if err != nil {
			return false, err
		}

		cs.payment = &event
		cs.addTimeline(domain.TimelinePaymentRecorded, fmt.Sprintf("%s via %s", event.Amount, event.Method))
		return true, cs.addEvent(kafka.EventPaymentRecorded, PaymentRecordedPayload{
			OrderID:       cs.order.ID,
			PaymentID:     event.ID,
			Amount:        event.Amount,
			Method:        event.Method,
			AmountPaid:    cs.order.AmountPaid,
			Balance:       cs.order.Balance,
			PaymentStatus: cs.order.PaymentStatus,
		})
	})
}

// ConfirmPayment ставит отметку бухгалтера о полной оплате.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error) {
	return e.mutate(ctx, OpConfirmPayment, orderID, func(cs *changeSet) (bool, error) {
		changed, err := cs.order.ConfirmPayment(cs.actor, cs.now)
		if err != nil || !changed {
			return false, err
		}

		cs.addTimeline(domain.TimelinePaymentConfirmed, "")
		return true, cs.addEvent(kafka.EventPaymentConfirmed, PaymentConfirmedPayload{
			OrderID:     cs.order.ID,
			AmountPaid:  cs.order.AmountPaid,
			ConfirmedBy: cs.actor,
			ConfirmedAt: cs.now,
		})
	})
}

// TransitionStatus переводит заказ по таблице переходов. Тот же статус — no-op.
func (e *Engine) TransitionStatus(ctx context.Context, orderID string, target domain.OrderStatus) (domain.Order, error) {
	return e.mutate(ctx, OpTransitionStatus, orderID, func(cs *changeSet) (bool, error) {
		from := cs.order.Status
		changed, err := cs.order.TransitionTo(target, cs.now)
		if err != nil || !changed {
			return false, err
		}
		return true, cs.statusChanged(from, "")
	})
}

// CancelOrder отменяет заказ с обязательной причиной.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) (domain.Order, error) {
	return e.mutate(ctx, OpCancelOrder, orderID, func(cs *changeSet) (bool, error) {
		from := cs.order.Status
		changed, err := cs.order.Cancel(reason, cs.now)
		if err != nil || !changed {
			return false, err
		}
		return true, cs.statusChanged(from, cs.order.CancellationReason)
	})
}

// AssignTransport назначает транспорт и переводит заказ в IN_TRANSIT.
// Если AssignedBy не задан, используется пользователь из контекста.
func (e *Engine) AssignTransport(ctx context.Context, orderID string, in domain.TransportAssignment) (domain.Order, error) {
	return e.mutate(ctx, OpAssignTransport, orderID, func(cs *changeSet) (bool, error) {
		if strings.TrimSpace(in.AssignedBy) == "" {
			in.AssignedBy = cs.actor
		}
		from := cs.order.Status
		if _, err := cs.order.AssignTransport(in, cs.now); err != nil {
			return false, err
		}

		transport := cs.order.Transport
		cs.addTimeline(domain.TimelineTransportAssigned, fmt.Sprintf("vehicle %s, driver %s", transport.VehicleNumber, transport.DriverName))
		return true, cs.statusChanged(from, "transport assigned")
	})
}

// RecordDelivery фиксирует исход доставки и продвигает статус одним атомарным шагом.
func (e *Engine) RecordDelivery(ctx context.Context, orderID string, in domain.DeliveryInput) (domain.Order, error) {
	return e.mutate(ctx, OpRecordDelivery, orderID, func(cs *changeSet) (bool, error) {
		from := cs.order.Status
		record, err := cs.order.RecordDelivery(cs.newID(), in, cs.now)
		if err != nil {
			return false, err
		}

		cs.delivery = &record
		reason := string(record.Outcome)
		switch {
		case record.PartialDeliveryReason != "":
			reason += ": " + record.PartialDeliveryReason
		case record.NonDeliveryReason != "":
			reason += ": " + record.NonDeliveryReason
		}
		cs.addTimeline(domain.TimelineDeliveryRecorded, reason)
		if err := cs.addEvent(kafka.EventDeliveryRecorded, DeliveryRecordedPayload{
			OrderID:          cs.order.ID,
			DeliveryID:       record.ID,
			Outcome:          record.Outcome,
			DeliveredPallets: record.DeliveredPallets,
			DeliveredPacks:   record.DeliveredPacks,
			Status:           cs.order.Status,
		}); err != nil {
			return false, err
		}
		return true, cs.statusChanged(from, "delivery recorded")
	})
}

// SetSupplierStatus меняет трек поставщика; первое ORDER_RAISED блокирует корректировки цен.
// Основной статус заказа не меняется.
func (e *Engine) SetSupplierStatus(ctx context.Context, orderID string, in domain.SupplierStatusInput) (domain.Order, error) {
	return e.mutate(ctx, OpSetSupplierStatus, orderID, func(cs *changeSet) (bool, error) {
		locked, err := cs.order.SetSupplierStatus(in, cs.now)
		if err != nil {
			return false, err
		}

		cs.addTimeline(domain.TimelineSupplierStatusChanged, string(in.Status))
		if locked {
			cs.priceLocked = true
			cs.addTimeline(domain.TimelinePriceLockEngaged, "supplier raised the order")
		}
		return true, cs.addEvent(kafka.EventSupplierStatusChanged, SupplierStatusChangedPayload{
			OrderID:                cs.order.ID,
			SupplierStatus:         cs.order.SupplierStatus,
			PriceAdjustmentsLocked: cs.order.PriceAdjustmentsLocked,
			LockEngaged:            locked,
		})
	})
}

var _ kafka.SupplierStatusUpdater = (*Engine)(nil)
