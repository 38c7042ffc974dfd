package workflow

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

const aggregateOrder = "order"

type OrderPlacedPayload struct {
	OrderID      string      `json:"order_id"`
	CustomerID   string      `json:"customer_id"`
	Items        int         `json:"items"`
	TotalPallets int64       `json:"total_pallets"`
	TotalPacks   int64       `json:"total_packs"`
	FinalAmount  money.Money `json:"final_amount"`
	PlacedAt     time.Time   `json:"placed_at"`
}

// PricesAdjustedPayload — событие корректировки цен.
type PricesAdjustedPayload struct {
	OrderID        string                   `json:"order_id"`
	AdjustmentID   string                   `json:"adjustment_id"`
	PreviousAmount money.Money              `json:"previous_amount"`
	AdjustedAmount money.Money              `json:"adjusted_amount"`
	Balance        money.Money              `json:"balance"`
	PaymentStatus  domain.PaymentStatus     `json:"payment_status"`
	Reason         string                   `json:"reason"`
	AdjustedBy     string                   `json:"adjusted_by"`
	ItemChanges    []domain.ItemPriceChange `json:"item_changes"`
}

type PaymentRecordedPayload struct {
	OrderID       string               `json:"order_id"`
	PaymentID     string               `json:"payment_id"`
	Amount        money.Money          `json:"amount"`
	Method        domain.PaymentMethod `json:"method"`
	AmountPaid    money.Money          `json:"amount_paid"`
	Balance       money.Money          `json:"balance"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
}

// PaymentConfirmedPayload — событие подтверждения оплаты бухгалтером.
type PaymentConfirmedPayload struct {
	OrderID     string      `json:"order_id"`
	AmountPaid  money.Money `json:"amount_paid"`
	ConfirmedBy string      `json:"confirmed_by"`
	ConfirmedAt time.Time   `json:"confirmed_at"`
}

type StatusChangedPayload struct {
	OrderID   string             `json:"order_id"`
	From      domain.OrderStatus `json:"from"`
	To        domain.OrderStatus `json:"to"`
	Reason    string             `json:"reason,omitempty"`
	ChangedBy string             `json:"changed_by"`
	ChangedAt time.Time          `json:"changed_at"`
}

type DeliveryRecordedPayload struct {
	OrderID          string                 `json:"order_id"`
	DeliveryID       string                 `json:"delivery_id"`
	Outcome          domain.DeliveryOutcome `json:"outcome"`
	DeliveredPallets int64                  `json:"delivered_pallets"`
	DeliveredPacks   int64                  `json:"delivered_packs"`
	Status           domain.OrderStatus     `json:"status"`
}

// SupplierStatusChangedPayload — событие трека поставщика.
type SupplierStatusChangedPayload struct {
	OrderID                string                `json:"order_id"`
	SupplierStatus         domain.SupplierStatus `json:"supplier_status"`
	PriceAdjustmentsLocked bool                  `json:"price_adjustments_locked"`
	LockEngaged            bool                  `json:"lock_engaged"`
}

// changeSet собирает всё, что порождает одна попытка операции:
// снимок заказа, строку журнала, события timeline и outbox.
type changeSet struct {
	order *domain.Order
	now   time.Time
	actor string
	newID func() string

	payment    *domain.PaymentEvent
	adjustment *domain.PriceAdjustment
	delivery   *domain.DeliveryRecord
	timeline   []domain.TimelineEvent
	outbox     []domain.OutboxMessage

	transitions [][2]domain.OrderStatus
	priceLocked bool
}

func (c *changeSet) addTimeline(eventType, reason string) {
	c.timeline = append(c.timeline, domain.TimelineEvent{
		OrderID:  c.order.ID,
		Type:     eventType,
		Actor:    c.actor,
		Reason:   reason,
		Occurred: c.now,
	})
}

func (c *changeSet) addEvent(eventType kafka.EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s payload", eventType)
	}
	c.outbox = append(c.outbox, domain.OutboxMessage{
		ID:            c.newID(),
		AggregateType: aggregateOrder,
		AggregateID:   c.order.ID,
		EventType:     string(eventType),
		Payload:       data,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     c.now,
	})
	return nil
}

// statusChanged записывает переход статуса, если он произошёл.
func (c *changeSet) statusChanged(from domain.OrderStatus, reason string) error {
	to := c.order.Status
	if from == to {
		return nil
	}
	c.transitions = append(c.transitions, [2]domain.OrderStatus{from, to})

	note := string(from) + " -> " + string(to)
	if reason != "" {
		note += ": " + reason
	}
	c.addTimeline(domain.TimelineStatusChanged, note)
	return c.addEvent(kafka.EventStatusChanged, StatusChangedPayload{
		OrderID:   c.order.ID,
		From:      from,
		To:        to,
		Reason:    reason,
		ChangedBy: c.actor,
		ChangedAt: c.now,
	})
}

func (c *changeSet) build() domain.OrderChange {
	return domain.OrderChange{
		Order:      *c.order,
		Payment:    c.payment,
		Adjustment: c.adjustment,
		Delivery:   c.delivery,
		Timeline:   c.timeline,
		Outbox:     c.outbox,
	}
}
