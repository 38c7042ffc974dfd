package domain

import "time"

// Типы событий журнала заказа.
const (
	TimelineOrderPlaced           = "order_placed"
	TimelinePricesAdjusted        = "prices_adjusted"
	TimelinePaymentRecorded       = "payment_recorded"
	TimelinePaymentConfirmed      = "payment_confirmed"
	TimelineStatusChanged         = "status_changed"
	TimelineTransportAssigned     = "transport_assigned"
	TimelineDeliveryRecorded      = "delivery_recorded"
	TimelineSupplierStatusChanged = "supplier_status_changed"
	TimelinePriceLockEngaged      = "price_adjustments_locked"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string    `json:"order_id"`
	Type     string    `json:"type"`
	Actor    string    `json:"actor,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}
