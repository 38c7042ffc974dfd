package domain

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// Order агрегирует позиции, денежный снимок, статус исполнения и статус поставщика.
//
// Balance и PaymentStatus — производные поля: они пересчитываются на каждом
// изменении и никогда не принимаются от вызывающей стороны.
type Order struct {
	ID           string      `json:"id"`
	CustomerID   string      `json:"customer_id"`
	CustomerName string      `json:"customer_name,omitempty"`
	Items        []OrderItem `json:"items"`

	OriginalAmount money.Money   `json:"original_amount"`
	FinalAmount    money.Money   `json:"final_amount"`
	AmountPaid     money.Money   `json:"amount_paid"`
	Balance        money.Money   `json:"balance"`
	PaymentStatus  PaymentStatus `json:"payment_status"`

	// Отметка бухгалтера «оплата подтверждена, можно платить поставщику».
	PaymentConfirmed   bool       `json:"payment_confirmed"`
	PaymentConfirmedAt *time.Time `json:"payment_confirmed_at,omitempty"`
	PaymentConfirmedBy string     `json:"payment_confirmed_by,omitempty"`

	Status             OrderStatus          `json:"status"`
	CancellationReason string               `json:"cancellation_reason,omitempty"`
	Transport          *TransportAssignment `json:"transport,omitempty"`
	DispatchedAt       *time.Time           `json:"dispatched_at,omitempty"`
	DeliveredAt        *time.Time           `json:"delivered_at,omitempty"`

	SupplierStatus          SupplierStatus `json:"supplier_status,omitempty"`
	SupplierStatusUpdatedAt *time.Time     `json:"supplier_status_updated_at,omitempty"`
	OrderRaisedAt           *time.Time     `json:"order_raised_at,omitempty"`
	LoadedDate              *time.Time     `json:"loaded_date,omitempty"`
	PriceAdjustmentsLocked  bool           `json:"price_adjustments_locked"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder создаёт заказ при оформлении: статус PENDING, баланс равен итоговой сумме.
// Позиции должны быть уже пересчитаны через RecomputeLine.
func NewOrder(id, customerID, customerName string, items []OrderItem, now time.Time) (Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Order{}, NewValidationError("customer_id", "is required")
	}
	if len(items) == 0 {
		return Order{}, NewValidationError("items", "order must contain at least one item")
	}

	totals, err := RecomputeOrderTotals(items)
	if err != nil {
		return Order{}, err
	}
	order := Order{
		ID:             id,
		CustomerID:     customerID,
		CustomerName:   strings.TrimSpace(customerName),
		Items:          cloneItems(items),
		OriginalAmount: totals.TotalAmount,
		FinalAmount:    totals.TotalAmount,
		Status:         OrderStatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	order.refresh()
	return order, nil
}

// Totals возвращает агрегаты по текущим позициям.
func (o *Order) Totals() (OrderTotals, error) {
	return RecomputeOrderTotals(o.Items)
}

// Item ищет позицию по ID.
func (o *Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Clone возвращает копию без общих срезов и указателей.
func (o Order) Clone() Order {
	o.Items = cloneItems(o.Items)
	o.PaymentConfirmedAt = cloneTime(o.PaymentConfirmedAt)
	o.DispatchedAt = cloneTime(o.DispatchedAt)
	o.DeliveredAt = cloneTime(o.DeliveredAt)
	o.SupplierStatusUpdatedAt = cloneTime(o.SupplierStatusUpdatedAt)
	o.OrderRaisedAt = cloneTime(o.OrderRaisedAt)
	o.LoadedDate = cloneTime(o.LoadedDate)
	if o.Transport != nil {
		transport := *o.Transport
		o.Transport = &transport
	}
	return o
}

// refresh пересчитывает производные поля после любого изменения сумм.
func (o *Order) refresh() {
	o.Balance = o.FinalAmount.Sub(o.AmountPaid)
	o.PaymentStatus = DerivePaymentStatus(o.AmountPaid, o.FinalAmount)
	if o.PaymentConfirmed && !o.Balance.IsZero() {
		// Подтверждение относится к нулевому балансу; после сдвига суммы оно устарело.
		o.PaymentConfirmed = false
		o.PaymentConfirmedAt = nil
		o.PaymentConfirmedBy = ""
	}
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range o.Items {
		if !item.lineConsistent() {
			errs = append(errs, ErrItemLineMismatch)
			break
		}
	}
	if totals, err := RecomputeOrderTotals(o.Items); err != nil || !totals.TotalAmount.Equal(o.FinalAmount) {
		errs = append(errs, ErrAmountMismatch)
	}
	if !o.Balance.Equal(o.FinalAmount.Sub(o.AmountPaid)) {
		errs = append(errs, ErrBalanceMismatch)
	}
	if o.PaymentStatus != DerivePaymentStatus(o.AmountPaid, o.FinalAmount) {
		errs = append(errs, ErrPaymentStatusMismatch)
	}

	return errs
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
