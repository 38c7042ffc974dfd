package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// PaymentStatus — производный статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	// PaymentStatusConfirmed — оплачено ровно столько, сколько нужно.
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	// PaymentStatusOverpaid — переплата, баланс отрицательный.
	PaymentStatusOverpaid PaymentStatus = "OVERPAID"
)

// DerivePaymentStatus зависит только от amountPaid и finalAmount.
func DerivePaymentStatus(amountPaid, finalAmount money.Money) PaymentStatus {
	switch {
	case amountPaid.IsZero():
		return PaymentStatusPending
	case amountPaid.LessThan(finalAmount):
		return PaymentStatusPartial
	case amountPaid.Equal(finalAmount):
		return PaymentStatusConfirmed
	default:
		return PaymentStatusOverpaid
	}
}

// PaymentMethod — способ поступления денег.
type PaymentMethod string

const (
	PaymentMethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCash           PaymentMethod = "CASH"
	PaymentMethodCheck          PaymentMethod = "CHECK"
	PaymentMethodMobileTransfer PaymentMethod = "MOBILE_TRANSFER"
	PaymentMethodPOS            PaymentMethod = "POS"
	PaymentMethodMobileMoney    PaymentMethod = "MOBILE_MONEY"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodCash, PaymentMethodCheck,
		PaymentMethodMobileTransfer, PaymentMethodPOS, PaymentMethodMobileMoney:
		return true
	default:
		return false
	}
}

// ParsePaymentMethod разбирает способ оплаты без учёта регистра.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
	if !method.Valid() {
		return "", NewValidationError("method", "unknown payment method "+strconv.Quote(raw))
	}
	return method, nil
}

// PaymentEvent — запись журнала платежей (append-only).
type PaymentEvent struct {
	ID         string        `json:"id"`
	OrderID    string        `json:"order_id"`
	Amount     money.Money   `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Reference  string        `json:"reference,omitempty"`
	ReceivedBy string        `json:"received_by"`
	Notes      string        `json:"notes,omitempty"`
	ReceivedAt time.Time     `json:"received_at"`
}

// PaymentInput описывает поступивший платёж.
type PaymentInput struct {
	Amount     money.Money
	Method     PaymentMethod
	Reference  string
	ReceivedBy string
	Notes      string
}

// RecordPayment добавляет платёж и пересчитывает amountPaid, balance и paymentStatus.
// Переплата не отклоняется, она видна по статусу OVERPAID.
func (o *Order) RecordPayment(eventID string, in PaymentInput, now time.Time) (PaymentEvent, error) {
	if !in.Amount.IsPositive() {
		return PaymentEvent{}, NewValidationError("amount", "must be greater than zero")
	}
	if !in.Method.Valid() {
		return PaymentEvent{}, NewValidationError("method", "unknown payment method "+strconv.Quote(string(in.Method)))
	}
	receivedBy := strings.TrimSpace(in.ReceivedBy)
	if receivedBy == "" {
		return PaymentEvent{}, NewValidationError("received_by", "is required")
	}

	paid, err := o.AmountPaid.Add(in.Amount)
	if err != nil {
		return PaymentEvent{}, NewValidationError("amount", "amount paid is out of range")
	}

	event := PaymentEvent{
		ID:         eventID,
		OrderID:    o.ID,
		Amount:     in.Amount,
		Method:     in.Method,
		Reference:  strings.TrimSpace(in.Reference),
		ReceivedBy: receivedBy,
		Notes:      strings.TrimSpace(in.Notes),
		ReceivedAt: now,
	}

	o.AmountPaid = paid
	o.refresh()
	o.touch(now)
	return event, nil
}

// ConfirmPayment ставит отметку бухгалтера. Допускается только при нулевом балансе.
// Повторное подтверждение — no-op, возвращает false.
func (o *Order) ConfirmPayment(actor string, now time.Time) (bool, error) {
	if !o.Balance.IsZero() {
		return false, &IncompletePaymentError{OrderID: o.ID, Balance: o.Balance, PaymentStatus: o.PaymentStatus}
	}
	if o.PaymentConfirmed {
		return false, nil
	}

	o.PaymentConfirmed = true
	o.PaymentConfirmedAt = timePtr(now)
	o.PaymentConfirmedBy = actor
	o.touch(now)
	return true, nil
}
