package domain

import (
	"strconv"
	"strings"
	"time"
)

// DeliveryOutcome — результат попытки доставки.
type DeliveryOutcome string

const (
	DeliveryFullyDelivered     DeliveryOutcome = "FULLY_DELIVERED"
	DeliveryPartiallyDelivered DeliveryOutcome = "PARTIALLY_DELIVERED"
	DeliveryFailed             DeliveryOutcome = "FAILED"
)

// Valid проверяет, что исход доставки поддерживается.
func (o DeliveryOutcome) Valid() bool {
	switch o {
	case DeliveryFullyDelivered, DeliveryPartiallyDelivered, DeliveryFailed:
		return true
	default:
		return false
	}
}

// targetStatus — статус, в который исход переводит заказ; FAILED оставляет current.
func (o DeliveryOutcome) targetStatus(current OrderStatus) OrderStatus {
	switch o {
	case DeliveryFullyDelivered:
		return OrderStatusDelivered
	case DeliveryPartiallyDelivered:
		return OrderStatusPartiallyDelivered
	default:
		return current
	}
}

// ParseDeliveryOutcome разбирает исход доставки без учёта регистра.
func ParseDeliveryOutcome(raw string) (DeliveryOutcome, error) {
	outcome := DeliveryOutcome(strings.ToUpper(strings.TrimSpace(raw)))
	if !outcome.Valid() {
		return "", NewValidationError("outcome", "unknown delivery outcome "+strconv.Quote(raw))
	}
	return outcome, nil
}

// DeliveryRecord — запись журнала доставок (append-only).
type DeliveryRecord struct {
	ID                    string          `json:"id"`
	OrderID               string          `json:"order_id"`
	Outcome               DeliveryOutcome `json:"outcome"`
	DeliveredPallets      int64           `json:"delivered_pallets"`
	DeliveredPacks        int64           `json:"delivered_packs"`
	DeliveredBy           string          `json:"delivered_by"`
	Notes                 string          `json:"notes,omitempty"`
	PartialDeliveryReason string          `json:"partial_delivery_reason,omitempty"`
	NonDeliveryReason     string          `json:"non_delivery_reason,omitempty"`
	RecordedAt            time.Time       `json:"recorded_at"`
}

// DeliveryInput — данные о попытке доставки. Reason обязателен для частичной и неудачной доставки.
type DeliveryInput struct {
	Outcome          DeliveryOutcome
	DeliveredPallets *int64
	DeliveredPacks   *int64
	DeliveredBy      string
	Notes            string
	Reason           string
}

// RecordDelivery фиксирует исход доставки и, для полной/частичной доставки,
// переводит заказ по автомату статусов. Неудачная доставка оставляет заказ в пути.
// Доставленный или отменённый заказ новых записей не принимает.
func (o *Order) RecordDelivery(recordID string, in DeliveryInput, now time.Time) (DeliveryRecord, error) {
	if !in.Outcome.Valid() {
		return DeliveryRecord{}, NewValidationError("outcome", "unknown delivery outcome "+strconv.Quote(string(in.Outcome)))
	}
	deliveredBy := strings.TrimSpace(in.DeliveredBy)
	if deliveredBy == "" {
		return DeliveryRecord{}, NewValidationError("delivered_by", "is required")
	}
	if o.Status.Terminal() {
		return DeliveryRecord{}, &InvalidTransitionError{
			From:    o.Status,
			To:      in.Outcome.targetStatus(o.Status),
			Allowed: o.Status.AllowedTargets(),
		}
	}
	reason := strings.TrimSpace(in.Reason)
	totals, err := o.Totals()
	if err != nil {
		return DeliveryRecord{}, err
	}

	record := DeliveryRecord{
		ID:          recordID,
		OrderID:     o.ID,
		Outcome:     in.Outcome,
		DeliveredBy: deliveredBy,
		Notes:       strings.TrimSpace(in.Notes),
		RecordedAt:  now,
	}

	switch in.Outcome {
	case DeliveryFullyDelivered:
		record.DeliveredPallets = valueOr(in.DeliveredPallets, totals.TotalPallets)
		record.DeliveredPacks = valueOr(in.DeliveredPacks, totals.TotalPacks)
		if err := validateDeliveredCounts(record, totals); err != nil {
			return DeliveryRecord{}, err
		}
		if _, err := o.TransitionTo(OrderStatusDelivered, now); err != nil {
			return DeliveryRecord{}, err
		}

	case DeliveryPartiallyDelivered:
		if reason == "" {
			return DeliveryRecord{}, NewValidationError("partial_delivery_reason", "is required for partial delivery")
		}
		record.PartialDeliveryReason = reason
		record.DeliveredPallets = valueOr(in.DeliveredPallets, 0)
		record.DeliveredPacks = valueOr(in.DeliveredPacks, 0)
		if err := validateDeliveredCounts(record, totals); err != nil {
			return DeliveryRecord{}, err
		}
		if _, err := o.TransitionTo(OrderStatusPartiallyDelivered, now); err != nil {
			return DeliveryRecord{}, err
		}

	case DeliveryFailed:
		if reason == "" {
			return DeliveryRecord{}, NewValidationError("non_delivery_reason", "is required for failed delivery")
		}
		if o.Status != OrderStatusInTransit && o.Status != OrderStatusPartiallyDelivered {
			return DeliveryRecord{}, NewValidationError("status", "delivery can only be recorded for orders in transit, current status is "+string(o.Status))
		}
		record.NonDeliveryReason = reason
		o.touch(now)
	}

	return record, nil
}

func validateDeliveredCounts(record DeliveryRecord, totals OrderTotals) error {
	switch {
	case record.DeliveredPallets < 0:
		return NewValidationError("delivered_pallets", "must be non-negative")
	case record.DeliveredPacks < 0:
		return NewValidationError("delivered_packs", "must be non-negative")
	case record.DeliveredPallets > totals.TotalPallets:
		return NewValidationError("delivered_pallets",
			"delivered "+strconv.FormatInt(record.DeliveredPallets, 10)+" exceeds ordered "+strconv.FormatInt(totals.TotalPallets, 10))
	case record.DeliveredPacks > totals.TotalPacks:
		return NewValidationError("delivered_packs",
			"delivered "+strconv.FormatInt(record.DeliveredPacks, 10)+" exceeds ordered "+strconv.FormatInt(totals.TotalPacks, 10))
	default:
		return nil
	}
}

func valueOr(v *int64, fallback int64) int64 {
	if v == nil {
		return fallback
	}
	return *v
}
