package domain

import (
	"strconv"
	"strings"
	"time"
)

// SupplierStatus — вторичный трек: прогресс заказа у поставщика.
type SupplierStatus string

const (
	SupplierStatusOrderRaised SupplierStatus = "ORDER_RAISED"
	SupplierStatusProcessing  SupplierStatus = "PROCESSING"
	SupplierStatusLoaded      SupplierStatus = "LOADED"
	SupplierStatusDispatched  SupplierStatus = "DISPATCHED"
)

// Valid проверяет, что статус поставщика известен.
func (s SupplierStatus) Valid() bool {
	switch s {
	case SupplierStatusOrderRaised, SupplierStatusProcessing, SupplierStatusLoaded, SupplierStatusDispatched:
		return true
	default:
		return false
	}
}

// ParseSupplierStatus разбирает статус поставщика без учёта регистра.
func ParseSupplierStatus(raw string) (SupplierStatus, error) {
	status := SupplierStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", NewValidationError("supplier_status", "unknown supplier status "+strconv.Quote(raw))
	}
	return status, nil
}

// SupplierStatusInput — новый статус поставщика и необязательные даты.
type SupplierStatusInput struct {
	Status        SupplierStatus
	OrderRaisedAt *time.Time
	LoadedDate    *time.Time
}

// SetSupplierStatus меняет статус поставщика. Порядок статусов не навязывается;
// первое выставление ORDER_RAISED навсегда блокирует корректировки цен.
// Возвращает true, если блокировка была установлена этим вызовом.
func (o *Order) SetSupplierStatus(in SupplierStatusInput, now time.Time) (bool, error) {
	if !in.Status.Valid() {
		return false, NewValidationError("supplier_status", "unknown supplier status "+strconv.Quote(string(in.Status)))
	}

	o.SupplierStatus = in.Status
	o.SupplierStatusUpdatedAt = timePtr(now)
	if in.OrderRaisedAt != nil {
		o.OrderRaisedAt = cloneTime(in.OrderRaisedAt)
	}
	if in.LoadedDate != nil {
		o.LoadedDate = cloneTime(in.LoadedDate)
	}

	locked := false
	if in.Status == SupplierStatusOrderRaised && !o.PriceAdjustmentsLocked {
		o.PriceAdjustmentsLocked = true
		locked = true
	}
	o.touch(now)
	return locked, nil
}
