package domain

import (
	"strconv"
	"strings"
	"time"
)

// OrderStatus — основной статус исполнения заказа.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed — статус существует в модели, но рёбер из таблицы не имеет.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing — продвигается только через поток поставщика.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusInTransit OrderStatus = "IN_TRANSIT"
	// OrderStatusDelivered — доставлен полностью (терминальный).
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusPartiallyDelivered — доставлен частично, остаток можно довезти.
	OrderStatusPartiallyDelivered OrderStatus = "PARTIALLY_DELIVERED"
	// OrderStatusCancelled — отменён (терминальный).
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// allowedTransitions задаёт направленные рёбра конечного автомата статусов.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:            {OrderStatusInTransit, OrderStatusCancelled},
	OrderStatusInTransit:          {OrderStatusDelivered, OrderStatusPartiallyDelivered, OrderStatusCancelled},
	OrderStatusPartiallyDelivered: {OrderStatusDelivered, OrderStatusInTransit},
	OrderStatusConfirmed:          nil,
	OrderStatusProcessing:         nil,
	OrderStatusDelivered:          nil,
	OrderStatusCancelled:          nil,
}

// Valid сообщает, что статус известен автомату.
func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal сообщает, что статус DELIVERED или CANCELLED.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// AllowedTargets возвращает копию списка допустимых целевых статусов.
func (s OrderStatus) AllowedTargets() []OrderStatus {
	return append([]OrderStatus(nil), allowedTransitions[s]...)
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", NewValidationError("status", "unknown order status "+strconv.Quote(raw))
	}
	return status, nil
}

// CanTransition проверяет ребро from -> to. Переход в тот же статус разрешён всегда.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, target := range allowedTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// TransitionTo переводит заказ в целевой статус. Возвращает false, если статус не изменился.
func (o *Order) TransitionTo(target OrderStatus, now time.Time) (bool, error) {
	if !target.Valid() {
		return false, NewValidationError("status", "unknown order status "+strconv.Quote(string(target)))
	}
	if o.Status == target {
		return false, nil
	}
	if !CanTransition(o.Status, target) {
		return false, &InvalidTransitionError{From: o.Status, To: target, Allowed: o.Status.AllowedTargets()}
	}

	o.Status = target
	switch target {
	case OrderStatusInTransit:
		if o.DispatchedAt == nil {
			o.DispatchedAt = timePtr(now)
		}
	case OrderStatusDelivered:
		o.DeliveredAt = timePtr(now)
	}
	o.touch(now)
	return true, nil
}

// Cancel отменяет заказ с обязательной причиной.
func (o *Order) Cancel(reason string, now time.Time) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, NewValidationError("reason", "cancellation reason is required")
	}
	changed, err := o.TransitionTo(OrderStatusCancelled, now)
	if err != nil {
		return false, err
	}
	if changed {
		o.CancellationReason = reason
	}
	return changed, nil
}

// TransportAssignment — назначенный на заказ транспорт.
type TransportAssignment struct {
	Carrier       string    `json:"carrier,omitempty"`
	VehicleNumber string    `json:"vehicle_number"`
	DriverName    string    `json:"driver_name"`
	DriverPhone   string    `json:"driver_phone,omitempty"`
	AssignedBy    string    `json:"assigned_by"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// AssignTransport назначает транспорт и переводит заказ в IN_TRANSIT одним шагом.
// Для заказа, уже находящегося в пути, назначение просто заменяется.
func (o *Order) AssignTransport(assignment TransportAssignment, now time.Time) (bool, error) {
	assignment.VehicleNumber = strings.TrimSpace(assignment.VehicleNumber)
	assignment.DriverName = strings.TrimSpace(assignment.DriverName)
	assignment.AssignedBy = strings.TrimSpace(assignment.AssignedBy)
	switch {
	case assignment.VehicleNumber == "":
		return false, NewValidationError("vehicle_number", "is required")
	case assignment.DriverName == "":
		return false, NewValidationError("driver_name", "is required")
	case assignment.AssignedBy == "":
		return false, NewValidationError("assigned_by", "is required")
	}

	changed, err := o.TransitionTo(OrderStatusInTransit, now)
	if err != nil {
		return false, err
	}
	assignment.AssignedAt = now
	o.Transport = &assignment
	o.touch(now)
	return changed, nil
}
