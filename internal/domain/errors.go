package domain

import (
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// ErrorKind классифицирует ошибки движка для транспортов и идемпотентного replay.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindLocked            ErrorKind = "locked"
	KindNoChange          ErrorKind = "no_change"
	KindIncompletePayment ErrorKind = "incomplete_payment"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "conflict"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal"
)

var (
	ErrValidation = errors.New("validation failed")
	// ErrPriceAdjustmentsLocked — поставщик уже оформил заказ, цены менять нельзя.
	ErrPriceAdjustmentsLocked = errors.New("price adjustments are locked")
	// ErrNoPriceChange — корректировка не меняет ни одной цены.
	ErrNoPriceChange = errors.New("no price changes detected")
	// ErrIncompletePayment — подтверждение оплаты при ненулевом балансе.
	ErrIncompletePayment = errors.New("payment is incomplete")
	// ErrInvalidTransition — переход статуса отсутствует в таблице.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound = errors.New("not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound — позиция с таким ID отсутствует в заказе.
	ErrItemNotFound = errors.New("order item not found")
	// ErrProductNotFound — товара нет в каталоге поставщика.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	ErrOrderAlreadyExists = errors.New("order already exists")

	// Нарушения инвариантов агрегата (внутренние ошибки, не пользовательский ввод).
	ErrCustomerRequired      = errors.New("customer_id is required")
	ErrItemsRequired         = errors.New("order must contain at least one item")
	ErrAmountMismatch        = errors.New("final amount does not match items sum")
	ErrBalanceMismatch       = errors.New("balance does not match final amount minus amount paid")
	ErrPaymentStatusMismatch = errors.New("payment status does not match paid and final amounts")
	ErrItemLineMismatch      = errors.New("item packs or amount do not match line facts")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки хранилища ключей идемпотентности.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// ValidationError — некорректный или вне допустимого диапазона ввод.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *ValidationError) Kind() ErrorKind      { return KindValidation }

// NewValidationError используется правилами агрегата.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LockedError — попытка изменить цены после ORDER_RAISED.
type LockedError struct {
	OrderID        string
	SupplierStatus SupplierStatus
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("price adjustments are locked for order %s: supplier status is %s", e.OrderID, e.SupplierStatus)
}

func (e *LockedError) Is(target error) bool { return target == ErrPriceAdjustmentsLocked }
func (e *LockedError) Kind() ErrorKind      { return KindLocked }

// NoChangeError — ни одна цена не изменилась больше чем на эпсилон.
type NoChangeError struct {
	OrderID string
}

func (e *NoChangeError) Error() string {
	return fmt.Sprintf("no price changes detected for order %s", e.OrderID)
}

func (e *NoChangeError) Is(target error) bool { return target == ErrNoPriceChange }
func (e *NoChangeError) Kind() ErrorKind      { return KindNoChange }

// IncompletePaymentError — подтверждение оплаты при ненулевом балансе.
type IncompletePaymentError struct {
	OrderID       string
	Balance       money.Money
	PaymentStatus PaymentStatus
}

func (e *IncompletePaymentError) Error() string {
	if e.Balance.IsNegative() {
		return fmt.Sprintf("cannot confirm payment for order %s: order is overpaid by %s", e.OrderID, e.Balance.Abs())
	}
	return fmt.Sprintf("cannot confirm payment for order %s: outstanding balance %s (%s)", e.OrderID, e.Balance, e.PaymentStatus)
}

func (e *IncompletePaymentError) Is(target error) bool { return target == ErrIncompletePayment }
func (e *IncompletePaymentError) Kind() ErrorKind      { return KindIncompletePayment }

// InvalidTransitionError — ребро отсутствует в таблице переходов.
// Allowed перечисляет рёбра, доступные из From, для подсказки клиенту.
type InvalidTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Cannot change status from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
func (e *InvalidTransitionError) Kind() ErrorKind      { return KindInvalidTransition }

// ConcurrencyConflictError — версия заказа изменилась между чтением и записью.
type ConcurrencyConflictError struct {
	OrderID         string
	ExpectedVersion int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently (expected version %d)", e.OrderID, e.ExpectedVersion)
}

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrOrderVersionConflict }
func (e *ConcurrencyConflictError) Kind() ErrorKind      { return KindConflict }

// NotFoundError — неизвестный заказ, позиция или товар.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return true
	case ErrOrderNotFound:
		return e.Entity == EntityOrder
	case ErrItemNotFound:
		return e.Entity == EntityItem
	case ErrProductNotFound:
		return e.Entity == EntityProduct
	default:
		return false
	}
}

func (e *NotFoundError) Kind() ErrorKind { return KindNotFound }

// Сущности для NotFoundError.
const (
	EntityOrder   = "order"
	EntityItem    = "order item"
	EntityProduct = "product"
)

// OrderNotFound возвращает NotFoundError для заказа.
func OrderNotFound(id string) error {
	return &NotFoundError{Entity: EntityOrder, ID: id}
}

// KindOf определяет класс ошибки, просматривая всю цепочку обёрток.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var kinded interface{ Kind() ErrorKind }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}

	switch {
	case errors.Is(err, ErrOrderVersionConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrItemNotFound), errors.Is(err, ErrProductNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict — ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
