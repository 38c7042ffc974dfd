package domain

import "context"

// OrderChange — атомарная единица записи: новый снимок заказа и все строки
// журналов, порождённые одной операцией. Хранилище обязано записать всё или ничего.
type OrderChange struct {
	// Order — новый снимок; Order.Version равна версии, прочитанной перед изменением.
	Order      Order
	Payment    *PaymentEvent
	Adjustment *PriceAdjustment
	Delivery   *DeliveryRecord
	Timeline   []TimelineEvent
	Outbox     []OutboxMessage
}

// OrderHistory — журналы заказа в порядке добавления.
type OrderHistory struct {
	Payments    []PaymentEvent    `json:"payments"`
	Adjustments []PriceAdjustment `json:"adjustments"`
	Deliveries  []DeliveryRecord  `json:"deliveries"`
	Timeline    []TimelineEvent   `json:"timeline"`
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с сопутствующими записями.
	// Возвращает ErrOrderAlreadyExists, если ID занят.
	Create(ctx context.Context, change OrderChange) error
	// Get возвращает заказ по идентификатору или NotFoundError.
	Get(ctx context.Context, id string) (Order, error)
	// ListByCustomer возвращает заказы клиента (все, если customerID пуст), новые первыми.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Commit применяет изменение с optimistic locking: при несовпадении версии
	// возвращает ConcurrencyConflictError и ничего не записывает.
	Commit(ctx context.Context, change OrderChange) error
	// History возвращает журналы платежей, корректировок, доставок и событий заказа.
	History(ctx context.Context, orderID string) (OrderHistory, error)
}
