package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, change domain.OrderChange) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[change.Order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	s.orders[change.Order.ID] = change.Order.Clone()
	s.appendLogsLocked(change)
	return nil
}

// Get возвращает заказ или NotFoundError, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	return order.Clone(), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if customerID != "" && order.CustomerID != customerID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Commit перезаписывает заказ и дописывает журналы, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Commit(_ context.Context, change domain.OrderChange) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order := change.Order
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.OrderNotFound(order.ID)
	}
	if current.Version != order.Version {
		return &domain.ConcurrencyConflictError{OrderID: order.ID, ExpectedVersion: order.Version}
	}

	// Инкрементируем версию перед сохранением.
	order = order.Clone()
	order.Version++
	s.orders[order.ID] = order
	s.appendLogsLocked(change)
	return nil
}

// History возвращает копии журналов заказа.
func (r *orderRepositoryInMemory) History(_ context.Context, orderID string) (domain.OrderHistory, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return domain.OrderHistory{}, domain.OrderNotFound(orderID)
	}

	history := domain.OrderHistory{
		Payments:    append([]domain.PaymentEvent{}, s.payments[orderID]...),
		Adjustments: make([]domain.PriceAdjustment, 0, len(s.adjustments[orderID])),
		Deliveries:  append([]domain.DeliveryRecord{}, s.deliveries[orderID]...),
		Timeline:    append([]domain.TimelineEvent{}, s.timeline[orderID]...),
	}
	for _, adjustment := range s.adjustments[orderID] {
		adjustment.ItemChanges = append([]domain.ItemPriceChange(nil), adjustment.ItemChanges...)
		history.Adjustments = append(history.Adjustments, adjustment)
	}
	return history, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
