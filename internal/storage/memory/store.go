package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Store — общее in-memory состояние для заказа, его журналов и outbox.
// Один мьютекс даёт ту же атомарность, что и транзакция в PostgreSQL.
type Store struct {
	mu sync.RWMutex

	orders      map[string]domain.Order
	payments    map[string][]domain.PaymentEvent
	adjustments map[string][]domain.PriceAdjustment
	deliveries  map[string][]domain.DeliveryRecord
	timeline    map[string][]domain.TimelineEvent

	outbox      map[string]*outboxRecord
	outboxOrder []string
}

// NewStore создаёт пустое хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		orders:      make(map[string]domain.Order),
		payments:    make(map[string][]domain.PaymentEvent),
		adjustments: make(map[string][]domain.PriceAdjustment),
		deliveries:  make(map[string][]domain.DeliveryRecord),
		timeline:    make(map[string][]domain.TimelineEvent),
		outbox:      make(map[string]*outboxRecord),
	}
}

// appendLogsLocked дописывает строки журналов изменения. Вызывать под s.mu.
func (s *Store) appendLogsLocked(change domain.OrderChange) {
	orderID := change.Order.ID

	if change.Payment != nil {
		s.payments[orderID] = append(s.payments[orderID], *change.Payment)
	}
	if change.Adjustment != nil {
		adjustment := *change.Adjustment
		adjustment.ItemChanges = append([]domain.ItemPriceChange(nil), adjustment.ItemChanges...)
		s.adjustments[orderID] = append(s.adjustments[orderID], adjustment)
	}
	if change.Delivery != nil {
		s.deliveries[orderID] = append(s.deliveries[orderID], *change.Delivery)
	}
	s.timeline[orderID] = append(s.timeline[orderID], change.Timeline...)
	for _, msg := range change.Outbox {
		s.enqueueLocked(msg)
	}
}
