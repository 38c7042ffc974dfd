package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// timelineRepositoryInMemory читает события заказа из общего Store.
type timelineRepositoryInMemory struct {
	store *Store
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepositoryInMemory{store: store}
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.store.mu.RLock()
	events := r.store.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	r.store.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Occurred.Before(result[j].Occurred)
	})
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
