package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg       domain.OutboxMessage
	updatedAt time.Time
}

// outboxRepositoryInMemory — outbox поверх общего Store; запись идёт через Commit заказа.
type outboxRepositoryInMemory struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepositoryInMemory{store: store}
}

// enqueueLocked сохраняет событие со статусом pending. Вызывать под s.mu.
func (s *Store) enqueueLocked(msg domain.OutboxMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Status = domain.OutboxStatusPending
	msg.Payload = append([]byte(nil), msg.Payload...)

	if _, exists := s.outbox[msg.ID]; !exists {
		s.outboxOrder = append(s.outboxOrder, msg.ID)
	}
	s.outbox[msg.ID] = &outboxRecord{msg: msg, updatedAt: now}
}

// PullPending возвращает до limit сообщений со статусом pending в порядке записи.
func (r *outboxRepositoryInMemory) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range s.outboxOrder {
		rec := s.outbox[id]
		if rec.msg.Status != domain.OutboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending сообщения.
func (r *outboxRepositoryInMemory) Stats(_ context.Context) (domain.OutboxStats, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range s.outbox {
		if rec.msg.Status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.msg.CreatedAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxStatusSent, "")
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(_ context.Context, id string, reason string) error {
	return r.mark(id, domain.OutboxStatusFailed, reason)
}

func (r *outboxRepositoryInMemory) mark(id string, status domain.OutboxStatus, reason string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.msg.Status = status
	record.msg.AttemptCount++
	record.msg.LastError = reason
	record.updatedAt = time.Now().UTC()
	return nil
}

// AllOutbox возвращает копию всех сообщений в порядке записи (используется в тестах).
func (s *Store) AllOutbox() []domain.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		result = append(result, s.outbox[id].msg)
	}
	return result
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)
