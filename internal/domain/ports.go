package domain

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// CatalogEntry — параметры товара в каталоге поставщика.
type CatalogEntry struct {
	ProductID      string
	Name           string
	PacksPerPallet int64
	PricePerPack   money.Money
}

// CatalogService — каталог товаров поставщика.
type CatalogService interface {
	// Lookup возвращает параметры товара или NotFoundError.
	Lookup(ctx context.Context, productID string) (CatalogEntry, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository хранит события для последующей публикации.
// Запись событий происходит вместе с заказом через OrderRepository.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte) error
	MarkFailed(ctx context.Context, key string, responseBody []byte) error
	// Release удаляет незавершённый ключ, чтобы клиент мог повторить запрос.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxStatus — состояние сообщения outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	AttemptCount  int
	LastError     string
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
