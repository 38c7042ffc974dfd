package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ключи идемпотентности в памяти процесса.
// Ключ с истёкшим TTL считается свободным и занимается заново.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]*domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		keys: make(map[string]*domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени, используется в тестах.
func (r *IdempotencyRepository) WithClock(now func() time.Time) *IdempotencyRepository {
	r.now = now
	return r
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	if held, ok := r.keys[key]; ok && held.TTLAt.After(now) {
		if held.RequestHash != requestHash {
			return snapshot(held), domain.ErrIdempotencyHashMismatch
		}
		return snapshot(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = record
	return snapshot(record), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return snapshot(record), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody)
}

// Release освобождает ключ, если запрос так и не завершился.
func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return err
	}
	if record.Status == domain.IdempotencyStatusProcessing {
		delete(r.keys, record.Key)
	}
	return nil
}

// DeleteExpired удаляет не больше limit ключей с TTL не позже before,
// начиная с самых старых. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	var expired []*domain.IdempotencyRecord
	for _, record := range r.keys {
		if !record.TTLAt.After(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(r.keys, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.lookupLocked(key)
	if err != nil {
		return err
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), body...)
	record.UpdatedAt = r.now()
	return nil
}

func (r *IdempotencyRepository) lookupLocked(key string) (*domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}
	record, ok := r.keys[key]
	if !ok {
		return nil, domain.ErrIdempotencyKeyNotFound
	}
	return record, nil
}

func snapshot(record *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *record
	out.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return out
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
