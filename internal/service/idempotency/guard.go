package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// DefaultTTL — срок хранения результата запроса по ключу.
const DefaultTTL = 24 * time.Hour

// ErrInProgress — запрос с тем же ключом ещё выполняется.
var ErrInProgress = errors.Wrap(domain.ErrIdempotencyKeyAlreadyExists, "request with the same idempotency key is already processing")

type failurePayload struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// WithGuardMetrics подключает метрики исходов.
func WithGuardMetrics(m *metrics.IdempotencyMetrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardClock подменяет источник времени.
func WithGuardClock(clock func() time.Time) GuardOption {
	return func(g *Guard) { g.now = clock }
}

// Guard гарантирует, что мутирующий запрос с одним idempotency-key
// выполняется не более одного раза. Общий для gRPC и REST.
//
// Успешный ответ и бизнес-ошибка сохраняются и возвращаются при повторе.
// Конфликт версий и внутренние ошибки освобождают ключ: клиент может повторить запрос.
type Guard struct {
	repo    domain.IdempotencyRepository
	logger  *log.Entry
	metrics *metrics.IdempotencyMetrics
	ttl     time.Duration
	now     func() time.Time
}

// NewGuard создаёт Guard. С nil-репозиторием защита отключена.
func NewGuard(repo domain.IdempotencyRepository, options ...GuardOption) *Guard {
	g := &Guard{repo: repo, ttl: DefaultTTL}
	for _, option := range options {
		option(g)
	}
	if g.logger == nil {
		g.logger = log.WithField("component", "idempotency-guard")
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	return g
}

// RequestHash считает отпечаток запроса: метод плюс детерминированный JSON тела.
func RequestHash(method string, req any) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Execute выполняет run под ключом key. Пустой ключ или выключенный Guard
// означают обычный вызов без дедупликации.
func Execute[T any](ctx context.Context, g *Guard, key, method string, req any, run func(context.Context) (T, error)) (T, error) {
	var zero T

	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(ctx)
	}

	hash, err := RequestHash(method, req)
	if err != nil {
		return zero, errors.Wrap(err, "build idempotency request hash")
	}

	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().Add(g.ttl))
	if err != nil {
		return replay[T](g, key, record, err)
	}

	result, runErr := run(ctx)
	if runErr != nil {
		g.storeFailure(ctx, key, runErr)
		return result, runErr
	}

	body, err := json.Marshal(result)
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to encode idempotent response")
		g.release(ctx, key)
		return result, nil
	}
	if err := g.repo.MarkDone(ctx, key, body); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	g.metrics.RecordRequest(metrics.IdempotencyExecuted)
	return result, nil
}

func replay[T any](g *Guard, key string, record domain.IdempotencyRecord, createErr error) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		g.metrics.RecordRequest(metrics.IdempotencyHashMismatch)
		return zero, errors.Wrap(createErr, "idempotency key is already used with a different request")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return zero, errors.Wrap(createErr, "create idempotency record")
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		var result T
		if err := json.Unmarshal(record.ResponseBody, &result); err != nil {
			g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotent response")
			return zero, errors.Wrap(err, "decode cached idempotent response")
		}
		g.metrics.RecordRequest(metrics.IdempotencyReplayedDone)
		return result, nil
	case domain.IdempotencyStatusFailed:
		g.metrics.RecordRequest(metrics.IdempotencyReplayedFailed)
		return zero, decodeFailure(record.ResponseBody)
	case domain.IdempotencyStatusProcessing:
		g.metrics.RecordRequest(metrics.IdempotencyInProgress)
		return zero, ErrInProgress
	default:
		return zero, errors.Errorf("unknown idempotency record status %q", record.Status)
	}
}

// storeFailure сохраняет детерминированные бизнес-ошибки и освобождает ключ
// для ошибок, которые могут пройти при повторе.
func (g *Guard) storeFailure(ctx context.Context, key string, runErr error) {
	kind := domain.KindOf(runErr)
	if kind == domain.KindInternal || kind == domain.KindConflict {
		g.release(ctx, key)
		return
	}

	body, err := json.Marshal(failurePayload{Kind: kind, Message: runErr.Error()})
	if err != nil {
		g.release(ctx, key)
		return
	}
	if err := g.repo.MarkFailed(ctx, key, body); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
	g.metrics.RecordRequest(metrics.IdempotencyExecuted)
}

func (g *Guard) release(ctx context.Context, key string) {
	// Освобождение не должно зависеть от уже отменённого запроса.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := g.repo.Release(releaseCtx, key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
		return
	}
	g.metrics.RecordRequest(metrics.IdempotencyReleased)
}

func decodeFailure(body []byte) error {
	var payload failurePayload
	if len(body) == 0 || json.Unmarshal(body, &payload) != nil || payload.Kind == "" {
		return &domain.ReplayedError{ErrKind: domain.KindInternal, Message: "previous request with the same idempotency key failed"}
	}
	return &domain.ReplayedError{ErrKind: payload.Kind, Message: payload.Message}
}
