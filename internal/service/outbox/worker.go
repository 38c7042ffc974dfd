package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// Значения label result в метриках публикации.
const (
	resultSent       = "sent"
	resultRetryError = "retry_error"
	resultFailed     = "failed"
	resultDLQFailed  = "dlq_failed"
)

// FailedEvent — тело DLQ-сообщения о событии, которое так и не ушло в брокер.
type FailedEvent struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Worker переносит pending-события outbox в брокер. Событие помечается sent
// только после подтверждённой публикации, доставка at-least-once.
//
// После исчерпания попыток событие уходит в DLQ и помечается failed. Если
// DLQ тоже недоступен, событие остаётся pending, а текущий батч прерывается:
// чаще всего это значит, что лежит сам брокер.
type Worker struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	metrics    *metrics.OutboxMetrics
	logger     *log.Entry

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
	now          func() time.Time
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт получателя событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetter = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.baseDelay = max(delay, 0) }
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.now = clock
		}
	}
}

// NewWorker создаёт воркер; nil repo или publisher делают Run no-op.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultRetryBaseDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox раз в pollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает один батч и возвращает число опубликованных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, event := range batch {
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		})

		publishErr := w.deliver(ctx, event)
		if ctx.Err() != nil {
			return sent
		}
		if publishErr == nil {
			if err := w.repo.MarkSent(ctx, event.ID); err != nil {
				logger.WithError(err).Warn("failed to mark outbox as sent")
				continue
			}
			sent++
			continue
		}

		logger.WithError(publishErr).Error("outbox publish failed after retries")
		w.metrics.RecordAttempt(resultFailed)
		if err := w.sendToDLQ(ctx, event, publishErr); err != nil {
			w.metrics.RecordAttempt(resultDLQFailed)
			logger.WithError(err).Warn("dead letter publish failed, event stays pending")
			return sent
		}
		if err := w.repo.MarkFailed(ctx, event.ID, publishErr.Error()); err != nil {
			logger.WithError(err).Warn("failed to mark outbox as failed")
		}
	}
	return sent
}

// deliver публикует событие, повторяя попытки с экспоненциальной паузой.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, event); err == nil {
			w.metrics.RecordAttempt(resultSent)
			return nil
		}
		w.metrics.RecordAttempt(resultRetryError)
		if attempt == w.maxAttempts {
			return errors.Wrapf(err, "publish failed after %d attempts", w.maxAttempts)
		}
		if !sleep(ctx, w.retryBackoff(attempt)) {
			return ctx.Err()
		}
	}
}

// retryBackoff возвращает паузу перед попыткой attempt+1: base * 2^(attempt-1),
// но не больше defaultRetryMaxDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt && delay < defaultRetryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, defaultRetryMaxDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sendToDLQ без настроенного DLQ ничего не делает и считается успешным.
func (w *Worker) sendToDLQ(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	if w.deadLetter == nil {
		return nil
	}

	body, err := json.Marshal(FailedEvent{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       rawPayload(event.Payload),
		PublishError:  publishErr.Error(),
		Attempts:      w.maxAttempts,
		FailedAt:      w.now(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal dlq payload")
	}

	letter := event
	letter.Payload = body
	if err := w.deadLetter.Publish(ctx, letter); err != nil {
		return errors.Wrap(err, "publish to dlq")
	}
	return nil
}

func rawPayload(payload []byte) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	return json.RawMessage(payload)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}
