package workflow

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// RetryConfig — параметры повтора операции при конфликте версий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: три попытки, 10ms..100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// delay возвращает паузу после неудачной попытки attempt (нумерация с 1).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// retryOnConflict выполняет fn, повторяя её только при конфликте версий.
// Каждая попытка обязана заново прочитать заказ и перепроверить предусловия.
func (e *Engine) retryOnConflict(ctx context.Context, operation, orderID string, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				e.logger.WithFields(log.Fields{
					"operation": operation,
					"order_id":  orderID,
					"attempt":   attempt,
				}).Info("operation succeeded after conflict retry")
			}
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}

		lastErr = err
		e.metrics.RecordVersionConflict(operation)
		if attempt == e.retry.MaxAttempts {
			break
		}

		delay := e.retry.delay(attempt)
		e.logger.WithFields(log.Fields{
			"operation": operation,
			"order_id":  orderID,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("order version conflict, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	e.metrics.RecordRetriesExhausted(operation)
	e.logger.WithFields(log.Fields{
		"operation":    operation,
		"order_id":     orderID,
		"max_attempts": e.retry.MaxAttempts,
	}).Warn("order version conflict persisted after all attempts")
	return lastErr
}
