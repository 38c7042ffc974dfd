package kafka

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxRetries — число повторов, если конфигурация его не задаёт.
	DefaultMaxRetries     = 3
	defaultRetryBaseDelay = 100 * time.Millisecond
	defaultRetryMaxDelay  = 2 * time.Second
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неисправимую повтором: сообщение сразу уходит в DLQ.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка как неисправимая.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ConsumerOptions — параметры повторов и DLQ.
type ConsumerOptions struct {
	// MaxRetries — число повторов после первой неудачной попытки.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// DLQ — producer для dead letter topic; без него необработанное сообщение не коммитится.
	DLQ *Producer
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = defaultRetryBaseDelay
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}
	return o
}

// Consumer — участник consumer group с повторами в процессе и отправкой в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	opts    ConsumerOptions
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewConsumer подключается к брокерам и создаёт consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka consumer group")
	}
	return newConsumer(group, topics, handler, opts), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, opts ConsumerOptions) *Consumer {
	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		opts:    opts.withDefaults(),
		logger:  log.WithField("component", "kafka-consumer"),
	}
}

// Start запускает цикл потребления в фоне; он завершается при отмене ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает consumer group и ждёт завершения горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return errors.Wrap(err, "close kafka consumer")
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessage(session.Context(), message); err != nil {
				// Сообщение не коммитится и будет перечитано после рестарта или rebalance.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage вызывает обработчик с повторами; после исчерпания попыток
// или при Permanent-ошибке отправляет сообщение в DLQ.
func (c *Consumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var err error
	attempt := 0
	for {
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if IsPermanent(err) || attempt >= c.opts.MaxRetries {
			break
		}
		attempt++

		delay := backoff(c.opts.RetryBaseDelay, c.opts.RetryMaxDelay, attempt)
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"offset":  message.Offset,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("message processing failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	retries := retryCount(message) + attempt
	if c.opts.DLQ == nil {
		return errors.Wrapf(err, "processing failed after %d retries", retries)
	}
	if dlqErr := c.sendToDLQ(message, err, retries); dlqErr != nil {
		return errors.Wrap(dlqErr, "send to DLQ")
	}

	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"offset":      message.Offset,
		"retry_count": retries,
		"permanent":   IsPermanent(err),
	}).Warn("message sent to DLQ")
	return nil
}

func (c *Consumer) sendToDLQ(message *sarama.ConsumerMessage, processingErr error, retries int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		RetryCount:        retries,
		FailedAt:          failedAt,
	}

	return c.opts.DLQ.PublishEvent(DLQTopic(message.Topic), string(message.Key), letter,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retries))},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
	)
}

// retryCount извлекает число предыдущих повторов, если сообщение переиграно из DLQ.
func retryCount(message *sarama.ConsumerMessage) int {
	raw, ok := headerValue(message.Headers, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// backoff — экспоненциальная задержка с верхней границей.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}
