// dlq-reprocess переигрывает сообщения из dead letter topic обратно в исходный topic.
// По умолчанию работает в режиме dry-run и только показывает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	clientID           = "fulfillment-dlq-reprocess"
	brokersEnv         = "FULFILLMENT_KAFKA_BROKERS"
)

var errUnrecognized = errors.New("unrecognized dead letter format")

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		cfg        config
		brokersRaw string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma separated (fallback: "+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.DLQTopic(kafka.TopicOrderEvents), "dead letter topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "fallback topic for replay (default: source topic without .dlq)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv(brokersEnv)
	}
	cfg.brokers = parseBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	if cfg.targetTopic == "" {
		cfg.targetTopic = kafka.OriginalTopic(cfg.sourceTopic)
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv)
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.targetTopic == cfg.sourceTopic:
		return config{}, errors.New("target-topic must differ from source-topic")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	return cfg, nil
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// replayMessage — сообщение, восстановленное из dead letter.
type replayMessage struct {
	topic     string
	key       string
	value     []byte
	eventType string
	retries   int
}

// decodeDeadLetter понимает два формата: DeadLetter от consumer статусов поставщика
// и конверт outbox с FailedEvent внутри.
func decodeDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string, now time.Time) (replayMessage, error) {
	var letter kafka.DeadLetter
	if err := json.Unmarshal(msg.Value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = fallbackTopic
		}
		return replayMessage{
			topic:   topic,
			key:     letter.OriginalKey,
			value:   []byte(letter.OriginalValue),
			retries: letter.RetryCount,
		}, nil
	}

	envelope, err := kafka.ParseEnvelope(msg)
	if err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errUnrecognized
	}
	var failed outbox.FailedEvent
	if err := json.Unmarshal(envelope.Payload, &failed); err != nil {
		return replayMessage{}, errors.Wrap(err, "decode failed outbox event")
	}
	if len(failed.Payload) == 0 {
		return replayMessage{}, errors.New("failed outbox event has no original payload")
	}

	restored := kafka.Envelope{
		ID:            firstNonEmpty(failed.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(failed.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(failed.AggregateID, envelope.AggregateID),
		EventType:     kafka.EventType(firstNonEmpty(failed.EventType, string(envelope.EventType))),
		Payload:       failed.Payload,
		PublishedAt:   now,
	}
	value, err := json.Marshal(restored)
	if err != nil {
		return replayMessage{}, errors.Wrap(err, "encode restored envelope")
	}
	return replayMessage{
		topic:     fallbackTopic,
		key:       firstNonEmpty(restored.AggregateID, restored.ID),
		value:     value,
		eventType: string(restored.EventType),
		retries:   failed.Attempts,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

// replayer читает DLQ с начала каждой партиции. producer == nil означает dry-run.
type replayer struct {
	cfg      config
	consumer sarama.Consumer
	producer *kafka.Producer
	now      func() time.Time
	logger   *log.Entry
}

func newReplayer(cfg config, consumer sarama.Consumer, producer *kafka.Producer) (*replayer, error) {
	if consumer == nil {
		return nil, errors.New("kafka consumer is required")
	}
	if cfg.execute && producer == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	return &replayer{
		cfg:      cfg,
		consumer: consumer,
		producer: producer,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithField("component", "dlq-reprocess"),
	}, nil
}

func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.consumer.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, errors.Wrapf(err, "get partitions for %s", r.cfg.sourceTopic)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.cfg.limit - total.processed
		if remaining <= 0 {
			break
		}
		stats, err := r.drainPartition(ctx, partition, remaining)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	r.logger.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	pc, err := r.consumer.ConsumePartition(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, errors.Wrapf(err, "consume partition %d", partition)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	consumerErrors := pc.Errors()
	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumerErr, ok := <-consumerErrors:
			if !ok {
				consumerErrors = nil
				continue
			}
			return stats, errors.Wrapf(consumerErr, "partition %d", partition)
		case msg, ok := <-pc.Messages():
			if !ok {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.idleTimeout)

			stats.processed++
			fields := log.Fields{"partition": msg.Partition, "offset": msg.Offset}

			replay, err := decodeDeadLetter(msg, r.cfg.targetTopic, r.now())
			if err != nil {
				stats.skipped++
				r.logger.WithError(err).WithFields(fields).Warn("skip dead letter")
				continue
			}
			if r.cfg.execute {
				if err := r.publish(replay); err != nil {
					return stats, errors.Wrap(err, "publish replay message")
				}
			} else {
				fields["target_topic"] = replay.topic
				fields["key"] = replay.key
				r.logger.WithFields(fields).Info("dlq replay candidate")
			}
			stats.replayed++
		}
	}
	return stats, nil
}

// publish отправляет сообщение и сохраняет счётчик попыток, чтобы consumer
// продолжил отсчёт повторов, а не начал заново.
func (r *replayer) publish(msg replayMessage) error {
	headers := []sarama.RecordHeader{
		{Key: []byte(kafka.HeaderRetryCount), Value: []byte(strconv.Itoa(msg.retries))},
		{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(r.cfg.sourceTopic)},
	}
	if msg.eventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(msg.eventType)})
	}
	return r.producer.PublishRaw(msg.topic, msg.key, msg.value, headers...)
}

func run(ctx context.Context, cfg config) error {
	consumer, err := sarama.NewConsumer(cfg.brokers, sarama.NewConfig())
	if err != nil {
		return errors.Wrap(err, "create kafka consumer")
	}
	defer func() { _ = consumer.Close() }()

	var producer *kafka.Producer
	if cfg.execute {
		if producer, err = kafka.NewProducer(cfg.brokers, clientID); err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
	}

	r, err := newReplayer(cfg, consumer, producer)
	if err != nil {
		return err
	}
	_, err = r.Run(ctx)
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting dlq replay")

	if err := run(ctx, cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
