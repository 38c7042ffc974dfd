package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
)

// EventType определяет тип события заказа.
type EventType string

const (
	EventOrderPlaced           EventType = "order.placed"
	EventPricesAdjusted        EventType = "order.prices_adjusted"
	EventPaymentRecorded       EventType = "order.payment_recorded"
	EventPaymentConfirmed      EventType = "order.payment_confirmed"
	EventStatusChanged         EventType = "order.status_changed"
	EventDeliveryRecorded      EventType = "order.delivery_recorded"
	EventSupplierStatusChanged EventType = "order.supplier_status_changed"
)

// Topics для Kafka.
const (
	TopicOrderEvents    = "fulfillment.order.events"
	TopicSupplierStatus = "fulfillment.supplier.status"

	dlqSuffix = ".dlq"
)

// Kafka headers для retry и DLQ.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DLQTopic возвращает имя dead letter topic для исходного topic.
func DLQTopic(topic string) string {
	if strings.HasSuffix(topic, dlqSuffix) {
		return topic
	}
	return topic + dlqSuffix
}

// OriginalTopic возвращает исходный topic для dead letter topic.
func OriginalTopic(dlqTopic string) string {
	return strings.TrimSuffix(dlqTopic, dlqSuffix)
}

// Envelope — конверт, в котором outbox-сообщение уходит в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// SupplierStatusMessage — отчёт поставщика о продвижении заказа.
type SupplierStatusMessage struct {
	OrderID       string     `json:"order_id"`
	Status        string     `json:"status"`
	OrderRaisedAt *time.Time `json:"order_raised_at,omitempty"`
	LoadedDate    *time.Time `json:"loaded_date,omitempty"`
	ReportedBy    string     `json:"reported_by,omitempty"`
}

// DeadLetter — сообщение, не обработанное после всех попыток.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	FailedAt          time.Time `json:"failed_at"`
}

// ParseSupplierStatusMessage разбирает сообщение поставщика и проверяет обязательные поля.
func ParseSupplierStatusMessage(message *sarama.ConsumerMessage) (SupplierStatusMessage, error) {
	var msg SupplierStatusMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return SupplierStatusMessage{}, errors.Wrap(err, "unmarshal supplier status message")
	}
	msg.OrderID = strings.TrimSpace(msg.OrderID)
	if msg.OrderID == "" {
		msg.OrderID = strings.TrimSpace(string(message.Key))
	}
	if msg.OrderID == "" {
		return SupplierStatusMessage{}, errors.New("supplier status message has no order_id")
	}
	if strings.TrimSpace(msg.Status) == "" {
		return SupplierStatusMessage{}, errors.New("supplier status message has no status")
	}
	return msg, nil
}

// ParseEnvelope разбирает событие заказа из topic событий.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal order event envelope")
	}
	return env, nil
}

func headerValue(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}
