package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// publishTimeout bounds one publish, broker retries included
const publishTimeout = 3 * time.Second

// KafkaNotifier publishes events to a Kafka topic keyed by transaction id, so
// every event of one payment lands on the same partition in order.
type KafkaNotifier struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafkaNotifier creates a notifier writing to topic on brokers
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// The 1s default batch window delays every synchronous publish
			BatchTimeout: 5 * time.Millisecond,
			MaxAttempts:  3,
			WriteTimeout: time.Second,
		},
		timeout: publishTimeout,
	}
}

func (k *KafkaNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	carrier := headerCarrier{{Key: "type", Value: []byte(ev.Type)}}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	// Detached from caller cancellation, bounded by the publish timeout
	timeout := k.timeout
	if timeout <= 0 {
		timeout = publishTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.TransactionID),
		Value:   payload,
		Headers: carrier,
	})
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// headerCarrier lets the otel propagator write trace context into message headers
type headerCarrier []kafka.Header

func (c *headerCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, val string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(val)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(val)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c))
	for _, h := range *c {
		keys = append(keys, h.Key)
	}
	return keys
}
