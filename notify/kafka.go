package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaConfig holds configuration for the Kafka publisher.
type KafkaConfig struct {
	// Brokers is a comma separated list of broker addresses (required).
	Brokers string

	// Topic receives every event (required).
	Topic string

	// Timeout bounds a single publish (default: 3s).
	Timeout time.Duration

	// BatchTimeout is how long the writer waits to fill a batch before sending it (default: 10ms).
	// Publish blocks for at least this long.
	BatchTimeout time.Duration
}

// DefaultBatchTimeout keeps a publish from holding up the scheduling loop.
const DefaultBatchTimeout = 10 * time.Millisecond

// Kafka publishes events as JSON messages keyed by target index.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafka creates a Kafka publisher.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	return newKafka(newWriter(cfg, brokers), cfg.Timeout), nil
}

func newWriter(cfg KafkaConfig, brokers []string) *kgo.Writer {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	return &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
	}
}

func newKafka(w messageWriter, timeout time.Duration) *Kafka {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &Kafka{writer: w, timeout: timeout}
}

// Publish writes event to the topic.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(event.Key()),
		Value: b,
		Time:  event.At,
	}); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
