// Package kafka carries records in and out of keenstamp over Kafka topics.
package kafka

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/domain"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes annotated records to the output topic, keyed by stream
// so a stream's records stay ordered within one partition
type Publisher struct {
	writer kafkaWriter
	topic  string
}

// NewPublisher creates a publisher from Kafka settings
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	topic := strings.TrimSpace(cfg.OutputTopic)
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires output topic")
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: false,
		Async:                  false,
		BatchTimeout:           batchTimeout,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafkago.Transport{
			ClientID: cfg.ClientID,
		}
	}

	return &Publisher{
		writer: writer,
		topic:  topic,
	}, nil
}

// NewPublisherWithWriter is a test helper constructor.
func NewPublisherWithWriter(writer kafkaWriter, topic string) (*Publisher, error) {
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	return &Publisher{writer: writer, topic: topic}, nil
}

// Publish implements the pipeline sink
func (p *Publisher) Publish(ctx context.Context, msg *domain.Annotated) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	headers := msg.Headers()
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := kafkago.Message{
		Key:     []byte(msg.Stream),
		Value:   msg.Payload,
		Time:    time.Now().UTC(),
		Headers: make([]kafkago.Header, 0, len(keys)),
	}
	for _, k := range keys {
		out.Headers = append(out.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}

	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("writing kafka message to topic %q: %w", p.topic, err)
	}
	return nil
}

// Close releases the Kafka writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		broker = strings.TrimSpace(broker)
		if broker == "" {
			continue
		}
		out = append(out, broker)
	}
	return out
}
