package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/inference"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads raw source messages from the input topic
type Consumer struct {
	reader kafkaReader
	logger *zap.Logger
}

// NewConsumer creates a consumer group reader from Kafka settings
func NewConsumer(cfg config.KafkaConfig, logger *zap.Logger) (*Consumer, error) {
	brokers := normalizeBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	topic := strings.TrimSpace(cfg.InputTopic)
	if topic == "" {
		return nil, fmt.Errorf("kafka consumer requires input topic")
	}
	groupID := strings.TrimSpace(cfg.GroupID)
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group_id")
	}

	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}

	readerCfg := kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: minBytes,
		MaxBytes: maxBytes,
		MaxWait:  maxWait,
	}
	if cfg.ClientID != "" {
		readerCfg.Dialer = &kafkago.Dialer{ClientID: cfg.ClientID}
	}

	return NewConsumerWithReader(kafkago.NewReader(readerCfg), logger)
}

// NewConsumerWithReader is a test helper constructor.
func NewConsumerWithReader(reader kafkaReader, logger *zap.Logger) (*Consumer, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, logger: logger}, nil
}

// Consume passes every message to handle and commits its offset once handled.
// Malformed messages are logged and committed; any other handler error stops
// the loop uncommitted so the message is read again after a restart.
func (c *Consumer) Consume(ctx context.Context, handle func(context.Context, []byte) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if isContextDone(err) || isContextDone(ctx.Err()) || isReaderClosedErr(err) {
				return nil
			}
			return fmt.Errorf("fetching kafka message: %w", err)
		}

		if err := handle(ctx, msg.Value); err != nil {
			if !errors.Is(err, inference.ErrMalformedPayload) {
				return fmt.Errorf("handling message partition=%d offset=%d: %w", msg.Partition, msg.Offset, err)
			}
			c.logger.Warn("Dropping malformed message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("committing kafka message offset: %w", err)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func isReaderClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "reader closed") || strings.Contains(msg, "use of closed network connection")
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
