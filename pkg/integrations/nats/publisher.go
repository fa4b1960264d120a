package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/domain"
)

// Publisher publishes annotated records to the output JetStream stream,
// one subject per source stream
type Publisher struct {
	logger *zap.Logger
	nc     *natsgo.Conn
	js     natsgo.JetStreamContext
	config *config.NATSConfig

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher on nc and ensures the output stream exists.
// The connection stays owned by the caller.
func NewPublisher(logger *zap.Logger, nc *natsgo.Conn, cfg *config.NATSConfig) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := &Publisher{
		logger: logger,
		nc:     nc,
		js:     js,
		config: cfg,
	}

	sc := streamConfig(cfg.OutputStream, cfg.OutputSubjects(), cfg)
	if err := ensureStream(logger, js, sc); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish implements the pipeline sink
func (p *Publisher) Publish(ctx context.Context, msg *domain.Annotated) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	subject := p.config.OutputSubject(msg.Stream)
	out := &natsgo.Msg{
		Subject: subject,
		Data:    msg.Payload,
		Header:  natsgo.Header{},
	}
	for k, v := range msg.Headers() {
		out.Header.Set(k, v)
	}
	out.Header.Set(HeaderPublishedAt, time.Now().UTC().Format(time.RFC3339Nano))

	if _, err := p.js.PublishMsg(out, natsgo.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("Published record",
		zap.String("subject", subject),
		zap.String("keen_timestamp", msg.KeenTimestamp),
		zap.String("timestamp_source", msg.TimestampSource))
	return nil
}

// Close stops accepting messages. The connection is left open.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// HealthCheck verifies NATS connection
func (p *Publisher) HealthCheck() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("not connected to NATS")
	}

	if _, err := p.js.StreamInfo(p.config.OutputStream); err != nil {
		return fmt.Errorf("stream health check failed: %w", err)
	}
	return nil
}
