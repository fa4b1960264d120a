package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/inference"
)

// Subscriber pulls raw source messages from the input stream and hands
// them to the pipeline one at a time
type Subscriber struct {
	logger *zap.Logger

	// NATS connection
	nc           *natsgo.Conn
	js           natsgo.JetStreamContext
	subscription *natsgo.Subscription

	// Configuration
	config *config.NATSConfig

	wg sync.WaitGroup

	// Metrics
	mu                 sync.RWMutex
	messagesReceived   int64
	messagesAcked      int64
	messagesNacked     int64
	messagesTerminated int64
	processingErrors   int64
	lastActivity       time.Time
}

// NewSubscriber creates the input stream and durable consumer if needed.
// The connection stays owned by the caller.
func NewSubscriber(logger *zap.Logger, nc *natsgo.Conn, cfg *config.NATSConfig) (*Subscriber, error) {
	if nc == nil {
		return nil, fmt.Errorf("NATS connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Subscriber{
		logger: logger,
		nc:     nc,
		config: cfg,
	}
	if err := s.setupJetStream(); err != nil {
		return nil, err
	}
	return s, nil
}

// setupJetStream creates or updates the stream and consumer
func (s *Subscriber) setupJetStream() error {
	js, err := s.nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	s.js = js

	sc := streamConfig(s.config.InputStream, s.config.InputSubjects, s.config)
	if err := ensureStream(s.logger, js, sc); err != nil {
		return err
	}
	return s.createOrUpdateConsumer()
}

// createOrUpdateConsumer creates the durable pull consumer if missing
func (s *Subscriber) createOrUpdateConsumer() error {
	consumerConfig := &natsgo.ConsumerConfig{
		Durable:       s.config.ConsumerName,
		DeliverPolicy: natsgo.DeliverAllPolicy,
		AckPolicy:     natsgo.AckExplicitPolicy,
		AckWait:       s.config.AckWait,
		MaxDeliver:    s.config.MaxDeliver,
		FilterSubject: s.config.GetInputSubject(),
		ReplayPolicy:  natsgo.ReplayInstantPolicy,
	}

	_, err := s.js.ConsumerInfo(s.config.InputStream, s.config.ConsumerName)
	if err == natsgo.ErrConsumerNotFound {
		if _, err := s.js.AddConsumer(s.config.InputStream, consumerConfig); err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		s.logger.Info("Created JetStream consumer", zap.String("name", s.config.ConsumerName))
	} else if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	return nil
}

// Consume fetches messages and passes each to handle until ctx is cancelled.
// A nil result acks the message, a malformed payload terminates it and any
// other error naks it for redelivery.
func (s *Subscriber) Consume(ctx context.Context, handle func(context.Context, []byte) error) error {
	s.logger.Info("Starting NATS subscriber",
		zap.String("stream", s.config.InputStream),
		zap.String("subject", s.config.GetInputSubject()),
		zap.String("consumer", s.config.ConsumerName),
	)

	sub, err := s.js.PullSubscribe(
		s.config.GetInputSubject(),
		s.config.ConsumerName,
		natsgo.Bind(s.config.InputStream, s.config.ConsumerName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.subscription = sub

	runCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go s.metricsReporter(runCtx)

	err = s.fetchMessages(runCtx, handle)

	cancel()
	s.stop()
	return err
}

// stop unsubscribes and waits for the reporter
func (s *Subscriber) stop() {
	s.logger.Info("Stopping NATS subscriber")

	cleanupCtx, cancel := context.WithTimeout(context.Background(), CleanupTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.subscription.Unsubscribe()
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, natsgo.ErrConnectionClosed) {
			s.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	case <-cleanupCtx.Done():
		s.logger.Warn("Timeout during unsubscribe operation")
	}

	s.wg.Wait()

	m := s.GetMetrics()
	s.logger.Info("NATS subscriber stopped",
		zap.Int64("messages_received", m.MessagesReceived),
		zap.Int64("messages_acked", m.MessagesAcked),
		zap.Int64("messages_nacked", m.MessagesNacked),
		zap.Int64("messages_terminated", m.MessagesTerminated),
		zap.Int64("processing_errors", m.ProcessingErrors),
	)
}

// retryState manages retry logic state
type retryState struct {
	consecutiveErrors int
	backoffDelay      time.Duration
}

// fetchMessages continuously fetches messages from the pull subscription with bounded retry.
// It returns nil once ctx is cancelled.
func (s *Subscriber) fetchMessages(ctx context.Context, handle func(context.Context, []byte) error) error {
	state := &retryState{backoffDelay: BaseBackoffDelay}
	batchSize := s.boundedBatchSize()
	wait := s.config.FetchTimeout
	if wait <= 0 {
		wait = time.Second
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if state.consecutiveErrors >= MaxConsecutiveErrors {
			if s.waitForBackoff(ctx, state) {
				return nil
			}
		}

		fetchCtx, cancel := context.WithTimeout(ctx, wait)
		msgs, err := s.subscription.Fetch(batchSize, natsgo.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.handleFetchError(ctx, err, state) {
				continue
			}
			return fmt.Errorf("fetch loop stopped: %w", err)
		}
		state.consecutiveErrors = 0
		state.backoffDelay = BaseBackoffDelay

		for _, msg := range msgs {
			if ctx.Err() != nil {
				// unacked messages are redelivered after AckWait
				return nil
			}
			s.handleMessage(ctx, msg, handle)
		}
	}
}

// waitForBackoff performs exponential backoff with context support.
// It returns true if ctx was cancelled while waiting.
func (s *Subscriber) waitForBackoff(ctx context.Context, state *retryState) bool {
	s.logger.Error("Too many consecutive fetch errors, backing off",
		zap.Int("consecutive_errors", state.consecutiveErrors),
		zap.Duration("backoff_delay", state.backoffDelay))

	timer := time.NewTimer(state.backoffDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		state.backoffDelay = time.Duration(float64(state.backoffDelay) * BackoffMultiplier)
		if state.backoffDelay > MaxBackoffDelay {
			state.backoffDelay = MaxBackoffDelay
		}
		return false
	}
}

// boundedBatchSize returns batch size capped to maximum
func (s *Subscriber) boundedBatchSize() int {
	batchSize := s.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > MaxBatchSize {
		s.logger.Warn("Batch size exceeds maximum, capping",
			zap.Int("requested", batchSize),
			zap.Int("capped_to", MaxBatchSize))
		batchSize = MaxBatchSize
	}
	return batchSize
}

// handleFetchError updates retry state. It returns false when fetching should stop.
func (s *Subscriber) handleFetchError(ctx context.Context, err error, state *retryState) bool {
	if errors.Is(err, natsgo.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		// nothing to fetch
		state.consecutiveErrors = 0
		state.backoffDelay = BaseBackoffDelay
		return true
	}
	if errors.Is(err, natsgo.ErrConnectionClosed) || errors.Is(err, natsgo.ErrBadSubscription) {
		s.logger.Warn("Subscription closed, stopping fetch loop", zap.Error(err))
		return false
	}

	state.consecutiveErrors++
	s.logger.Warn("Failed to fetch messages",
		zap.Error(err),
		zap.Int("consecutive_errors", state.consecutiveErrors))

	timer := time.NewTimer(RetryShortDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// handleMessage processes a single message with timeout protection
func (s *Subscriber) handleMessage(ctx context.Context, msg *natsgo.Msg, handle func(context.Context, []byte) error) {
	s.mu.Lock()
	s.messagesReceived++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	processCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout)
	defer cancel()

	err := handle(processCtx, msg.Data)
	switch {
	case err == nil:
		s.ackMessage(msg)
	case errors.Is(err, inference.ErrMalformedPayload):
		s.incrementProcessingErrors()
		s.termMessage(msg, err)
	default:
		s.incrementProcessingErrors()
		s.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("subject", msg.Subject))
		if s.isLastDeliveryAttempt(msg) {
			s.termMessage(msg, err)
			return
		}
		s.nackMessage(msg)
	}
}

func (s *Subscriber) incrementProcessingErrors() {
	s.mu.Lock()
	s.processingErrors++
	s.mu.Unlock()
}

// isLastDeliveryAttempt checks if this is the last delivery attempt
func (s *Subscriber) isLastDeliveryAttempt(msg *natsgo.Msg) bool {
	if s.config.MaxDeliver <= 0 {
		return false
	}
	metadata, err := msg.Metadata()
	if err != nil {
		s.logger.Warn("Failed to get message metadata", zap.Error(err))
		return false
	}
	return metadata.NumDelivered >= uint64(s.config.MaxDeliver)
}

// ackMessage acknowledges a message
func (s *Subscriber) ackMessage(msg *natsgo.Msg) {
	if err := msg.Ack(); err != nil {
		s.logger.Error("Failed to acknowledge message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesAcked++
	s.mu.Unlock()
}

// nackMessage negatively acknowledges a message for redelivery
func (s *Subscriber) nackMessage(msg *natsgo.Msg) {
	if err := msg.Nak(); err != nil {
		s.logger.Error("Failed to nack message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesNacked++
	s.mu.Unlock()
}

// termMessage stops redelivery of a message that can never succeed
func (s *Subscriber) termMessage(msg *natsgo.Msg, reason error) {
	s.logger.Warn("Terminating message",
		zap.String("subject", msg.Subject),
		zap.Error(reason))
	if err := msg.Term(); err != nil {
		s.logger.Error("Failed to terminate message", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.messagesTerminated++
	s.mu.Unlock()
}

// metricsReporter periodically logs metrics
func (s *Subscriber) metricsReporter(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(MetricsReportInterval)
	defer ticker.Stop()

	var lastReceived int64
	lastReport := time.Now()

	for {
		select {
		case <-ticker.C:
			m := s.GetMetrics()
			rate := float64(m.MessagesReceived-lastReceived) / time.Since(lastReport).Seconds()

			s.logger.Info("NATS subscriber metrics",
				zap.Int64("total_received", m.MessagesReceived),
				zap.Int64("total_acked", m.MessagesAcked),
				zap.Int64("total_nacked", m.MessagesNacked),
				zap.Int64("total_terminated", m.MessagesTerminated),
				zap.Int64("processing_errors", m.ProcessingErrors),
				zap.Float64("receive_rate", rate),
				zap.Int("pending_messages", m.PendingMessages),
			)

			lastReceived = m.MessagesReceived
			lastReport = time.Now()

		case <-ctx.Done():
			return
		}
	}
}

// GetMetrics returns current subscriber metrics
func (s *Subscriber) GetMetrics() SubscriberMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := 0
	if s.subscription != nil {
		if p, _, err := s.subscription.Pending(); err == nil {
			pending = p
		}
	}

	return SubscriberMetrics{
		MessagesReceived:   s.messagesReceived,
		MessagesAcked:      s.messagesAcked,
		MessagesNacked:     s.messagesNacked,
		MessagesTerminated: s.messagesTerminated,
		ProcessingErrors:   s.processingErrors,
		PendingMessages:    pending,
		Connected:          s.nc.IsConnected(),
		LastActivity:       s.lastActivity,
		ConsumerInfo:       s.config.ConsumerName,
	}
}
