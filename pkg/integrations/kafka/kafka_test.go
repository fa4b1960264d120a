package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
)

type stubWriter struct {
	msgs      []kafkago.Message
	writeErr  error
	closeCall int
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closeCall++
	return nil
}

type stubReader struct {
	msgs      []kafkago.Message
	idx       int
	committed []int64
	closed    bool
}

func (s *stubReader) FetchMessage(_ context.Context) (kafkago.Message, error) {
	if s.idx >= len(s.msgs) {
		return kafkago.Message{}, io.EOF
	}
	msg := s.msgs[s.idx]
	s.idx++
	return msg, nil
}

func (s *stubReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *stubReader) Close() error {
	s.closed = true
	return nil
}

func headerMap(msg kafkago.Message) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestNewPublisher_Validation(t *testing.T) {
	cfg := config.DefaultKafkaConfig()
	cfg.Brokers = []string{" "}
	_, err := NewPublisher(cfg)
	assert.Error(t, err)

	cfg = config.DefaultKafkaConfig()
	cfg.OutputTopic = ""
	_, err = NewPublisher(cfg)
	assert.Error(t, err)

	p, err := NewPublisher(config.DefaultKafkaConfig())
	require.NoError(t, err)
	assert.Equal(t, "keen-records", p.topic)
}

func TestPublisher_Publish(t *testing.T) {
	stub := &stubWriter{}
	p, err := NewPublisherWithWriter(stub, "keen-records")
	require.NoError(t, err)

	msg := &domain.Annotated{
		Stream:          "users",
		Payload:         []byte(`{"stream":"users"}`),
		KeenTimestamp:   "2021-03-03T00:00:00.000Z",
		TimestampSource: "cursor",
		RunID:           "run-1",
	}
	require.NoError(t, p.Publish(context.Background(), msg))
	require.Len(t, stub.msgs, 1)

	got := stub.msgs[0]
	assert.Equal(t, "users", string(got.Key))
	assert.Equal(t, msg.Payload, got.Value)
	assert.Equal(t, map[string]string{
		domain.HeaderStream:          "users",
		domain.HeaderKeenTimestamp:   "2021-03-03T00:00:00.000Z",
		domain.HeaderTimestampSource: "cursor",
		domain.HeaderRunID:           "run-1",
	}, headerMap(got))

	stub.writeErr = errors.New("broker unavailable")
	err = p.Publish(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `topic "keen-records"`)

	assert.Error(t, p.Publish(context.Background(), nil))

	require.NoError(t, p.Close())
	assert.Equal(t, 1, stub.closeCall)
}

func TestNewConsumer_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.KafkaConfig)
	}{
		{name: "no brokers", mutate: func(c *config.KafkaConfig) { c.Brokers = nil }},
		{name: "no topic", mutate: func(c *config.KafkaConfig) { c.InputTopic = "" }},
		{name: "no group", mutate: func(c *config.KafkaConfig) { c.GroupID = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultKafkaConfig()
			tt.mutate(&cfg)
			_, err := NewConsumer(cfg, zaptest.NewLogger(t))
			assert.Error(t, err)
		})
	}

	_, err := NewConsumerWithReader(nil, nil)
	assert.Error(t, err)
}

func TestConsumer_Consume(t *testing.T) {
	reader := &stubReader{msgs: []kafkago.Message{
		{Offset: 1, Value: []byte(`good`)},
		{Offset: 2, Value: []byte(`malformed`)},
		{Offset: 3, Value: []byte(`good`)},
	}}
	consumer, err := NewConsumerWithReader(reader, zaptest.NewLogger(t))
	require.NoError(t, err)

	var seen []string
	err = consumer.Consume(context.Background(), func(_ context.Context, payload []byte) error {
		seen = append(seen, string(payload))
		if string(payload) == "malformed" {
			return fmt.Errorf("%w: bad", inference.ErrMalformedPayload)
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"good", "malformed", "good"}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)

	require.NoError(t, consumer.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_StopsOnHandlerFailure(t *testing.T) {
	reader := &stubReader{msgs: []kafkago.Message{
		{Offset: 7, Value: []byte(`first`)},
		{Offset: 8, Value: []byte(`second`)},
	}}
	consumer, err := NewConsumerWithReader(reader, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = consumer.Consume(context.Background(), func(context.Context, []byte) error {
		return errors.New("sink unavailable")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset=7")
	assert.Empty(t, reader.committed)
	assert.Equal(t, 1, reader.idx)
}

func TestIsReaderClosedErr(t *testing.T) {
	assert.True(t, isReaderClosedErr(io.EOF))
	assert.True(t, isReaderClosedErr(errors.New("kafka: reader closed")))
	assert.False(t, isReaderClosedErr(errors.New("leader not available")))
	assert.False(t, isReaderClosedErr(nil))
}
