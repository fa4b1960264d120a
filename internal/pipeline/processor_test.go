package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/metrics"
)

const ingestionTimestamp = "2021-07-04T10:15:30.123Z"

type captureSink struct {
	mu   sync.Mutex
	msgs []*domain.Annotated
	err  error
}

func (s *captureSink) Publish(_ context.Context, msg *domain.Annotated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) ObserveMessage(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type sliceSource struct {
	payloads []string
	errs     []error
}

func (s *sliceSource) Consume(ctx context.Context, handle func(context.Context, []byte) error) error {
	for _, p := range s.payloads {
		s.errs = append(s.errs, handle(ctx, []byte(p)))
	}
	return nil
}

func newTestProcessor(t *testing.T, opts ...Option) (*Processor, *tracetest.SpanRecorder) {
	t.Helper()

	streams := []domain.ConfiguredStream{
		{Stream: domain.StreamDescriptor{Name: "users"}, CursorField: []string{"updated_at"}},
		{Stream: domain.StreamDescriptor{Name: "orders"}, CursorField: []string{"meta", "created"}},
		{Stream: domain.StreamDescriptor{Name: "logs"}},
	}
	engine := inference.NewEngine(streams, true, inference.WithLogger(zaptest.NewLogger(t)))

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	inst, err := NewInstrumentationWith(tp, noop.NewMeterProvider())
	require.NoError(t, err)

	opts = append([]Option{WithInstrumentation(inst)}, opts...)
	p, err := NewProcessor(zaptest.NewLogger(t), engine, opts...)
	require.NoError(t, err)
	return p, sr
}

func recordLine(stream, data string) string {
	return `{"type":"RECORD","record":{"stream":"` + stream + `","data":` + data + `,"emitted_at":1625393730123}}`
}

func keenTimestamp(t *testing.T, payload []byte) string {
	t.Helper()
	var msg struct {
		Record struct {
			Data struct {
				Keen struct {
					Timestamp string `json:"timestamp"`
				} `json:"keen"`
			} `json:"data"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg.Record.Data.Keen.Timestamp
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewProcessor_RequiresEngine(t *testing.T) {
	_, err := NewProcessor(zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func TestProcessor_RunID(t *testing.T) {
	p, _ := newTestProcessor(t)
	_, err := uuid.Parse(p.RunID())
	assert.NoError(t, err)

	fixed, _ := newTestProcessor(t, WithRunID("run-1"))
	msg, err := fixed.Process(context.Background(), []byte(recordLine("logs", `{}`)))
	require.NoError(t, err)
	assert.Equal(t, "run-1", msg.RunID)
}

func TestProcessor_Process(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStamp  string
		wantSource inference.Source
	}{
		{
			name:       "epoch seconds cursor",
			payload:    recordLine("users", `{"id":1,"updated_at":1614729600}`),
			wantStamp:  "2021-03-03T00:00:00.000Z",
			wantSource: inference.SourceCursor,
		},
		{
			name:       "epoch millis cursor",
			payload:    recordLine("users", `{"id":2,"updated_at":1614729600123}`),
			wantStamp:  "2021-03-03T00:00:00.123Z",
			wantSource: inference.SourceCursor,
		},
		{
			name:       "nested text cursor",
			payload:    recordLine("orders", `{"meta":{"created":"March 3, 2021"}}`),
			wantStamp:  "2021-03-03T00:00:00.000Z",
			wantSource: inference.SourceCursor,
		},
		{
			name:       "stream without cursor",
			payload:    recordLine("logs", `{"line":"hello"}`),
			wantStamp:  ingestionTimestamp,
			wantSource: inference.SourceIngestion,
		},
		{
			name:       "stream not in catalog",
			payload:    recordLine("unknown", `{"x":1}`),
			wantStamp:  ingestionTimestamp,
			wantSource: inference.SourceIngestion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sr := newTestProcessor(t)

			msg, err := p.Process(context.Background(), []byte(tt.payload))
			require.NoError(t, err)

			assert.True(t, msg.IsRecord())
			assert.Equal(t, tt.wantStamp, msg.KeenTimestamp)
			assert.Equal(t, string(tt.wantSource), msg.TimestampSource)
			assert.Equal(t, tt.wantStamp, keenTimestamp(t, msg.Payload))
			assert.Equal(t, p.RunID(), msg.RunID)

			spans := sr.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "keenstamp.process", spans[0].Name())
			v, ok := spanAttr(spans[0], "timestamp.source")
			require.True(t, ok)
			assert.Equal(t, string(tt.wantSource), v.AsString())
		})
	}
}

func TestProcessor_OrdinalDisablesStream(t *testing.T) {
	p, sr := newTestProcessor(t)
	ctx := context.Background()

	first, err := p.Process(ctx, []byte(recordLine("users", `{"updated_at":42}`)))
	require.NoError(t, err)
	assert.Equal(t, ingestionTimestamp, first.KeenTimestamp)

	second, err := p.Process(ctx, []byte(recordLine("users", `{"updated_at":1614729600}`)))
	require.NoError(t, err)
	assert.Equal(t, ingestionTimestamp, second.KeenTimestamp)
	assert.Equal(t, string(inference.SourceIngestion), second.TimestampSource)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "cursor fallback", spans[0].Events()[0].Name)
}

func TestProcessor_PassesOnNonRecords(t *testing.T) {
	p, _ := newTestProcessor(t)
	payload := []byte(`{"type":"STATE","state":{"data":{"cursor":7}}}`)

	msg, err := p.Process(context.Background(), payload)
	require.NoError(t, err)

	assert.False(t, msg.IsRecord())
	assert.Equal(t, payload, msg.Payload)
	assert.Empty(t, msg.Stream)
}

func TestProcessor_Malformed(t *testing.T) {
	p, sr := newTestProcessor(t)

	_, err := p.Process(context.Background(), []byte(`{"type":"RECORD","record":{"stream":"users","data":[1],"emitted_at":1}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, inference.ErrMalformedPayload)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	// a malformed record never disables its stream
	assert.Contains(t, p.engine.Cursors(), "users")
}

func TestProcessor_Handle(t *testing.T) {
	rec := &outcomeRecorder{}
	p, _ := newTestProcessor(t, WithRecorder(rec))
	sink := &captureSink{}
	ctx := context.Background()

	require.NoError(t, p.Handle(ctx, sink, []byte(recordLine("users", `{"updated_at":1614729600}`))))
	require.NoError(t, p.Handle(ctx, sink, []byte(`{"type":"LOG","log":{"message":"hi"}}`)))

	err := p.Handle(ctx, sink, []byte(`garbage`))
	assert.ErrorIs(t, err, inference.ErrMalformedPayload)

	sink.err = errors.New("broker down")
	err = p.Handle(ctx, sink, []byte(recordLine("logs", `{}`)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, inference.ErrMalformedPayload)

	assert.Len(t, sink.msgs, 2)
	assert.Equal(t, []string{
		metrics.OutcomePublished,
		metrics.OutcomePassedOn,
		metrics.OutcomeMalformed,
		metrics.OutcomeFailed,
	}, rec.outcomes)
}

func TestProcessor_Run(t *testing.T) {
	p, _ := newTestProcessor(t)
	src := &sliceSource{payloads: []string{
		recordLine("users", `{"updated_at":1614729600}`),
		`{}`,
		recordLine("logs", `{}`),
	}}
	sink := &captureSink{}

	require.NoError(t, p.Run(context.Background(), src, sink))

	require.Len(t, src.errs, 3)
	assert.NoError(t, src.errs[0])
	assert.ErrorIs(t, src.errs[1], inference.ErrMalformedPayload)
	assert.NoError(t, src.errs[2])
	assert.Len(t, sink.msgs, 2)
}

func TestProcessor_ProcessLines(t *testing.T) {
	p, _ := newTestProcessor(t)

	input := strings.Join([]string{
		recordLine("users", `{"updated_at":1614729600}`),
		"",
		`{"type":"STATE","state":{}}`,
		`{"stream":"orders","data":{"meta":{"created":"N/A"}},"emitted_at":1625393730123}`,
		`not json at all`,
		recordLine("logs", `{"keen":{"id":"abc"}}`),
	}, "\n")

	var out bytes.Buffer
	stats, err := p.ProcessLines(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	assert.Equal(t, LineStats{Lines: 5, Records: 3, Inferred: 1, PassedOn: 1, Malformed: 1}, stats)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2021-03-03T00:00:00.000Z", keenTimestamp(t, []byte(lines[0])))
	assert.Equal(t, `{"type":"STATE","state":{}}`, lines[1])
	assert.Contains(t, lines[2], `"timestamp":"`+ingestionTimestamp+`"`)
	assert.JSONEq(t, `{"id":"abc","timestamp":"`+ingestionTimestamp+`"}`, extractKeen(t, lines[3]))

	assert.Equal(t, []string{"orders"}, p.engine.DisabledStreams())
}

func TestProcessor_ProcessLines_Cancelled(t *testing.T) {
	p, _ := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessLines(ctx, strings.NewReader(recordLine("logs", `{}`)), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func extractKeen(t *testing.T, line string) string {
	t.Helper()
	var msg struct {
		Record struct {
			Data struct {
				Keen json.RawMessage `json:"keen"`
			} `json:"data"`
		} `json:"record"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &msg))
	return string(msg.Record.Data.Keen)
}
