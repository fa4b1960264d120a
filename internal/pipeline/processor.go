// Package pipeline moves messages from a transport source through the
// inference engine to a transport sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/metrics"
)

const instrumentationName = "github.com/yairfalse/keenstamp/internal/pipeline"

// Source delivers inbound payloads to handle one at a time. A nil return from
// handle means the payload is done with; an error wrapping
// inference.ErrMalformedPayload means it can never succeed.
type Source interface {
	Consume(ctx context.Context, handle func(context.Context, []byte) error) error
}

// Sink publishes annotated messages
type Sink interface {
	Publish(ctx context.Context, msg *domain.Annotated) error
}

// Recorder receives per-message outcomes; *metrics.Collector implements it
type Recorder interface {
	ObserveMessage(outcome string, took time.Duration)
}

// Instrumentation holds OTEL instrumentation
type Instrumentation struct {
	Tracer           trace.Tracer
	Meter            metric.Meter
	RecordsAnnotated metric.Int64Counter
	ProcessingErrors metric.Int64Counter
	ProcessingTime   metric.Float64Histogram
}

// NewInstrumentation creates instruments from the global OTEL providers
func NewInstrumentation() (*Instrumentation, error) {
	return NewInstrumentationWith(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewInstrumentationWith creates instruments from the given providers
func NewInstrumentationWith(tp trace.TracerProvider, mp metric.MeterProvider) (*Instrumentation, error) {
	meter := mp.Meter(instrumentationName)

	annotated, err := meter.Int64Counter("keenstamp.records_annotated",
		metric.WithDescription("Number of records annotated with keen.timestamp"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create records_annotated counter: %w", err)
	}

	processingErrors, err := meter.Int64Counter("keenstamp.processing_errors",
		metric.WithDescription("Number of messages that could not be processed"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("failed to create processing_errors counter: %w", err)
	}

	processingTime, err := meter.Float64Histogram("keenstamp.processing_time",
		metric.WithDescription("Time to annotate one message"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create processing_time histogram: %w", err)
	}

	return &Instrumentation{
		Tracer:           tp.Tracer(instrumentationName),
		Meter:            meter,
		RecordsAnnotated: annotated,
		ProcessingErrors: processingErrors,
		ProcessingTime:   processingTime,
	}, nil
}

// Processor annotates messages for one run
type Processor struct {
	logger          *zap.Logger
	engine          *inference.Engine
	codec           Codec
	runID           string
	instrumentation *Instrumentation
	recorder        Recorder
}

// Option configures a Processor
type Option func(*Processor)

// WithRunID overrides the generated run ID
func WithRunID(id string) Option {
	return func(p *Processor) {
		if id != "" {
			p.runID = id
		}
	}
}

// WithInstrumentation sets the OTEL instruments
func WithInstrumentation(inst *Instrumentation) Option {
	return func(p *Processor) {
		if inst != nil {
			p.instrumentation = inst
		}
	}
}

// WithRecorder sets where per-message outcomes are reported
func WithRecorder(r Recorder) Option {
	return func(p *Processor) {
		p.recorder = r
	}
}

// NewProcessor creates a processor around engine
func NewProcessor(logger *zap.Logger, engine *inference.Engine, opts ...Option) (*Processor, error) {
	if engine == nil {
		return nil, fmt.Errorf("inference engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		logger: logger,
		engine: engine,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.instrumentation == nil {
		inst, err := NewInstrumentation()
		if err != nil {
			return nil, err
		}
		p.instrumentation = inst
	}
	p.logger = p.logger.With(zap.String("run_id", p.runID))

	return p, nil
}

// RunID identifies this processor's run on every published message
func (p *Processor) RunID() string {
	return p.runID
}

// Process decodes payload, annotates a record with keen.timestamp and
// re-encodes it. Non-record messages come back unchanged.
func (p *Processor) Process(ctx context.Context, payload []byte) (*domain.Annotated, error) {
	start := time.Now()
	ctx, span := p.instrumentation.Tracer.Start(ctx, "keenstamp.process",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	msg, err := p.process(span, payload)

	p.instrumentation.ProcessingTime.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.instrumentation.ProcessingErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("malformed", errors.Is(err, inference.ErrMalformedPayload))))
		return nil, err
	}

	if msg.IsRecord() {
		p.instrumentation.RecordsAnnotated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("timestamp.source", msg.TimestampSource)))
	}
	return msg, nil
}

func (p *Processor) process(span trace.Span, payload []byte) (*domain.Annotated, error) {
	frame, err := p.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("message.type", string(frame.Type)))

	if frame.Record == nil {
		return &domain.Annotated{Payload: payload, RunID: p.runID}, nil
	}

	rec := frame.Record
	res := p.engine.Resolve(rec)
	if _, err := inference.Inject(rec.Data, res.Instant); err != nil {
		return nil, fmt.Errorf("stream %q: %w", rec.Stream, err)
	}

	out, err := p.codec.Encode(frame)
	if err != nil {
		return nil, err
	}

	ts := inference.FormatInstant(res.Instant)
	span.SetAttributes(
		attribute.String("record.stream", rec.Stream),
		attribute.String("keen.timestamp", ts),
		attribute.String("timestamp.source", string(res.Source)),
	)
	if res.Err != nil {
		span.AddEvent("cursor fallback", trace.WithAttributes(attribute.String("reason", res.Err.Error())))
	}

	return &domain.Annotated{
		Stream:          rec.Stream,
		Namespace:       rec.Namespace,
		Payload:         out,
		KeenTimestamp:   ts,
		TimestampSource: string(res.Source),
		RunID:           p.runID,
	}, nil
}

// Handle processes one payload and publishes the result to sink
func (p *Processor) Handle(ctx context.Context, sink Sink, payload []byte) error {
	start := time.Now()

	msg, err := p.Process(ctx, payload)
	if err != nil {
		if errors.Is(err, inference.ErrMalformedPayload) {
			p.logger.Warn("Dropping malformed message", zap.Error(err), zap.Int("bytes", len(payload)))
			p.observe(metrics.OutcomeMalformed, start)
			return err
		}
		p.logger.Error("Failed to process message", zap.Error(err))
		p.observe(metrics.OutcomeFailed, start)
		return err
	}

	if err := sink.Publish(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message", zap.Error(err), zap.String("stream", msg.Stream))
		p.observe(metrics.OutcomeFailed, start)
		return fmt.Errorf("failed to publish: %w", err)
	}

	if msg.IsRecord() {
		p.observe(metrics.OutcomePublished, start)
	} else {
		p.observe(metrics.OutcomePassedOn, start)
	}
	return nil
}

// Run consumes src until ctx is cancelled or src gives up
func (p *Processor) Run(ctx context.Context, src Source, sink Sink) error {
	p.logger.Info("Starting pipeline",
		zap.Bool("inference_enabled", p.engine.Enabled()),
		zap.Int("streams_with_cursor", len(p.engine.Cursors())))

	err := src.Consume(ctx, func(ctx context.Context, payload []byte) error {
		return p.Handle(ctx, sink, payload)
	})

	p.logger.Info("Pipeline stopped",
		zap.Strings("disabled_streams", p.engine.DisabledStreams()))
	return err
}

func (p *Processor) observe(outcome string, start time.Time) {
	if p.recorder != nil {
		p.recorder.ObserveMessage(outcome, time.Since(start))
	}
}
