package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
)

const maxLineSize = 64 * 1024 * 1024

// LineSource reads one message per line. Malformed lines are skipped;
// any other handler error stops the read.
type LineSource struct {
	r      io.Reader
	logger *zap.Logger

	Lines     int
	Malformed int
}

// NewLineSource creates a source over r
func NewLineSource(r io.Reader, logger *zap.Logger) *LineSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineSource{r: r, logger: logger}
}

// Consume implements Source
func (s *LineSource) Consume(ctx context.Context, handle func(context.Context, []byte) error) error {
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.Lines++

		// scanner reuses its buffer
		payload := append([]byte(nil), line...)
		if err := handle(ctx, payload); err != nil {
			if errors.Is(err, inference.ErrMalformedPayload) {
				s.Malformed++
				s.logger.Warn("Skipping malformed line", zap.Int("line", lineNo), zap.Error(err))
				continue
			}
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

// WriterSink writes every payload as one line
type WriterSink struct {
	mu sync.Mutex
	w  *bufio.Writer

	Records  int
	Inferred int
	PassedOn int
}

// NewWriterSink creates a sink writing to w. Call Flush when done.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

// Publish implements Sink
func (s *WriterSink) Publish(_ context.Context, msg *domain.Annotated) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(msg.Payload); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}

	switch {
	case !msg.IsRecord():
		s.PassedOn++
	case msg.TimestampSource == string(inference.SourceCursor):
		s.Records++
		s.Inferred++
	default:
		s.Records++
	}
	return nil
}

// Flush writes any buffered output
func (s *WriterSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// LineStats summarizes a ProcessLines call
type LineStats struct {
	Lines     int
	Records   int
	Inferred  int
	PassedOn  int
	Malformed int
}

// ProcessLines annotates JSON-lines messages from r and writes them to w
func (p *Processor) ProcessLines(ctx context.Context, r io.Reader, w io.Writer) (LineStats, error) {
	src := NewLineSource(r, p.logger)
	sink := NewWriterSink(w)

	runErr := src.Consume(ctx, func(ctx context.Context, payload []byte) error {
		return p.Handle(ctx, sink, payload)
	})
	flushErr := sink.Flush()

	stats := LineStats{
		Lines:     src.Lines,
		Records:   sink.Records,
		Inferred:  sink.Inferred,
		PassedOn:  sink.PassedOn,
		Malformed: src.Malformed,
	}
	if runErr != nil {
		return stats, runErr
	}
	if flushErr != nil {
		return stats, fmt.Errorf("failed to write output: %w", flushErr)
	}
	return stats, nil
}
