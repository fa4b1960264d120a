// Package inference annotates records with a best-effort event timestamp.
//
// For each stream that declares a cursor field, the cursor value of every
// record is read as epoch seconds, epoch milliseconds or a written date.
// The first value that cannot be read disables inference for that stream for
// the rest of the run, and every record of a disabled or cursor-less stream
// is stamped with its ingestion time instead.
package inference

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference/textdate"
	"go.uber.org/zap"
)

// Source tells where a record's timestamp came from
type Source string

const (
	SourceCursor    Source = "cursor"
	SourceIngestion Source = "ingestion"
)

// Resolution is the instant chosen for one record
type Resolution struct {
	Instant time.Time
	Source  Source
	Unit    Unit  // set when Source is SourceCursor
	Err     error // why the cursor was not used; nil for streams without a cursor
}

// Observer is notified of inference outcomes. Calls happen on the caller's goroutine.
type Observer interface {
	Inferred(stream string, unit Unit)
	FellBack(stream string, reason error)
	Disabled(stream string, path []string, reason error)
}

type nopObserver struct{}

func (nopObserver) Inferred(string, Unit)            {}
func (nopObserver) FellBack(string, error)           {}
func (nopObserver) Disabled(string, []string, error) {}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPolicy replaces the magnitude table used for numeric cursors
func WithPolicy(policy Policy) Option {
	return func(e *Engine) {
		if len(policy.rules) > 0 {
			e.policy = policy
		}
	}
}

// WithDateParser replaces the free-text date parser
func WithDateParser(parser textdate.Parser) Option {
	return func(e *Engine) {
		if parser != nil {
			e.parser = parser
		}
	}
}

// WithObserver sets the outcome observer
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// State is the per-run inference state: the streams still eligible for
// inference and the ones disabled so far. It is owned by a single Engine,
// which serializes access to it.
type State struct {
	enabled  bool
	cursors  CursorMap
	disabled map[string]struct{}
}

// NewState builds the initial state for a run
func NewState(streams []domain.ConfiguredStream, enabled bool) *State {
	return &State{
		enabled:  enabled,
		cursors:  BuildCursorMap(streams, enabled),
		disabled: make(map[string]struct{}),
	}
}

// path returns the cursor path of an enabled stream
func (s *State) path(stream string) ([]string, bool) {
	if !s.enabled {
		return nil, false
	}
	p, ok := s.cursors[stream]
	return p, ok
}

// disable removes stream from the cursor map. It returns false if the stream
// was not enabled. There is no way back.
func (s *State) disable(stream string) bool {
	if _, ok := s.cursors[stream]; !ok {
		return false
	}
	delete(s.cursors, stream)
	s.disabled[stream] = struct{}{}
	return true
}

// Engine infers keen.timestamp for records. It is safe for concurrent use.
type Engine struct {
	logger   *zap.Logger
	policy   Policy
	parser   textdate.Parser
	observer Observer

	mu    sync.RWMutex
	state *State
}

// NewEngine creates an engine for one run over the given catalog streams
func NewEngine(streams []domain.ConfiguredStream, enabled bool, opts ...Option) *Engine {
	e := &Engine{
		logger:   zap.NewNop(),
		policy:   DefaultPolicy(),
		parser:   textdate.Default(),
		observer: nopObserver{},
		state:    NewState(streams, enabled),
	}
	for _, opt := range opts {
		opt(e)
	}

	if enabled {
		e.logger.Info("Timestamp inference enabled, found cursor fields",
			zap.Int("streams", len(streams)),
			zap.Int("with_cursor", len(e.state.cursors)))
	} else {
		e.logger.Info("Timestamp inference disabled, using ingestion time for all streams")
	}
	return e
}

// Infer writes keen.timestamp into rec.Data and returns the mutated payload.
// The only error is ErrMalformedPayload; cursor problems fall back to ingestion time.
func (e *Engine) Infer(rec *domain.Record) (map[string]interface{}, error) {
	if rec == nil || rec.Data == nil {
		stream := ""
		if rec != nil {
			stream = rec.Stream
		}
		return nil, fmt.Errorf("stream %q: %w", stream, ErrMalformedPayload)
	}

	res := e.Resolve(rec)
	return Inject(rec.Data, res.Instant)
}

// Resolve picks the instant for rec without touching its payload.
// A cursor failure disables the stream as a side effect.
func (e *Engine) Resolve(rec *domain.Record) Resolution {
	fallback := Resolution{Instant: rec.EmittedTime(), Source: SourceIngestion}

	e.mu.RLock()
	path, ok := e.state.path(rec.Stream)
	e.mu.RUnlock()
	if !ok {
		e.observer.FellBack(rec.Stream, nil)
		return fallback
	}

	instant, unit, err := e.resolveCursor(rec, path)
	if err != nil {
		e.disable(rec.Stream, path, err)
		fallback.Err = err
		e.observer.FellBack(rec.Stream, err)
		return fallback
	}

	// another lane may have disabled the stream while we were parsing
	e.mu.RLock()
	_, still := e.state.path(rec.Stream)
	e.mu.RUnlock()
	if !still {
		fallback.Err = &CursorError{Stream: rec.Stream, Path: path, Err: fmt.Errorf("%w: stream disabled concurrently", ErrUnparseableValue)}
		e.observer.FellBack(rec.Stream, fallback.Err)
		return fallback
	}

	e.observer.Inferred(rec.Stream, unit)
	return Resolution{Instant: instant, Source: SourceCursor, Unit: unit}
}

func (e *Engine) resolveCursor(rec *domain.Record, path []string) (time.Time, Unit, error) {
	value, err := extractCursor(rec.Data, path)
	if err != nil {
		return time.Time{}, "", &CursorError{Stream: rec.Stream, Path: path, Err: err}
	}

	instant, unit, err := e.classify(value, rec.EmittedTime())
	if err != nil {
		return time.Time{}, unit, &CursorError{Stream: rec.Stream, Path: path, Value: value, Err: err}
	}
	return instant, unit, nil
}

func (e *Engine) disable(stream string, path []string, reason error) {
	e.mu.Lock()
	removed := e.state.disable(stream)
	e.mu.Unlock()
	if !removed {
		return
	}

	e.logger.Info("Unable to parse cursor field into keen.timestamp, using ingestion time for the rest of the run",
		zap.String("stream", stream),
		zap.Strings("cursor_field", path),
		zap.Error(reason))
	e.observer.Disabled(stream, path, reason)
}

// Enabled reports whether inference was turned on for this run
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.enabled
}

// Cursors returns a snapshot of the streams still eligible for inference
func (e *Engine) Cursors() CursorMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.cursors.Clone()
}

// DisabledStreams returns the streams disabled so far, sorted by name
func (e *Engine) DisabledStreams() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.state.disabled))
	for stream := range e.state.disabled {
		out = append(out, stream)
	}
	e.mu.RUnlock()

	sort.Strings(out)
	return out
}
