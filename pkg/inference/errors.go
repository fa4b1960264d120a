package inference

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathMissing means the cursor path does not resolve in a record
	ErrPathMissing = errors.New("cursor path missing")

	// ErrUnparseableValue means the cursor value is not usable as a timestamp
	ErrUnparseableValue = errors.New("cursor value is not a timestamp")

	// ErrOrdinalValue means a numeric cursor is too small to be an epoch and is read as an id.
	// It wraps ErrUnparseableValue.
	ErrOrdinalValue = fmt.Errorf("%w: ordinal value", ErrUnparseableValue)

	// ErrMalformedPayload means the record payload has no place to inject keen.timestamp
	ErrMalformedPayload = errors.New("record payload is not an object")
)

// CursorError describes why a stream's cursor could not be turned into a timestamp.
// It always wraps ErrPathMissing or ErrUnparseableValue.
type CursorError struct {
	Stream string
	Path   []string
	Value  interface{}
	Err    error
}

func (e *CursorError) Error() string {
	return fmt.Sprintf("stream %q cursor %s: %v", e.Stream, strings.Join(e.Path, "."), e.Err)
}

func (e *CursorError) Unwrap() error {
	return e.Err
}
