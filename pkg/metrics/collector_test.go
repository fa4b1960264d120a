package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/keenstamp/pkg/inference"
)

func TestCollector_ObserverCounters(t *testing.T) {
	c := NewCollector()
	c.SetEnabledStreams(3)

	c.Inferred("users", inference.UnitSeconds)
	c.Inferred("users", inference.UnitSeconds)
	c.Inferred("orders", inference.UnitText)

	ordinal := fmt.Errorf("%w: 42", inference.ErrOrdinalValue)
	c.FellBack("logs", nil)
	c.FellBack("events", ordinal)
	c.Disabled("events", []string{"id"}, ordinal)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.inferred.WithLabelValues("users", "seconds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inferred.WithLabelValues("orders", "text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("logs", "no_cursor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("events", "ordinal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.disabled.WithLabelValues("events", "ordinal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.enabledStreams))
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: "no_cursor"},
		{err: &inference.CursorError{Err: inference.ErrPathMissing}, want: "path_missing"},
		{err: &inference.CursorError{Err: fmt.Errorf("%w: 7", inference.ErrOrdinalValue)}, want: "ordinal"},
		{err: &inference.CursorError{Err: inference.ErrUnparseableValue}, want: "unparseable"},
		{err: io.EOF, want: "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, reason(tt.err))
		})
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveMessage(OutcomePublished, 2*time.Millisecond)
	c.ObserveMessage(OutcomeMalformed, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `keenstamp_messages_total{outcome="published"} 1`)
	assert.Contains(t, body, `keenstamp_messages_total{outcome="malformed"} 1`)
	assert.Contains(t, body, "keenstamp_processing_duration_seconds_count 2")
}

func TestCollector_ImplementsObserver(t *testing.T) {
	var _ inference.Observer = NewCollector()
}
