package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_Validate(t *testing.T) {
	tests := []struct {
		name      string
		record    *Record
		wantError bool
		errorMsg  string
	}{
		{
			name:   "valid_record",
			record: &Record{Stream: "users", EmittedAt: 1625000000000, Data: map[string]interface{}{}},
		},
		{
			name:   "zero_emitted_at",
			record: &Record{Stream: "users"},
		},
		{
			name:      "nil_record",
			record:    nil,
			wantError: true,
			errorMsg:  "nil",
		},
		{
			name:      "missing_stream",
			record:    &Record{EmittedAt: 1},
			wantError: true,
			errorMsg:  "stream",
		},
		{
			name:      "negative_emitted_at",
			record:    &Record{Stream: "users", EmittedAt: -5},
			wantError: true,
			errorMsg:  "emitted_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRecord_EmittedTime(t *testing.T) {
	r := &Record{Stream: "s", EmittedAt: 1625393730123}

	got := r.EmittedTime()

	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, "2021-07-04T10:15:30.123Z", got.Format("2006-01-02T15:04:05.000Z"))
}

func TestMessage_IsRecord(t *testing.T) {
	var envelope Message
	err := json.Unmarshal([]byte(`{"type":"RECORD","record":{"stream":"orders","data":{"id":1},"emitted_at":42}}`), &envelope)
	require.NoError(t, err)

	assert.True(t, envelope.IsRecord())
	assert.Equal(t, "orders", envelope.Record.Stream)
	assert.Equal(t, int64(42), envelope.Record.EmittedAt)

	state := Message{Type: MessageTypeState}
	assert.False(t, state.IsRecord())

	var nilMsg *Message
	assert.False(t, nilMsg.IsRecord())
}

func TestConfiguredCatalog_StreamNames(t *testing.T) {
	catalog := &ConfiguredCatalog{Streams: []ConfiguredStream{
		{Stream: StreamDescriptor{Name: "users"}, CursorField: []string{"updated_at"}},
		{Stream: StreamDescriptor{Name: "events"}},
	}}

	assert.Equal(t, []string{"users", "events"}, catalog.StreamNames())

	var empty *ConfiguredCatalog
	assert.Nil(t, empty.StreamNames())
}
