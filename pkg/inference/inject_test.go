package inference

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInject(t *testing.T) {
	at := time.Date(2021, time.July, 4, 10, 15, 30, 123456789, time.UTC)

	tests := []struct {
		name string
		data map[string]interface{}
		want map[string]interface{}
	}{
		{
			name: "empty_payload",
			data: map[string]interface{}{},
			want: map[string]interface{}{
				"keen": map[string]interface{}{"timestamp": "2021-07-04T10:15:30.123Z"},
			},
		},
		{
			name: "overwrites_previous_timestamp_and_keeps_siblings",
			data: map[string]interface{}{
				"id":   1,
				"keen": map[string]interface{}{"timestamp": "old", "addons": []interface{}{"ip_to_geo"}},
			},
			want: map[string]interface{}{
				"id":   1,
				"keen": map[string]interface{}{"timestamp": "2021-07-04T10:15:30.123Z", "addons": []interface{}{"ip_to_geo"}},
			},
		},
		{
			name: "replaces_non_object_keen",
			data: map[string]interface{}{"keen": "scalar", "name": "x"},
			want: map[string]interface{}{
				"keen": map[string]interface{}{"timestamp": "2021-07-04T10:15:30.123Z"},
				"name": "x",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inject(tt.data, at)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInject_Idempotent(t *testing.T) {
	at := time.UnixMilli(1625393730123)

	once, err := Inject(map[string]interface{}{"a": "b"}, at)
	require.NoError(t, err)
	onceJSON, err := json.Marshal(once)
	require.NoError(t, err)

	twice, err := Inject(map[string]interface{}{"a": "b"}, at)
	require.NoError(t, err)
	twice, err = Inject(twice, at)
	require.NoError(t, err)
	twiceJSON, err := json.Marshal(twice)
	require.NoError(t, err)

	assert.JSONEq(t, string(onceJSON), string(twiceJSON))
}

func TestInject_NilPayload(t *testing.T) {
	_, err := Inject(nil, time.Now())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFormatInstant(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := time.Date(2021, time.July, 4, 12, 15, 30, 0, loc)

	assert.Equal(t, "2021-07-04T10:15:30.000Z", FormatInstant(at))
}
