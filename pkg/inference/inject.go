package inference

import (
	"time"
)

const (
	// KeenField is the top-level payload field holding Keen properties
	KeenField = "keen"
	// TimestampField is the field under KeenField holding the event time
	TimestampField = "timestamp"
	// TimestampLayout is the ISO-8601 UTC encoding written to keen.timestamp
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// FormatInstant encodes t the way it is written to keen.timestamp
func FormatInstant(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Inject writes at into data.keen.timestamp and returns data.
// Other keys under keen are kept; a keen value that is not an object is replaced.
func Inject(data map[string]interface{}, at time.Time) (map[string]interface{}, error) {
	if data == nil {
		return nil, ErrMalformedPayload
	}

	keen, ok := data[KeenField].(map[string]interface{})
	if !ok {
		keen = make(map[string]interface{}, 1)
		data[KeenField] = keen
	}
	keen[TimestampField] = FormatInstant(at)

	return data, nil
}
