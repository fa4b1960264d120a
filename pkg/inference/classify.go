package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// UnitText marks an instant recognized in a free-text cursor value
const UnitText Unit = "text"

// extractCursor walks path through nested objects
func extractCursor(data map[string]interface{}, path []string) (interface{}, error) {
	var node interface{} = data
	for i, field := range path {
		obj, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T, not an object", ErrPathMissing, strings.Join(path[:i], "."), node)
		}
		next, exists := obj[field]
		if !exists {
			return nil, fmt.Errorf("%w: field %q not present", ErrPathMissing, strings.Join(path[:i+1], "."))
		}
		node = next
	}
	return node, nil
}

// classify turns a raw cursor value into an instant.
// Numbers (and numeric strings) go through the magnitude policy; other strings
// go through the text parser, anchored at reference.
func (e *Engine) classify(value interface{}, reference time.Time) (time.Time, Unit, error) {
	if n, ok := asInteger(value); ok {
		t, unit, ok := e.policy.Instant(n)
		if !ok {
			return time.Time{}, unit, fmt.Errorf("%w: %d is below %d and looks like an id", ErrOrdinalValue, n, SecondsThreshold)
		}
		return t, unit, nil
	}

	text, ok := value.(string)
	if !ok {
		return time.Time{}, "", fmt.Errorf("%w: %s value", ErrUnparseableValue, describe(value))
	}

	t, err := e.parser.Parse(text, reference)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrUnparseableValue, err)
	}
	return t.UTC(), UnitText, nil
}

// asInteger coerces JSON numbers and numeric strings to an integer.
// Decimals truncate toward zero.
func asInteger(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		return parseNumeric(string(v))
	case string:
		return parseNumeric(v)
	case float64:
		return floatToInt(v)
	case float32:
		return floatToInt(float64(v))
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return uintToInt(uint64(v))
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return uintToInt(v)
	default:
		return 0, false
	}
}

func parseNumeric(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return floatToInt(f)
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func uintToInt(u uint64) (int64, bool) {
	if u > math.MaxInt64 {
		return 0, false
	}
	return int64(u), true
}

func describe(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}
