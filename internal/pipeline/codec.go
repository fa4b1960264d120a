package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
)

// Frame is one decoded wire message. Record is nil for non-record messages,
// which are re-encoded byte for byte.
type Frame struct {
	Type   domain.MessageType
	Record *domain.Record

	raw      []byte
	envelope map[string]json.RawMessage // nil for bare records
	fields   map[string]json.RawMessage
}

// Codec reads messages that are either an envelope
// ({"type":"RECORD","record":{...}}) or a bare record ({"stream":...,"data":...}).
// Fields it does not know about survive a Decode/Encode round trip.
type Codec struct{}

// Decode parses payload. Every error wraps inference.ErrMalformedPayload.
func (Codec) Decode(payload []byte) (*Frame, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, malformed("message is not a JSON object: %v", err)
	}

	if rawType, ok := top["type"]; ok {
		var typ domain.MessageType
		if err := json.Unmarshal(rawType, &typ); err != nil {
			return nil, malformed("message type is not a string")
		}
		if typ != domain.MessageTypeRecord {
			return &Frame{Type: typ, raw: payload}, nil
		}

		rawRecord, ok := top["record"]
		if !ok || isNull(rawRecord) {
			return nil, malformed("RECORD message without a record")
		}
		frame, err := decodeRecord(rawRecord)
		if err != nil {
			return nil, err
		}
		frame.envelope = top
		return frame, nil
	}

	if _, ok := top["stream"]; ok {
		return decodeRecord(payload)
	}
	return nil, malformed("message is neither an envelope nor a record")
}

// Encode writes the frame back out with the record's current data
func (Codec) Encode(f *Frame) ([]byte, error) {
	if f.Record == nil {
		return f.raw, nil
	}

	data, err := json.Marshal(f.Record.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record data: %w", err)
	}
	f.fields["data"] = data

	record, err := json.Marshal(f.fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	if f.envelope == nil {
		return record, nil
	}

	f.envelope["record"] = record
	out, err := json.Marshal(f.envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return out, nil
}

func decodeRecord(raw []byte) (*Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, malformed("record is not a JSON object")
	}

	rec := &domain.Record{}
	if err := unmarshalField(fields, "stream", &rec.Stream); err != nil {
		return nil, err
	}
	if rawNS, ok := fields["namespace"]; ok && !isNull(rawNS) {
		if err := json.Unmarshal(rawNS, &rec.Namespace); err != nil {
			return nil, malformed("record namespace is not a string")
		}
	}

	var emittedAt json.Number
	if err := unmarshalField(fields, "emitted_at", &emittedAt); err != nil {
		return nil, err
	}
	ms, err := emittedAt.Int64()
	if err != nil {
		return nil, malformed("record emitted_at %q is not an integer", emittedAt.String())
	}
	rec.EmittedAt = ms

	rawData, ok := fields["data"]
	if !ok {
		return nil, malformed("record of stream %q has no data", rec.Stream)
	}
	dec := json.NewDecoder(bytes.NewReader(rawData))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, malformed("record data of stream %q: %v", rec.Stream, err)
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		return nil, malformed("record data of stream %q is %s, not an object", rec.Stream, jsonKind(data))
	}
	rec.Data = obj

	if err := rec.Validate(); err != nil {
		return nil, malformed("%v", err)
	}

	return &Frame{Type: domain.MessageTypeRecord, Record: rec, raw: raw, fields: fields}, nil
}

func unmarshalField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	raw, ok := fields[name]
	if !ok || isNull(raw) {
		return malformed("record has no %s", name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return malformed("record %s: %v", name, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", inference.ErrMalformedPayload, fmt.Sprintf(format, args...))
}
