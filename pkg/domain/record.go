package domain

import (
	"fmt"
	"time"
)

// MessageType identifies the kind of message carried on the record stream
type MessageType string

const (
	MessageTypeRecord           MessageType = "RECORD"
	MessageTypeState            MessageType = "STATE"
	MessageTypeLog              MessageType = "LOG"
	MessageTypeTrace            MessageType = "TRACE"
	MessageTypeSpec             MessageType = "SPEC"
	MessageTypeConnectionStatus MessageType = "CONNECTION_STATUS"
	MessageTypeCatalog          MessageType = "CATALOG"
)

// Message is the envelope a source emits. Only RECORD messages carry a Record;
// everything else is forwarded untouched.
type Message struct {
	Type   MessageType `json:"type"`
	Record *Record     `json:"record,omitempty"`
}

// IsRecord returns true if the message carries a record payload
func (m *Message) IsRecord() bool {
	return m != nil && m.Type == MessageTypeRecord && m.Record != nil
}

// Record is a single row of a data stream.
// Data is owned by the caller; the inference engine mutates it in place.
type Record struct {
	Stream    string                 `json:"stream"`
	Namespace string                 `json:"namespace,omitempty"`
	Data      map[string]interface{} `json:"data"`
	EmittedAt int64                  `json:"emitted_at"` // ms since epoch
}

// EmittedTime returns the ingestion timestamp as a UTC time
func (r *Record) EmittedTime() time.Time {
	return time.UnixMilli(r.EmittedAt).UTC()
}

// Validate checks the fields every record must carry
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.Stream == "" {
		return fmt.Errorf("record stream name is required")
	}
	if r.EmittedAt < 0 {
		return fmt.Errorf("record emitted_at must be non-negative, got %d", r.EmittedAt)
	}
	return nil
}
