package domain

// Header names attached to every published message
const (
	HeaderStream          = "Stream"
	HeaderKeenTimestamp   = "Keen-Timestamp"
	HeaderTimestampSource = "Timestamp-Source"
	HeaderRunID           = "Keen-Run-ID"
)

// Annotated is a message ready for the output transport. Non-record messages
// pass through with an empty Stream and KeenTimestamp.
type Annotated struct {
	Stream          string
	Namespace       string
	Payload         []byte
	KeenTimestamp   string
	TimestampSource string
	RunID           string
}

// IsRecord reports whether the message carries an annotated record
func (a *Annotated) IsRecord() bool {
	return a != nil && a.KeenTimestamp != ""
}

// Headers returns the non-empty transport headers of the message
func (a *Annotated) Headers() map[string]string {
	h := make(map[string]string, 4)
	if a == nil {
		return h
	}
	set := func(k, v string) {
		if v != "" {
			h[k] = v
		}
	}
	set(HeaderStream, a.Stream)
	set(HeaderKeenTimestamp, a.KeenTimestamp)
	set(HeaderTimestampSource, a.TimestampSource)
	set(HeaderRunID, a.RunID)
	return h
}
