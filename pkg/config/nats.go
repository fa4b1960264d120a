package config

import (
	"strings"
	"time"
)

// NATSConfig holds all NATS-related configuration
type NATSConfig struct {
	// Connection
	URL               string        `mapstructure:"url"`
	Name              string        `mapstructure:"name"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	ReconnectWait     time.Duration `mapstructure:"reconnect_wait"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// Input stream carrying raw source messages
	InputStream   string   `mapstructure:"input_stream"`
	InputSubjects []string `mapstructure:"input_subjects"`

	// Output stream carrying annotated records, one subject per source stream
	OutputStream string `mapstructure:"output_stream"`
	OutputPrefix string `mapstructure:"output_prefix"`

	// Stream settings
	MaxAge          time.Duration `mapstructure:"max_age"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	Replicas        int           `mapstructure:"replicas"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`

	// Consumer settings
	ConsumerName string        `mapstructure:"consumer_name"`
	AckWait      time.Duration `mapstructure:"ack_wait"`
	MaxDeliver   int           `mapstructure:"max_deliver"`
	BatchSize    int           `mapstructure:"batch_size"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultNATSConfig returns production-ready defaults
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               "nats://localhost:4222",
		Name:              "keenstamp",
		MaxReconnects:     10,
		ReconnectWait:     time.Second,
		ConnectionTimeout: 5 * time.Second,

		InputStream:   "RECORDS",
		InputSubjects: []string{"records.>"},
		OutputStream:  "KEEN_RECORDS",
		OutputPrefix:  "keen",

		MaxAge:          24 * time.Hour,
		MaxBytes:        10 * 1024 * 1024 * 1024, // 10GB
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,

		ConsumerName: "keenstamp",
		AckWait:      30 * time.Second,
		MaxDeliver:   3,
		BatchSize:    100,
		FetchTimeout: time.Second,
	}
}

// GetInputSubject returns the primary input subject
func (c *NATSConfig) GetInputSubject() string {
	if len(c.InputSubjects) > 0 {
		return c.InputSubjects[0]
	}
	return "records.>"
}

// OutputSubject returns the subject annotated records of stream are published on
func (c *NATSConfig) OutputSubject(stream string) string {
	return c.OutputPrefix + "." + SubjectToken(stream)
}

// OutputSubjects returns the wildcard covering every output subject
func (c *NATSConfig) OutputSubjects() []string {
	return []string{c.OutputPrefix + ".>"}
}

// SubjectToken makes s usable as a single NATS subject token
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func (c *NATSConfig) validate() []ValidationError {
	var errs []ValidationError
	if c.URL == "" {
		errs = append(errs, NewValidationError("nats.url", "NATS URL cannot be empty",
			"set nats.url or KEENSTAMP_NATS_URL, e.g. nats://localhost:4222"))
	}
	if c.InputStream == "" {
		errs = append(errs, NewValidationError("nats.input_stream", "input stream name cannot be empty",
			"set nats.input_stream to the JetStream stream sources publish to"))
	}
	if len(c.InputSubjects) == 0 {
		errs = append(errs, NewValidationError("nats.input_subjects", "input subjects cannot be empty",
			"set nats.input_subjects, e.g. [records.>]"))
	}
	if c.OutputStream == "" || c.OutputPrefix == "" {
		errs = append(errs, NewValidationError("nats.output_prefix", "output stream and prefix are required",
			"set nats.output_stream and nats.output_prefix"))
	}
	if c.OutputPrefix != "" && strings.HasPrefix(c.GetInputSubject(), c.OutputPrefix+".") {
		errs = append(errs, NewValidationError("nats.output_prefix", "output subjects overlap the input subjects",
			"use a prefix that the input subjects do not match"))
	}
	if c.MaxAge <= 0 {
		errs = append(errs, NewValidationError("nats.max_age", "max age must be positive", "e.g. 24h"))
	}
	if c.MaxBytes <= 0 {
		errs = append(errs, NewValidationError("nats.max_bytes", "max bytes must be positive", "e.g. 10737418240"))
	}
	if c.ConsumerName == "" {
		errs = append(errs, NewValidationError("nats.consumer_name", "consumer name cannot be empty",
			"set a durable consumer name so restarts resume where they stopped"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, NewValidationError("nats.batch_size", "batch size must be positive", "e.g. 100"))
	}
	return errs
}
