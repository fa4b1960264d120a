package config

import (
	"fmt"
	"strings"
	"time"
)

// Transport names accepted in Config.Transport
const (
	TransportNATS  = "nats"
	TransportKafka = "kafka"
	TransportStdio = "stdio"
)

// Config represents the main configuration structure
type Config struct {
	// InferTimestamp enables keen.timestamp inference from cursor fields.
	// When false every record carries its ingestion time.
	InferTimestamp bool `mapstructure:"infer_timestamp"`

	// Transport selects where records are consumed from and published to
	Transport string `mapstructure:"transport"`

	Catalog   CatalogConfig   `mapstructure:"catalog"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// ShutdownTimeout bounds how long cleanup may take after a signal
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CatalogConfig points at the configured catalog of the sync run
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		InferTimestamp: true,
		Transport:      TransportNATS,
		NATS:           DefaultNATSConfig(),
		Kafka:          DefaultKafkaConfig(),
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9091",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "keenstamp",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the configuration and returns every problem found.
// Warnings are included; callers decide whether to act on them.
func (c *Config) Validate() ValidationErrors {
	var result ValidationErrors

	switch c.Transport {
	case TransportNATS:
		result.Errors = append(result.Errors, c.NATS.validate()...)
	case TransportKafka:
		result.Errors = append(result.Errors, c.Kafka.validate()...)
	case TransportStdio:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:        "transport",
			Message:      fmt.Sprintf("unknown transport %q", c.Transport),
			Suggestion:   "use one of nats, kafka, stdio",
			CurrentValue: c.Transport,
			ValidValues:  []string{TransportNATS, TransportKafka, TransportStdio},
		})
	}

	if !contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		result.Errors = append(result.Errors, ValidationError{
			Field:        "log.level",
			Message:      fmt.Sprintf("invalid log level %q", c.Log.Level),
			Suggestion:   "use one of debug, info, warn, error",
			CurrentValue: c.Log.Level,
			ValidValues:  validLogLevels,
		})
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		result.Errors = append(result.Errors, NewValidationError("metrics.address",
			"metrics address cannot be empty when metrics are enabled", "e.g. :9091"))
	}

	if c.InferTimestamp && c.Catalog.Path == "" {
		result.Errors = append(result.Errors, NewValidationWarning("catalog.path",
			"no catalog configured, every record will use its ingestion time",
			"set catalog.path to the configured catalog of the sync"))
	}

	if c.ShutdownTimeout <= 0 {
		result.Errors = append(result.Errors, NewValidationError("shutdown_timeout",
			"shutdown timeout must be positive", "e.g. 10s"))
	}

	return result
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
