package config

import (
	"strings"
	"time"
)

// KafkaConfig configures the Kafka transport
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	InputTopic   string        `mapstructure:"input_topic"`
	OutputTopic  string        `mapstructure:"output_topic"`
	GroupID      string        `mapstructure:"group_id"`
	ClientID     string        `mapstructure:"client_id"`
	MinBytes     int           `mapstructure:"min_bytes"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// DefaultKafkaConfig returns defaults for a local broker
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		InputTopic:   "records",
		OutputTopic:  "keen-records",
		GroupID:      "keenstamp",
		ClientID:     "keenstamp",
		MinBytes:     1,
		MaxBytes:     10 * 1024 * 1024,
		MaxWait:      2 * time.Second,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (c *KafkaConfig) validate() []ValidationError {
	var errs []ValidationError

	hasBroker := false
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) != "" {
			hasBroker = true
			break
		}
	}
	if !hasBroker {
		errs = append(errs, NewValidationError("kafka.brokers", "at least one broker is required",
			"set kafka.brokers or KEENSTAMP_KAFKA_BROKERS=host1:9092,host2:9092"))
	}
	if strings.TrimSpace(c.InputTopic) == "" {
		errs = append(errs, NewValidationError("kafka.input_topic", "input topic cannot be empty", "e.g. records"))
	}
	if strings.TrimSpace(c.OutputTopic) == "" {
		errs = append(errs, NewValidationError("kafka.output_topic", "output topic cannot be empty", "e.g. keen-records"))
	}
	if c.InputTopic != "" && c.InputTopic == c.OutputTopic {
		errs = append(errs, NewValidationError("kafka.output_topic", "output topic must differ from input topic",
			"annotated records would be consumed again"))
	}
	if strings.TrimSpace(c.GroupID) == "" {
		errs = append(errs, NewValidationError("kafka.group_id", "consumer group is required",
			"set kafka.group_id so offsets are committed"))
	}
	return errs
}
