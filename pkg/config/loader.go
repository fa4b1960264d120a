package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. KEENSTAMP_NATS_URL
const EnvPrefix = "KEENSTAMP"

// Loader builds a Config from defaults, an optional file and the environment
type Loader struct {
	v            *viper.Viper
	configFile   string
	allowMissing bool
}

// NewLoader creates a loader backed by v. A nil v gets a fresh viper instance.
func NewLoader(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{
		v:            v,
		allowMissing: true,
	}
}

// WithConfigFile sets a specific configuration file to load
func (l *Loader) WithConfigFile(file string) *Loader {
	l.configFile = file
	return l
}

// RequireConfigFile makes configuration file mandatory
func (l *Loader) RequireConfigFile() *Loader {
	l.allowMissing = false
	return l
}

// Viper exposes the underlying viper instance so flags can be bound to it
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources in priority order:
// 1. Default configuration
// 2. Configuration file (if found)
// 3. Environment variables
// 4. Command line flags bound to the viper instance
func (l *Loader) Load() (*Config, error) {
	SetDefaults(l.v)

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, NewConfigFileError("parse", l.v.ConfigFileUsed(),
			fmt.Sprintf("failed to decode configuration: %v", err),
			"check value types, durations look like 30s or 5m").WithCause(err)
	}

	if errs := cfg.Validate().Blocking(); !errs.IsEmpty() {
		return nil, errs
	}
	return cfg, nil
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("keenstamp")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/keenstamp")
	}

	err := l.v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) && l.allowMissing {
		return nil
	}

	return NewConfigFileError("read", l.configFile,
		fmt.Sprintf("failed to read configuration: %v", err),
		"check the file exists and is valid YAML").WithCause(err)
}

// SetDefaults registers every default with v. Registering keys is also what lets
// AutomaticEnv overrides reach nested fields during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("infer_timestamp", d.InferTimestamp)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)

	n := d.NATS
	v.SetDefault("nats.url", n.URL)
	v.SetDefault("nats.name", n.Name)
	v.SetDefault("nats.max_reconnects", n.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", n.ReconnectWait)
	v.SetDefault("nats.connection_timeout", n.ConnectionTimeout)
	v.SetDefault("nats.input_stream", n.InputStream)
	v.SetDefault("nats.input_subjects", n.InputSubjects)
	v.SetDefault("nats.output_stream", n.OutputStream)
	v.SetDefault("nats.output_prefix", n.OutputPrefix)
	v.SetDefault("nats.max_age", n.MaxAge)
	v.SetDefault("nats.max_bytes", n.MaxBytes)
	v.SetDefault("nats.replicas", n.Replicas)
	v.SetDefault("nats.duplicate_window", n.DuplicateWindow)
	v.SetDefault("nats.consumer_name", n.ConsumerName)
	v.SetDefault("nats.ack_wait", n.AckWait)
	v.SetDefault("nats.max_deliver", n.MaxDeliver)
	v.SetDefault("nats.batch_size", n.BatchSize)
	v.SetDefault("nats.fetch_timeout", n.FetchTimeout)

	k := d.Kafka
	v.SetDefault("kafka.brokers", k.Brokers)
	v.SetDefault("kafka.input_topic", k.InputTopic)
	v.SetDefault("kafka.output_topic", k.OutputTopic)
	v.SetDefault("kafka.group_id", k.GroupID)
	v.SetDefault("kafka.client_id", k.ClientID)
	v.SetDefault("kafka.min_bytes", k.MinBytes)
	v.SetDefault("kafka.max_bytes", k.MaxBytes)
	v.SetDefault("kafka.max_wait", k.MaxWait)
	v.SetDefault("kafka.batch_timeout", k.BatchTimeout)
}
