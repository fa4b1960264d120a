package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/pkg/catalog"
	"github.com/yairfalse/keenstamp/pkg/config"
	"github.com/yairfalse/keenstamp/pkg/domain"
	"github.com/yairfalse/keenstamp/pkg/inference"
	"github.com/yairfalse/keenstamp/pkg/logging"
)

// app carries state shared by every command of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree with its own viper instance
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "keenstamp",
		Short: "Stamp every synced record with the time its event happened",
		Long: `keenstamp sits between a source and a Keen destination and writes
keen.timestamp into every record. The time comes from the stream's cursor
field when it reads as epoch seconds, epoch milliseconds or a written date,
and from the record's ingestion time otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./keenstamp.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-development", false, "human-readable console logs")
	flags.String("catalog", "", "configured catalog file (JSON or YAML)")
	flags.Bool("infer", true, "infer keen.timestamp from cursor fields")

	// Bind flags to viper
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.development", flags.Lookup("log-development"))
	_ = a.v.BindPFlag("catalog.path", flags.Lookup("catalog"))
	_ = a.v.BindPFlag("infer_timestamp", flags.Lookup("infer"))

	rootCmd.AddCommand(a.newRunCmd())
	rootCmd.AddCommand(a.newInferCmd())
	rootCmd.AddCommand(a.newCursorsCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the configuration for the current invocation
func (a *app) loadConfig() (*config.Config, error) {
	loader := config.NewLoader(a.v).WithConfigFile(a.cfgFile)
	if a.cfgFile != "" {
		loader = loader.RequireConfigFile()
	}
	return loader.Load()
}

// setup loads configuration and builds the logger. Validation warnings are logged.
func (a *app) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}

	for _, w := range cfg.Validate().Warnings() {
		logger.Warn("Configuration warning",
			zap.String("field", w.Field),
			zap.String("message", w.Message),
			zap.String("suggestion", w.Suggestion))
	}
	return cfg, logger, nil
}

// loadStreams reads the configured catalog, or returns no streams when none is set
func loadStreams(cfg *config.Config) ([]domain.ConfiguredStream, error) {
	if cfg.Catalog.Path == "" {
		return nil, nil
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	return catalog.Streams(cat), nil
}

// newEngine builds the inference engine for one run
func newEngine(cfg *config.Config, logger *zap.Logger, opts ...inference.Option) (*inference.Engine, error) {
	streams, err := loadStreams(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	opts = append([]inference.Option{inference.WithLogger(logger)}, opts...)
	return inference.NewEngine(streams, cfg.InferTimestamp, opts...), nil
}
