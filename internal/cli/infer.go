package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yairfalse/keenstamp/internal/pipeline"
)

func (a *app) newInferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "infer [file]",
		Short: "Annotate a JSON-lines message file once",
		Long: `Read source messages one per line from file, or stdin when no file is
given, and write them to stdout with keen.timestamp filled in. Lines that
are not valid messages are skipped and counted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			engine, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			processor, err := pipeline.NewProcessor(logger, engine)
			if err != nil {
				return err
			}
			return inferLines(cmd, processor, logger, in, cmd.OutOrStdout())
		},
	}
}

func inferLines(cmd *cobra.Command, processor *pipeline.Processor, logger *zap.Logger, in io.Reader, out io.Writer) error {
	stats, err := processor.ProcessLines(cmd.Context(), in, out)
	logger.Info("Finished annotating",
		zap.Int("lines", stats.Lines),
		zap.Int("records", stats.Records),
		zap.Int("inferred", stats.Inferred),
		zap.Int("passed_on", stats.PassedOn),
		zap.Int("malformed", stats.Malformed))
	return err
}
