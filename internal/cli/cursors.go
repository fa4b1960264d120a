package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/keenstamp/pkg/inference"
)

func (a *app) newCursorsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "cursors",
		Short: "Show which cursor field each stream is stamped from",
		Long: `Print the cursor map built from the configured catalog. Streams without a
cursor field are stamped with their ingestion time and are not listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			engine, err := newEngine(cfg, logger)
			if err != nil {
				return err
			}
			return printCursors(cmd.OutOrStdout(), engine.Cursors(), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

func printCursors(w io.Writer, cursors inference.CursorMap, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cursors)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]string(cursors)); err != nil {
			return err
		}
		return enc.Close()
	case "text":
		if len(cursors) == 0 {
			_, err := fmt.Fprintln(w, "no streams are stamped from a cursor field")
			return err
		}
		streams := make([]string, 0, len(cursors))
		for stream := range cursors {
			streams = append(streams, stream)
		}
		sort.Strings(streams)
		for _, stream := range streams {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", stream, strings.Join(cursors[stream], ".")); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (valid: text, json, yaml)", format)
	}
}
