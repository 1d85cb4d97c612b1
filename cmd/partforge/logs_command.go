package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"partforge/internal/logs"
	"partforge/internal/runstore"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var allRuns bool
	var grep string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show run logs",
		Long: "Print the last lines of the selected run's debug log. --all reads the\n" +
			"shared partforge.log instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if lines < 0 {
				return errors.New("--lines must not be negative")
			}

			path := filepath.Join(cfg.Paths.LogDir, "partforge.log")
			if !allRuns {
				if err := ctx.withStore(func(store *runstore.Store) error {
					runID, err := store.Resolve(cmd.Context(), ctx.runRef())
					path = runLogPath(cfg, runID)
					return err
				}); err != nil {
					return err
				}
			}

			result, err := logs.Tail(path, logs.Options{Limit: lines, Match: grep})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(result.Lines) > 0 {
				fmt.Fprintln(out, strings.Join(result.Lines, "\n"))
			}
			if !follow {
				return nil
			}
			err = logs.Follow(cmd.Context(), path, result.Offset, grep, func(line string) {
				fmt.Fprintln(out, line)
			})
			if err != nil && cmd.Context().Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().BoolVar(&allRuns, "all", false, "Read the shared log instead of the run's own log")
	cmd.Flags().StringVar(&grep, "grep", "", "Only show lines containing this text")
	return cmd
}
