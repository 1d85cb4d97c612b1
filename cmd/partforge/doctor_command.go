package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"partforge/internal/preflight"
	"partforge/internal/runstore"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var online bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, directories and service readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			configDetail := ctx.configPath
			if !ctx.configFound {
				configDetail += " (not found, using defaults)"
			}
			lines = append(lines, renderStatusLine("Config", statusInfo, configDetail, colorize))
			lines = append(lines, renderStatusLine("Model", statusInfo, cfg.GetLLM().Model, colorize))
			lines = append(lines, renderStatusLine("Packing", statusInfo,
				fmt.Sprintf("%s %dx%d padding %d", cfg.Packing.Algorithm, cfg.Packing.CanvasSize, cfg.Packing.CanvasSize, cfg.Packing.Padding), colorize))
			lines = append(lines, renderStatusLine("Extraction", statusInfo,
				"batch "+strconv.Itoa(cfg.Extraction.BatchSize)+", max rounds "+strconv.Itoa(cfg.Extraction.MaxRounds), colorize))

			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{Online: online})
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Readiness", colorize)...)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}

			storeErr := ctx.withStore(func(store *runstore.Store) error {
				runs, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				lines = append(lines, renderStatusLine("Run store", statusOK, fmt.Sprintf("%s (%d runs)", store.Path(), len(runs)), colorize))
				return nil
			})
			if storeErr != nil {
				kind := statusError
				if errors.Is(storeErr, runstore.ErrLocked) {
					kind = statusWarn
				}
				lines = append(lines, renderStatusLine("Run store", kind, storeErr.Error(), colorize))
			}

			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			if summary := preflight.Summary(results); summary != "" {
				return fmt.Errorf("readiness checks failed: %s", summary)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&online, "online", false, "Probe the reasoning and segmentation endpoints")
	return cmd
}
