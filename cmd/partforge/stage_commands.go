package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"partforge/internal/runstore"
	"partforge/internal/services"
	"partforge/internal/stage"
	"partforge/internal/workflow"
)

// retryFlags selects the retry mode. Feedback implies a conversational retry.
type retryFlags struct {
	mode     string
	feedback string
}

func (f *retryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.feedback, "feedback", "f", "", "Corrective feedback; implies --mode conversational")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Retry mode: fresh or conversational")
}

func (f *retryFlags) resolve() (stage.Mode, string, error) {
	feedback := strings.TrimSpace(f.feedback)
	value := f.mode
	if value == "" && feedback != "" {
		value = string(stage.ModeConversational)
	}
	mode, err := stage.ParseMode(value)
	if err != nil {
		return "", "", err
	}
	return mode, feedback, nil
}

func newDiscoveryCommand(ctx *commandContext) *cobra.Command {
	discoveryCmd := &cobra.Command{
		Use:   "discovery",
		Short: "Review the discovered units",
	}

	discoveryCmd.AddCommand(&cobra.Command{
		Use:   "confirm",
		Short: "Accept the units and run extraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				if err := m.ConfirmDiscovery(runCtx); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printExtraction(out, m.Snapshot().Record)
				reportPartialFailure(out, m)
				return nil
			})
		},
	})

	var flags retryFlags
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run discovery, discarding downstream results",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, feedback, err := flags.resolve()
			if err != nil {
				return err
			}
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				if err := m.RetryDiscovery(runCtx, mode, feedback); err != nil {
					return err
				}
				printManifest(cmd.OutOrStdout(), m.Snapshot().Record)
				return nil
			})
		},
	}
	flags.register(retryCmd)
	discoveryCmd.AddCommand(retryCmd)

	return discoveryCmd
}

func newExtractionCommand(ctx *commandContext) *cobra.Command {
	extractionCmd := &cobra.Command{
		Use:   "extraction",
		Short: "Review and correct extracted geometry",
	}

	extractionCmd.AddCommand(&cobra.Command{
		Use:   "confirm",
		Short: "Accept the extraction results and run assembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				if err := m.ConfirmExtraction(runCtx); err != nil {
					return err
				}
				printAssembly(cmd.OutOrStdout(), m.Snapshot().Record)
				return nil
			})
		},
	})

	var retryAll retryFlags
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run extraction for every unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, feedback, err := retryAll.resolve()
			if err != nil {
				return err
			}
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				if err := m.RetryExtraction(runCtx, mode, feedback); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printExtraction(out, m.Snapshot().Record)
				reportPartialFailure(out, m)
				return nil
			})
		},
	}
	retryAll.register(retryCmd)
	extractionCmd.AddCommand(retryCmd)

	var retryOne retryFlags
	retryUnitCmd := &cobra.Command{
		Use:   "retry-unit <id>",
		Short: "Re-run extraction for a single unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, feedback, err := retryOne.resolve()
			if err != nil {
				return err
			}
			unitID := strings.TrimSpace(args[0])
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				err := m.RetryUnit(runCtx, unitID, mode, feedback)
				out := cmd.OutOrStdout()
				printExtraction(out, m.Snapshot().Record)
				if err != nil {
					return err
				}
				if m.Snapshot().Record.AssemblyStale {
					fmt.Fprintln(out, "Assembly is stale; run `partforge assembly retry` before confirming.")
				}
				return nil
			})
		},
	}
	retryOne.register(retryUnitCmd)
	extractionCmd.AddCommand(retryUnitCmd)

	extractionCmd.AddCommand(&cobra.Command{
		Use:   "history <id>",
		Short: "Show the self-correction rounds of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID := strings.TrimSpace(args[0])
			return ctx.withSnapshot(cmd, func(_ *runstore.Store, snap workflow.Snapshot) error {
				rounds, ok := snap.Record.Histories[unitID]
				if !ok {
					return services.Wrap(services.ErrNotFound, stage.NameExtraction, "history",
						fmt.Sprintf("no extraction history for unit %q", unitID), nil)
				}
				printTable(cmd.OutOrStdout(), "Rounds for "+unitID,
					[]string{"Round", "Source", "Shape", "Conf", "Verdict", "Notes"},
					historyRows(rounds),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
					"No rounds recorded")
				return nil
			})
		},
	})

	return extractionCmd
}

func newAssemblyCommand(ctx *commandContext) *cobra.Command {
	assemblyCmd := &cobra.Command{
		Use:   "assembly",
		Short: "Review the part hierarchy",
	}

	var force bool
	confirmCmd := &cobra.Command{
		Use:   "confirm",
		Short: "Accept the hierarchy and complete the run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				report, err := m.ConfirmAssembly(runCtx, force)
				out := cmd.OutOrStdout()
				if len(report.Issues) > 0 {
					printIssues(out, report.Issues)
				}
				if err != nil {
					if services.Kind(err) == "validation" {
						return fmt.Errorf("%w (fix with `partforge assembly retry` or pass --force)", err)
					}
					return err
				}
				fmt.Fprintf(out, "Run %s complete. Pack the atlas with `partforge pack`.\n", m.RunID())
				return nil
			})
		},
	}
	confirmCmd.Flags().BoolVar(&force, "force", false, "Complete despite structural errors or a stale assembly")
	assemblyCmd.AddCommand(confirmCmd)

	var flags retryFlags
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-run assembly over the current extractions",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, feedback, err := flags.resolve()
			if err != nil {
				return err
			}
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				if err := m.RetryAssembly(runCtx, mode, feedback); err != nil {
					return err
				}
				printAssembly(cmd.OutOrStdout(), m.Snapshot().Record)
				return nil
			})
		},
	}
	flags.register(retryCmd)
	assemblyCmd.AddCommand(retryCmd)

	return assemblyCmd
}
