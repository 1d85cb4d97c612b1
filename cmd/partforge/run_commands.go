package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"partforge/internal/config"
	"partforge/internal/imageio"
	"partforge/internal/preflight"
	"partforge/internal/runstore"
	"partforge/internal/services"
	"partforge/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect pipeline runs",
	}

	runCmd.AddCommand(newRunStartCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunLogCommand(ctx))
	runCmd.AddCommand(newRunDeleteCommand(ctx))

	return runCmd
}

func newRunStartCommand(ctx *commandContext) *cobra.Command {
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "start <image>",
		Short: "Run discovery on a new source image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !skipPreflight {
				if summary := preflight.Summary(preflight.RunAll(cmd.Context(), cfg, preflight.Options{})); summary != "" {
					return fmt.Errorf("preflight failed: %s (run `partforge doctor` for details)", summary)
				}
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			src, err := imageio.Load(path)
			if err != nil {
				return err
			}
			m, closeLog, err := ctx.newManager(uuid.NewString())
			if err != nil {
				return err
			}
			defer closeLog()
			return ctx.withStore(func(store *runstore.Store) error {
				return ctx.drive(cmd, store, m, func(runCtx context.Context, m *workflow.Manager) error {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Run %s (%s, %dx%d)\n", m.RunID(), src.Path, src.Width, src.Height)
					if err := m.RunDiscovery(runCtx, src); err != nil {
						return err
					}
					snap := m.Snapshot()
					printManifest(out, snap.Record)
					fmt.Fprintln(out, "Review the units, then `partforge discovery confirm` or `partforge discovery retry --feedback ...`.")
					return nil
				})
			})
		},
	}

	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip configuration readiness checks")
	return cmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the selected run's state and stage outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSnapshot(cmd, func(_ *runstore.Store, snap workflow.Snapshot) error {
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), snap)
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")
	return cmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runstore.Store) error {
				runs, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				printTable(cmd.OutOrStdout(), "",
					[]string{"Run", "State", "Source", "Units", "Failed", "Updated"},
					runRows(runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					"No runs stored")
				return nil
			})
		},
	}
}

func newRunLogCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the external call log of the selected run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSnapshot(cmd, func(store *runstore.Store, snap workflow.Snapshot) error {
				calls, err := store.Calls(cmd.Context(), snap.RunID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), calls)
				}
				printTable(cmd.OutOrStdout(), "",
					[]string{"#", "Stage", "Operation", "Unit", "Duration", "Error"},
					callRows(calls),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
					"No calls recorded")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print calls as JSON")
	return cmd
}

func newRunDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("run id is required")
			}
			return ctx.withStore(func(store *runstore.Store) error {
				runID, err := store.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if _, err := store.Delete(cmd.Context(), runID); err != nil {
					return err
				}
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				if err := os.Remove(runLogPath(cfg, runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("remove run log: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", runID)
				return nil
			})
		},
	}
}

func printManifest(w io.Writer, rec workflow.Record) {
	printTable(w, "Units",
		[]string{"ID", "Name", "Type", "Strategy", "Rough box"},
		manifestRows(rec.Manifest),
		nil,
		"No units")
}

func printExtraction(w io.Writer, rec workflow.Record) {
	printTable(w, "Extraction",
		[]string{"ID", "Shape", "BBox", "Conf", "Amodal", "Rounds", "Status"},
		extractionRows(rec),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		"No extraction results")
}

func printAssembly(w io.Writer, rec workflow.Record) {
	title := "Assembly"
	if rec.AssemblyStale {
		title += " (stale: extractions changed since assembly ran)"
	}
	printTable(w, title,
		[]string{"ID", "Name", "Parent", "Motion", "Pivot"},
		assemblyRows(rec.Assembly),
		nil,
		"No assembly")
}

func printSnapshot(w io.Writer, snap workflow.Snapshot) {
	fmt.Fprintf(w, "Run:   %s\n", snap.RunID)
	fmt.Fprintf(w, "State: %s\n", snap.State)
	if src := snap.Record.Source; src != nil {
		fmt.Fprintf(w, "Image: %s (%dx%d, %s)\n", src.Path, src.Width, src.Height, src.MIME)
	}
	if snap.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", snap.LastError)
	}
	if snap.Record.Manifest != nil {
		printManifest(w, snap.Record)
	}
	if snap.Record.Extractions != nil || snap.Record.ExtractionErrors != nil {
		printExtraction(w, snap.Record)
	}
	if snap.Record.Assembly != nil {
		printAssembly(w, snap.Record)
	}
	if a := snap.Record.Atlas; a != nil {
		fmt.Fprintf(w, "Atlas: %d parts on %dx%d (%s)\n", len(a.Parts), a.Layout.CanvasSize, a.Layout.CanvasSize, a.Layout.Algorithm)
	}
}

// reportPartialFailure prints failed units without failing the command.
func reportPartialFailure(w io.Writer, m *workflow.Manager) {
	err := m.PartialFailure()
	if err == nil {
		return
	}
	fmt.Fprintf(w, "Warning: %s\n", services.Details(err).Message)
	fmt.Fprintln(w, "Retry failed units with `partforge extraction retry-unit <id>` or continue with the successful ones.")
}
