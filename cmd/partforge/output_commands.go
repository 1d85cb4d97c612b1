package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"partforge/internal/atlas"
	"partforge/internal/config"
	"partforge/internal/fileutil"
	"partforge/internal/hierarchy"
	"partforge/internal/imageio"
	"partforge/internal/packing"
	"partforge/internal/services"
	"partforge/internal/workflow"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the assembled hierarchy for structural and geometric issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				report, err := m.Validate(runCtx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				out := cmd.OutOrStdout()
				if len(report.Issues) == 0 {
					fmt.Fprintln(out, "Hierarchy valid: no issues")
				} else {
					printIssues(out, report.Issues)
				}
				printTree(out, report.Tree)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printIssues(w io.Writer, issues []hierarchy.Issue) {
	printTable(w, "Issues",
		[]string{"Severity", "Part", "Code", "Message"},
		issueRows(issues),
		nil,
		"No issues")
}

func printTree(w io.Writer, tree hierarchy.Tree) {
	if len(tree.Roots) == 0 {
		return
	}
	fmt.Fprintln(w, "Hierarchy")
	tree.Walk(func(id string, depth int) {
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth+1), id)
	})
}

func newPackCommand(ctx *commandContext) *cobra.Command {
	var (
		algorithm string
		canvas    int
		padding   int
		outPath   string
		mapPath   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Pack the assembled parts into a square texture atlas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts, err := packOptions(cfg, cmd, algorithm, canvas, padding)
			if err != nil {
				return err
			}
			return ctx.withRun(cmd, func(runCtx context.Context, m *workflow.Manager) error {
				a, packErr := m.Pack(runCtx, opts)
				if packErr != nil && !errors.Is(packErr, services.ErrOverflow) {
					return packErr
				}
				out := cmd.OutOrStdout()
				if asJSON {
					if err := writeJSON(cmd.OutOrStdout(), a); err != nil {
						return err
					}
				} else if err := a.Correspondence().WriteText(out); err != nil {
					return err
				}
				if outPath != "" {
					if err := writeAtlasImage(outPath, a, m.Source()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Wrote atlas image to %s\n", outPath)
				}
				if mapPath != "" {
					if err := writeCorrespondence(mapPath, a.Correspondence()); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Wrote correspondence map to %s\n", mapPath)
				}
				return packErr
			})
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Packing algorithm: row, grid or maxrects (default from config)")
	cmd.Flags().IntVar(&canvas, "canvas", 0, "Square canvas size: 1024 or 2048 (default from config)")
	cmd.Flags().IntVar(&padding, "padding", 0, "Padding in pixels around and between parts (default from config)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the atlas as a PNG image")
	cmd.Flags().StringVar(&mapPath, "map", "", "Write the correspondence map (.json for JSON, text otherwise)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the atlas as JSON instead of text")
	return cmd
}

// packOptions applies flag overrides on top of the configured packing settings.
func packOptions(cfg *config.Config, cmd *cobra.Command, algorithm string, canvas, padding int) (packing.Options, error) {
	settings, err := workflow.SettingsFromConfig(cfg)
	if err != nil {
		return packing.Options{}, err
	}
	opts := settings.Packing
	if cmd.Flags().Changed("algorithm") {
		parsed, err := packing.ParseAlgorithm(algorithm)
		if err != nil {
			return packing.Options{}, err
		}
		opts.Algorithm = parsed
	}
	if cmd.Flags().Changed("canvas") {
		supported := false
		for _, size := range config.CanvasSizes {
			supported = supported || size == canvas
		}
		if !supported {
			return packing.Options{}, services.Wrap(services.ErrValidation, "packing", "options",
				fmt.Sprintf("canvas size %d is not supported (use %v)", canvas, config.CanvasSizes), nil)
		}
		opts.CanvasSize = canvas
	}
	if cmd.Flags().Changed("padding") {
		opts.Padding = padding
	}
	return opts, nil
}

func writeAtlasImage(path string, a atlas.Atlas, src *imageio.Source) error {
	if src == nil || src.Image == nil {
		return services.Wrap(services.ErrState, "packing", "render", "source image unavailable", nil)
	}
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		if err := png.Encode(w, a.Render(src.Image)); err != nil {
			return fmt.Errorf("encode atlas image: %w", err)
		}
		return nil
	})
}

func writeCorrespondence(path string, c atlas.Correspondence) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		var err error
		if strings.EqualFold(filepath.Ext(path), ".json") {
			err = writeJSON(w, c)
		} else {
			err = c.WriteText(w)
		}
		if err != nil {
			return fmt.Errorf("write correspondence map: %w", err)
		}
		return nil
	})
}
