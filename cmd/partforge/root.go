package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var runFlag string

	ctx := newCommandContext(&configFlag, &runFlag)

	rootCmd := &cobra.Command{
		Use:           "partforge",
		Short:         "Decompose an image into animatable parts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&runFlag, "run", "r", "", "Run id or unique prefix (default: most recent run)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newDiscoveryCommand(ctx))
	rootCmd.AddCommand(newExtractionCommand(ctx))
	rootCmd.AddCommand(newAssemblyCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newPackCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))

	return rootCmd
}
