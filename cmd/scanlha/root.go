package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlha/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanlha",
		Short: "Parameter scans over SLHA spectrum generators",
		Long: `scanlha expands a YAML description of SLHA blocks into scan points,
runs a spectrum generator for each point in an isolated work directory and
collects the parsed output into a table stored in SQLite.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newScanCmd(), newMergeCmd(), newValidateCmd())
	return root
}
