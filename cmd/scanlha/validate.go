package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlha/internal/config"
	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/scan"
)

func newValidateCmd() *cobra.Command {
	var (
		sets     []string
		template bool
	)
	cmd := &cobra.Command{
		Use:   "validate CONFIG",
		Short: "Check a config and report the number of scan points without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			sp := cfg.Space()
			if err := cfg.ApplyOverrides(sp, sets); err != nil {
				return err
			}

			for _, d := range sp.Diagnostics() {
				fmt.Fprintln(out, d)
			}

			s := scan.New(sp, runner.NewFactory(cfg.Runner), scan.Options{
				Samples: cfg.Sampling.Samples,
				Seed:    cfg.Sampling.Seed,
			})
			n, err := s.Build()
			if err != nil {
				return err
			}
			if template {
				fmt.Fprint(out, s.Template().Text)
			}
			fmt.Fprintf(out, "%s scan of %d points over %d parameters\n", s.Mode(), n, len(sp.Params()))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "override a settable parameter: NAME=a,b,c or NAME=start:stop[:count[:dist]]")
	cmd.Flags().BoolVar(&template, "template", false, "print the rendered input template")
	return cmd
}
