package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlha/internal/store"
)

func newMergeCmd() *cobra.Command {
	var (
		key       string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "merge OUTPUT INPUT...",
		Short: "Concatenate the tables of several result databases",
		Long: `merge concatenates the table saved under --key in every INPUT into
OUTPUT, adding scan_seed and scan_parallel columns so merged random scans stay
distinguishable.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var sources []*store.Store
			defer func() {
				for _, s := range sources {
					s.Close()
				}
			}()
			for _, path := range args[1:] {
				s, err := store.Open(path)
				if err != nil {
					return err
				}
				sources = append(sources, s)
			}

			dst, err := store.Open(args[0])
			if err != nil {
				return err
			}
			defer dst.Close()

			warnings, err := store.Merge(ctx, dst, key, sources, overwrite)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, w := range warnings {
				fmt.Fprintf(out, "WARNING: %s\n", w)
			}
			fmt.Fprintf(out, "Merged %d tables into %s\n", len(sources), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", store.DefaultKey, "table key to merge")
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "f", false, "replace an existing table in OUTPUT")
	return cmd
}
