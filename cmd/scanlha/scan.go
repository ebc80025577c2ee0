package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scanlha/internal/config"
	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/scan"
	"github.com/banshee-data/scanlha/internal/store"
	"github.com/banshee-data/scanlha/internal/telemetry"
)

type scanOptions struct {
	output    string
	workers   int
	overwrite bool
	key       string
	sets      []string
	samples   int
	seed      uint64
	csv       string
	summarize []string
}

func newScanCmd() *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan CONFIG",
		Short: "Run a scan and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "result database (default: CONFIG with .db extension)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "number of parallel workers (default: one per CPU)")
	f.BoolVarP(&opts.overwrite, "overwrite", "f", false, "replace an existing table under the same key")
	f.StringVar(&opts.key, "key", store.DefaultKey, "table key in the result database")
	f.StringArrayVar(&opts.sets, "set", nil, "override a settable parameter: NAME=a,b,c or NAME=start:stop[:count[:dist]]")
	f.IntVar(&opts.samples, "samples", 0, "draw this many random points instead of the full grid")
	f.Uint64Var(&opts.seed, "seed", 0, "random seed")
	f.StringVar(&opts.csv, "csv", "", "also write the table to this CSV file")
	f.StringArrayVar(&opts.summarize, "summarize", nil, "print mean, stddev and range of a column")
	return cmd
}

func defaultOutput(configPath string) string {
	return strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".db"
}

func runScan(cmd *cobra.Command, path string, opts scanOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("samples") {
		cfg.Sampling.Samples = opts.samples
	}
	if cmd.Flags().Changed("seed") {
		cfg.Sampling.Seed = opts.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sp := cfg.Space()
	if err := cfg.ApplyOverrides(sp, opts.sets); err != nil {
		return err
	}
	snapshot, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if opts.output == "" {
		opts.output = defaultOutput(path)
	}
	st, err := store.Open(opts.output)
	if err != nil {
		return err
	}
	defer st.Close()

	// Refuse before spending time on the scan.
	if !opts.overwrite && !st.Reserved(opts.key) {
		exists, err := st.Has(ctx, opts.key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %q in %s (use --overwrite)", store.ErrKeyExists, opts.key, opts.output)
		}
	}

	// An interrupted scan still saves and flushes what it finished.
	saveCtx := context.WithoutCancel(ctx)

	rec, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer rec.Shutdown(saveCtx)

	s := scan.New(sp, runner.NewFactory(cfg.Runner), scan.Options{
		Samples:  cfg.Sampling.Samples,
		Seed:     cfg.Sampling.Seed,
		Config:   snapshot,
		Recorder: rec,
	})
	if _, err := s.Build(); err != nil {
		return err
	}

	tbl, runErr := s.Submit(ctx, opts.workers)
	if tbl == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, ctx.Err()) {
		return runErr
	}

	key, err := s.Save(saveCtx, st, opts.key, opts.overwrite)
	if err != nil {
		return err
	}
	stats := tbl.Stats()
	fmt.Fprintf(out, "Saved %d rows (%d ok, %d failed) under %q in %s\n", stats.Total, stats.OK, stats.Failed, key, opts.output)

	if opts.csv != "" {
		if err := writeCSV(opts.csv, tbl.WriteCSV); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", opts.csv)
	}

	for _, col := range opts.summarize {
		sum, err := tbl.Summarize(col)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", col, err)
			continue
		}
		fmt.Fprintln(out, sum)
	}
	return runErr
}

func writeCSV(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
