package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlha/internal/monitoring"
	"github.com/banshee-data/scanlha/internal/results"
	"github.com/banshee-data/scanlha/internal/store"
	"github.com/banshee-data/scanlha/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeScanConfig(t *testing.T, dir string) string {
	t.Helper()
	return writeScanConfigFor(t, dir, testutil.EchoSimulator(t, dir))
}

func writeScanConfigFor(t *testing.T, dir, binary string) string {
	t.Helper()
	body := fmt.Sprintf(`runner:
  binary: %s
  tmpfs: %s
  log_dir: %s
  blocks: [MINPAR, MASS]
blocks:
  - block: MINPAR
    lines:
      - {id: 1, parameter: M0, scan: [100, 300, 3], argument: true}
      - {id: 3, parameter: TanBeta, value: 10}
sampling: {seed: 4}
`, binary, t.TempDir(), filepath.Join(dir, "logs"))
	path := filepath.Join(dir, "scan.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func load(t *testing.T, path, key string) *results.Table {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	tbl, err := st.Load(context.Background(), key)
	require.NoError(t, err)
	return tbl
}

func TestScanCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeScanConfig(t, dir)
	csvPath := filepath.Join(dir, "scan.csv")

	out, err := execute(t, "scan", cfg, "-w", "2", "--csv", csvPath, "--summarize", "MASS.values.25")
	require.NoError(t, err, out)
	assert.Contains(t, out, `Saved 3 rows (3 ok, 0 failed) under "results"`)
	assert.Contains(t, out, "MASS.values.25: n=3")

	tbl := load(t, filepath.Join(dir, "scan.db"), store.DefaultKey)
	assert.Equal(t, []float64{100, 200, 300}, tbl.Column("M0"))
	assert.Equal(t, []float64{100, 200, 300}, tbl.Column("MINPAR.values.1"))
	assert.Equal(t, uint64(4), tbl.Meta.Seed)
	assert.Equal(t, 2, tbl.Meta.Parallel)
	assert.Contains(t, tbl.Meta.Config, "M0")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "index,outcome,log,M0,TanBeta,"))

	_, err = execute(t, "scan", cfg)
	assert.True(t, errors.Is(err, store.ErrKeyExists), "got %v", err)

	out, err = execute(t, "scan", cfg, "--overwrite", "--set", "M0=1,2")
	require.NoError(t, err, out)
	tbl = load(t, filepath.Join(dir, "scan.db"), store.DefaultKey)
	assert.Equal(t, []float64{1, 2}, tbl.Column("M0"))
}

func TestScanCommandInterruptedSavesPartialTable(t *testing.T) {
	dir := t.TempDir()
	cfg := writeScanConfigFor(t, dir, testutil.SlowOnMatch(t, dir, "^ 1 100 ", 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := time.AfterFunc(300*time.Millisecond, cancel)
	defer stop.Stop()

	out, err := executeContext(t, ctx, "scan", cfg, "-w", "1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v (output: %s)", err, out)
	}
	if !strings.Contains(out, "Saved 1 rows (1 ok, 0 failed)") {
		t.Errorf("output does not report the partial save:\n%s", out)
	}

	tbl := load(t, filepath.Join(dir, "scan.db"), store.DefaultKey)
	if tbl.Len() != 1 {
		t.Fatalf("stored %d rows, want 1", tbl.Len())
	}
	if got := tbl.Column("M0"); got[0] != 100 {
		t.Errorf("M0 = %v, want [100]", got)
	}
}

func TestScanWorkersDefaultToCPUCount(t *testing.T) {
	if def := newScanCmd().Flags().Lookup("workers").DefValue; def != "0" {
		t.Fatalf("--workers default = %s, want 0", def)
	}

	dir := t.TempDir()
	cfg := writeScanConfig(t, dir)
	out, err := execute(t, "scan", cfg)
	if err != nil {
		t.Fatalf("scan failed: %v\n%s", err, out)
	}

	want := runtime.NumCPU()
	if want > 3 {
		want = 3
	}
	tbl := load(t, filepath.Join(dir, "scan.db"), store.DefaultKey)
	if tbl.Meta.Parallel != want {
		t.Errorf("Parallel = %d, want %d", tbl.Meta.Parallel, want)
	}
	if diff := cmp.Diff([]float64{100, 200, 300}, tbl.Column("M0")); diff != "" {
		t.Errorf("M0 mismatch (-want +got):\n%s", diff)
	}
}

func TestScanCommandRandom(t *testing.T) {
	dir := t.TempDir()
	cfg := writeScanConfig(t, dir)
	db := filepath.Join(dir, "random.db")

	out, err := execute(t, "scan", cfg, "-o", db, "--samples", "5", "--seed", "9", "--key", "draws")
	require.NoError(t, err, out)

	tbl := load(t, db, "draws")
	assert.Equal(t, 5, tbl.Len())
	assert.Equal(t, uint64(9), tbl.Meta.Seed)
	assert.Equal(t, "random", tbl.Meta.Mode)
	for _, v := range tbl.Column("M0") {
		assert.Contains(t, []float64{100, 200, 300}, v)
	}
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeScanConfig(t, dir)
	a := filepath.Join(dir, "a.db")
	b := filepath.Join(dir, "b.db")
	merged := filepath.Join(dir, "merged.db")

	_, err := execute(t, "scan", cfg, "-o", a, "--seed", "1")
	require.NoError(t, err)
	_, err = execute(t, "scan", cfg, "-o", b, "--seed", "2")
	require.NoError(t, err)

	out, err := execute(t, "merge", merged, a, b)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Merged 2 tables")
	assert.Contains(t, out, "WARNING", "seeds differ, so do the config snapshots")

	tbl := load(t, merged, store.DefaultKey)
	assert.Equal(t, 6, tbl.Len())
	assert.Equal(t, []float64{1, 1, 1, 2, 2, 2}, tbl.Column(results.ColumnSeed))

	_, err = execute(t, "merge", merged)
	assert.Error(t, err, "merge needs at least one input")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeScanConfig(t, dir)

	out, err := execute(t, "validate", cfg, "--template")
	require.NoError(t, err, out)
	assert.Contains(t, out, "exhaustive scan of 3 points over 2 parameters")
	assert.Contains(t, out, "BLOCK MINPAR")

	out, err = execute(t, "validate", cfg, "--set", "M0=0:1:11")
	require.NoError(t, err, out)
	assert.Contains(t, out, "exhaustive scan of 11 points")

	_, err = execute(t, "validate", cfg, "--set", "TanBeta=1,2")
	assert.Error(t, err, "TanBeta is not settable")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("runner: {binary: x}\nblocks:\n  - block: A\n    lines: [{parameter: P, value: 1}]\n"), 0o644))
	out, err = execute(t, "validate", bad)
	assert.Error(t, err)
	assert.Contains(t, out, "error: ")
}

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, "runs/scan.db", defaultOutput("runs/scan.yml"))
	assert.Equal(t, "x.db", defaultOutput("x.yaml"))
}
