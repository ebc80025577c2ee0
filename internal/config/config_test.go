package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/space"
)

const example = `
runner:
  binary: ./SPheno
  timeout: 30
  keep_log: true
  blocks: [MASS]
blocks:
  - block: MINPAR
    lines:
      - {id: 1, parameter: M0, value: 1e3}
      - {id: 3, parameter: TanBeta, scan: [1, 5, 5], argument: true}
      - {id: 4, parameter: Sign, expr: "{%TanBeta%} * 2"}
sampling: {seed: 42}
telemetry: {endpoint: "localhost:4317", insecure: true, interval: 5s}
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scan.yml", example))
	require.NoError(t, err)

	assert.Equal(t, "./SPheno", cfg.Runner.Binary)
	assert.Equal(t, runner.Duration(30*time.Second), cfg.Runner.Timeout)
	assert.True(t, cfg.Runner.KeepLog)
	assert.Equal(t, []string{"MASS"}, cfg.Runner.Blocks)

	require.Len(t, cfg.Blocks, 1)
	assert.Equal(t, "MINPAR", cfg.Blocks[0].Name)
	require.Len(t, cfg.Blocks[0].Lines, 3)
	assert.Equal(t, space.Number("1e3"), *cfg.Blocks[0].Lines[0].Value)

	assert.Equal(t, uint64(42), cfg.Sampling.Seed)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.Interval)

	sp := cfg.Space()
	require.True(t, sp.Valid(), "%v", sp.Diagnostics())
	p, ok := sp.Param("TanBeta")
	require.True(t, ok)
	assert.Equal(t, space.Nums(1, 2, 3, 4, 5), p.Line.Values)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "scan.json", example, "extension"},
		{"empty", "scan.yaml", "", "empty"},
		{"unknown key", "scan.yaml", example + "extra: 1\n", "extra"},
		{"no blocks", "scan.yaml", "runner: {binary: ./x}\n", "no blocks"},
		{"bad runner", "scan.yaml", "runner: {type: docker, binary: x}\nblocks: []\n", "unknown runner type"},
		{"negative samples", "scan.yaml", "runner: {binary: x}\nblocks: []\nsampling: {samples: -1}\n", "non-negative"},
		{"non-scalar value", "scan.yaml", "runner: {binary: x}\nblocks: [{block: A, lines: [{id: 1, value: [1]}]}]\n", "expected a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadTooLarge(t *testing.T) {
	body := example + "# " + strings.Repeat("x", MaxFileSize) + "\n"
	_, err := Load(writeConfig(t, "big.yml", body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(example))
	require.NoError(t, err)

	snapshot, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, snapshot, "timeout: 30s")
	assert.Contains(t, snapshot, "TanBeta")

	again, err := Parse([]byte(snapshot))
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestApplyOverrides(t *testing.T) {
	cfg, err := Parse([]byte(example))
	require.NoError(t, err)
	sp := cfg.Space()

	require.NoError(t, cfg.ApplyOverrides(sp, []string{"TanBeta=10,20"}))
	p, _ := sp.Param("TanBeta")
	assert.Equal(t, space.Nums(10, 20), p.Line.Values)
	assert.Equal(t, space.Nums(10, 20), cfg.Blocks[0].Lines[1].Values)
	assert.Nil(t, cfg.Blocks[0].Lines[1].Scan)

	require.NoError(t, cfg.ApplyOverrides(sp, []string{"MINPAR.3=0:1:3"}))
	p, _ = sp.Param("TanBeta")
	assert.Equal(t, space.Nums(0, 0.5, 1), p.Line.Values)
	assert.Equal(t, []space.Number{"0", "1", "3"}, cfg.Blocks[0].Lines[1].Scan)
	assert.Nil(t, cfg.Blocks[0].Lines[1].Values, "snapshot keeps the descriptor only")

	for _, bad := range []string{"TanBeta", "=1", "M0=1,2", "Nope=1", "TanBeta=x"} {
		assert.Error(t, cfg.ApplyOverrides(sp, []string{bad}), bad)
	}
}
