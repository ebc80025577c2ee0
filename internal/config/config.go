// Package config loads scan configuration documents: the runner section, the
// parameter blocks, sampling options and telemetry.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/space"
	"github.com/banshee-data/scanlha/internal/telemetry"
)

// MaxFileSize caps the size of a config file.
const MaxFileSize = 1 * 1024 * 1024

// Sampling configures random-sampling mode.
type Sampling struct {
	// Samples is the number of random points. Zero selects an exhaustive
	// scan.
	Samples int `yaml:"samples,omitempty"`
	// Seed drives random scan distributions and random sampling.
	Seed uint64 `yaml:"seed,omitempty"`
}

// Config is a scan configuration document.
type Config struct {
	Runner    runner.Config    `yaml:"runner"`
	Blocks    []space.Block    `yaml:"blocks"`
	Sampling  Sampling         `yaml:"sampling,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
}

// Load reads and validates the YAML config at path.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yml" && ext != ".yaml" {
		return nil, fmt.Errorf("config file must have .yml or .yaml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > MaxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML document. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config is empty")
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document structure. Parameter-level problems are
// reported by the space built from Blocks, not here.
func (c *Config) Validate() error {
	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	if c.Blocks == nil {
		return fmt.Errorf("no blocks defined")
	}
	if c.Sampling.Samples < 0 {
		return fmt.Errorf("sampling: samples must be non-negative, got %d", c.Sampling.Samples)
	}
	return nil
}

// Marshal returns the YAML snapshot stored alongside results.
func (c *Config) Marshal() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

// Space builds the parameter space declared by the config.
func (c *Config) Space() *space.Space {
	return space.New(c.Blocks, c.Sampling.Seed)
}

// ApplyOverrides applies "NAME=VALUES" settings to sp and mirrors them into
// c.Blocks so the snapshot records what was actually scanned. VALUES is
// "a,b,c" or "start:stop[:count[:distribution]]".
func (c *Config) ApplyOverrides(sp *space.Space, sets []string) error {
	for _, set := range sets {
		name, values, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid override %q: expected NAME=VALUES", set)
		}
		line, err := space.ParseOverride(values)
		if err != nil {
			return fmt.Errorf("override %s: %w", name, err)
		}
		if err := sp.Override(name, line); err != nil {
			return err
		}
	}
	if len(sets) > 0 {
		c.Blocks = sp.Blocks()
		for bi := range c.Blocks {
			for li := range c.Blocks[bi].Lines {
				if l := &c.Blocks[bi].Lines[li]; l.Scan != nil {
					l.Values = nil
				}
			}
		}
	}
	return nil
}
