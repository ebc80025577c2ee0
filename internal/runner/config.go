package runner

import (
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/scanlha/internal/expr"
)

// Type selects the execution strategy.
type Type string

const (
	// TypeBinary runs one simulator per point.
	TypeBinary Type = "binary"
	// TypeChain runs several programs in sequence, later ones consuming the
	// output of earlier ones.
	TypeChain Type = "chain"
	// TypePrebuild compiles the simulator inside the work directory once,
	// then runs it like TypeBinary.
	TypePrebuild Type = "prebuild"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultBuildTimeout = 10 * time.Minute
	DefaultLogDir       = "logs"
)

// Placeholders recognised in command arguments.
const (
	InputFile  = "{input_file}"
	OutputFile = "{output_file}"
	LogFile    = "{log_file}"
	WorkDir    = "{workdir}"
)

// Duration accepts Go duration strings ("1m30s") or bare seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a duration", node.Line)
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the runner section of a scan config.
type Config struct {
	Type Type `yaml:"type,omitempty"`

	// Binary is invoked as "binary input_file output_file" unless Commands
	// is set.
	Binary   string     `yaml:"binary,omitempty"`
	Commands [][]string `yaml:"commands,omitempty"`
	Build    []string   `yaml:"build,omitempty"`

	// Files are copied into the work directory before anything runs.
	Files []string `yaml:"files,omitempty"`

	Timeout      Duration `yaml:"timeout,omitempty"`
	BuildTimeout Duration `yaml:"build_timeout,omitempty"`

	// Tmpfs is the root for work directories. Empty picks /dev/shm when
	// available.
	Tmpfs string `yaml:"tmpfs,omitempty"`

	KeepSLHA bool   `yaml:"keep_slha,omitempty"`
	KeepLog  bool   `yaml:"keep_log,omitempty"`
	LogDir   string `yaml:"log_dir,omitempty"`

	// Cleanup removes the work directory on Close. Defaults to true.
	Cleanup *bool `yaml:"cleanup,omitempty"`

	// Blocks selects the output sections to parse. Empty keeps all.
	Blocks []string `yaml:"blocks,omitempty"`

	// Constraints are predicates over parameters and parsed output fields.
	// A point failing any of them is rejected.
	Constraints []string `yaml:"constraints,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Type == "" {
		c.Type = TypeBinary
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.BuildTimeout == 0 {
		c.BuildTimeout = Duration(DefaultBuildTimeout)
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.Cleanup == nil {
		cleanup := true
		c.Cleanup = &cleanup
	}
	return c
}

// commands returns the argument lists to run per point.
func (c Config) commands() [][]string {
	if len(c.Commands) > 0 {
		return c.Commands
	}
	if c.Binary == "" {
		return nil
	}
	return [][]string{{c.Binary, InputFile, OutputFile}}
}

// Validate checks the section without touching the filesystem.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch c.Type {
	case TypeBinary, TypePrebuild:
		if len(c.commands()) != 1 {
			return fmt.Errorf("%s runner needs exactly one binary or command", c.Type)
		}
	case TypeChain:
		if len(c.Commands) == 0 {
			return fmt.Errorf("chain runner needs at least one command")
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, c.Type)
	}
	if c.Type == TypePrebuild && len(c.Build) == 0 {
		return fmt.Errorf("prebuild runner needs a build command")
	}
	for i, argv := range c.commands() {
		if len(argv) == 0 || argv[0] == "" {
			return fmt.Errorf("command %d is empty", i+1)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", time.Duration(c.Timeout))
	}
	for _, src := range c.Constraints {
		if _, err := expr.Compile(src); err != nil {
			return fmt.Errorf("constraint: %w", err)
		}
	}
	return nil
}
