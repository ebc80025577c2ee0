// Package runner executes one scan point at a time in an isolated work
// directory: it writes the instantiated input file, runs the simulator under a
// timeout, parses its output and normalises every outcome into a Result.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scanlha/internal/slha"
	"github.com/banshee-data/scanlha/internal/space"
)

var (
	// ErrBinaryNotFound is returned at construction when a configured
	// executable cannot be found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrMissingFile is returned at construction when a required auxiliary
	// file or directory does not exist.
	ErrMissingFile = errors.New("required file not found")
	// ErrUnknownType is returned for an unrecognised runner type.
	ErrUnknownType = errors.New("unknown runner type")
)

// NaN is the log marker of a failed point when no log file was kept.
const NaN = "nan"

// Outcome classifies how a point ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeCrashed      Outcome = "crashed"
	OutcomeNoOutput     Outcome = "missing-output"
	OutcomeParseError   Outcome = "parse-error"
	OutcomeRejected     Outcome = "rejected"
	OutcomeSubstitution Outcome = "substitution-error"
	// OutcomeWorkerFailed marks points whose worker died before running
	// them. Set by the orchestrator, never by a Runner.
	OutcomeWorkerFailed Outcome = "worker-failed"
)

// Failed reports whether the point produced no usable output.
func (o Outcome) Failed() bool {
	return o != OutcomeOK
}

// Result is the normalised outcome of one point. It is not modified after
// Execute returns.
type Result struct {
	// Params holds the assignment plus resolved dependent parameters.
	Params space.Assignment
	// Fields holds the parsed output, keyed "BLOCK.values.<index>".
	Fields  map[string]float64
	Outcome Outcome
	// Log is empty for successful points. Failed points carry the path of
	// their log file when logs are kept, NaN otherwise.
	Log      string
	Detail   string
	Duration time.Duration
}

// Runner executes scan points. A Runner is owned by one worker and is not
// safe for concurrent use.
type Runner interface {
	// Execute runs one point. Failures are reported in the Result, never as
	// a panic or error. Cancelling ctx does not interrupt a running program;
	// only the per-run timeout does.
	Execute(ctx context.Context, a space.Assignment) Result
	// WorkDir returns the isolated work directory.
	WorkDir() string
	// Close removes the work directory if cleanup is enabled.
	Close() error
}

// New constructs the runner variant selected by cfg.Type. Construction fails
// if the work directory cannot be prepared, a required file is missing or an
// executable cannot be found.
func New(cfg Config, tpl slha.Template) (Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	switch cfg.Type {
	case TypeBinary:
		return newBinary(cfg, tpl)
	case TypeChain:
		return newChain(cfg, tpl)
	case TypePrebuild:
		return newPrebuild(cfg, tpl)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, cfg.Type)
	}
}

// Factory builds one Runner per worker from the template of a built scan.
type Factory func(tpl slha.Template) (Runner, error)

// NewFactory returns a Factory that builds runners from cfg.
func NewFactory(cfg Config) Factory {
	return func(tpl slha.Template) (Runner, error) {
		return New(cfg, tpl)
	}
}

// binaryRunner runs a single program per point.
type binaryRunner struct {
	*base
}

func newBinary(cfg Config, tpl slha.Template) (*binaryRunner, error) {
	b, err := prepare(cfg, tpl)
	if err != nil {
		return nil, err
	}
	if err := b.resolveCommands(); err != nil {
		b.Close()
		return nil, err
	}
	b.ready()
	return &binaryRunner{base: b}, nil
}

// chainRunner runs several programs per point. Constraints are checked after
// every step so that a rejected point skips the remaining programs.
type chainRunner struct {
	*base
}

func newChain(cfg Config, tpl slha.Template) (*chainRunner, error) {
	b, err := prepare(cfg, tpl)
	if err != nil {
		return nil, err
	}
	if err := b.resolveCommands(); err != nil {
		b.Close()
		return nil, err
	}
	b.ready()
	return &chainRunner{base: b}, nil
}

// prebuildRunner compiles the simulator inside its work directory once.
type prebuildRunner struct {
	*base
}

func newPrebuild(cfg Config, tpl slha.Template) (*prebuildRunner, error) {
	b, err := prepare(cfg, tpl)
	if err != nil {
		return nil, err
	}
	if err := b.build(); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.resolveCommands(); err != nil {
		b.Close()
		return nil, err
	}
	b.ready()
	return &prebuildRunner{base: b}, nil
}
