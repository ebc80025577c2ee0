// Package scan expands a parameter space into scan points, runs them across a
// pool of workers that each own a Runner, and merges the results in order.
package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/scanlha/internal/monitoring"
	"github.com/banshee-data/scanlha/internal/results"
	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/slha"
	"github.com/banshee-data/scanlha/internal/space"
	"github.com/banshee-data/scanlha/internal/telemetry"
	"github.com/banshee-data/scanlha/internal/timeutil"
)

var (
	// ErrNoScanParameters is returned by Build when nothing is scanned.
	ErrNoScanParameters = errors.New("no scan parameters declared")
	// ErrNotBuilt is returned by Submit before a successful Build.
	ErrNotBuilt = errors.New("scan has not been built")
	// ErrRunning is returned by Submit while another submission runs.
	ErrRunning = errors.New("scan already in progress")
)

// DefaultMaxChunk caps the number of points handed to a worker at once.
const DefaultMaxChunk = 1000

// Mode selects how points are produced.
type Mode string

const (
	// ModeExhaustive runs the full Cartesian product of scanned values.
	ModeExhaustive Mode = "exhaustive"
	// ModeRandom draws a fixed number of random points.
	ModeRandom Mode = "random"
)

// Options configures a Scan.
type Options struct {
	// Samples selects random mode when positive.
	Samples int
	// Seed seeds the per-worker generators in random mode.
	Seed uint64
	// MaxChunk caps the chunk size in exhaustive mode.
	MaxChunk int
	// MaxDraws caps the draws per accepted point in random mode, so that
	// constraints rejecting almost everything cannot loop forever.
	MaxDraws int
	// Config is the YAML snapshot stored with the results.
	Config   string
	Recorder *telemetry.Recorder
	// Clock stamps the submission state. Defaults to the wall clock.
	Clock timeutil.Clock
}

// DefaultMaxDraws is the default draw budget per accepted random point.
const DefaultMaxDraws = 100

// Scan orchestrates one scan. Build and Submit must not be called
// concurrently; State may be called at any time.
type Scan struct {
	space   *space.Space
	factory runner.Factory
	opts    Options
	log     monitoring.Logger

	mode        Mode
	template    slha.Template
	assignments []space.Assignment
	draw        space.Draw
	total       int
	built       bool
	table       *results.Table

	mu    sync.RWMutex
	state State
}

// New returns a Scan over sp. factory builds one Runner per worker from the
// template rendered by Build.
func New(sp *space.Space, factory runner.Factory, opts Options) *Scan {
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = DefaultMaxChunk
	}
	if opts.MaxDraws <= 0 {
		opts.MaxDraws = DefaultMaxDraws
	}
	if opts.Recorder == nil {
		opts.Recorder = telemetry.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	mode := ModeExhaustive
	if opts.Samples > 0 {
		mode = ModeRandom
	}
	return &Scan{
		space:   sp,
		factory: factory,
		opts:    opts,
		mode:    mode,
		log:     monitoring.New("scan"),
		state:   State{Status: StatusIdle},
	}
}

// Mode returns the scan mode.
func (s *Scan) Mode() Mode {
	return s.mode
}

// Template returns the input template rendered by the last Build.
func (s *Scan) Template() slha.Template {
	return s.template
}

// Build validates the space, renders the input template and computes the
// points to run. It returns the number of points. Build may be called again
// after the space changed.
func (s *Scan) Build() (int, error) {
	s.built = false
	s.assignments = nil
	s.draw = nil

	ok, diags := s.space.Validate()
	for _, d := range diags {
		if d.Severity == space.SeverityError {
			s.log.Errorf("%s", d)
		}
	}
	if !ok {
		return 0, fmt.Errorf("%w: %d problem(s)", space.ErrInvalidSpace, countErrors(diags))
	}

	dims, err := s.space.Dimensions()
	if err != nil {
		return 0, err
	}
	randoms := s.space.ParamsOfKind(space.KindRandom)
	s.template = slha.NewTemplate(s.space)

	switch s.mode {
	case ModeRandom:
		if len(dims) == 0 && len(randoms) == 0 {
			return 0, ErrNoScanParameters
		}
		if s.draw, err = s.space.Sampler(); err != nil {
			return 0, err
		}
		s.total = s.opts.Samples
	default:
		if len(dims) == 0 {
			return 0, ErrNoScanParameters
		}
		if len(randoms) > 0 {
			return 0, fmt.Errorf("parameter %s has a random distribution, which needs sampling mode", randoms[0].Name)
		}
		fixed, err := s.space.Fixed()
		if err != nil {
			return 0, err
		}
		if s.assignments, err = space.Product(dims, fixed); err != nil {
			return 0, err
		}
		s.total = len(s.assignments)
	}

	s.built = true
	s.log.Printf("Built %s scan of %d points over %d parameters", s.mode, s.total, len(dims)+len(randoms))
	return s.total, nil
}

func countErrors(diags []space.Diagnostic) int {
	n := 0
	for _, d := range diags {
		if d.Severity == space.SeverityError {
			n++
		}
	}
	return n
}

// Total returns the number of points computed by Build.
func (s *Scan) Total() int {
	return s.total
}

// Assignments returns a copy of the exhaustive points in run order.
func (s *Scan) Assignments() []space.Assignment {
	out := make([]space.Assignment, len(s.assignments))
	for i, a := range s.assignments {
		out[i] = a.Clone()
	}
	return out
}

// Results returns the table of the last Submit, nil before.
func (s *Scan) Results() *results.Table {
	return s.table
}

// Status is the lifecycle of a submission.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// ChunkFailure records a chunk whose worker died.
type ChunkFailure struct {
	Worker int    `json:"worker"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

// State reports the progress of the current or last submission.
type State struct {
	Status      Status         `json:"status"`
	Mode        Mode           `json:"mode,omitempty"`
	Workers     int            `json:"workers,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Rejected    int            `json:"rejected"`
	Missing     int            `json:"missing"`
	Failures    []ChunkFailure `json:"failures,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// State returns a copy of the submission state.
func (s *Scan) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Failures = append([]ChunkFailure(nil), s.state.Failures...)
	st.Warnings = append([]string(nil), s.state.Warnings...)
	return st
}

func (s *Scan) addWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warnf("%s", msg)
	s.mu.Lock()
	s.state.Warnings = append(s.state.Warnings, msg)
	s.mu.Unlock()
}

func (s *Scan) addFailure(f ChunkFailure) {
	s.log.Errorf("worker %d failed on points %d-%d: %s", f.Worker, f.Start, f.End, f.Reason)
	s.mu.Lock()
	s.state.Failures = append(s.state.Failures, f)
	s.mu.Unlock()
}

// progress records one finished point. kept is false for random-mode
// rejections, which are redrawn instead of landing in the table.
func (s *Scan) progress(r runner.Result, kept bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Outcome == runner.OutcomeRejected {
		s.state.Rejected++
	}
	if !kept {
		return
	}
	s.state.Completed++
	if r.Outcome.Failed() {
		s.state.Failed++
	}
}
