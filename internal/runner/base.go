package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanlha/internal/expr"
	"github.com/banshee-data/scanlha/internal/fsutil"
	"github.com/banshee-data/scanlha/internal/monitoring"
	"github.com/banshee-data/scanlha/internal/slha"
	"github.com/banshee-data/scanlha/internal/space"
)

// State is the lifecycle stage of a runner.
type State string

const (
	StateUninitialized State = "uninitialized"
	StatePreparing     State = "preparing-workdir"
	StateReady         State = "ready"
	StateClosed        State = "closed"
)

// base holds what every variant shares: the work directory, resolved
// commands, compiled constraints and the template.
type base struct {
	cfg         Config
	tpl         slha.Template
	dir         string
	commands    [][]string
	constraints []*expr.Expression
	state       State
	warned      map[string]bool
	log         monitoring.Logger
}

// prepare allocates the work directory and copies the required files into it.
func prepare(cfg Config, tpl slha.Template) (*base, error) {
	b := &base{
		cfg:    cfg,
		tpl:    tpl,
		state:  StateUninitialized,
		warned: map[string]bool{},
		log:    monitoring.New("runner"),
	}
	for _, src := range cfg.Constraints {
		c, err := expr.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("constraint: %w", err)
		}
		b.constraints = append(b.constraints, c)
	}

	for _, f := range cfg.Files {
		if !fsutil.Exists(f) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFile, f)
		}
	}

	b.state = StatePreparing
	dir, err := fsutil.MakeWorkDir(fsutil.EphemeralRoot(cfg.Tmpfs), "scanlha")
	if err != nil {
		return nil, err
	}
	b.dir = dir

	for _, f := range cfg.Files {
		if err := fsutil.CopyInto(f, dir); err != nil {
			b.Close()
			return nil, fmt.Errorf("copy %s into work directory: %w", f, err)
		}
	}
	return b, nil
}

func (b *base) ready() {
	b.state = StateReady
	b.log.Printf("Work directory %s ready (%d commands, timeout %s)", b.dir, len(b.commands), time.Duration(b.cfg.Timeout))
}

// State returns the lifecycle stage.
func (b *base) State() State {
	return b.state
}

// WorkDir implements Runner.
func (b *base) WorkDir() string {
	return b.dir
}

// resolveCommands locates every executable. Relative paths are looked up in
// the work directory first, then relative to the current directory; bare
// names are searched on PATH.
func (b *base) resolveCommands() error {
	var out [][]string
	for _, argv := range b.cfg.commands() {
		path, err := b.resolveExecutable(argv[0])
		if err != nil {
			return err
		}
		resolved := append([]string{path}, argv[1:]...)
		out = append(out, resolved)
	}
	b.commands = out
	return nil
}

func (b *base) resolveExecutable(name string) (string, error) {
	if !strings.ContainsRune(name, filepath.Separator) {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
		}
		return path, nil
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = []string{filepath.Join(b.dir, name), filepath.Join(b.dir, filepath.Base(name)), name}
	}
	for i, c := range candidates {
		// Work directory candidates must not resolve outside it.
		if i < len(candidates)-1 && fsutil.WithinDir(c, b.dir) != nil {
			continue
		}
		info, err := os.Stat(c)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// build runs the configured build command inside the work directory.
func (b *base) build() error {
	argv := b.cfg.Build
	path, err := b.resolveExecutable(argv[0])
	if err != nil {
		return err
	}
	b.log.Printf("Building in %s: %s", b.dir, strings.Join(argv, " "))

	inv := invoke(context.Background(), b.dir, append([]string{path}, argv[1:]...), time.Duration(b.cfg.BuildTimeout))
	if inv.timedOut {
		return fmt.Errorf("build timed out after %s", time.Duration(b.cfg.BuildTimeout))
	}
	if inv.err != nil {
		return fmt.Errorf("build failed: %w\n%s", inv.err, inv.output)
	}
	return nil
}

// Execute implements Runner.
func (b *base) Execute(ctx context.Context, a space.Assignment) Result {
	start := time.Now()
	res := b.execute(ctx, a)
	res.Duration = time.Since(start)
	return res
}

func (b *base) execute(ctx context.Context, a space.Assignment) Result {
	if b.state != StateReady {
		return Result{Params: a.Clone(), Outcome: OutcomeCrashed, Log: NaN, Detail: fmt.Sprintf("runner is %s", b.state)}
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	files := map[string]string{
		InputFile:  filepath.Join(b.dir, token+".in"),
		OutputFile: filepath.Join(b.dir, token+".out"),
		LogFile:    filepath.Join(b.cfg.LogDir, token+".log"),
		WorkDir:    b.dir,
	}
	defer b.removeArtifacts(files[InputFile], files[OutputFile])

	var transcript bytes.Buffer
	text, values, diags, err := slha.Instantiate(b.tpl, a)
	if err != nil {
		return b.fail(Result{Params: a.Clone(), Outcome: OutcomeSubstitution, Detail: err.Error()}, files, &transcript)
	}
	for _, d := range diags {
		if !b.warned[d.Subject] {
			b.warned[d.Subject] = true
			b.log.Warnf("%s", d)
		}
	}
	res := Result{Params: values, Fields: map[string]float64{}}

	if err := os.WriteFile(files[InputFile], []byte(text), 0o644); err != nil {
		res.Outcome, res.Detail = OutcomeCrashed, fmt.Sprintf("write input: %v", err)
		return b.fail(res, files, &transcript)
	}

	for step, argv := range b.commands {
		argv = substitute(argv, files)
		inv := invoke(ctx, b.dir, argv, time.Duration(b.cfg.Timeout))
		fmt.Fprintf(&transcript, "$ %s\n%s", strings.Join(argv, " "), inv.output)
		if inv.err != nil {
			fmt.Fprintf(&transcript, "[exit: %v]\n", inv.err)
		}

		if inv.timedOut {
			res.Outcome = OutcomeTimeout
			res.Detail = fmt.Sprintf("step %d timed out after %s", step+1, time.Duration(b.cfg.Timeout))
			return b.fail(res, files, &transcript)
		}

		if !fsutil.Exists(files[OutputFile]) {
			if inv.err != nil {
				res.Outcome = OutcomeCrashed
				res.Detail = fmt.Sprintf("step %d: %v", step+1, inv.err)
			} else {
				res.Outcome = OutcomeNoOutput
				res.Detail = fmt.Sprintf("step %d produced no output", step+1)
			}
			return b.fail(res, files, &transcript)
		}

		doc, err := slha.ParseFile(files[OutputFile], b.cfg.Blocks)
		if err != nil {
			res.Outcome, res.Detail = OutcomeParseError, fmt.Sprintf("step %d: %v", step+1, err)
			return b.fail(res, files, &transcript)
		}
		for k, v := range doc.Flatten() {
			res.Fields[k] = v
		}

		last := step == len(b.commands)-1
		if rejected, why := b.rejects(res, last); rejected {
			res.Outcome, res.Detail = OutcomeRejected, why
			return b.fail(res, files, &transcript)
		}
	}

	res.Outcome = OutcomeOK
	return res
}

// rejects evaluates the constraints. A constraint naming a field that has not
// been produced yet is deferred until the final step.
func (b *base) rejects(res Result, final bool) (bool, string) {
	if len(b.constraints) == 0 {
		return false, ""
	}
	vars := make(map[string]float64, len(res.Params)+len(res.Fields))
	for k, v := range res.Params {
		vars[k] = v
	}
	for k, v := range res.Fields {
		vars[k] = v
	}
	for _, c := range b.constraints {
		ok, err := c.Bool(vars)
		if errors.Is(err, expr.ErrUnknownVariable) && !final {
			continue
		}
		if err != nil {
			return true, fmt.Sprintf("constraint %s: %v", c, err)
		}
		if !ok {
			return true, fmt.Sprintf("constraint %s not satisfied", c)
		}
	}
	return false, ""
}

// fail finalises a degraded result: fields are dropped and the log marker is
// set, writing a log file when logs are kept.
func (b *base) fail(res Result, files map[string]string, transcript *bytes.Buffer) Result {
	res.Fields = nil
	if res.Params == nil {
		res.Params = space.Assignment{}
	}
	res.Log = NaN
	if !b.cfg.KeepLog {
		return res
	}

	path := files[LogFile]
	if err := writeLog(path, res, transcript.Bytes()); err != nil {
		b.log.Warnf("write log %s: %v", path, err)
		return res
	}
	res.Log = path
	return res
}

func writeLog(path string, res Result, transcript []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "outcome: %s\ndetail: %s\nparameters:\n", res.Outcome, res.Detail)
	names := make([]string, 0, len(res.Params))
	for k := range res.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(&buf, "  %s = %s\n", k, slha.FormatValue(res.Params[k]))
	}
	buf.WriteString("output:\n")
	buf.Write(transcript)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func (b *base) removeArtifacts(paths ...string) {
	if b.cfg.KeepSLHA {
		return
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.log.Warnf("remove %s: %v", p, err)
		}
	}
}

// Close implements Runner. Problems removing the directory are logged, not
// returned.
func (b *base) Close() error {
	if b.state == StateClosed {
		return nil
	}
	b.state = StateClosed
	if b.dir == "" || !*b.cfg.Cleanup {
		return nil
	}
	existed, err := fsutil.RemoveTree(b.dir)
	switch {
	case err != nil:
		b.log.Warnf("remove work directory %s: %v", b.dir, err)
	case !existed:
		b.log.Warnf("work directory %s was already removed", b.dir)
	}
	return nil
}

func substitute(argv []string, files map[string]string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		for token, path := range files {
			arg = strings.ReplaceAll(arg, token, path)
		}
		out[i] = arg
	}
	return out
}
