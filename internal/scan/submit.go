package scan

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanlha/internal/results"
	"github.com/banshee-data/scanlha/internal/runner"
	"github.com/banshee-data/scanlha/internal/space"
)

// Submit runs the built points on the given number of workers, each owning
// one Runner, and returns the merged table. workers <= 0 uses one worker per
// CPU.
//
// In exhaustive mode rows follow the order of Assignments regardless of the
// number of workers. In random mode worker w draws its share of the samples
// from a generator seeded with Seed+w; rows are concatenated by worker, so a
// given seed and worker count always yields the same points.
//
// Cancelling ctx stops dispatching new chunks. Programs already running
// finish or time out. The partial table is returned with an error wrapping
// ctx.Err().
func (s *Scan) Submit(ctx context.Context, workers int) (*results.Table, error) {
	if !s.built {
		return nil, ErrNotBuilt
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > s.total {
		workers = s.total
	}
	if workers < 1 {
		workers = 1
	}

	s.mu.Lock()
	if s.state.Status == StatusRunning {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	now := s.opts.Clock.Now()
	s.state = State{
		Status:    StatusRunning,
		Mode:      s.mode,
		Workers:   workers,
		StartedAt: &now,
		Total:     s.total,
	}
	s.mu.Unlock()

	runners, err := s.startRunners(workers)
	if err != nil {
		s.finish(err)
		return nil, err
	}
	defer s.closeRunners(runners)

	s.log.Printf("Running %d points on %d worker(s)", s.total, workers)

	var rows []runner.Result
	switch {
	case s.mode == ModeRandom:
		rows = s.runRandom(ctx, runners)
	case workers == 1:
		rows = s.runSequential(ctx, runners[0])
	default:
		rows = s.runChunked(ctx, runners)
	}

	s.table = results.New(results.Meta{
		Config:    s.opts.Config,
		Mode:      string(s.mode),
		Seed:      s.opts.Seed,
		Parallel:  workers,
		CreatedAt: s.opts.Clock.Now().UTC(),
	}, rows)
	s.report(ctx)

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("scan stopped after %d of %d points: %w", len(rows), s.total, err)
		s.finish(err)
		return s.table, err
	}
	s.finish(nil)
	return s.table, nil
}

// startRunners builds one Runner per worker. Any failure is fatal to the
// submission and releases the runners built so far.
func (s *Scan) startRunners(workers int) ([]runner.Runner, error) {
	runners := make([]runner.Runner, 0, workers)
	for w := 0; w < workers; w++ {
		r, err := s.factory(s.template)
		if err != nil {
			s.closeRunners(runners)
			return nil, fmt.Errorf("starting worker %d: %w", w, err)
		}
		runners = append(runners, r)
	}
	return runners, nil
}

func (s *Scan) closeRunners(runners []runner.Runner) {
	for w, r := range runners {
		if err := r.Close(); err != nil {
			s.log.Warnf("closing worker %d: %v", w, err)
		}
	}
}

func (s *Scan) execute(ctx context.Context, r runner.Runner, a space.Assignment) runner.Result {
	res := r.Execute(ctx, a)
	s.opts.Recorder.Point(ctx, string(res.Outcome), res.Duration)
	return res
}

func (s *Scan) runSequential(ctx context.Context, r runner.Runner) []runner.Result {
	out := make([]runner.Result, 0, s.total)
	for _, a := range s.assignments {
		if ctx.Err() != nil {
			break
		}
		res := s.execute(ctx, r, a)
		s.progress(res, true)
		out = append(out, res)
	}
	return out
}

// chunk is the half-open point range [start, end).
type chunk struct {
	start, end int
}

// partition splits total points into contiguous chunks of at most
// ceil(total/workers) and at most maxChunk points. Every point is covered
// exactly once.
func partition(total, workers, maxChunk int) []chunk {
	if total <= 0 || workers <= 0 {
		return nil
	}
	size := (total + workers - 1) / workers
	if maxChunk > 0 && size > maxChunk {
		size = maxChunk
	}
	chunks := make([]chunk, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		chunks = append(chunks, chunk{start: start, end: min(start+size, total)})
	}
	return chunks
}

type chunkResult struct {
	chunk   chunk
	results []runner.Result
}

func (s *Scan) runChunked(ctx context.Context, runners []runner.Runner) []runner.Result {
	chunks := partition(s.total, len(runners), s.opts.MaxChunk)
	jobs := make(chan chunk)
	done := make(chan chunkResult, len(chunks))

	var g errgroup.Group
	for w, r := range runners {
		g.Go(func() error {
			for c := range jobs {
				done <- s.runChunk(ctx, w, r, c)
			}
			return nil
		})
	}

dispatch:
	for _, c := range chunks {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- c:
		}
	}
	close(jobs)
	_ = g.Wait()
	close(done)

	finished := make([]chunkResult, 0, len(chunks))
	for cr := range done {
		finished = append(finished, cr)
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].chunk.start < finished[j].chunk.start
	})

	out := make([]runner.Result, 0, s.total)
	for _, cr := range finished {
		out = append(out, cr.results...)
	}
	return out
}

// runChunk runs the points of c. If the worker panics, the points it did
// not finish are marked OutcomeWorkerFailed so they are counted rather than
// silently dropped.
func (s *Scan) runChunk(ctx context.Context, worker int, r runner.Runner, c chunk) (cr chunkResult) {
	cr.chunk = c
	cr.results = make([]runner.Result, 0, c.end-c.start)

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		from := c.start + len(cr.results)
		s.addFailure(ChunkFailure{Worker: worker, Start: from, End: c.end, Reason: fmt.Sprint(p)})
		for i := from; i < c.end; i++ {
			res := runner.Result{
				Params:  s.assignments[i].Clone(),
				Outcome: runner.OutcomeWorkerFailed,
				Log:     runner.NaN,
				Detail:  fmt.Sprintf("worker %d failed: %v", worker, p),
			}
			s.progress(res, true)
			cr.results = append(cr.results, res)
		}
	}()

	for i := c.start; i < c.end; i++ {
		res := s.execute(ctx, r, s.assignments[i])
		s.progress(res, true)
		cr.results = append(cr.results, res)
	}
	return cr
}

// shares splits total samples over workers, giving the remainder to the
// first workers.
func shares(total, workers int) []int {
	out := make([]int, workers)
	for w := range out {
		out[w] = total / workers
		if w < total%workers {
			out[w]++
		}
	}
	return out
}

func (s *Scan) runRandom(ctx context.Context, runners []runner.Runner) []runner.Result {
	quotas := shares(s.total, len(runners))
	outs := make([][]runner.Result, len(runners))

	var g errgroup.Group
	for w, r := range runners {
		g.Go(func() error {
			outs[w] = s.sample(ctx, w, r, quotas[w])
			return nil
		})
	}
	_ = g.Wait()

	out := make([]runner.Result, 0, s.total)
	for _, o := range outs {
		out = append(out, o...)
	}
	return out
}

// sample draws points until quota of them pass the runner's constraints.
// Rejected points are redrawn and never reach the table.
func (s *Scan) sample(ctx context.Context, worker int, r runner.Runner, quota int) (out []runner.Result) {
	rng := rand.New(rand.NewPCG(s.opts.Seed+uint64(worker), 0))
	budget := quota * s.opts.MaxDraws

	defer func() {
		if p := recover(); p != nil {
			s.addFailure(ChunkFailure{Worker: worker, Start: len(out), End: quota, Reason: fmt.Sprint(p)})
		}
	}()

	for draws := 0; len(out) < quota; draws++ {
		if ctx.Err() != nil {
			return out
		}
		if draws >= budget {
			s.addWarning("worker %d accepted %d of %d points after %d draws", worker, len(out), quota, draws)
			return out
		}
		res := s.execute(ctx, r, s.draw(rng))
		if res.Outcome == runner.OutcomeRejected {
			s.progress(res, false)
			continue
		}
		s.progress(res, true)
		out = append(out, res)
	}
	return out
}

// report logs the summary of the finished submission.
func (s *Scan) report(ctx context.Context) {
	st := s.table.Stats()
	missing := s.total - st.Total

	s.mu.Lock()
	s.state.Missing = missing
	s.mu.Unlock()

	s.log.Printf("%d out of %d points are invalid", st.Failed, st.Total)
	if missing > 0 {
		s.addWarning("%d of %d points were not run", missing, s.total)
	}
	if st.OK == 0 {
		s.addWarning("no valid points, check the runner configuration and logs")
	}
	s.opts.Recorder.Scan(ctx, string(s.mode), st.OK == 0)
}

func (s *Scan) finish(err error) {
	now := s.opts.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompletedAt = &now
	if err != nil {
		s.state.Status = StatusError
		s.state.Error = err.Error()
		return
	}
	s.state.Status = StatusComplete
}
