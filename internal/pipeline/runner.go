package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

// TaskError records which task failed.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %s: %v", e.Task, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }

// Runner executes tasks from a registry.
type Runner struct {
	registry    *Registry
	logger      *slog.Logger
	recorder    metrics.Recorder
	concurrency int
	skip        map[string]bool
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

func WithRecorder(rec metrics.Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithConcurrency bounds how many task bodies execute at once.
func WithConcurrency(n int) Option { return func(r *Runner) { r.concurrency = n } }

// WithSkip turns the named tasks into no-ops.
func WithSkip(names ...string) Option {
	return func(r *Runner) {
		for _, n := range names {
			r.skip[n] = true
		}
	}
}

func NewRunner(registry *Registry, opts ...Option) *Runner {
	r := &Runner{
		registry:    registry,
		logger:      slog.Default(),
		recorder:    metrics.NoopRecorder{},
		concurrency: 4,
		skip:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Registry returns the registry the runner executes from.
func (r *Runner) Registry() *Registry { return r.registry }

// Run executes the named tasks in parallel within one run.
func (r *Runner) Run(ctx context.Context, names ...string) error {
	return r.Sequence(ctx, names)
}

// Sequence executes groups in order within one run. The first failing group
// stops the sequence.
func (r *Runner) Sequence(ctx context.Context, groups ...[]string) error {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}
	if err := r.registry.Check(all...); err != nil {
		return err
	}

	ex := r.newExecution()
	ex.logger.Info("Run started", slog.Any("tasks", groups))
	start := time.Now()
	err := ex.sequence(ctx, groups)
	dur := time.Since(start)

	r.recorder.ObserveRunDuration(dur)
	r.recorder.IncRunOutcome(metrics.ResultFor(err, ctx.Err() != nil))
	if err != nil {
		ex.logger.Error("Run failed", logfields.Duration(dur), logfields.Error(err))
		return err
	}
	ex.logger.Info("Run finished", logfields.Duration(dur))
	return nil
}

type taskState struct {
	once sync.Once
	err  error
}

type execution struct {
	r      *Runner
	run    *Run
	logger *slog.Logger
	sem    chan struct{}

	mu    sync.Mutex
	state map[string]*taskState
}

func (r *Runner) newExecution() *execution {
	id := uuid.NewString()
	logger := r.logger.With(logfields.RunID(id))
	return &execution{
		r:      r,
		run:    &Run{ID: id, Logger: logger},
		logger: logger,
		sem:    make(chan struct{}, r.concurrency),
		state:  make(map[string]*taskState),
	}
}

func (ex *execution) stateFor(name string) *taskState {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	st, ok := ex.state[name]
	if !ok {
		st = &taskState{}
		ex.state[name] = st
	}
	return st
}

// task runs name once; concurrent callers wait for the first execution.
func (ex *execution) task(ctx context.Context, name string) error {
	st := ex.stateFor(name)
	st.once.Do(func() { st.err = ex.execute(ctx, name) })
	return st.err
}

func (ex *execution) execute(ctx context.Context, name string) error {
	t, _ := ex.r.registry.Get(name)
	if ex.r.skip[name] {
		ex.logger.Debug("Skipping task", logfields.Task(name))
		return nil
	}
	if err := ex.group(ctx, t.Deps); err != nil {
		return err
	}
	if err := ex.sequence(ctx, t.Sequence); err != nil {
		return err
	}
	if t.Run == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &TaskError{Task: name, Err: err}
	}

	select {
	case ex.sem <- struct{}{}:
	case <-ctx.Done():
		return &TaskError{Task: name, Err: ctx.Err()}
	}
	defer func() { <-ex.sem }()

	logger := ex.logger.With(logfields.Task(name))
	logger.Info(fmt.Sprintf("Starting '%s'...", name))
	start := time.Now()
	err := t.Run(ctx, &Run{ID: ex.run.ID, Logger: logger})
	dur := time.Since(start)

	ex.r.recorder.ObserveTaskDuration(name, dur)
	ex.r.recorder.IncTaskResult(name, metrics.ResultFor(err, ctx.Err() != nil))
	if err != nil {
		logger.Error(fmt.Sprintf("'%s' errored after %s", name, dur.Round(time.Millisecond)), logfields.Duration(dur), logfields.Error(err))
		return &TaskError{Task: name, Err: err}
	}
	logger.Info(fmt.Sprintf("Finished '%s' after %s", name, dur.Round(time.Millisecond)), logfields.Duration(dur))
	return nil
}

func (ex *execution) sequence(ctx context.Context, groups [][]string) error {
	for _, g := range groups {
		if err := ex.group(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// group runs names in parallel and waits for all of them. Failures are
// aggregated; the same failure reached through several paths is reported once.
func (ex *execution) group(ctx context.Context, names []string) error {
	switch len(names) {
	case 0:
		return nil
	case 1:
		return ex.task(ctx, names[0])
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
		seen   []error
	)
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			err := ex.task(ctx, name)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range seen {
				if s == err {
					return err
				}
			}
			seen = append(seen, err)
			result = multierror.Append(result, err)
			return err
		})
	}
	// Wait reports the first failure; every failure is in result.
	if err := g.Wait(); err == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

// FailedTasks lists the tasks that failed in err, in order of appearance.
func FailedTasks(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		var merr *multierror.Error
		if stderrors.As(e, &merr) {
			for _, inner := range merr.Errors {
				walk(inner)
			}
			return
		}
		var te *TaskError
		if stderrors.As(e, &te) {
			out = append(out, te.Task)
		}
	}
	walk(err)
	return out
}
