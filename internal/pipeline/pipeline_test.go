package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
)

type trace struct {
	mu    sync.Mutex
	order []string
}

func (tr *trace) fn(name string) Func {
	return func(context.Context, *Run) error {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		tr.order = append(tr.order, name)
		return nil
	}
}

func (tr *trace) index(name string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, n := range tr.order {
		if n == name {
			return i
		}
	}
	return -1
}

func (tr *trace) count(name string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	n := 0
	for _, o := range tr.order {
		if o == name {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Task{Name: "build"}))
	err := reg.Register(Task{Name: "build"})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	require.Error(t, reg.Register(Task{}))
}

func TestDepsRunBeforeTaskAndOnce(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "greet", Run: tr.fn("greet")},
		Task{Name: "sass", Deps: []string{"greet"}, Run: tr.fn("sass")},
		Task{Name: "jsmin", Deps: []string{"greet"}, Run: tr.fn("jsmin")},
		Task{Name: "serve", Deps: []string{"sass", "jsmin"}, Run: tr.fn("serve")},
	)
	r := NewRunner(reg, WithLogger(quietLogger()))

	require.NoError(t, r.Run(t.Context(), "serve", "sass"))
	assert.Equal(t, 1, tr.count("greet"))
	assert.Equal(t, 1, tr.count("sass"))
	assert.Less(t, tr.index("greet"), tr.index("sass"))
	assert.Less(t, tr.index("sass"), tr.index("serve"))
	assert.Less(t, tr.index("jsmin"), tr.index("serve"))
}

func TestEachRunStartsFresh(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(Task{Name: "sass", Run: tr.fn("sass")})
	r := NewRunner(reg, WithLogger(quietLogger()))
	require.NoError(t, r.Run(t.Context(), "sass"))
	require.NoError(t, r.Run(t.Context(), "sass"))
	assert.Equal(t, 2, tr.count("sass"))
}

func TestSequenceOrdersGroups(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "clean", Run: tr.fn("clean")},
		Task{Name: "sass", Run: tr.fn("sass")},
		Task{Name: "images", Run: tr.fn("images")},
		Task{Name: "copy", Run: tr.fn("copy")},
		Task{Name: "default", Sequence: [][]string{{"clean"}, {"sass", "images"}, {"copy"}}, Run: tr.fn("default")},
	)
	r := NewRunner(reg, WithLogger(quietLogger()))
	require.NoError(t, r.Run(t.Context(), "default"))

	assert.Equal(t, 0, tr.index("clean"))
	assert.Less(t, tr.index("sass"), tr.index("copy"))
	assert.Less(t, tr.index("images"), tr.index("copy"))
	assert.Equal(t, 4, tr.index("default"))
}

func TestFailingGroupStopsSequence(t *testing.T) {
	tr := &trace{}
	lintErr := errors.LintError("2 script errors").Build()
	compileErr := errors.CompileError("sass failed").Build()
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "jslint", Run: func(context.Context, *Run) error { return lintErr }},
		Task{Name: "sass", Run: func(context.Context, *Run) error { return compileErr }},
		Task{Name: "images", Run: tr.fn("images")},
		Task{Name: "copy", Run: tr.fn("copy")},
	)
	r := NewRunner(reg, WithLogger(quietLogger()))

	err := r.Sequence(t.Context(), []string{"jslint", "sass", "images"}, []string{"copy"})
	require.Error(t, err)
	assert.Equal(t, 1, tr.count("images"), "siblings in the failing group still finish")
	assert.Equal(t, 0, tr.count("copy"))

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.ElementsMatch(t, []string{"jslint", "sass"}, FailedTasks(err))
	assert.True(t, errors.HasCategory(err, errors.CategoryLint) || errors.HasCategory(err, errors.CategoryCompile))
}

func TestGroupWaitsForSlowSiblings(t *testing.T) {
	tr := &trace{}
	boom := stderrors.New("boom")
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "jslint", Run: func(context.Context, *Run) error { return boom }},
		Task{Name: "images", Run: func(ctx context.Context, run *Run) error {
			time.Sleep(50 * time.Millisecond)
			return tr.fn("images")(ctx, run)
		}},
	)
	err := NewRunner(reg, WithLogger(quietLogger())).Run(t.Context(), "jslint", "images")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tr.count("images"), "a failure does not abandon running siblings")
	assert.Equal(t, []string{"jslint"}, FailedTasks(err))
}

func TestSharedFailingDependencyReportedOnce(t *testing.T) {
	boom := stderrors.New("boom")
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "copy-sw-scripts", Run: func(context.Context, *Run) error { return boom }},
		Task{Name: "gsw", Deps: []string{"copy-sw-scripts"}},
		Task{Name: "serve", Deps: []string{"copy-sw-scripts"}},
	)
	err := NewRunner(reg, WithLogger(quietLogger())).Run(t.Context(), "gsw", "serve")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"copy-sw-scripts"}, FailedTasks(err))
}

func TestUnknownAndCyclicTasksRejectedUpfront(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "a", Deps: []string{"b"}, Run: tr.fn("a")},
		Task{Name: "b", Sequence: [][]string{{"a"}}, Run: tr.fn("b")},
		Task{Name: "c", Deps: []string{"missing"}, Run: tr.fn("c")},
		Task{Name: "ok", Run: tr.fn("ok")},
	)
	r := NewRunner(reg, WithLogger(quietLogger()))

	err := r.Run(t.Context(), "ok", "a")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "a -> b -> a")

	err = r.Run(t.Context(), "ok", "c")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	assert.Contains(t, err.Error(), `required by "c"`)

	err = r.Run(t.Context(), "nope")
	require.Error(t, err)
	assert.Empty(t, tr.order, "nothing runs when validation fails")
}

func TestConcurrencyBound(t *testing.T) {
	var running, peak atomic.Int32
	body := func(context.Context, *Run) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	reg := NewRegistry()
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, n := range names {
		reg.MustRegister(Task{Name: n, Run: body})
	}
	require.NoError(t, NewRunner(reg, WithConcurrency(2), WithLogger(quietLogger())).Run(t.Context(), names...))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSkipTurnsTaskIntoNoop(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "copy", Run: tr.fn("copy")},
		Task{Name: "watchers", Run: tr.fn("watchers")},
		Task{Name: "default", Sequence: [][]string{{"copy"}, {"watchers"}}},
	)
	require.NoError(t, NewRunner(reg, WithSkip("watchers"), WithLogger(quietLogger())).Run(t.Context(), "default"))
	assert.Equal(t, []string{"copy"}, tr.order)
}

func TestCanceledContext(t *testing.T) {
	tr := &trace{}
	reg := NewRegistry()
	reg.MustRegister(Task{Name: "sass", Run: tr.fn("sass")})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := NewRunner(reg, WithLogger(quietLogger())).Run(ctx, "sass")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.order)
}

type countingRecorder struct {
	metrics.NoopRecorder
	mu      sync.Mutex
	results map[string]metrics.ResultLabel
	runs    []metrics.ResultLabel
}

func (c *countingRecorder) IncTaskResult(task string, result metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[task] = result
}

func (c *countingRecorder) IncRunOutcome(outcome metrics.ResultLabel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, outcome)
}

func TestRecorderAndRunID(t *testing.T) {
	rec := &countingRecorder{results: map[string]metrics.ResultLabel{}}
	var ids []string
	reg := NewRegistry()
	reg.MustRegister(
		Task{Name: "ok", Run: func(_ context.Context, run *Run) error { ids = append(ids, run.ID); return nil }},
		Task{Name: "bad", Deps: []string{"ok"}, Run: func(context.Context, *Run) error { return stderrors.New("x") }},
	)
	var logs bytes.Buffer
	r := NewRunner(reg, WithRecorder(rec), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.Error(t, r.Run(t.Context(), "bad"))

	assert.Equal(t, metrics.ResultSuccess, rec.results["ok"])
	assert.Equal(t, metrics.ResultFailed, rec.results["bad"])
	assert.Equal(t, []metrics.ResultLabel{metrics.ResultFailed}, rec.runs)
	require.Len(t, ids, 1)
	assert.Contains(t, logs.String(), "run_id="+ids[0])
	assert.Contains(t, logs.String(), "Starting 'ok'...")
	assert.Contains(t, logs.String(), "task=bad")
}

func TestListSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Task{Name: "sass"}, Task{Name: "clean"}, Task{Name: "images"})
	var names []string
	for _, task := range reg.List() {
		names = append(names, task.Name)
	}
	assert.Equal(t, []string{"clean", "images", "sass"}, names)
}
