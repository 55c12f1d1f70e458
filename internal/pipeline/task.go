// Package pipeline registers named tasks and runs them in dependency order.
//
// A task runs its dependencies in parallel, then each group of its sequence in
// order (tasks inside a group in parallel), then its own function. Within one
// run every task executes at most once, no matter how many tasks depend on it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
)

// Func is the body of a task.
type Func func(ctx context.Context, run *Run) error

// Task is a named unit of work.
type Task struct {
	Name        string
	Description string
	// Deps run in parallel before anything else.
	Deps []string
	// Sequence groups run in order after Deps; tasks in a group run in parallel.
	Sequence [][]string
	// Run may be nil for tasks that only aggregate others.
	Run Func
}

// Run carries per-run values into task functions.
type Run struct {
	ID     string
	Logger *slog.Logger
}

// Registry holds the known tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Names must be unique.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return errors.ValidationError("task name must not be empty").Build()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.Name]; exists {
		return errors.ValidationError(fmt.Sprintf("task %q is already registered", t.Name)).
			WithContext("task", t.Name).Build()
	}
	r.tasks[t.Name] = t
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(tasks ...Task) {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a task by name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	return t, ok
}

// List returns all tasks sorted by name.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check verifies that every name and everything reachable from it is
// registered and free of dependency cycles.
func (r *Registry) Check(names ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.ValidationError(fmt.Sprintf("dependency cycle: %s", cyclePath(path, name))).
				WithContext("task", name).Build()
		}
		t, ok := r.tasks[name]
		if !ok {
			msg := fmt.Sprintf("task %q is not defined", name)
			if len(path) > 0 {
				msg = fmt.Sprintf("task %q (required by %q) is not defined", name, path[len(path)-1])
			}
			return errors.NewError(errors.CategoryNotFound, msg).WithContext("task", name).Build()
		}
		state[name] = visiting
		path = append(path, name)
		for _, child := range children(t) {
			if err := visit(child, path); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return err
		}
	}
	return nil
}

func children(t Task) []string {
	out := append([]string(nil), t.Deps...)
	for _, g := range t.Sequence {
		out = append(out, g...)
	}
	return out
}

func cyclePath(path []string, name string) string {
	start := 0
	for i, p := range path {
		if p == name {
			start = i
			break
		}
	}
	s := ""
	for _, p := range path[start:] {
		s += p + " -> "
	}
	return s + name
}
