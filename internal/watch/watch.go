// Package watch re-runs tasks and reloads browsers when source files change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
)

// DefaultDebounce is the quiet period before a rule fires.
const DefaultDebounce = 300 * time.Millisecond

// Rule maps files under Root to the tasks they trigger.
type Rule struct {
	Name    string
	Root    string
	Include []string
	Exclude []string
	// Tasks run one after another when the rule fires.
	Tasks []string
	// Reload broadcasts a browser reload after the tasks succeed.
	Reload bool
}

// RunFunc runs task names in order.
type RunFunc func(ctx context.Context, tasks []string) error

// Reloader is implemented by the dev server.
type Reloader interface {
	Reload(hash string)
}

type compiledRule struct {
	Rule
	root    string
	matcher *fileset.Matcher
	timer   *time.Timer
}

// Watcher dispatches filesystem events to rules.
type Watcher struct {
	rules    []*compiledRule
	run      RunFunc
	reloader Reloader
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	pending map[int]bool
	wake    chan struct{}

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithRunner(fn RunFunc) Option        { return func(w *Watcher) { w.run = fn } }
func WithReloader(r Reloader) Option      { return func(w *Watcher) { w.reloader = r } }
func WithLogger(l *slog.Logger) Option    { return func(w *Watcher) { w.logger = l } }
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// New compiles the rules. Roots are made absolute.
func New(rules []Rule, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		pending:  map[int]bool{},
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, r := range rules {
		m, err := fileset.NewMatcher(r.Include, r.Exclude)
		if err != nil {
			return nil, ferrors.ValidationError(fmt.Sprintf("watch rule %q", r.Name)).WithCause(err).Build()
		}
		root, err := filepath.Abs(r.Root)
		if err != nil {
			return nil, ferrors.FileSystemError("resolve watch root").WithCause(err).WithContext("root", r.Root).Build()
		}
		w.rules = append(w.rules, &compiledRule{Rule: r, root: root, matcher: m})
	}
	return w, nil
}

// Match returns the names of the rules a path triggers.
func (w *Watcher) Match(path string) []string {
	var names []string
	for _, i := range w.matching(path) {
		names = append(names, w.rules[i].Name)
	}
	return names
}

func (w *Watcher) matching(path string) []int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil
	}
	var idx []int
	for i, r := range w.rules {
		rel, err := filepath.Rel(r.root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if r.matcher.Match(filepath.ToSlash(rel)) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Start adds every rule root recursively and processes events until Shutdown.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.RuntimeError("fsnotify").WithCause(err).Build()
	}
	seen := map[string]bool{}
	for _, r := range w.rules {
		if seen[r.root] {
			continue
		}
		seen[r.root] = true
		if _, err := os.Stat(r.root); err != nil {
			w.logger.Warn("watch root missing", logfields.Rule(r.Name), logfields.File(r.root))
			continue
		}
		addDirsRecursive(fsw, r.root, w.logger)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.fsw, w.cancel = fsw, cancel

	w.wg.Add(2)
	go func() { defer w.wg.Done(); w.loop(ctx) }()
	go func() { defer w.wg.Done(); w.worker(ctx) }()
	w.logger.Info("Watching for changes", logfields.Count(len(w.rules)))
	return nil
}

// Shutdown stops the watcher and waits for a running rule to finish or ctx to expire.
func (w *Watcher) Shutdown(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.mu.Lock()
	for _, r := range w.rules {
		if r.timer != nil {
			r.timer.Stop()
		}
	}
	w.mu.Unlock()
	err := w.fsw.Close()
	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		return ferrors.RuntimeError("close watcher").WithCause(err).Build()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if shouldIgnoreEvent(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			addDirsRecursive(w.fsw, ev.Name, w.logger)
			return
		}
	}
	w.logger.Debug("File change detected", logfields.File(ev.Name), slog.String("op", ev.Op.String()))
	for _, i := range w.matching(ev.Name) {
		w.trigger(i)
	}
}

// trigger restarts the rule's debounce timer.
func (w *Watcher) trigger(i int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rules[i]
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pending[i] = true
		w.mu.Unlock()
		select {
		case w.wake <- struct{}{}:
		default:
		}
	})
}

// worker fires pending rules one at a time, in rule order.
func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}
		w.mu.Lock()
		var due []int
		for i := range w.rules {
			if w.pending[i] {
				due = append(due, i)
				delete(w.pending, i)
			}
		}
		w.mu.Unlock()
		for _, i := range due {
			if ctx.Err() != nil {
				return
			}
			w.fire(ctx, w.rules[i])
		}
	}
}

func (w *Watcher) fire(ctx context.Context, r *compiledRule) {
	logger := w.logger.With(logfields.Rule(r.Name))
	if len(r.Tasks) > 0 && w.run != nil {
		logger.Info("Change detected; running tasks", slog.String("tasks", strings.Join(r.Tasks, ",")))
		if err := w.run(ctx, r.Tasks); err != nil {
			logger.Warn("watch tasks failed", logfields.Error(err))
			return
		}
	}
	if r.Reload && w.reloader != nil {
		w.reloader.Reload(strconv.FormatInt(time.Now().UnixNano(), 10))
	}
}

func addDirsRecursive(fsw *fsnotify.Watcher, root string, logger *slog.Logger) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				logger.Warn("watch add failed", "dir", path, logfields.Error(err))
			}
		}
		return nil
	})
}

// shouldIgnoreEvent reports hidden, swap and editor temp files.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasSuffix(base, "~"), strings.HasSuffix(base, ".swp"), strings.HasSuffix(base, ".swx"):
		return true
	case strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	case base == "Thumbs.db", base == "4913":
		return true
	}
	return false
}
