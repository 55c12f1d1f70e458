// Package tasks wires the stages, servers and watchers into named tasks.
package tasks

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/schedule"
	"git.home.luguber.info/inful/assetbuilder/internal/server"
	"git.home.luguber.info/inful/assetbuilder/internal/session"
	"git.home.luguber.info/inful/assetbuilder/internal/stages"
	"git.home.luguber.info/inful/assetbuilder/internal/watch"
)

// Task names.
const (
	Greet         = "greet"
	Clean         = "clean"
	ScssLint      = "scsslint"
	Sass          = "sass"
	JSLint        = "jslint"
	JSMin         = "jsmin"
	Images        = "images"
	Serve         = "serve"
	ServeDist     = "serve:dist"
	Copy          = "copy"
	HTML          = "html"
	Pagespeed     = "pagespeed"
	CopySWScripts = "copy-sw-scripts"
	GSW           = "gsw"
	Watchers      = "watchers"
	Lint          = "lint"
	Build         = "build"
	Sync          = "sync"
	Default       = "default"
)

// Session service names.
const (
	serviceDevServer  = "server"
	serviceDistServer = "server:dist"
	serviceScheduler  = "pagespeed-schedule"
)

// Wiring builds the registry and owns what the long-running tasks start.
type Wiring struct {
	cfg      *config.Config
	env      *stages.Env
	session  *session.Session
	recorder metrics.Recorder
	metrics  http.Handler
	logger   *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	runner *pipeline.Runner
	// watchRules is the rule set a watch task starts; tests may swap it.
	watchRules func(name string) []watch.Rule
}

// Option customises New.
type Option func(*Wiring)

func WithRecorder(r metrics.Recorder) Option { return func(w *Wiring) { w.recorder = r } }

// WithMetricsHandler mounts h at /metrics on the dev servers when serve.metrics is on.
func WithMetricsHandler(h http.Handler) Option { return func(w *Wiring) { w.metrics = h } }

func WithLogger(l *slog.Logger) Option { return func(w *Wiring) { w.logger = l } }

// WithDebounce sets the quiet period of the watchers.
func WithDebounce(d time.Duration) Option { return func(w *Wiring) { w.debounce = d } }

// New creates the wiring for one invocation.
func New(cfg *config.Config, env *stages.Env, sess *session.Session, opts ...Option) *Wiring {
	w := &Wiring{
		cfg:      cfg,
		env:      env,
		session:  sess,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		debounce: watch.DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.watchRules = w.rules
	return w
}

// Runner registers every task and returns a runner over them. Watch tasks
// re-enter this runner when files change.
func (w *Wiring) Runner(opts ...pipeline.Option) (*pipeline.Runner, error) {
	reg := pipeline.NewRegistry()
	if err := w.register(reg); err != nil {
		return nil, err
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(w.logger), pipeline.WithRecorder(w.recorder), pipeline.WithConcurrency(w.cfg.Concurrency)}, opts...)
	r := pipeline.NewRunner(reg, opts...)
	w.mu.Lock()
	w.runner = r
	w.mu.Unlock()
	return r, nil
}

func (w *Wiring) register(reg *pipeline.Registry) error {
	defaultSeq := [][]string{
		{Clean},
		{ScssLint, Sass, JSLint, JSMin, Images},
	}
	if w.cfg.Pagespeed.InDefault {
		defaultSeq = append(defaultSeq, []string{Pagespeed})
	}
	defaultSeq = append(defaultSeq, []string{Copy}, []string{GSW}, []string{Watchers})

	defs := []pipeline.Task{
		{Name: Greet, Description: "Log a greeting for the project", Run: w.greet},
		{Name: Clean, Description: "Remove tmp and dist (keeping dist/.git)", Run: w.env.Clean},
		{Name: ScssLint, Description: "Lint styles", Run: w.env.ScssLint},
		{Name: Sass, Description: "Compile styles next to their sources", Run: w.env.Sass},
		{Name: JSLint, Description: "Lint scripts", Run: w.env.JSLint},
		{Name: JSMin, Description: "Transpile and minify scripts", Run: w.env.JSMin},
		{Name: Images, Description: "Optimise images in place", Run: w.env.Images},
		{Name: Serve, Description: "Serve .tmp and app with live reload", Deps: []string{Sass, JSMin}, Run: w.serve},
		{Name: ServeDist, Description: "Build and serve dist", Deps: []string{Default}, Run: w.serveDist},
		{Name: Copy, Description: "Copy the app and server config into dist", Run: w.env.Copy},
		{Name: HTML, Description: "Concatenate build blocks of the pages into dist", Run: w.env.HTML},
		{Name: Pagespeed, Description: "Run PageSpeed Insights for the project url", Run: w.env.Pagespeed},
		{Name: CopySWScripts, Description: "Copy service worker import scripts into dist", Run: w.env.CopySWScripts},
		{Name: GSW, Description: "Generate the offline service worker", Deps: []string{CopySWScripts}, Run: w.env.GSW},
		{Name: Watchers, Description: "Rebuild on source changes", Run: w.watchers},
		{Name: Lint, Description: "Lint scripts and styles", Deps: []string{JSLint, ScssLint}},
		{Name: Build, Description: "Clean, build pages, copy", Sequence: [][]string{{Clean}, {HTML}, {Copy}}},
		{Name: Sync, Description: "Serve with live reload and recompile styles", Deps: []string{Sass}, Run: w.sync},
		{Name: Default, Description: "Build everything and watch", Deps: []string{Greet}, Sequence: defaultSeq},
	}
	for _, t := range defs {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wiring) greet(_ context.Context, run *pipeline.Run) error {
	run.Logger.Info("Hello, tasks are initialising for " + w.cfg.Project.Name)
	return nil
}

// runTasks runs names one after another in a fresh run.
func (w *Wiring) runTasks(ctx context.Context, names []string) error {
	w.mu.Lock()
	r := w.runner
	w.mu.Unlock()
	if r == nil {
		return ferrors.InternalError("task runner not initialised").Build()
	}
	groups := make([][]string, 0, len(names))
	for _, n := range names {
		groups = append(groups, []string{n})
	}
	return r.Sequence(ctx, groups...)
}

func (w *Wiring) serve(ctx context.Context, run *pipeline.Run) error {
	if err := w.startServer(ctx, run, serviceDevServer, w.cfg.Serve.Roots, w.cfg.Serve.Port, true); err != nil {
		return err
	}
	if err := w.startWatcher(ctx, run, Serve); err != nil {
		return err
	}
	return w.startSchedule(ctx, run)
}

func (w *Wiring) serveDist(ctx context.Context, run *pipeline.Run) error {
	return w.startServer(ctx, run, serviceDistServer, []string{w.cfg.Paths.Dist}, w.cfg.Serve.DistPort, false)
}

func (w *Wiring) sync(ctx context.Context, run *pipeline.Run) error {
	if err := w.startServer(ctx, run, serviceDevServer, w.cfg.Serve.Roots, w.cfg.Serve.Port, true); err != nil {
		return err
	}
	return w.startWatcher(ctx, run, Sync)
}

func (w *Wiring) watchers(ctx context.Context, run *pipeline.Run) error {
	if err := w.startWatcher(ctx, run, Watchers); err != nil {
		return err
	}
	return w.startSchedule(ctx, run)
}

func (w *Wiring) startServer(ctx context.Context, run *pipeline.Run, name string, roots []string, port int, liveReload bool) error {
	if w.session.Has(name) {
		return nil
	}
	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		resolved = append(resolved, w.cfg.Resolve(r))
	}
	opts := server.Options{
		Host:       w.cfg.Serve.Host,
		Port:       port,
		Roots:      resolved,
		LiveReload: liveReload,
		LogPrefix:  w.cfg.Serve.LogPrefix,
		Recorder:   w.recorder,
		Logger:     run.Logger,
	}
	if w.cfg.Serve.Metrics {
		opts.Metrics = w.metrics
	}
	srv := server.New(opts)
	if err := srv.Start(ctx); err != nil {
		return err
	}
	w.session.Add(name, srv)
	return nil
}

func (w *Wiring) startWatcher(ctx context.Context, run *pipeline.Run, name string) error {
	service := "watch:" + name
	if w.session.Has(service) {
		return nil
	}
	opts := []watch.Option{
		watch.WithRunner(w.runTasks),
		watch.WithReloader(w.session),
		watch.WithLogger(run.Logger),
		watch.WithDebounce(w.debounce),
	}
	watcher, err := watch.New(w.watchRules(name), opts...)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	w.session.Add(service, watcher)
	return nil
}

// startSchedule runs pagespeed periodically when pagespeed.schedule is set.
func (w *Wiring) startSchedule(ctx context.Context, run *pipeline.Run) error {
	interval := w.cfg.PagespeedInterval()
	if interval <= 0 || w.session.Has(serviceScheduler) {
		return nil
	}
	s, err := schedule.New(ctx, run.Logger)
	if err != nil {
		return err
	}
	if _, err := s.Every(Pagespeed, interval, func(ctx context.Context) error {
		return w.runTasks(ctx, []string{Pagespeed})
	}); err != nil {
		return err
	}
	s.Start()
	w.session.Add(serviceScheduler, s)
	run.Logger.Debug("PageSpeed schedule started", logfields.Duration(interval))
	return nil
}

// rules returns the watch rules of a watch task.
func (w *Wiring) rules(name string) []watch.Rule {
	p := w.cfg.Paths
	styles, scripts, images, app := w.cfg.Resolve(p.Styles), w.cfg.Resolve(p.Scripts), w.cfg.Resolve(p.Images), w.cfg.Resolve(p.App)
	imageGlobs := []string{"**/*.{gif,jpg,jpeg,png,svg}"}
	markup := []string{"**/*.{php,jsp,jspf,htm,html}"}

	switch name {
	case Watchers:
		return []watch.Rule{
			{Name: "styles", Root: styles, Include: []string{"**/*.{scss,sass}"}, Tasks: []string{ScssLint, Sass, GSW}},
			{Name: "scripts", Root: scripts, Include: []string{"**/*.js"}, Exclude: []string{"**/*.min.js"}, Tasks: []string{JSLint, JSMin, GSW}},
			{Name: "images", Root: images, Include: imageGlobs, Tasks: []string{Images, GSW}},
		}
	case Serve:
		return []watch.Rule{
			{Name: "markup", Root: app, Include: markup, Reload: true},
			{Name: "styles", Root: styles, Include: []string{"**/*.css"}, Reload: true},
			{Name: "scripts", Root: scripts, Include: []string{"**/*.js"}, Reload: true},
			{Name: "images", Root: images, Include: imageGlobs, Reload: true},
		}
	case Sync:
		return []watch.Rule{
			{Name: "markup", Root: app, Include: []string{"**/*.html"}, Reload: true},
			{Name: "scripts", Root: scripts, Include: []string{"**/*.js"}, Reload: true},
			{Name: "styles", Root: styles, Include: []string{"**/*.{scss,sass}"}, Tasks: []string{Sass}, Reload: true},
		}
	}
	return nil
}
