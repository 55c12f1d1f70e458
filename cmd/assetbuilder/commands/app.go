package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/assetbuilder/internal/cache"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/session"
	"git.home.luguber.info/inful/assetbuilder/internal/stages"
	"git.home.luguber.info/inful/assetbuilder/internal/tasks"
)

// App is one invocation: configuration, shared stage environment, the
// session holding long-running services and the task runner.
type App struct {
	Config  *config.Config
	Session *session.Session
	Runner  *pipeline.Runner

	logger  *slog.Logger
	closers []func() error
}

// NewApp loads the configuration and wires every component.
func NewApp(root *CLI) (*App, error) {
	logger := root.Logger()

	cfg, err := config.Load(root.Config)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: logger}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.Serve.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(reg)
		metricsHandler = metrics.HTTPHandler(reg)
	}

	cachePath := ""
	if cfg.Cache.Path != "" {
		cachePath = cfg.Resolve(cfg.Cache.Path)
	}
	store, err := cache.Open(cachePath)
	if err != nil {
		return nil, err
	}
	checker := cache.NewChecker(store)
	a.closers = append(a.closers, checker.Close)

	plumber, err := a.newPlumber(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Session = session.New(cfg.Project.EnableSync, logger)
	env, err := stages.New(cfg,
		stages.WithCache(checker),
		stages.WithPlumber(plumber),
		stages.WithRecorder(recorder),
		stages.WithInteractive(a.Session.Interactive),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, env.Close)

	wiring := tasks.New(cfg, env, a.Session,
		tasks.WithRecorder(recorder),
		tasks.WithMetricsHandler(metricsHandler),
		tasks.WithLogger(logger),
	)
	var runnerOpts []pipeline.Option
	if root.NoWatch {
		runnerOpts = append(runnerOpts, pipeline.WithSkip(tasks.Watchers))
	}
	if a.Runner, err = wiring.Runner(runnerOpts...); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newPlumber(cfg *config.Config) (*notify.Plumber, error) {
	p := &notify.Plumber{
		Policy:     notify.PolicyNotify,
		ViaConsole: cfg.Project.NotifyViaConsole,
		Project:    cfg.Project.Name,
		Logger:     a.logger,
	}
	switch cfg.Notify.Mode {
	case config.NotifyNATS:
		n, err := notify.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.Subject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		p.Notifier = n
	default:
		p.Notifier = notify.NewConsoleNotifier(os.Stderr)
	}
	return p, nil
}

// Run executes the named tasks, then keeps any started services alive until
// ctx is cancelled.
func (a *App) Run(ctx context.Context, names ...string) error {
	if err := a.Runner.Run(ctx, names...); err != nil {
		if a.Session.Active() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), session.ShutdownGrace)
			defer cancel()
			_ = a.Session.Shutdown(shutdownCtx)
		}
		return err
	}
	if a.Session.Active() {
		a.logger.Info("Services running, press Ctrl+C to stop")
	}
	return a.Session.Wait(ctx)
}

// Close releases the cache, the notifier and external tools.
func (a *App) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	if err := result.ErrorOrNil(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "release resources").Build()
	}
	return nil
}

// runTasks is the body shared by the task commands.
func runTasks(g *Global, root *CLI, names ...string) (err error) {
	app, err := NewApp(root)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return app.Run(g.Context, names...)
}
