// Package stages implements the build stages. Each stage reads only its
// declared sources and writes only below its declared destination.
package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/cache"
	"git.home.luguber.info/inful/assetbuilder/internal/config"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/gitinfo"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/metrics"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pagespeed"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// InteractiveFunc reports whether lint failures should be tolerated.
type InteractiveFunc func() bool

// Env holds everything the stages share. Build it once per invocation.
type Env struct {
	Config      *config.Config
	Cache       *cache.Checker
	Plumber     *notify.Plumber
	Styles      assets.StyleCompiler
	Prefixer    *assets.Prefixer
	Scripts     *assets.ScriptTransformer
	Minifier    *assets.Minifier
	Audit       *pagespeed.Client
	Recorder    metrics.Recorder
	Interactive InteractiveFunc
	// Out receives lint reports.
	Out io.Writer
	// Revision returns the VCS revision of a directory, "" when unknown.
	Revision func(dir string) (string, error)
}

// Option customises New.
type Option func(*Env)

// WithStyleCompiler replaces the Dart Sass compiler, mainly for tests.
func WithStyleCompiler(c assets.StyleCompiler) Option { return func(e *Env) { e.Styles = c } }

func WithCache(c *cache.Checker) Option         { return func(e *Env) { e.Cache = c } }
func WithPlumber(p *notify.Plumber) Option      { return func(e *Env) { e.Plumber = p } }
func WithRecorder(r metrics.Recorder) Option    { return func(e *Env) { e.Recorder = r } }
func WithInteractive(fn InteractiveFunc) Option { return func(e *Env) { e.Interactive = fn } }
func WithAudit(c *pagespeed.Client) Option      { return func(e *Env) { e.Audit = c } }
func WithOutput(w io.Writer) Option             { return func(e *Env) { e.Out = w } }
func WithRevision(fn func(string) (string, error)) Option {
	return func(e *Env) { e.Revision = fn }
}

// New wires the default tools for cfg.
func New(cfg *config.Config, opts ...Option) (*Env, error) {
	scripts, err := assets.NewScriptTransformer(cfg.Scripts.Target)
	if err != nil {
		return nil, ferrors.ConfigError(fmt.Sprintf("scripts.target: %v", err)).Build()
	}
	e := &Env{
		Config:   cfg,
		Prefixer: assets.NewPrefixer(cfg.Browsers),
		Scripts:  scripts,
		Minifier: assets.NewMinifier(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Styles == nil {
		e.Styles = assets.NewDartSass(cfg.Styles.Compiler)
	}
	if e.Cache == nil {
		e.Cache = cache.NewChecker(nil)
	}
	if e.Plumber == nil {
		e.Plumber = &notify.Plumber{Policy: notify.PolicyNotify, ViaConsole: true, Project: cfg.Project.Name}
	}
	if e.Recorder == nil {
		e.Recorder = metrics.NoopRecorder{}
	}
	if e.Audit == nil {
		e.Audit = newAuditClient(cfg, e.Recorder)
	}
	if e.Out == nil {
		e.Out = os.Stdout
	}
	if e.Revision == nil {
		e.Revision = gitinfo.Revision
	}
	if e.Interactive == nil {
		e.Interactive = func() bool { return cfg.Project.EnableSync }
	}
	return e, nil
}

// Close releases the external tools.
func (e *Env) Close() error {
	if e.Styles != nil {
		return e.Styles.Close()
	}
	return nil
}

func (e *Env) path(p string) string { return e.Config.Resolve(p) }

func (e *Env) production() bool { return e.Config.Project.Production }
func (e *Env) debug() bool      { return e.Config.Project.Debug }

func logger(run *pipeline.Run, stage string) *slog.Logger {
	l := slog.Default()
	if run != nil && run.Logger != nil {
		l = run.Logger
	}
	return l.With(logfields.Stage(stage))
}

// plumber binds the shared plumber to a run and policy.
func (e *Env) plumber(run *pipeline.Run, policy notify.Policy) *notify.Plumber {
	p := e.Plumber.With(policy)
	if run != nil {
		p.RunID = run.ID
		if p.Logger == nil {
			p.Logger = run.Logger
		}
	}
	return p
}

// sizeReporter returns a reporter for title, or nil when sizes are not reported.
func sizeReporter(enabled bool, title string, l *slog.Logger) *assets.SizeReporter {
	if !enabled {
		return nil
	}
	return assets.NewSizeReporter(title, l)
}

// writer writes stage outputs, refusing anything outside its destination roots.
type writer struct {
	stage    string
	roots    []string
	size     *assets.SizeReporter
	recorder metrics.Recorder
	files    int
}

func (e *Env) newWriter(stage string, size *assets.SizeReporter, roots ...string) *writer {
	clean := make([]string, 0, len(roots))
	for _, r := range roots {
		clean = append(clean, filepath.Clean(r))
	}
	return &writer{stage: stage, roots: clean, size: size, recorder: e.Recorder}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *writer) write(path string, data []byte, mode os.FileMode) error {
	path = filepath.Clean(path)
	ok := false
	for _, r := range w.roots {
		if within(r, path) {
			ok = true
			break
		}
	}
	if !ok {
		return ferrors.InternalError(fmt.Sprintf("stage %s may not write %s", w.stage, path)).
			WithContext("roots", strings.Join(w.roots, ",")).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return ferrors.FileSystemError("create output directory").WithCause(err).WithContext("file", path).Build()
	}
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return ferrors.FileSystemError("write output").WithCause(err).WithContext("file", path).Build()
	}
	w.files++
	w.recorder.AddBytesWritten(w.stage, int64(len(data)))
	if w.size != nil {
		w.size.Add(len(data))
	}
	return nil
}

// finish records the file count and logs the size report.
func (w *writer) finish() {
	w.recorder.AddFilesProcessed(w.stage, w.files)
	if w.size != nil {
		w.size.Report()
	}
}

// stale wraps Checker.Stale; cache failures count as stale.
func (e *Env) stale(ctx context.Context, l *slog.Logger, bucket, src, fp string, outputs ...string) bool {
	s, err := e.Cache.Stale(ctx, bucket, src, fp, outputs...)
	if err != nil {
		l.Warn("cache lookup failed", logfields.File(src), logfields.Error(err))
		return true
	}
	return s
}

func (e *Env) record(ctx context.Context, l *slog.Logger, bucket, src, fp string) {
	if err := e.Cache.Record(ctx, bucket, src, fp); err != nil {
		l.Warn("cache record failed", logfields.File(src), logfields.Error(err))
	}
}
