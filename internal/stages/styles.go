package stages

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/lint"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

var styleSources = []string{"**/*.{scss,sass}"}

// styleFiles lists the non-partial style sources relative to the styles dir.
func (e *Env) styleFiles() (string, []string, error) {
	root := e.path(e.Config.Paths.Styles)
	all, err := fileset.Glob(root, styleSources, nil, fileset.Options{})
	if err != nil {
		return root, nil, ferrors.FileSystemError("list styles").WithCause(err).WithContext("dir", root).Build()
	}
	files := all[:0]
	for _, rel := range all {
		if !fileset.IsPartial(rel) {
			files = append(files, rel)
		}
	}
	return root, files, nil
}

// styleIncludePaths is the styles dir followed by the vendor dirs.
func (e *Env) styleIncludePaths() []string {
	paths := []string{e.path(e.Config.Paths.Styles)}
	for _, v := range e.Config.Paths.Vendor {
		paths = append(paths, e.path(v))
	}
	return paths
}

// ScssLint lints the non-partial styles. Read failures are ignored; lint
// errors fail the task only when configured to and the session is not interactive.
func (e *Env) ScssLint(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "scsslint")
	root, files, err := e.styleFiles()
	if err != nil {
		return err
	}
	sc, err := lint.LoadStyleConfig(e.path(e.Config.Lint.Styles.Config))
	if err != nil {
		return ferrors.ConfigError("style lint configuration").WithCause(err).Build()
	}
	linter := lint.NewLinter(lint.Config{}, lint.StyleRules(sc)...)
	graph := assets.NewImportGraph(e.styleIncludePaths())
	p := e.plumber(run, notify.PolicyIgnore)

	result := &lint.Result{}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs) // #nosec G304 -- path from directory walk
		if err != nil {
			p.Handle(ctx, "scsslint", rel, err)
			continue
		}
		fp := graph.Fingerprint(abs, content)
		if !e.stale(ctx, l, "scsslint", abs, fp) {
			continue
		}
		r, err := linter.LintFile(root, rel)
		if err != nil {
			p.Handle(ctx, "scsslint", rel, err)
			continue
		}
		result.Merge(r)
		if !r.HasErrors() {
			e.record(ctx, l, "scsslint", abs, fp)
		}
	}
	e.Recorder.AddFilesProcessed("scsslint", result.FilesTotal)
	return e.lintOutcome("styles", result, e.Config.Lint.Styles.FailOnError, l)
}

// Sass compiles every non-partial style next to its source.
func (e *Env) Sass(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "sass")
	root, files, err := e.styleFiles()
	if err != nil {
		return err
	}
	include := e.styleIncludePaths()
	graph := assets.NewImportGraph(include)
	p := e.plumber(run, notify.PolicyIgnore)
	w := e.newWriter("sass", sizeReporter(e.production(), "styles", l), root)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs) // #nosec G304 -- path from directory walk
		if err != nil {
			p.Handle(ctx, "sass", rel, err)
			continue
		}
		out := strings.TrimSuffix(abs, filepath.Ext(abs)) + ".css"
		outputs := []string{out}
		if e.debug() {
			outputs = append(outputs, out+".map")
		}
		fp := graph.Fingerprint(abs, content)
		if !e.stale(ctx, l, "sass", abs, fp, outputs...) {
			continue
		}
		if err := e.compileStyle(ctx, w, abs, string(content), out, include); err != nil {
			p.Handle(ctx, "sass", rel, err)
			continue
		}
		e.record(ctx, l, "sass", abs, fp)
		l.Debug("Compiled", logfields.File(rel))
	}
	w.finish()
	return nil
}

func (e *Env) compileStyle(ctx context.Context, w *writer, src, content, out string, include []string) error {
	res, err := e.Styles.Compile(ctx, assets.StyleRequest{
		Path:         src,
		Source:       content,
		OutputStyle:  e.Config.Styles.OutputStyle,
		IncludePaths: include,
		SourceMap:    e.debug(),
	})
	if err != nil {
		return ferrors.CompileError("sass").WithCause(err).WithContext("file", src).Build()
	}
	css := res.CSS
	if e.debug() && res.SourceMap != "" {
		css += "\n/*# sourceMappingURL=data:application/json;base64," +
			base64.StdEncoding.EncodeToString([]byte(res.SourceMap)) + " */\n"
	}
	prefixed, sourceMap, err := e.Prefixer.Prefix([]byte(css), src, assets.PrefixOptions{
		SourceMap: e.debug(),
		Minify:    e.production(),
	})
	if err != nil {
		return ferrors.CompileError("autoprefix").WithCause(err).WithContext("file", src).Build()
	}
	if e.debug() && len(sourceMap) > 0 {
		prefixed = append(prefixed, []byte("/*# sourceMappingURL="+filepath.Base(out)+".map */\n")...)
		if err := w.write(out+".map", sourceMap, 0); err != nil {
			return err
		}
	}
	return w.write(out, prefixed, 0)
}

// lintOutcome prints the report and decides whether lint errors fail the task.
func (e *Env) lintOutcome(title string, result *lint.Result, failOnError bool, l *slog.Logger) error {
	if len(result.Issues) > 0 {
		if err := lint.NewTextFormatter().Format(e.Out, title, result); err != nil {
			l.Warn("write lint report", logfields.Error(err))
		}
	}
	if !result.HasErrors() || !failOnError {
		return nil
	}
	if e.Interactive() {
		l.Warn("Lint errors tolerated in interactive session", logfields.Count(result.ErrorCount()))
		return nil
	}
	return ferrors.LintError(title+" lint failed").
		WithContext("errors", result.ErrorCount()).
		WithContext("warnings", result.WarningCount()).
		Build()
}
