package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/cache"
	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/lint"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

var (
	scriptSources  = []string{"**/*.js"}
	scriptExcludes = []string{"**/*.min.js"}
)

func (e *Env) scriptFiles() (string, []string, error) {
	root := e.path(e.Config.Paths.Scripts)
	files, err := fileset.Glob(root, scriptSources, scriptExcludes, fileset.Options{})
	if err != nil {
		return root, nil, ferrors.FileSystemError("list scripts").WithCause(err).WithContext("dir", root).Build()
	}
	return root, files, nil
}

// JSLint lints every script except minified ones.
func (e *Env) JSLint(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "jslint")
	root, files, err := e.scriptFiles()
	if err != nil {
		return err
	}
	linter := lint.NewLinter(lint.Config{}, lint.ScriptRules(e.Config.Lint.Scripts.MaxLen)...)
	p := e.plumber(run, notify.PolicyNotify)

	result := &lint.Result{}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs) // #nosec G304 -- path from directory walk
		if err != nil {
			p.Handle(ctx, "jslint", rel, err)
			continue
		}
		fp := cache.Fingerprint(content)
		if !e.stale(ctx, l, "jslint", abs, fp) {
			continue
		}
		r, err := linter.LintFile(root, rel)
		if err != nil {
			p.Handle(ctx, "jslint", rel, err)
			continue
		}
		result.Merge(r)
		if !r.HasErrors() {
			e.record(ctx, l, "jslint", abs, fp)
		}
	}
	e.Recorder.AddFilesProcessed("jslint", result.FilesTotal)
	return e.lintOutcome("scripts", result, e.Config.Lint.Scripts.FailOnError, l)
}

// JSMin transpiles and minifies scripts into <name>.min.js, in place and in dist.
func (e *Env) JSMin(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "jsmin")
	root, files, err := e.scriptFiles()
	if err != nil {
		return err
	}
	distRoot := filepath.Join(e.path(e.Config.Paths.Dist), e.Config.Scripts.DistDir)
	p := e.plumber(run, notify.PolicyNotify)
	inPlace := e.newWriter("jsmin", sizeReporter(e.production(), "scripts", l), root)
	toDist := e.newWriter("jsmin", nil, distRoot)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs) // #nosec G304 -- path from directory walk
		if err != nil {
			p.Handle(ctx, "jsmin", rel, err)
			continue
		}
		minRel := strings.TrimSuffix(rel, ".js") + ".min.js"
		outs := []string{
			filepath.Join(root, filepath.FromSlash(minRel)),
			filepath.Join(distRoot, filepath.FromSlash(minRel)),
		}
		fp := cache.Fingerprint(content)
		if !e.stale(ctx, l, "jsmin", abs, fp, outs...) {
			continue
		}
		code, sourceMap, err := e.Scripts.Transform(content, rel, assets.ScriptOptions{Minify: true, SourceMap: e.debug()})
		if err != nil {
			p.Handle(ctx, "jsmin", rel, ferrors.CompileError("transpile").WithCause(err).WithContext("file", rel).Build())
			continue
		}
		if e.debug() && len(sourceMap) > 0 {
			code = append(code, []byte("//# sourceMappingURL="+filepath.Base(minRel)+".map\n")...)
		}
		if err := e.writeScript(inPlace, outs[0], code, sourceMap); err != nil {
			return err
		}
		if err := e.writeScript(toDist, outs[1], code, sourceMap); err != nil {
			return err
		}
		e.record(ctx, l, "jsmin", abs, fp)
		l.Debug("Minified", logfields.File(rel))
	}
	inPlace.finish()
	toDist.finish()
	return nil
}

func (e *Env) writeScript(w *writer, path string, code, sourceMap []byte) error {
	if e.debug() && len(sourceMap) > 0 {
		if err := w.write(path+".map", sourceMap, 0); err != nil {
			return err
		}
	}
	return w.write(path, code, 0)
}
