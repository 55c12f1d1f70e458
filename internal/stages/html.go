package stages

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/useref"
)

// HTML replaces the build blocks of the top-level pages and writes the pages
// and their concatenated assets into dist.
func (e *Env) HTML(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "html")
	app := e.path(e.Config.Paths.App)
	dist := e.path(e.Config.Paths.Dist)
	pages, err := fileset.Glob(app, e.Config.HTML.Pages, nil, fileset.Options{})
	if err != nil {
		return ferrors.FileSystemError("list pages").WithCause(err).WithContext("dir", app).Build()
	}
	p := e.plumber(run, notify.PolicyNotify)
	w := e.newWriter("html", sizeReporter(e.production(), "html", l), dist)

	for _, rel := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.buildPage(w, app, dist, rel); err != nil {
			p.Handle(ctx, "html", rel, err)
			continue
		}
		l.Debug("Built page", logfields.File(rel))
	}
	w.finish()
	return nil
}

func (e *Env) buildPage(w *writer, app, dist, rel string) error {
	src := filepath.Join(app, filepath.FromSlash(rel))
	page, err := os.ReadFile(src) // #nosec G304 -- path from directory walk
	if err != nil {
		return ferrors.FileSystemError("read page").WithCause(err).WithContext("file", rel).Build()
	}
	pageDir := filepath.Dir(src)
	res, err := useref.Process(page, pageDir)
	if err != nil {
		return err
	}
	for _, a := range res.Assets {
		content := a.Content
		switch a.Type {
		case useref.TypeJS:
			content, err = e.Minifier.JS(content)
		case useref.TypeCSS:
			content, err = e.Minifier.CSS(content)
		}
		if err != nil {
			return ferrors.CompileError("minify " + a.Path).WithCause(err).Build()
		}
		// Asset paths are relative to the page.
		out := filepath.Join(dist, filepath.FromSlash(path.Join(path.Dir(rel), a.Path)))
		if err := w.write(out, content, 0); err != nil {
			return err
		}
	}
	out := res.HTML
	if e.production() {
		if out, err = e.Minifier.HTML(out); err != nil {
			return ferrors.CompileError("minify page").WithCause(err).WithContext("file", rel).Build()
		}
	}
	return w.write(filepath.Join(dist, filepath.FromSlash(rel)), out, 0)
}
