package stages

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

//go:embed htaccess
var defaultServerConfig []byte

// Copy copies the app tree, dotfiles included, into dist together with the
// Apache server config.
func (e *Env) Copy(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "copy")
	app := e.path(e.Config.Paths.App)
	dist := e.path(e.Config.Paths.Dist)
	files, err := fileset.Glob(app, e.Config.Copy.Include, e.Config.Copy.Exclude, fileset.Options{Dot: true})
	if err != nil {
		return ferrors.FileSystemError("list app files").WithCause(err).WithContext("dir", app).Build()
	}
	p := e.plumber(run, notify.PolicyNotify)
	w := e.newWriter("copy", sizeReporter(true, "copy", l), dist)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(app, filepath.FromSlash(rel))
		if within(dist, src) {
			continue
		}
		if err := copyFile(w, src, filepath.Join(dist, filepath.FromSlash(rel))); err != nil {
			p.Handle(ctx, "copy", rel, err)
		}
	}

	if name := e.Config.Copy.ServerConfigName; name != "" {
		data := defaultServerConfig
		if custom := e.Config.Copy.ServerConfig; custom != "" {
			data, err = os.ReadFile(e.path(custom))
			if err != nil {
				p.Handle(ctx, "copy", custom, err)
				data = nil
			}
		}
		if data != nil {
			if err := w.write(filepath.Join(dist, name), data, 0o644); err != nil {
				return err
			}
		}
	}
	w.finish()
	l.Debug("Copied app", logfields.Count(w.files))
	return nil
}

// CopySWScripts copies the service worker import scripts into dist.
func (e *Env) CopySWScripts(ctx context.Context, run *pipeline.Run) error {
	dest := filepath.Join(e.path(e.Config.Paths.Dist), e.Config.Scripts.DistDir)
	p := e.plumber(run, notify.PolicyNotify)
	w := e.newWriter("copy-sw-scripts", nil, dest)
	for _, script := range e.Config.ServiceWorker.ImportScripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := e.path(script)
		if err := copyFile(w, src, filepath.Join(dest, filepath.Base(src))); err != nil {
			p.Handle(ctx, "copy-sw-scripts", script, err)
		}
	}
	w.finish()
	return nil
}

func copyFile(w *writer, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return ferrors.FileSystemError("stat source").WithCause(err).WithContext("file", src).Build()
	}
	data, err := os.ReadFile(src) // #nosec G304 -- configured source
	if err != nil {
		return ferrors.FileSystemError("read source").WithCause(err).WithContext("file", src).Build()
	}
	return w.write(dst, data, info.Mode().Perm())
}
