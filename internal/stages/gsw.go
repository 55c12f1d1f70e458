package stages

import (
	"context"
	"path"
	"path/filepath"

	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
	"git.home.luguber.info/inful/assetbuilder/internal/serviceworker"
)

// GSW generates the service worker precaching the app's static files.
func (e *Env) GSW(_ context.Context, run *pipeline.Run) error {
	l := logger(run, "gsw")
	app := e.path(e.Config.Paths.App)
	out := e.path(e.Config.ServiceWorker.Output)

	rev := ""
	if e.Revision != nil {
		r, err := e.Revision(e.Config.BaseDir)
		if err != nil {
			l.Debug("No revision for cache id", logfields.Error(err))
		}
		rev = r
	}
	// Import scripts are served from where copy-sw-scripts puts them.
	imports := make([]string, 0, len(e.Config.ServiceWorker.ImportScripts))
	for _, s := range e.Config.ServiceWorker.ImportScripts {
		imports = append(imports, path.Join(e.Config.Scripts.DistDir, filepath.Base(s)))
	}
	script, entries, err := serviceworker.Generate(serviceworker.Options{
		Root:          app,
		Globs:         e.Config.ServiceWorker.StaticGlobs,
		CacheID:       e.Config.CacheID(),
		Revision:      rev,
		ImportScripts: imports,
	})
	if err != nil {
		return err
	}
	w := e.newWriter("gsw", nil, filepath.Dir(out))
	if err := w.write(out, script, 0); err != nil {
		return err
	}
	w.finish()
	l.Info(filepath.Base(out), logfields.File(out), logfields.Count(len(entries)))
	return nil
}
