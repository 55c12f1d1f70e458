package stages

import (
	"context"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/cache"
	"git.home.luguber.info/inful/assetbuilder/internal/fileset"
	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/notify"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

var imageSources = []string{"**/*.{gif,jpg,jpeg,png,svg}"}

// Images optimises images in place. A file is only rewritten when the
// optimised version is smaller.
func (e *Env) Images(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "images")
	root := e.path(e.Config.Paths.Images)
	files, err := fileset.Glob(root, imageSources, nil, fileset.Options{})
	if err != nil {
		return ferrors.FileSystemError("list images").WithCause(err).WithContext("dir", root).Build()
	}
	level := 1
	if e.production() {
		level = 3
	}
	opt := assets.NewImageOptimizer(assets.ImageOptions{
		Level:        level,
		JPEGQuality:  e.Config.Images.JPEGQuality,
		MaxDimension: e.Config.Images.MaxDimension,
	}, e.Minifier)
	p := e.plumber(run, notify.PolicyNotify)
	size := sizeReporter(e.production(), "images", l)
	w := e.newWriter("images", nil, root)

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		data, err := os.ReadFile(abs) // #nosec G304 -- path from directory walk
		if err != nil {
			p.Handle(ctx, "images", rel, err)
			continue
		}
		fp := cache.Fingerprint(data)
		if !e.stale(ctx, l, "images", abs, fp) {
			continue
		}
		out, smaller, err := opt.Optimize(rel, data)
		if err != nil {
			p.Handle(ctx, "images", rel, err)
			continue
		}
		final := data
		if smaller {
			info, err := os.Stat(abs)
			if err != nil {
				p.Handle(ctx, "images", rel, err)
				continue
			}
			if err := w.write(abs, out, info.Mode().Perm()); err != nil {
				return err
			}
			final = out
			l.Debug("Optimised", logfields.File(rel), logfields.Bytes(int64(len(data)-len(out))))
		}
		if size != nil {
			size.Add(len(final))
		}
		e.record(ctx, l, "images", abs, cache.Fingerprint(final))
	}
	w.finish()
	if size != nil {
		size.Report()
	}
	return nil
}
