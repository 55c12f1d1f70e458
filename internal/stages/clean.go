package stages

import (
	"context"
	"os"
	"path/filepath"

	ferrors "git.home.luguber.info/inful/assetbuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/assetbuilder/internal/logfields"
	"git.home.luguber.info/inful/assetbuilder/internal/pipeline"
)

// keepInDist survives a clean so dist can be a deploy checkout.
const keepInDist = ".git"

// Clean removes the tmp directory and everything in dist except dist/.git.
func (e *Env) Clean(ctx context.Context, run *pipeline.Run) error {
	l := logger(run, "clean")
	tmp := e.path(e.Config.Paths.Tmp)
	if err := os.RemoveAll(tmp); err != nil {
		return ferrors.FileSystemError("remove tmp").WithCause(err).WithContext("dir", tmp).Build()
	}
	dist := e.path(e.Config.Paths.Dist)
	entries, err := os.ReadDir(dist)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ferrors.FileSystemError("read dist").WithCause(err).WithContext("dir", dist).Build()
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name() == keepInDist {
			continue
		}
		p := filepath.Join(dist, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			return ferrors.FileSystemError("remove dist entry").WithCause(err).WithContext("path", p).Build()
		}
		removed++
	}
	l.Debug("Cleaned", logfields.Count(removed))
	return nil
}
