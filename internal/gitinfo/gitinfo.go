// Package gitinfo reads the revision of the repository holding the project.
package gitinfo

import (
	"errors"

	"github.com/go-git/go-git/v5"
)

const shortLen = 7

// Revision returns the abbreviated HEAD hash of the repository containing dir.
// It returns "" when dir is not inside a repository or HEAD is unborn.
func Revision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		// Fresh repository without commits.
		return "", nil //nolint:nilerr // an unborn HEAD has no revision
	}
	hash := head.Hash().String()
	if len(hash) > shortLen {
		hash = hash[:shortLen]
	}
	return hash, nil
}
