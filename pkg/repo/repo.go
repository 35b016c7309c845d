// Package repo composes an object store and a refs store into a
// repository, and resolves request paths to repositories on behalf of
// the protocol server.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/gitserve/pkg/object"
	"github.com/odvcencio/gitserve/pkg/refs"
)

// HeadRef is the distinguished symbolic ref naming the current branch.
const HeadRef = "HEAD"

// DefaultBranch is the branch HEAD points at in a fresh repository.
const DefaultBranch = "refs/heads/master"

// Repository owns one object store, one refs store, and the HEAD
// pointer inside the refs store. History is append-only: nothing in
// this layer ever deletes an object or a ref.
type Repository struct {
	// GitDir is the directory holding objects/, refs/, and HEAD,
	// either a bare repository root or a .git directory.
	GitDir string

	Objects *object.Store
	Refs    *refs.Store
}

// Init creates a bare repository at path: objects/, refs/heads/, and a
// HEAD pointing at the default branch. It fails if the directory
// already holds a repository.
func Init(path string) (*Repository, error) {
	if isGitDir(path) {
		return nil, fmt.Errorf("init: repository already exists at %s", path)
	}

	dirs := []string{
		filepath.Join(path, "objects"),
		filepath.Join(path, "refs", "heads"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("init: mkdir %s: %w", d, err)
		}
	}

	r := &Repository{
		GitDir:  path,
		Objects: object.NewStore(path),
		Refs:    refs.NewStore(path),
	}
	if err := r.Refs.SetSymbolic(HeadRef, DefaultBranch); err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	return r, nil
}

// Open opens the repository at path, accepting either a bare layout or
// a working tree with a .git directory.
func Open(path string) (*Repository, error) {
	gitDir := path
	if !isGitDir(gitDir) {
		gitDir = filepath.Join(path, ".git")
		if !isGitDir(gitDir) {
			return nil, fmt.Errorf("open %s: not a repository", path)
		}
	}
	return &Repository{
		GitDir:  gitDir,
		Objects: object.NewStore(gitDir),
		Refs:    refs.NewStore(gitDir),
	}, nil
}

// isGitDir mirrors the check git itself applies: a HEAD file alongside
// objects/ and refs/ directories.
func isGitDir(path string) bool {
	if fi, err := os.Stat(filepath.Join(path, "HEAD")); err != nil || fi.IsDir() {
		return false
	}
	for _, sub := range []string{"objects", "refs"} {
		fi, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

// Head resolves HEAD to a commit id. An unborn branch (HEAD pointing at
// a ref that does not exist yet) reports refs.ErrNotFound.
func (r *Repository) Head() (object.ID, error) {
	return r.Refs.Resolve(HeadRef)
}

// CurrentBranch returns the ref name HEAD points at, or "" when HEAD is
// detached.
func (r *Repository) CurrentBranch() (string, error) {
	target, err := r.Refs.SymbolicTarget(HeadRef)
	if errors.Is(err, refs.ErrNotFound) {
		return "", nil
	}
	return target, err
}
