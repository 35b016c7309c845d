package repo

import (
	"errors"
	"fmt"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNoRepository reports a request path with no configured mapping.
var ErrNoRepository = errors.New("no repository at path")

// AuthFunc is invoked before a resolution succeeds. A non-nil error
// denies access; the default backend permits everything. The hook
// exists so deployments can bolt on policy without changing the
// protocol layer.
type AuthFunc func(requestPath string) error

// Backend resolves an incoming request path to a repository. It is
// constructed explicitly and injected into the protocol server; there
// is no process-wide registry.
type Backend interface {
	Resolve(requestPath string) (*Repository, error)
}

const backendCacheSize = 16

// PathBackend maps request paths to filesystem repositories. Resolved
// repositories are cached in an LRU keyed by the cleaned request path,
// so repeated connections to the same repository share one instance.
type PathBackend struct {
	mapping map[string]string
	auth    AuthFunc
	cache   *lru.Cache[string, *Repository]
}

// NewPathBackend builds a backend from a request-path → directory
// mapping. Keys are cleaned to a canonical "/..." form.
func NewPathBackend(mapping map[string]string, auth AuthFunc) (*PathBackend, error) {
	cache, err := lru.New[string, *Repository](backendCacheSize)
	if err != nil {
		return nil, err
	}
	cleaned := make(map[string]string, len(mapping))
	for reqPath, dir := range mapping {
		cleaned[cleanRequestPath(reqPath)] = dir
	}
	return &PathBackend{mapping: cleaned, auth: auth, cache: cache}, nil
}

// NewSingleRepoBackend maps every request path to one repository
// directory, the daemon's default deployment shape.
func NewSingleRepoBackend(dir string) (*PathBackend, error) {
	return NewPathBackend(map[string]string{"/": dir}, nil)
}

// Resolve looks up the request path, consulting the auth hook and the
// cache before opening the repository from disk.
func (b *PathBackend) Resolve(requestPath string) (*Repository, error) {
	cleaned := cleanRequestPath(requestPath)

	if b.auth != nil {
		if err := b.auth(cleaned); err != nil {
			return nil, fmt.Errorf("resolve %q: %w", cleaned, err)
		}
	}

	dir, ok := b.mapping[cleaned]
	if !ok {
		// A single-entry "/" mapping serves any request path.
		if root, hasRoot := b.mapping["/"]; hasRoot && len(b.mapping) == 1 {
			dir = root
		} else {
			return nil, fmt.Errorf("resolve %q: %w", cleaned, ErrNoRepository)
		}
	}

	if r, ok := b.cache.Get(cleaned); ok {
		return r, nil
	}
	r, err := Open(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w: %v", cleaned, ErrNoRepository, err)
	}
	b.cache.Add(cleaned, r)
	return r, nil
}

func cleanRequestPath(p string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	return cleaned
}
