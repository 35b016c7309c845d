// Package refs implements the ref namespace of a repository: named,
// mutable pointers to objects, with symbolic indirection, a packed-refs
// snapshot, and lockfile-based compare-and-swap updates.
package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/gitserve/pkg/object"
)

var (
	// ErrNotFound reports an absent ref.
	ErrNotFound = errors.New("ref not found")
	// ErrCycle reports a symbolic chain exceeding the hop limit.
	ErrCycle = errors.New("symbolic ref cycle")
	// ErrConflict reports a compare-and-swap loss: another writer
	// changed the ref since the expected value was observed.
	ErrConflict = errors.New("ref compare-and-swap conflict")
)

const (
	symrefPrefix = "ref: "

	// maxSymrefDepth bounds symbolic resolution; a longer chain is
	// treated as a cycle.
	maxSymrefDepth = 5

	refLockRetryDelay = 5 * time.Millisecond
	refLockWaitLimit  = 2 * time.Second
)

// Ref is one (name, target) pair from a listing.
type Ref struct {
	Name   string
	Target object.ID
}

// Store reads and writes refs under a git directory. Loose entries
// (refs/... files and HEAD) always take precedence over the packed-refs
// snapshot of the same name.
type Store struct {
	root string
}

// NewStore creates a Store rooted at a git directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) refPath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// readRef reads a ref by exactly one hop: the loose file if present,
// otherwise the packed-refs snapshot. It returns either a concrete id
// (symref == "") or a symbolic target.
func (s *Store) readRef(name string) (id object.ID, symref string, err error) {
	data, err := os.ReadFile(s.refPath(name))
	if err == nil {
		content := strings.TrimRight(string(data), "\n")
		if target, ok := strings.CutPrefix(content, symrefPrefix); ok {
			return object.ZeroID, strings.TrimSpace(target), nil
		}
		id, err := object.ParseID(strings.TrimSpace(content))
		if err != nil {
			return object.ZeroID, "", fmt.Errorf("ref %q: %w", name, err)
		}
		return id, "", nil
	}
	if !os.IsNotExist(err) {
		return object.ZeroID, "", fmt.Errorf("ref %q: %w", name, err)
	}

	packed, err := s.packedRefs()
	if err != nil {
		return object.ZeroID, "", err
	}
	if id, ok := packed[name]; ok {
		return id, "", nil
	}
	return object.ZeroID, "", fmt.Errorf("ref %q: %w", name, ErrNotFound)
}

// Resolve follows symbolic indirection from name to a concrete object
// id. Exceeding the hop limit reports ErrCycle.
func (s *Store) Resolve(name string) (object.ID, error) {
	current := name
	for depth := 0; depth <= maxSymrefDepth; depth++ {
		id, symref, err := s.readRef(current)
		if err != nil {
			return object.ZeroID, err
		}
		if symref == "" {
			return id, nil
		}
		current = symref
	}
	return object.ZeroID, fmt.Errorf("ref %q: %w", name, ErrCycle)
}

// SymbolicTarget returns the immediate target of a symbolic ref, or
// ErrNotFound if the ref is concrete or absent.
func (s *Store) SymbolicTarget(name string) (string, error) {
	_, symref, err := s.readRef(name)
	if err != nil {
		return "", err
	}
	if symref == "" {
		return "", fmt.Errorf("ref %q is not symbolic: %w", name, ErrNotFound)
	}
	return symref, nil
}

// List returns all refs under prefix (e.g. "refs/", "refs/heads/") in
// ascending name order, with symbolic refs resolved to concrete ids.
// Unresolvable entries are skipped.
func (s *Store) List(prefix string) ([]Ref, error) {
	names := make(map[string]struct{})

	packed, err := s.packedRefs()
	if err != nil {
		return nil, err
	}
	for name := range packed {
		names[name] = struct{}{}
	}

	looseRoot := filepath.Join(s.root, "refs")
	err = filepath.WalkDir(looseRoot, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasSuffix(path, ".lock") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list refs: %w", err)
	}

	out := make([]Ref, 0, len(names))
	for name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		id, err := s.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, Ref{Name: name, Target: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Set unconditionally points name at id.
func (s *Store) Set(name string, id object.ID) error {
	return s.update(name, id, nil)
}

// CompareAndSwap points name at new only if it currently resolves to
// old; a zero old means the ref must not exist yet. A losing writer
// gets ErrConflict and must re-resolve before retrying.
func (s *Store) CompareAndSwap(name string, old, new object.ID) error {
	return s.update(name, new, &old)
}

// update writes a ref with lockfile + rename atomicity, re-reading the
// current value under the lock when a CAS is requested.
func (s *Store) update(name string, id object.ID, expectedOld *object.ID) error {
	refPath := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("update ref %q: mkdir: %w", name, err)
	}

	lockPath := refPath + ".lock"
	lockFile, err := acquireRefLock(lockPath)
	if err != nil {
		return fmt.Errorf("update ref %q: lock: %w", name, err)
	}
	cleanupLock := true
	defer func() {
		if lockFile != nil {
			_ = lockFile.Close()
		}
		if cleanupLock {
			_ = os.Remove(lockPath)
		}
	}()

	if expectedOld != nil {
		current, _, err := s.readRef(name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("update ref %q: read old value: %w", name, err)
		}
		if current != *expectedOld {
			return fmt.Errorf(
				"update ref %q: %w (expected %s, found %s)",
				name, ErrConflict, *expectedOld, current,
			)
		}
	}

	if _, err := lockFile.WriteString(id.String() + "\n"); err != nil {
		return fmt.Errorf("update ref %q: write: %w", name, err)
	}
	if err := lockFile.Sync(); err != nil {
		return fmt.Errorf("update ref %q: sync: %w", name, err)
	}
	if err := lockFile.Close(); err != nil {
		lockFile = nil
		return fmt.Errorf("update ref %q: close: %w", name, err)
	}
	lockFile = nil

	if err := os.Rename(lockPath, refPath); err != nil {
		return fmt.Errorf("update ref %q: rename: %w", name, err)
	}
	cleanupLock = false
	return nil
}

// SetSymbolic points name at another ref name (e.g. HEAD at
// refs/heads/main).
func (s *Store) SetSymbolic(name, target string) error {
	refPath := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
		return fmt.Errorf("set symbolic ref %q: mkdir: %w", name, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(refPath), ".tmp-ref-*")
	if err != nil {
		return fmt.Errorf("set symbolic ref %q: tmpfile: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(symrefPrefix + target + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("set symbolic ref %q: write: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("set symbolic ref %q: close: %w", name, err)
	}
	if err := os.Rename(tmpName, refPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("set symbolic ref %q: rename: %w", name, err)
	}
	return nil
}

// packedRefs parses the packed-refs snapshot. Peeled annotation lines
// ("^<id>") and comments are skipped; a missing file is an empty map.
func (s *Store) packedRefs() (map[string]object.ID, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "packed-refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]object.ID{}, nil
		}
		return nil, fmt.Errorf("read packed-refs: %w", err)
	}

	out := make(map[string]object.ID)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		hexID, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("packed-refs: malformed line %q", line)
		}
		id, err := object.ParseID(hexID)
		if err != nil {
			return nil, fmt.Errorf("packed-refs: %w", err)
		}
		out[name] = id
	}
	return out, nil
}

func acquireRefLock(lockPath string) (*os.File, error) {
	deadline := time.Now().Add(refLockWaitLimit)
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, nil
		}
		if os.IsExist(err) {
			if time.Now().After(deadline) {
				return nil, fmt.Errorf("timeout waiting for lock %q", lockPath)
			}
			time.Sleep(refLockRetryDelay)
			continue
		}
		return nil, err
	}
}
