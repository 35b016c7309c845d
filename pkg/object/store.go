package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zlib"
)

var (
	// ErrNotFound reports an absent object. Recoverable; surfaced to
	// clients as a protocol-level error.
	ErrNotFound = errors.New("object not found")
	// ErrCorrupt reports a digest or envelope mismatch on read. Fatal
	// to that object access, never silently repaired.
	ErrCorrupt = errors.New("object corrupt")
)

// Store is a content-addressed, write-once object store. Loose objects
// live under objects/ with a 2-character fan-out (objects/ab/cdef...),
// zlib-compressed; consolidated objects live in objects/pack/ as pack
// and index file pairs. Reads need no synchronization because objects
// are immutable once written; concurrent writes of identical content
// converge on the same file.
type Store struct {
	root string
}

// NewStore creates a Store rooted at a git directory. The objects/
// subdirectory is created lazily on first write.
func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) objectPath(id ID) string {
	hex := id.String()
	return filepath.Join(s.root, "objects", hex[:2], hex[2:])
}

// Contains reports whether the store holds the object, loose or packed.
func (s *Store) Contains(id ID) bool {
	if _, err := os.Stat(s.objectPath(id)); err == nil {
		return true
	}
	packed, err := s.packedIDSet()
	if err != nil {
		return false
	}
	_, ok := packed[id]
	return ok
}

// Put stores a canonical body under its content hash and returns the
// ID. Writing content that already exists is a no-op returning the
// existing ID; existing bytes are never overwritten.
func (s *Store) Put(t Type, body []byte) (ID, error) {
	id := HashBody(t, body)

	if s.Contains(id) {
		return id, nil
	}

	hex := id.String()
	dir := filepath.Join(s.root, "objects", hex[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ZeroID, fmt.Errorf("object write mkdir: %w", err)
	}

	// Atomic write via temp + rename.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ZeroID, fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	if _, err := zw.Write(makeEnvelope(t, body)); err != nil {
		_ = zw.Close()
		tmp.Close()
		os.Remove(tmpName)
		return ZeroID, fmt.Errorf("object write: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ZeroID, fmt.Errorf("object write compress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ZeroID, fmt.Errorf("object write close: %w", err)
	}

	if err := os.Rename(tmpName, s.objectPath(id)); err != nil {
		os.Remove(tmpName)
		return ZeroID, fmt.Errorf("object write rename: %w", err)
	}
	return id, nil
}

// PutObject encodes and stores an object.
func (s *Store) PutObject(obj Object) (ID, error) {
	body, err := Encode(obj)
	if err != nil {
		return ZeroID, err
	}
	return s.Put(obj.Kind(), body)
}

// Get retrieves an object by ID, checking loose storage before packs.
// The stored bytes are re-hashed on every read; a mismatch is reported
// as ErrCorrupt.
func (s *Store) Get(id ID) (Type, []byte, error) {
	t, body, err := s.readLoose(id)
	if err == nil {
		return t, body, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, nil, err
	}
	return s.readFromPacks(id)
}

// GetObject reads and decodes an object.
func (s *Store) GetObject(id ID) (Object, error) {
	t, body, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return Decode(t, body)
}

// GetCommit reads an object and requires it to be a commit.
func (s *Store) GetCommit(id ID) (*Commit, error) {
	obj, err := s.GetObject(id)
	if err != nil {
		return nil, err
	}
	commit, ok := obj.(*Commit)
	if !ok {
		return nil, fmt.Errorf("object %s: type mismatch: got %s, want commit", id, obj.Kind())
	}
	return commit, nil
}

func (s *Store) readLoose(id ID) (Type, []byte, error) {
	f, err := os.Open(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
		}
		return 0, nil, fmt.Errorf("object read %s: %w", id, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return 0, nil, fmt.Errorf("object read %s: %w: %v", id, ErrCorrupt, err)
	}
	raw, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, nil, fmt.Errorf("object read %s: %w: %v", id, ErrCorrupt, err)
	}

	t, body, err := ParseEnvelope(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("object read %s: %w: %v", id, ErrCorrupt, err)
	}
	if actual := HashBody(t, body); actual != id {
		return 0, nil, fmt.Errorf("object read %s: %w: digest mismatch (computed %s)", id, ErrCorrupt, actual)
	}
	return t, body, nil
}

// looseIDs lists the IDs of all loose objects, sorted.
func (s *Store) looseIDs() ([]ID, error) {
	objectsDir := filepath.Join(s.root, "objects")
	fanout, err := os.ReadDir(objectsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read objects dir: %w", err)
	}

	var ids []ID
	for _, dir := range fanout {
		if !dir.IsDir() || len(dir.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(objectsDir, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("read objects fanout %s: %w", dir.Name(), err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			id, err := ParseID(dir.Name() + entry.Name())
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}
