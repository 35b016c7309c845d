package object

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// ID is the SHA-1 digest naming an object, computed over the
// "type len\0body" envelope. The zero value names no object.
type ID [sha1.Size]byte

// ZeroID designates a nonexistent object.
var ZeroID ID

// ParseID parses a 40-character lowercase hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 2*sha1.Size {
		return id, fmt.Errorf("object id %q: length %d, expected %d", s, len(s), 2*sha1.Size)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("object id %q: %w", s, err)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the ID as a lowercase 40-digit hex string.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the all-zero placeholder.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Type identifies the kind of object stored. The numeric values match
// the Git pack entry type encoding.
type Type uint8

const (
	TypeCommit Type = 1
	TypeTree   Type = 2
	TypeBlob   Type = 3
	TypeTag    Type = 4
)

// ParseType maps a canonical type name to its Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the four object kinds.
func (t Type) Valid() bool {
	return t >= TypeCommit && t <= TypeTag
}

// Object is the closed set of versioned-history entities: *Blob, *Tree,
// *Commit, and *Tag. External types must not implement it.
type Object interface {
	// Kind returns the object's type tag.
	Kind() Type
	// body appends the canonical headerless encoding. It is
	// unexported to keep the variant set closed.
	body(dst []byte) ([]byte, error)
}

// Tree entry mode bits, octal, matching Git's canonical subset.
const (
	ModeDir        uint32 = 0o040000
	ModeFile       uint32 = 0o100644
	ModeExecutable uint32 = 0o100755
	ModeSymlink    uint32 = 0o120000
	ModeGitlink    uint32 = 0o160000
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

func (*Blob) Kind() Type { return TypeBlob }

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Mode   uint32
	Name   string
	Target ID
}

// Tree holds entries in strictly increasing bytewise name order.
type Tree struct {
	Entries []TreeEntry
}

func (*Tree) Kind() Type { return TypeTree }

// Identity is an author, committer, or tagger stamp: a name/email pair
// with a unix timestamp and timezone offset (e.g. "+0200").
type Identity struct {
	Name  string
	Email string
	Time  int64
	TZ    string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s <%s> %d %s", i.Name, i.Email, i.Time, i.TZ)
}

// Commit points at a tree snapshot and zero or more parent commits.
type Commit struct {
	Tree      ID
	Parents   []ID
	Author    Identity
	Committer Identity
	Encoding  string
	Message   string
}

func (*Commit) Kind() Type { return TypeCommit }

// Tag is an annotated label for another object.
type Tag struct {
	Target     ID
	TargetType Type
	Name       string
	Tagger     Identity
	Message    string
}

func (*Tag) Kind() Type { return TypeTag }
