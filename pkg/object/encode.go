package object

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Decode failure taxonomy. Errors returned by Decode and the unmarshal
// helpers wrap exactly one of these sentinels.
var (
	ErrTruncated     = errors.New("truncated object input")
	ErrInvalidHeader = errors.New("invalid object header")
	ErrUnsortedTree  = errors.New("tree entries not sorted")
	ErrUnknownType   = errors.New("unknown object type")
)

// Encode returns the canonical headerless body of obj. Encoding is
// deterministic: semantically equal objects always produce identical
// bytes, which is what makes content addressing sound. A Tree whose
// entries violate the ordering invariant fails with ErrUnsortedTree
// rather than being silently re-sorted.
func Encode(obj Object) ([]byte, error) {
	return obj.body(nil)
}

// Envelope returns the canonical "type len\0body" byte sequence whose
// SHA-1 digest is the object's ID.
func Envelope(obj Object) ([]byte, error) {
	body, err := Encode(obj)
	if err != nil {
		return nil, err
	}
	return makeEnvelope(obj.Kind(), body), nil
}

func makeEnvelope(t Type, body []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", t, len(body))
	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

// ParseEnvelope splits a raw "type len\0body" sequence into its type
// and body, validating the declared length.
func ParseEnvelope(raw []byte) (Type, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return 0, nil, fmt.Errorf("%w: missing NUL", ErrInvalidHeader)
	}
	name, lenStr, ok := strings.Cut(string(raw[:nul]), " ")
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidHeader, raw[:nul])
	}
	t, err := ParseType(name)
	if err != nil {
		return 0, nil, err
	}
	size, err := strconv.Atoi(lenStr)
	if err != nil || size < 0 {
		return 0, nil, fmt.Errorf("%w: bad length %q", ErrInvalidHeader, lenStr)
	}
	body := raw[nul+1:]
	if len(body) != size {
		return 0, nil, fmt.Errorf("%w: declared %d bytes, have %d", ErrTruncated, size, len(body))
	}
	return t, body, nil
}

// Decode parses a canonical body of the given type. Decoding is pure:
// it never consults the store, and re-encoding the result reproduces
// the input bytes exactly.
func Decode(t Type, body []byte) (Object, error) {
	switch t {
	case TypeBlob:
		return decodeBlob(body), nil
	case TypeTree:
		return decodeTree(body)
	case TypeCommit:
		return decodeCommit(body)
	case TypeTag:
		return decodeTag(body)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// ---------------------------------------------------------------------------
// Blob
// ---------------------------------------------------------------------------

func (b *Blob) body(dst []byte) ([]byte, error) {
	return append(dst, b.Data...), nil
}

func decodeBlob(body []byte) *Blob {
	data := make([]byte, len(body))
	copy(data, body)
	return &Blob{Data: data}
}

// ---------------------------------------------------------------------------
// Tree
// ---------------------------------------------------------------------------

// Tree bodies are a sequence of "<octal mode> <name>\0<20 raw id bytes>"
// records with no framing between them.
func (t *Tree) body(dst []byte) ([]byte, error) {
	if err := checkTreeOrder(t.Entries); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	for _, e := range t.Entries {
		fmt.Fprintf(&buf, "%o %s\x00", e.Mode, e.Name)
		buf.Write(e.Target[:])
	}
	return append(dst, buf.Bytes()...), nil
}

func decodeTree(body []byte) (*Tree, error) {
	tree := &Tree{}
	rest := body
	for len(rest) > 0 {
		sp := bytes.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: tree entry missing mode separator", ErrTruncated)
		}
		mode, err := strconv.ParseUint(string(rest[:sp]), 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: tree entry mode %q", ErrInvalidHeader, rest[:sp])
		}
		rest = rest[sp+1:]

		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: tree entry missing name terminator", ErrTruncated)
		}
		name := string(rest[:nul])
		rest = rest[nul+1:]

		if len(rest) < len(ID{}) {
			return nil, fmt.Errorf("%w: tree entry id for %q", ErrTruncated, name)
		}
		var target ID
		copy(target[:], rest[:len(target)])
		rest = rest[len(target):]

		tree.Entries = append(tree.Entries, TreeEntry{
			Mode:   uint32(mode),
			Name:   name,
			Target: target,
		})
	}
	if err := checkTreeOrder(tree.Entries); err != nil {
		return nil, err
	}
	return tree, nil
}

// checkTreeOrder enforces strictly increasing bytewise name order,
// which also rules out duplicate names.
func checkTreeOrder(entries []TreeEntry) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1].Name, entries[i].Name
		if cur == prev {
			return fmt.Errorf("%w: duplicate entry %q", ErrUnsortedTree, cur)
		}
		if cur < prev {
			return fmt.Errorf("%w: %q after %q", ErrUnsortedTree, cur, prev)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

func (c *Commit) body(dst []byte) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	if c.Encoding != "" {
		fmt.Fprintf(&buf, "encoding %s\n", c.Encoding)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return append(dst, buf.Bytes()...), nil
}

func decodeCommit(body []byte) (*Commit, error) {
	header, message, err := splitHeaderMessage(body)
	if err != nil {
		return nil, err
	}
	c := &Commit{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: commit line %q", ErrInvalidHeader, line)
		}
		switch key {
		case "tree":
			if c.Tree, err = ParseID(val); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
			}
		case "parent":
			p, err := ParseID(val)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
			}
			c.Parents = append(c.Parents, p)
		case "author":
			if c.Author, err = parseIdentity(val); err != nil {
				return nil, err
			}
		case "committer":
			if c.Committer, err = parseIdentity(val); err != nil {
				return nil, err
			}
		case "encoding":
			c.Encoding = val
		default:
			return nil, fmt.Errorf("%w: commit key %q", ErrInvalidHeader, key)
		}
	}
	if c.Tree.IsZero() {
		return nil, fmt.Errorf("%w: commit missing tree", ErrInvalidHeader)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Tag
// ---------------------------------------------------------------------------

func (t *Tag) body(dst []byte) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Target)
	fmt.Fprintf(&buf, "type %s\n", t.TargetType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return append(dst, buf.Bytes()...), nil
}

func decodeTag(body []byte) (*Tag, error) {
	header, message, err := splitHeaderMessage(body)
	if err != nil {
		return nil, err
	}
	tag := &Tag{Message: message}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: tag line %q", ErrInvalidHeader, line)
		}
		switch key {
		case "object":
			if tag.Target, err = ParseID(val); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
			}
		case "type":
			if tag.TargetType, err = ParseType(val); err != nil {
				return nil, err
			}
		case "tag":
			tag.Name = val
		case "tagger":
			if tag.Tagger, err = parseIdentity(val); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: tag key %q", ErrInvalidHeader, key)
		}
	}
	if tag.Target.IsZero() {
		return nil, fmt.Errorf("%w: tag missing object", ErrInvalidHeader)
	}
	return tag, nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func splitHeaderMessage(body []byte) (string, string, error) {
	idx := bytes.Index(body, []byte("\n\n"))
	if idx < 0 {
		return "", "", fmt.Errorf("%w: missing header/message separator", ErrTruncated)
	}
	return string(body[:idx]), string(body[idx+2:]), nil
}

// parseIdentity parses "Name <email> <unix-ts> <tz-offset>".
func parseIdentity(s string) (Identity, error) {
	open := strings.Index(s, " <")
	if open < 0 {
		return Identity{}, fmt.Errorf("%w: identity %q missing email", ErrInvalidHeader, s)
	}
	close := strings.Index(s[open:], ">")
	if close < 0 {
		return Identity{}, fmt.Errorf("%w: identity %q unterminated email", ErrInvalidHeader, s)
	}
	close += open

	id := Identity{
		Name:  s[:open],
		Email: s[open+2 : close],
	}
	fields := strings.Fields(s[close+1:])
	if len(fields) != 2 {
		return Identity{}, fmt.Errorf("%w: identity %q missing timestamp", ErrInvalidHeader, s)
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: identity timestamp %q", ErrInvalidHeader, fields[0])
	}
	id.Time = ts
	id.TZ = fields[1]
	return id, nil
}
