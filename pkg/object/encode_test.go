package object

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func mustID(t *testing.T, s string) ID {
	t.Helper()
	id, err := ParseID(s)
	if err != nil {
		t.Fatalf("ParseID(%q): %v", s, err)
	}
	return id
}

func TestParseID(t *testing.T) {
	hex := "89e6c98d92887913cadf06b2adb97f26cde4849b"
	id, err := ParseID(hex)
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id.String() != hex {
		t.Errorf("round trip: got %q, want %q", id.String(), hex)
	}
	if id.IsZero() {
		t.Error("parsed non-zero id reports IsZero")
	}

	if _, err := ParseID("abc"); err == nil {
		t.Error("short input should fail")
	}
	if _, err := ParseID(strings.Repeat("zz", 20)); err == nil {
		t.Error("non-hex input should fail")
	}
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"blob", "tree", "commit", "tag"} {
		typ, err := ParseType(name)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", name, err)
		}
		if typ.String() != name {
			t.Errorf("Type round trip: got %q, want %q", typ.String(), name)
		}
		if !typ.Valid() {
			t.Errorf("Type %q not Valid", name)
		}
	}
	if _, err := ParseType("gopher"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown name: got %v, want ErrUnknownType", err)
	}
	if Type(0).Valid() || Type(5).Valid() {
		t.Error("out-of-range types report Valid")
	}
}

func TestBlobRoundTrip(t *testing.T) {
	orig := &Blob{Data: []byte("hello\x00world\n")}
	body, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	obj, err := Decode(TypeBlob, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := obj.(*Blob)
	if !bytes.Equal(got.Data, orig.Data) {
		t.Errorf("blob data: got %q, want %q", got.Data, orig.Data)
	}
}

func TestTreeRoundTrip(t *testing.T) {
	orig := &Tree{Entries: []TreeEntry{
		{Mode: ModeFile, Name: "README", Target: mustID(t, strings.Repeat("aa", 20))},
		{Mode: ModeExecutable, Name: "build.sh", Target: mustID(t, strings.Repeat("bb", 20))},
		{Mode: ModeDir, Name: "src", Target: mustID(t, strings.Repeat("cc", 20))},
	}}
	body, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	obj, err := Decode(TypeTree, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := obj.(*Tree)
	if len(got.Entries) != 3 {
		t.Fatalf("entries: got %d, want 3", len(got.Entries))
	}
	for i := range orig.Entries {
		if got.Entries[i] != orig.Entries[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got.Entries[i], orig.Entries[i])
		}
	}

	reencoded, err := Encode(got)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(reencoded, body) {
		t.Error("re-encoding decoded tree does not reproduce input bytes")
	}
}

func TestTreeEntryWireFormat(t *testing.T) {
	target := mustID(t, strings.Repeat("ab", 20))
	tree := &Tree{Entries: []TreeEntry{{Mode: ModeFile, Name: "f.txt", Target: target}}}
	body, err := Encode(tree)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := append([]byte("100644 f.txt\x00"), target[:]...)
	if !bytes.Equal(body, want) {
		t.Errorf("tree entry bytes: got %q, want %q", body, want)
	}
}

func TestTreeOrderRejected(t *testing.T) {
	id := mustID(t, strings.Repeat("aa", 20))
	unsorted := &Tree{Entries: []TreeEntry{
		{Mode: ModeFile, Name: "b", Target: id},
		{Mode: ModeFile, Name: "a", Target: id},
	}}
	if _, err := Encode(unsorted); !errors.Is(err, ErrUnsortedTree) {
		t.Errorf("unsorted encode: got %v, want ErrUnsortedTree", err)
	}

	dup := &Tree{Entries: []TreeEntry{
		{Mode: ModeFile, Name: "a", Target: id},
		{Mode: ModeFile, Name: "a", Target: id},
	}}
	if _, err := Encode(dup); !errors.Is(err, ErrUnsortedTree) {
		t.Errorf("duplicate encode: got %v, want ErrUnsortedTree", err)
	}

	// A hand-built unsorted body must be rejected on decode too.
	var raw bytes.Buffer
	for _, name := range []string{"z", "a"} {
		raw.WriteString("100644 " + name + "\x00")
		raw.Write(id[:])
	}
	if _, err := Decode(TypeTree, raw.Bytes()); !errors.Is(err, ErrUnsortedTree) {
		t.Errorf("unsorted decode: got %v, want ErrUnsortedTree", err)
	}
}

func TestTreeDecodeTruncated(t *testing.T) {
	id := mustID(t, strings.Repeat("aa", 20))
	body := append([]byte("100644 f\x00"), id[:10]...)
	if _, err := Decode(TypeTree, body); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated id: got %v, want ErrTruncated", err)
	}
	if _, err := Decode(TypeTree, []byte("100644")); !errors.Is(err, ErrTruncated) {
		t.Errorf("missing separator: got %v, want ErrTruncated", err)
	}
}

func TestCommitRoundTrip(t *testing.T) {
	orig := &Commit{
		Tree: mustID(t, strings.Repeat("11", 20)),
		Parents: []ID{
			mustID(t, strings.Repeat("22", 20)),
			mustID(t, strings.Repeat("33", 20)),
		},
		Author:    Identity{Name: "Ada Lovelace", Email: "ada@example.com", Time: 1700000000, TZ: "+0100"},
		Committer: Identity{Name: "Charles Babbage", Email: "cb@example.com", Time: 1700000100, TZ: "-0500"},
		Encoding:  "ISO-8859-1",
		Message:   "merge engines\n\nDetails follow.\n",
	}
	body, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	obj, err := Decode(TypeCommit, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := obj.(*Commit)
	if got.Tree != orig.Tree {
		t.Errorf("tree: got %s, want %s", got.Tree, orig.Tree)
	}
	if len(got.Parents) != 2 || got.Parents[0] != orig.Parents[0] || got.Parents[1] != orig.Parents[1] {
		t.Errorf("parents mismatch: %v", got.Parents)
	}
	if got.Author != orig.Author || got.Committer != orig.Committer {
		t.Errorf("identity mismatch: author %+v committer %+v", got.Author, got.Committer)
	}
	if got.Encoding != orig.Encoding {
		t.Errorf("encoding: got %q, want %q", got.Encoding, orig.Encoding)
	}
	if got.Message != orig.Message {
		t.Errorf("message: got %q, want %q", got.Message, orig.Message)
	}

	reencoded, err := Encode(got)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(reencoded, body) {
		t.Error("re-encoding decoded commit does not reproduce input bytes")
	}
}

func TestCommitTextFormat(t *testing.T) {
	c := &Commit{
		Tree:      mustID(t, strings.Repeat("11", 20)),
		Author:    Identity{Name: "A", Email: "a@x", Time: 10, TZ: "+0000"},
		Committer: Identity{Name: "B", Email: "b@x", Time: 20, TZ: "+0000"},
		Message:   "msg\n",
	}
	body, err := Encode(c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := "tree " + strings.Repeat("11", 20) + "\n" +
		"author A <a@x> 10 +0000\n" +
		"committer B <b@x> 20 +0000\n" +
		"\nmsg\n"
	if string(body) != want {
		t.Errorf("commit body:\ngot  %q\nwant %q", body, want)
	}
}

func TestCommitDecodeErrors(t *testing.T) {
	treeLine := "tree " + strings.Repeat("11", 20) + "\n"
	author := "author A <a@x> 10 +0000\n"
	committer := "committer B <b@x> 20 +0000\n"

	cases := []struct {
		name string
		body string
		want error
	}{
		{"no separator", treeLine + author + committer, ErrTruncated},
		{"unknown key", treeLine + author + committer + "frobnicate yes\n\nmsg", ErrInvalidHeader},
		{"missing tree", author + committer + "\nmsg", ErrInvalidHeader},
		{"bad parent", treeLine + "parent xyz\n" + author + committer + "\nmsg", ErrInvalidHeader},
		{"bad identity", treeLine + "author nobody\n" + committer + "\nmsg", ErrInvalidHeader},
	}
	for _, tc := range cases {
		if _, err := Decode(TypeCommit, []byte(tc.body)); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestTagRoundTrip(t *testing.T) {
	orig := &Tag{
		Target:     mustID(t, strings.Repeat("44", 20)),
		TargetType: TypeCommit,
		Name:       "v1.2.0",
		Tagger:     Identity{Name: "Rel Eng", Email: "rel@example.com", Time: 1700000200, TZ: "+0000"},
		Message:    "release v1.2.0\n",
	}
	body, err := Encode(orig)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	obj, err := Decode(TypeTag, body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := obj.(*Tag)
	if got.Target != orig.Target || got.TargetType != orig.TargetType ||
		got.Name != orig.Name || got.Tagger != orig.Tagger || got.Message != orig.Message {
		t.Errorf("tag round trip mismatch: %+v", got)
	}
}

func TestTagDecodeErrors(t *testing.T) {
	body := "type commit\ntag v1\ntagger A <a@x> 1 +0000\n\nmsg"
	if _, err := Decode(TypeTag, []byte(body)); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("missing object: got %v, want ErrInvalidHeader", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	blob := &Blob{Data: []byte("payload")}
	env, err := Envelope(blob)
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if !bytes.HasPrefix(env, []byte("blob 7\x00")) {
		t.Errorf("envelope prefix: got %q", env[:8])
	}

	typ, body, err := ParseEnvelope(env)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if typ != TypeBlob || string(body) != "payload" {
		t.Errorf("parsed: type %s, body %q", typ, body)
	}
}

func TestParseEnvelopeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"no nul", "blob 4", ErrInvalidHeader},
		{"no space", "blob\x00data", ErrInvalidHeader},
		{"bad type", "widget 4\x00data", ErrUnknownType},
		{"bad length", "blob x\x00data", ErrInvalidHeader},
		{"short body", "blob 10\x00data", ErrTruncated},
	}
	for _, tc := range cases {
		if _, _, err := ParseEnvelope([]byte(tc.raw)); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestIdentityString(t *testing.T) {
	id := Identity{Name: "Ada", Email: "ada@x", Time: 42, TZ: "+0200"}
	want := "Ada <ada@x> 42 +0200"
	if id.String() != want {
		t.Errorf("identity: got %q, want %q", id.String(), want)
	}
	parsed, err := parseIdentity(want)
	if err != nil {
		t.Fatalf("parseIdentity: %v", err)
	}
	if parsed != id {
		t.Errorf("identity round trip: got %+v, want %+v", parsed, id)
	}
}

func TestHashDeterminism(t *testing.T) {
	body := []byte("same content")
	if HashBody(TypeBlob, body) != HashBody(TypeBlob, body) {
		t.Error("HashBody not deterministic")
	}
	if HashBody(TypeBlob, body) == HashBody(TypeTree, body) {
		t.Error("different types should hash differently")
	}

	// Known git blob digest for "hello world\n".
	id := HashBody(TypeBlob, []byte("hello world\n"))
	if id.String() != "3b18e512dba79e4c8300dd08aeb37f8e728b8dad" {
		t.Errorf("blob digest: got %s", id)
	}
}
