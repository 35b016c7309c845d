package object

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"
)

type packCountedWriter struct {
	w io.Writer
	n uint64
}

func (cw *packCountedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

func (cw *packCountedWriter) Count() uint64 {
	return cw.n
}

func compressPackPayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackWriter writes Git pack v2 streams with zlib-compressed object
// entries. The trailer checksum is SHA-1 over all bytes preceding it,
// so any reader can verify the stream without re-deriving object ids.
type PackWriter struct {
	out      io.Writer
	hasher   hash.Hash
	hashedW  io.Writer
	counter  *packCountedWriter
	expected uint32
	written  uint32
	finished bool
}

// NewPackWriter initializes a writer and emits the fixed pack header.
// A zero object count produces a valid empty pack once finished.
func NewPackWriter(out io.Writer, numObjects uint32) (*PackWriter, error) {
	hasher := sha1.New()
	counter := &packCountedWriter{w: out}
	pw := &PackWriter{
		out:      out,
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		counter:  counter,
		expected: numObjects,
	}

	header := PackHeader{
		Version:    supportedPackVersion,
		NumObjects: numObjects,
	}
	if _, err := pw.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return pw, nil
}

// CurrentOffset returns the current byte offset from pack start,
// excluding the trailing checksum written by Finish.
func (p *PackWriter) CurrentOffset() uint64 {
	return p.counter.Count()
}

// WriteObject appends one raw (non-delta) object entry.
func (p *PackWriter) WriteObject(t Type, body []byte) error {
	if !t.Valid() {
		return fmt.Errorf("pack entry: %w: %d", ErrUnknownType, t)
	}
	return p.writeEntry(PackEntryType(t), nil, body)
}

// WriteOfsDelta appends an OFS_DELTA entry against the base object
// previously written at baseOffset, using an insert-only delta stream.
func (p *PackWriter) WriteOfsDelta(baseOffset uint64, baseBody, targetBody []byte) error {
	current := p.CurrentOffset()
	if baseOffset >= current {
		return fmt.Errorf("base offset %d must be before current offset %d", baseOffset, current)
	}
	delta := buildInsertOnlyDelta(baseBody, targetBody)
	return p.writeEntry(PackOfsDelta, encodeOfsDeltaDistance(current-baseOffset), delta)
}

func (p *PackWriter) writeEntry(entryType PackEntryType, extra, payload []byte) error {
	if p.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if p.written >= p.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}

	header := encodePackEntryHeader(entryType, uint64(len(payload)))
	if _, err := p.hashedW.Write(header); err != nil {
		return fmt.Errorf("write pack entry header: %w", err)
	}
	if len(extra) > 0 {
		if _, err := p.hashedW.Write(extra); err != nil {
			return fmt.Errorf("write pack entry base distance: %w", err)
		}
	}

	compressed, err := compressPackPayload(payload)
	if err != nil {
		return fmt.Errorf("compress pack entry: %w", err)
	}
	if _, err := p.hashedW.Write(compressed); err != nil {
		return fmt.Errorf("write compressed pack entry: %w", err)
	}

	p.written++
	return nil
}

// Finish validates the object count and writes the trailing checksum,
// returning it as raw bytes.
func (p *PackWriter) Finish() ([]byte, error) {
	if p.finished {
		return nil, fmt.Errorf("pack writer already finished")
	}
	if p.written != p.expected {
		return nil, fmt.Errorf("pack object count mismatch: wrote %d, expected %d", p.written, p.expected)
	}

	sum := p.hasher.Sum(nil)
	if _, err := p.out.Write(sum); err != nil {
		return nil, fmt.Errorf("write pack trailer checksum: %w", err)
	}
	p.finished = true
	return sum, nil
}
