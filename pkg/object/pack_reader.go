package object

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// PackEntry is one fully resolved object entry in a pack stream. Delta
// entries are applied against their base during reading, so Type is
// always one of the four object kinds.
type PackEntry struct {
	Offset uint64
	Type   Type
	Body   []byte
	ID     ID
}

// PackFile is the decoded content of a full pack stream.
type PackFile struct {
	Header   PackHeader
	Entries  []PackEntry
	Checksum string
}

// Find returns the entry with the given ID, if present.
func (pf *PackFile) Find(id ID) (PackEntry, bool) {
	for _, e := range pf.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return PackEntry{}, false
}

// ReadPack parses a complete pack byte slice, verifies the trailer
// checksum, resolves delta entries, and returns decoded entries. Delta
// bases must precede their dependents in the stream ("thin" packs are
// not supported).
func ReadPack(data []byte) (*PackFile, error) {
	if len(data) < packHeaderSize+sha1.Size {
		return nil, fmt.Errorf("pack too short: %d bytes", len(data))
	}

	payload := data[:len(data)-sha1.Size]
	trailer := data[len(data)-sha1.Size:]

	sum := sha1.Sum(payload)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("pack checksum mismatch")
	}

	header, err := UnmarshalPackHeader(payload[:packHeaderSize])
	if err != nil {
		return nil, err
	}

	byOffset := make(map[uint64]PackEntry, header.NumObjects)
	byID := make(map[ID]PackEntry, header.NumObjects)

	offset := uint64(packHeaderSize)
	entries := make([]PackEntry, 0, header.NumObjects)
	for i := uint32(0); i < header.NumObjects; i++ {
		entryStart := offset
		entryType, size, n, err := decodePackEntryHeader(payload[offset:])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		offset += uint64(n)

		var (
			baseFound bool
			baseType  Type
			baseBody  []byte
		)
		switch entryType {
		case PackOfsDelta:
			distance, n, err := decodeOfsDeltaDistance(payload[offset:])
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			offset += uint64(n)
			if distance > entryStart {
				return nil, fmt.Errorf("entry %d: ofs-delta base before pack start", i)
			}
			base, ok := byOffset[entryStart-distance]
			if !ok {
				return nil, fmt.Errorf("entry %d: no base object at offset %d", i, entryStart-distance)
			}
			baseFound, baseType, baseBody = true, base.Type, base.Body
		case PackRefDelta:
			if uint64(len(payload))-offset < sha1.Size {
				return nil, fmt.Errorf("entry %d: ref-delta base id truncated", i)
			}
			var baseID ID
			copy(baseID[:], payload[offset:offset+sha1.Size])
			offset += sha1.Size
			base, ok := byID[baseID]
			if !ok {
				return nil, fmt.Errorf("entry %d: unknown delta base %s", i, baseID)
			}
			baseFound, baseType, baseBody = true, base.Type, base.Body
		}

		raw, consumed, err := inflatePackPayload(payload[offset:], size)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		offset += uint64(consumed)

		entry := PackEntry{Offset: entryStart}
		if baseFound {
			body, err := applyDelta(baseBody, raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			entry.Type, entry.Body = baseType, body
		} else {
			t, ok := entryType.Object()
			if !ok {
				return nil, fmt.Errorf("entry %d: unsupported entry type %d", i, entryType)
			}
			entry.Type, entry.Body = t, raw
		}
		entry.ID = HashBody(entry.Type, entry.Body)

		byOffset[entry.Offset] = entry
		byID[entry.ID] = entry
		entries = append(entries, entry)
	}

	if offset != uint64(len(payload)) {
		return nil, fmt.Errorf("pack has trailing undecoded bytes: %d", uint64(len(payload))-offset)
	}

	return &PackFile{
		Header:   *header,
		Entries:  entries,
		Checksum: hex.EncodeToString(trailer),
	}, nil
}

// ReadPackFromReader reads a complete pack stream from r and delegates
// to ReadPack for decode and verification.
func ReadPackFromReader(r io.Reader) (*PackFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pack stream: %w", err)
	}
	return ReadPack(data)
}

// inflatePackPayload decompresses one zlib stream expected to hold size
// bytes, returning the data and the number of compressed bytes used.
func inflatePackPayload(data []byte, size uint64) ([]byte, int, error) {
	sub := bytes.NewReader(data)
	zr, err := zlib.NewReader(sub)
	if err != nil {
		return nil, 0, fmt.Errorf("zlib reader: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		_ = zr.Close()
		return nil, 0, fmt.Errorf("decompress: %w", err)
	}
	if err := zr.Close(); err != nil {
		return nil, 0, fmt.Errorf("close zlib stream: %w", err)
	}
	if uint64(len(raw)) != size {
		return nil, 0, fmt.Errorf("size mismatch header=%d decoded=%d", size, len(raw))
	}
	return raw, len(data) - sub.Len(), nil
}
