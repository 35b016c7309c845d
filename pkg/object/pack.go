package object

import (
	"encoding/binary"
	"fmt"
)

const (
	packHeaderSize       = 12
	supportedPackVersion = 2
)

var packMagic = [4]byte{'P', 'A', 'C', 'K'}

// PackEntryType is the Git pack object type encoding used in object
// entry headers. Values match the canonical wire/storage format.
type PackEntryType uint8

const (
	PackCommit   PackEntryType = 1
	PackTree     PackEntryType = 2
	PackBlob     PackEntryType = 3
	PackTag      PackEntryType = 4
	PackOfsDelta PackEntryType = 6
	PackRefDelta PackEntryType = 7
)

// Object returns the object Type for a non-delta entry type.
func (t PackEntryType) Object() (Type, bool) {
	if t >= PackCommit && t <= PackTag {
		return Type(t), true
	}
	return 0, false
}

// PackHeader is the fixed-size pack header.
//
// Bytes:
//   - 0..3:  "PACK"
//   - 4..7:  version (big-endian)
//   - 8..11: number of objects (big-endian)
type PackHeader struct {
	Version    uint32
	NumObjects uint32
}

// Marshal serializes the header to the canonical 12-byte form.
func (h PackHeader) Marshal() []byte {
	buf := make([]byte, packHeaderSize)
	copy(buf[:4], packMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.NumObjects)
	return buf
}

// UnmarshalPackHeader parses a canonical pack header.
func UnmarshalPackHeader(data []byte) (*PackHeader, error) {
	if len(data) < packHeaderSize {
		return nil, fmt.Errorf("pack header too short: got %d bytes", len(data))
	}
	if string(data[:4]) != string(packMagic[:]) {
		return nil, fmt.Errorf("invalid pack magic %q", data[:4])
	}

	version := binary.BigEndian.Uint32(data[4:8])
	if version != supportedPackVersion {
		return nil, fmt.Errorf("unsupported pack version %d", version)
	}

	return &PackHeader{
		Version:    version,
		NumObjects: binary.BigEndian.Uint32(data[8:12]),
	}, nil
}

// encodePackEntryHeader encodes the variable-length object entry header
// used in pack files: type in bits 4-6 of the first byte, size in
// little-endian base-128 groups.
func encodePackEntryHeader(entryType PackEntryType, size uint64) []byte {
	b := byte((entryType & 0x7) << 4)
	b |= byte(size & 0x0f)
	size >>= 4

	out := make([]byte, 0, 10)
	if size > 0 {
		b |= 0x80
	}
	out = append(out, b)

	for size > 0 {
		next := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			next |= 0x80
		}
		out = append(out, next)
	}

	return out
}

// decodePackEntryHeader decodes an object entry header, returning entry
// type, uncompressed size, and bytes consumed.
func decodePackEntryHeader(data []byte) (PackEntryType, uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("entry header truncated")
	}

	b := data[0]
	entryType := PackEntryType((b >> 4) & 0x7)
	size := uint64(b & 0x0f)
	shift := uint(4)
	consumed := 1

	for b&0x80 != 0 {
		if consumed >= len(data) {
			return 0, 0, 0, fmt.Errorf("entry header truncated")
		}
		b = data[consumed]
		size |= uint64(b&0x7f) << shift
		shift += 7
		consumed++
	}

	return entryType, size, consumed, nil
}
