package object

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
)

const (
	packIndexVersion        = 2
	packIndexHeaderSize     = 8
	packIndexFanoutSize     = 256 * 4
	packIndexLargeOffsetBit = uint32(1 << 31)
)

var packIndexMagic = [4]byte{0xff, 't', 'O', 'c'}

// PackIndexEntry is one row in a pack index file.
type PackIndexEntry struct {
	ID     ID
	Offset uint64
	CRC32  uint32
}

// PackIndex is a decoded pack index: sorted object ids with their
// offsets into the companion pack file.
type PackIndex struct {
	entries      []PackIndexEntry
	PackChecksum string
}

// Entries returns the index rows in id order.
func (ix *PackIndex) Entries() []PackIndexEntry {
	return ix.entries
}

// Find locates the entry for id, if present.
func (ix *PackIndex) Find(id ID) (PackIndexEntry, bool) {
	i := sort.Search(len(ix.entries), func(i int) bool {
		return bytes.Compare(ix.entries[i].ID[:], id[:]) >= 0
	})
	if i < len(ix.entries) && ix.entries[i].ID == id {
		return ix.entries[i], true
	}
	return PackIndexEntry{}, false
}

func normalizePackIndexEntries(entries []PackIndexEntry) []PackIndexEntry {
	out := make([]PackIndexEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// WritePackIndex writes an idx v2 style index for the given entries and
// pack checksum (raw trailer bytes). It returns the hex-encoded index
// checksum.
func WritePackIndex(w io.Writer, entries []PackIndexEntry, packChecksum []byte) (string, error) {
	if len(packChecksum) != sha1.Size {
		return "", fmt.Errorf("pack checksum: %d bytes, expected %d", len(packChecksum), sha1.Size)
	}
	normalized := normalizePackIndexEntries(entries)

	var buf bytes.Buffer
	buf.Write(packIndexMagic[:])
	_ = binary.Write(&buf, binary.BigEndian, uint32(packIndexVersion))

	fanout := buildPackIndexFanout(normalized)
	for i := 0; i < 256; i++ {
		_ = binary.Write(&buf, binary.BigEndian, fanout[i])
	}

	for _, entry := range normalized {
		buf.Write(entry.ID[:])
	}
	for _, entry := range normalized {
		_ = binary.Write(&buf, binary.BigEndian, entry.CRC32)
	}

	largeOffsets := make([]uint64, 0)
	for _, entry := range normalized {
		if entry.Offset < uint64(packIndexLargeOffsetBit) {
			_ = binary.Write(&buf, binary.BigEndian, uint32(entry.Offset))
			continue
		}

		pos := uint32(len(largeOffsets))
		ref := packIndexLargeOffsetBit | pos
		_ = binary.Write(&buf, binary.BigEndian, ref)
		largeOffsets = append(largeOffsets, entry.Offset)
	}
	for _, offset := range largeOffsets {
		_ = binary.Write(&buf, binary.BigEndian, offset)
	}

	buf.Write(packChecksum)
	indexSum := sha1.Sum(buf.Bytes())
	buf.Write(indexSum[:])

	if _, err := w.Write(buf.Bytes()); err != nil {
		return "", fmt.Errorf("write pack index: %w", err)
	}
	return hex.EncodeToString(indexSum[:]), nil
}

func buildPackIndexFanout(entries []PackIndexEntry) [256]uint32 {
	var counts [256]uint32
	for _, entry := range entries {
		counts[int(entry.ID[0])]++
	}

	var fanout [256]uint32
	var total uint32
	for i := 0; i < 256; i++ {
		total += counts[i]
		fanout[i] = total
	}
	return fanout
}

// ReadPackIndex parses an idx v2 style index, verifying its trailing
// checksum.
func ReadPackIndex(data []byte) (*PackIndex, error) {
	if len(data) < packIndexHeaderSize+packIndexFanoutSize+2*sha1.Size {
		return nil, fmt.Errorf("pack index too short: %d bytes", len(data))
	}

	body := data[:len(data)-sha1.Size]
	trailer := data[len(data)-sha1.Size:]
	sum := sha1.Sum(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, fmt.Errorf("pack index checksum mismatch")
	}

	if !bytes.Equal(data[:4], packIndexMagic[:]) {
		return nil, fmt.Errorf("invalid pack index magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != packIndexVersion {
		return nil, fmt.Errorf("unsupported pack index version %d", v)
	}

	fanoutEnd := packIndexHeaderSize + packIndexFanoutSize
	count := binary.BigEndian.Uint32(data[fanoutEnd-4 : fanoutEnd])

	idsEnd := fanoutEnd + int(count)*sha1.Size
	crcEnd := idsEnd + int(count)*4
	offsetsEnd := crcEnd + int(count)*4
	if offsetsEnd+sha1.Size > len(body) {
		return nil, fmt.Errorf("pack index truncated: %d entries", count)
	}
	largeOffsets := body[offsetsEnd : len(body)-sha1.Size]

	entries := make([]PackIndexEntry, count)
	for i := 0; i < int(count); i++ {
		copy(entries[i].ID[:], data[fanoutEnd+i*sha1.Size:])
		entries[i].CRC32 = binary.BigEndian.Uint32(data[idsEnd+i*4:])

		raw := binary.BigEndian.Uint32(data[crcEnd+i*4:])
		if raw&packIndexLargeOffsetBit == 0 {
			entries[i].Offset = uint64(raw)
			continue
		}
		pos := int(raw &^ packIndexLargeOffsetBit)
		if (pos+1)*8 > len(largeOffsets) {
			return nil, fmt.Errorf("pack index large offset %d out of range", pos)
		}
		entries[i].Offset = binary.BigEndian.Uint64(largeOffsets[pos*8:])
	}

	return &PackIndex{
		entries:      entries,
		PackChecksum: hex.EncodeToString(body[len(body)-sha1.Size:]),
	}, nil
}
