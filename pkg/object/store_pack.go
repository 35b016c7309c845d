package object

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RepackSummary reports the outcome of Store.Repack.
type RepackSummary struct {
	PackedObjects int
	PackFile      string
	IndexFile     string
}

// VerifySummary reports the outcome of Store.Verify.
type VerifySummary struct {
	LooseObjects int
	PackFiles    int
	PackObjects  int
}

// Repack consolidates loose objects that are not already indexed by an
// existing pack into a new pack/idx pair. It is non-destructive: loose
// objects remain on disk, with pack lookups deferring to them anyway.
func (s *Store) Repack() (*RepackSummary, error) {
	looseIDs, err := s.looseIDs()
	if err != nil {
		return nil, err
	}

	packed, err := s.packedIDSet()
	if err != nil {
		return nil, err
	}

	toPack := make([]ID, 0, len(looseIDs))
	for _, id := range looseIDs {
		if _, ok := packed[id]; ok {
			continue
		}
		toPack = append(toPack, id)
	}
	if len(toPack) == 0 {
		return &RepackSummary{}, nil
	}

	packDir := filepath.Join(s.root, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return nil, fmt.Errorf("repack: mkdir pack dir: %w", err)
	}

	packTmp, err := os.CreateTemp(packDir, ".tmp-pack-*.pack")
	if err != nil {
		return nil, fmt.Errorf("repack: create pack temp file: %w", err)
	}
	packTmpPath := packTmp.Name()
	packTmpRemoved := false
	defer func() {
		if !packTmpRemoved {
			_ = os.Remove(packTmpPath)
		}
	}()

	pw, err := NewPackWriter(packTmp, uint32(len(toPack)))
	if err != nil {
		_ = packTmp.Close()
		return nil, fmt.Errorf("repack: create pack writer: %w", err)
	}

	indexEntries := make([]PackIndexEntry, 0, len(toPack))
	for _, id := range toPack {
		t, body, err := s.readLoose(id)
		if err != nil {
			_ = packTmp.Close()
			return nil, fmt.Errorf("repack: read loose object %s: %w", id, err)
		}
		offset := pw.CurrentOffset()
		if err := pw.WriteObject(t, body); err != nil {
			_ = packTmp.Close()
			return nil, fmt.Errorf("repack: write pack entry %s: %w", id, err)
		}
		indexEntries = append(indexEntries, PackIndexEntry{
			ID:     id,
			Offset: offset,
			CRC32:  crc32.ChecksumIEEE(body),
		})
	}

	packChecksum, err := pw.Finish()
	if err != nil {
		_ = packTmp.Close()
		return nil, fmt.Errorf("repack: finalize pack: %w", err)
	}
	if err := packTmp.Close(); err != nil {
		return nil, fmt.Errorf("repack: close pack temp file: %w", err)
	}

	packBase := fmt.Sprintf("pack-%x", packChecksum)
	packPath := filepath.Join(packDir, packBase+".pack")
	idxPath := filepath.Join(packDir, packBase+".idx")
	if err := os.Rename(packTmpPath, packPath); err != nil {
		return nil, fmt.Errorf("repack: rename pack file: %w", err)
	}
	packTmpRemoved = true

	idxTmp, err := os.CreateTemp(packDir, ".tmp-pack-*.idx")
	if err != nil {
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: create index temp file: %w", err)
	}
	idxTmpPath := idxTmp.Name()

	if _, err := WritePackIndex(idxTmp, indexEntries, packChecksum); err != nil {
		_ = idxTmp.Close()
		_ = os.Remove(idxTmpPath)
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: write pack index: %w", err)
	}
	if err := idxTmp.Close(); err != nil {
		_ = os.Remove(idxTmpPath)
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: close index temp file: %w", err)
	}
	if err := os.Rename(idxTmpPath, idxPath); err != nil {
		_ = os.Remove(idxTmpPath)
		_ = os.Remove(packPath)
		return nil, fmt.Errorf("repack: rename index file: %w", err)
	}

	return &RepackSummary{
		PackedObjects: len(toPack),
		PackFile:      packPath,
		IndexFile:     idxPath,
	}, nil
}

// Verify re-hashes every loose object and re-decodes every pack,
// cross-checking pack contents against their indexes. Any mismatch is
// an integrity fault, returned as an error rather than repaired.
func (s *Store) Verify() (*VerifySummary, error) {
	report := &VerifySummary{}

	looseIDs, err := s.looseIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range looseIDs {
		if _, _, err := s.readLoose(id); err != nil {
			return nil, fmt.Errorf("verify loose: %w", err)
		}
		report.LooseObjects++
	}

	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}
	for _, idxPath := range idxPaths {
		idx, pf, err := s.openPack(idxPath)
		if err != nil {
			return nil, fmt.Errorf("verify pack %s: %w", filepath.Base(idxPath), err)
		}

		entries := idx.Entries()
		if len(entries) != len(pf.Entries) {
			return nil, fmt.Errorf(
				"verify pack %s: idx entry count %d does not match pack entry count %d",
				filepath.Base(idxPath), len(entries), len(pf.Entries),
			)
		}
		for _, indexEntry := range entries {
			packEntry, ok := pf.Find(indexEntry.ID)
			if !ok {
				return nil, fmt.Errorf(
					"verify pack %s: missing pack entry for id %s",
					filepath.Base(idxPath), indexEntry.ID,
				)
			}
			if packEntry.Offset != indexEntry.Offset {
				return nil, fmt.Errorf(
					"verify pack %s: id %s offset mismatch (idx=%d pack=%d)",
					filepath.Base(idxPath), indexEntry.ID, indexEntry.Offset, packEntry.Offset,
				)
			}
			report.PackObjects++
		}
		report.PackFiles++
	}

	return report, nil
}

func (s *Store) readFromPacks(id ID) (Type, []byte, error) {
	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return 0, nil, err
	}
	for _, idxPath := range idxPaths {
		idxData, err := os.ReadFile(idxPath)
		if err != nil {
			return 0, nil, fmt.Errorf("object read %s: read pack index %s: %w", id, filepath.Base(idxPath), err)
		}
		idx, err := ReadPackIndex(idxData)
		if err != nil {
			return 0, nil, fmt.Errorf("object read %s: %w: parse pack index %s: %v", id, ErrCorrupt, filepath.Base(idxPath), err)
		}
		if _, ok := idx.Find(id); !ok {
			continue
		}

		_, pf, err := s.openPack(idxPath)
		if err != nil {
			return 0, nil, fmt.Errorf("object read %s: %w: %v", id, ErrCorrupt, err)
		}
		entry, ok := pf.Find(id)
		if !ok {
			return 0, nil, fmt.Errorf(
				"object read %s: %w: indexed by %s but absent from pack",
				id, ErrCorrupt, filepath.Base(idxPath),
			)
		}
		return entry.Type, entry.Body, nil
	}

	return 0, nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
}

// openPack loads and cross-checks an idx/pack pair. Pack entry ids are
// re-derived during ReadPack, so a checksum match plus index agreement
// gives end-to-end integrity.
func (s *Store) openPack(idxPath string) (*PackIndex, *PackFile, error) {
	idxData, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read pack index: %w", err)
	}
	idx, err := ReadPackIndex(idxData)
	if err != nil {
		return nil, nil, fmt.Errorf("parse pack index: %w", err)
	}

	packPath := packPathForIndex(idxPath)
	packData, err := os.ReadFile(packPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read pack: %w", err)
	}
	pf, err := ReadPack(packData)
	if err != nil {
		return nil, nil, fmt.Errorf("parse pack: %w", err)
	}
	if pf.Checksum != idx.PackChecksum {
		return nil, nil, fmt.Errorf(
			"checksum mismatch between idx (%s) and pack (%s)",
			idx.PackChecksum, pf.Checksum,
		)
	}
	return idx, pf, nil
}

func (s *Store) packedIDSet() (map[ID]struct{}, error) {
	idxPaths, err := s.listPackIndexPaths()
	if err != nil {
		return nil, err
	}

	out := make(map[ID]struct{})
	for _, idxPath := range idxPaths {
		idxData, err := os.ReadFile(idxPath)
		if err != nil {
			return nil, fmt.Errorf("read pack index %s: %w", filepath.Base(idxPath), err)
		}
		idx, err := ReadPackIndex(idxData)
		if err != nil {
			return nil, fmt.Errorf("parse pack index %s: %w", filepath.Base(idxPath), err)
		}
		for _, entry := range idx.Entries() {
			out[entry.ID] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) listPackIndexPaths() ([]string, error) {
	packDir := filepath.Join(s.root, "objects", "pack")
	entries, err := os.ReadDir(packDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pack dir: %w", err)
	}

	idxPaths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".idx") {
			continue
		}
		idxPaths = append(idxPaths, filepath.Join(packDir, entry.Name()))
	}
	sort.Strings(idxPaths)
	return idxPaths, nil
}

func packPathForIndex(idxPath string) string {
	return strings.TrimSuffix(idxPath, ".idx") + ".pack"
}
