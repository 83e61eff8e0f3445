package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/mmartin/tileserv/internal/pmtdircache"
)

// DeserializeDirectory decodes a directory blob's varint-delta-encoded
// entry arrays (tile_id deltas, run_lengths, lengths, and offsets, each
// stored as a separate contiguous array) into an ordered entry list.
func DeserializeDirectory(data []byte) (pmtdircache.Directory, error) {
	buf := bytes.NewReader(data)
	numEntries, err := binary.ReadUvarint(buf)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: read directory entry count: %w", err)
	}

	entries := make(pmtdircache.Directory, numEntries)

	var tileID uint64
	for i := uint64(0); i < numEntries; i++ {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: read tile_id delta %d: %w", i, err)
		}
		tileID += v
		entries[i].TileIDBase = tileID
	}
	for i := uint64(0); i < numEntries; i++ {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: read run_length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(v)
	}
	for i := uint64(0); i < numEntries; i++ {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: read length %d: %w", i, err)
		}
		entries[i].Length = uint32(v)
	}
	for i := uint64(0); i < numEntries; i++ {
		v, err := binary.ReadUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: read offset %d: %w", i, err)
		}
		if v == 0 && i > 0 {
			// 0 signals "contiguous with the previous entry" per the
			// PMTiles v3 spec.
			entries[i].Offset = uint64(entries[i-1].Offset) + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	return entries, nil
}

// FindTile locates the directory entry (if any) whose run covers tileID.
// Entries are ordered by TileIDBase ascending; a run_length of 0 marks a
// leaf-directory pointer rather than a terminal tile.
func FindTile(dir pmtdircache.Directory, tileID uint64) (pmtdircache.Entry, bool, bool) {
	idx := sort.Search(len(dir), func(i int) bool { return dir[i].TileIDBase > tileID }) - 1
	if idx < 0 {
		return pmtdircache.Entry{}, false, false
	}
	e := dir[idx]
	if e.RunLength == 0 {
		return e, true, true // isLeaf = true
	}
	if tileID < e.TileIDBase+uint64(e.RunLength) {
		return e, true, false
	}
	return pmtdircache.Entry{}, false, false
}
