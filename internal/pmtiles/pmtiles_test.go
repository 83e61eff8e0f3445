package pmtiles

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mmartin/tileserv/internal/pmtdircache"
)

func TestZxyToIDZoom0IsZero(t *testing.T) {
	if got := ZxyToID(0, 0, 0); got != 0 {
		t.Fatalf("ZxyToID(0,0,0) = %d, want 0", got)
	}
}

func TestZxyToIDDistinctWithinZoom(t *testing.T) {
	seen := make(map[uint64]bool)
	for x := uint32(0); x < 4; x++ {
		for y := uint32(0); y < 4; y++ {
			id := ZxyToID(2, x, y)
			if seen[id] {
				t.Fatalf("duplicate tile id %d at z=2 x=%d y=%d", id, x, y)
			}
			seen[id] = true
		}
	}
	if len(seen) != 16 {
		t.Fatalf("expected 16 distinct ids at zoom 2, got %d", len(seen))
	}
}

func TestZxyToIDZoomOffsetsAreCumulative(t *testing.T) {
	// The first id at zoom z+1 must be exactly the tile count of all
	// zooms <= z (1 + 4 + 16 + ...).
	firstZ1 := ZxyToID(1, 0, 0)
	if firstZ1 != 1 {
		t.Fatalf("first zoom-1 id = %d, want 1 (after the single zoom-0 tile)", firstZ1)
	}
}

func buildDirectoryBytes(t *testing.T, ids []uint64, runLengths, lengths, offsets []uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	writeUvarint := func(v uint64) {
		tmp := make([]byte, binary.MaxVarintLen64)
		n := binary.PutUvarint(tmp, v)
		buf.Write(tmp[:n])
	}
	writeUvarint(uint64(len(ids)))
	var prev uint64
	for _, id := range ids {
		writeUvarint(id - prev)
		prev = id
	}
	for _, rl := range runLengths {
		writeUvarint(rl)
	}
	for _, l := range lengths {
		writeUvarint(l)
	}
	for _, off := range offsets {
		writeUvarint(off)
	}
	return buf.Bytes()
}

func TestDeserializeDirectoryRoundTrip(t *testing.T) {
	data := buildDirectoryBytes(t,
		[]uint64{0, 5, 10},
		[]uint64{1, 1, 1},
		[]uint64{100, 200, 300},
		[]uint64{1, 101, 301}, // offset encoded as value+1; 0 means contiguous
	)
	dir, err := DeserializeDirectory(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir) != 3 {
		t.Fatalf("got %d entries, want 3", len(dir))
	}
	if dir[0].TileIDBase != 0 || dir[1].TileIDBase != 5 || dir[2].TileIDBase != 10 {
		t.Fatalf("unexpected tile ids: %+v", dir)
	}
	if dir[0].Offset != 0 || dir[1].Offset != 100 || dir[2].Offset != 300 {
		t.Fatalf("unexpected offsets: %+v", dir)
	}
}

func TestDeserializeDirectoryContiguousOffset(t *testing.T) {
	data := buildDirectoryBytes(t,
		[]uint64{0, 1},
		[]uint64{1, 1},
		[]uint64{50, 50},
		[]uint64{1, 0}, // second entry's 0 means "contiguous with first"
	)
	dir, err := DeserializeDirectory(data)
	if err != nil {
		t.Fatal(err)
	}
	if dir[1].Offset != dir[0].Offset+uint64(dir[0].Length) {
		t.Fatalf("contiguous offset not derived correctly: %+v", dir)
	}
}

func TestFindTile(t *testing.T) {
	dir := pmtdircache.Directory{
		{TileIDBase: 0, RunLength: 1, Offset: 0, Length: 10},
		{TileIDBase: 5, RunLength: 3, Offset: 10, Length: 20},
		{TileIDBase: 100, RunLength: 0, Offset: 500, Length: 0}, // leaf pointer
	}
	if e, found, isLeaf := FindTile(dir, 6); !found || isLeaf || e.TileIDBase != 5 {
		t.Fatalf("expected hit on run entry at id 6, got %+v %v %v", e, found, isLeaf)
	}
	if _, found, _ := FindTile(dir, 50); found {
		t.Fatal("expected miss between entries")
	}
	if e, found, isLeaf := FindTile(dir, 100); !found || !isLeaf {
		t.Fatalf("expected leaf pointer at id 100, got %+v %v %v", e, found, isLeaf)
	}
}
