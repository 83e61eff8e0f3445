package mbtiles

import (
	"reflect"
	"testing"
)

func r(zoom uint8, minX, minY, maxX, maxY uint32) TileRect {
	return NewTileRect(zoom, minX, minY, maxX, maxY)
}

func TestTileRectIsOverlapping(t *testing.T) {
	a := r(5, 0, 0, 10, 10)
	b := r(5, 5, 5, 15, 15)
	if !a.IsOverlapping(b) {
		t.Fatal("expected overlap")
	}
	c := r(5, 11, 0, 20, 10)
	if a.IsOverlapping(c) {
		t.Fatal("touching-but-not-overlapping ranges must not overlap")
	}
	d := r(6, 0, 0, 10, 10)
	if a.IsOverlapping(d) {
		t.Fatal("different zooms never overlap")
	}
}

func TestTileRectSize(t *testing.T) {
	single := r(0, 0, 0, 0, 0)
	if single.Size() != 1 {
		t.Fatalf("single tile size = %d, want 1", single.Size())
	}
	block := r(5, 0, 0, 9, 9)
	if block.Size() != 100 {
		t.Fatalf("10x10 block size = %d, want 100", block.Size())
	}
}

func TestAppendSingleNoOverlap(t *testing.T) {
	var rects []TileRect
	rects = AppendRect(rects, r(0, 0, 0, 0, 0))
	want := []TileRect{r(0, 0, 0, 0, 0)}
	if !reflect.DeepEqual(rects, want) {
		t.Fatalf("got %v, want %v", rects, want)
	}
}

func TestAppendContainedRectangleIsAbsorbed(t *testing.T) {
	rects := []TileRect{r(5, 0, 0, 10, 10)}
	rects = AppendRect(rects, r(5, 2, 2, 8, 8))
	want := []TileRect{r(5, 0, 0, 10, 10)}
	if !reflect.DeepEqual(rects, want) {
		t.Fatalf("fully-contained rectangle should add nothing, got %v", rects)
	}
}

func TestAppendMultipleProducesNonOverlappingFragments(t *testing.T) {
	var rects []TileRect
	rects = AppendRect(rects, r(5, 2, 2, 8, 8))
	rects = AppendRect(rects, r(5, 0, 0, 10, 10))

	assertNoOverlaps(t, rects)
	assertUnionCovers(t, rects, []TileRect{r(5, 2, 2, 8, 8), r(5, 0, 0, 10, 10)})
}

func TestAppendPartialOverlapSplitsIntoStrips(t *testing.T) {
	var rects []TileRect
	rects = AppendRect(rects, r(0, 0, 0, 4, 4))
	rects = AppendRect(rects, r(0, 2, 2, 6, 6))
	assertNoOverlaps(t, rects)
	assertUnionCovers(t, rects, []TileRect{r(0, 0, 0, 4, 4), r(0, 2, 2, 6, 6)})
}

func assertNoOverlaps(t *testing.T, rects []TileRect) {
	t.Helper()
	for i := 0; i < len(rects); i++ {
		for j := i + 1; j < len(rects); j++ {
			if rects[i].IsOverlapping(rects[j]) {
				t.Fatalf("rectangles %v and %v overlap", rects[i], rects[j])
			}
		}
	}
}

// assertUnionCovers checks that the tile set covered by rects equals the
// tile set covered by the originally-inserted rectangles, by brute-force
// enumeration (bounded test fixtures only).
func assertUnionCovers(t *testing.T, rects []TileRect, inserted []TileRect) {
	t.Helper()
	covered := func(set []TileRect, zoom uint8, x, y uint32) bool {
		for _, rr := range set {
			if rr.Zoom == zoom && x >= rr.MinX && x <= rr.MaxX && y >= rr.MinY && y <= rr.MaxY {
				return true
			}
		}
		return false
	}
	var maxX, maxY uint32
	zoom := inserted[0].Zoom
	for _, rr := range inserted {
		if rr.MaxX > maxX {
			maxX = rr.MaxX
		}
		if rr.MaxY > maxY {
			maxY = rr.MaxY
		}
	}
	for x := uint32(0); x <= maxX; x++ {
		for y := uint32(0); y <= maxY; y++ {
			if covered(inserted, zoom, x, y) != covered(rects, zoom, x, y) {
				t.Fatalf("coverage mismatch at (%d,%d): inserted=%v got=%v", x, y,
					covered(inserted, zoom, x, y), covered(rects, zoom, x, y))
			}
		}
	}
}
