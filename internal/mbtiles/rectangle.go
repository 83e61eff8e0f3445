package mbtiles

import "fmt"

// TileRect is an axis-aligned rectangle of tile columns/rows at a single
// zoom level, used as a bounding-box copy/diff filter, including a
// recursive non-overlapping split algorithm.
type TileRect struct {
	Zoom       uint8
	MinX, MinY uint32
	MaxX, MaxY uint32
}

// NewTileRect panics if min > max in either dimension, matching the Rust
// constructor's precondition.
func NewTileRect(zoom uint8, minX, minY, maxX, maxY uint32) TileRect {
	if minX > maxX || minY > maxY {
		panic(fmt.Sprintf("mbtiles: invalid rectangle min(%d,%d) > max(%d,%d)", minX, minY, maxX, maxY))
	}
	return TileRect{Zoom: zoom, MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// IsOverlapping reports whether r and o share the same zoom and their
// ranges intersect in both dimensions.
func (r TileRect) IsOverlapping(o TileRect) bool {
	if r.Zoom != o.Zoom {
		return false
	}
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Size returns the number of tiles the rectangle covers.
func (r TileRect) Size() uint64 {
	return uint64(r.MaxX-r.MinX+1) * uint64(r.MaxY-r.MinY+1)
}

// GetNonOverlapping computes up to four fragments of o that lie outside r:
// a left strip, a right strip, a top cap, and a bottom cap (the caps are
// clamped to r's own x-span, matching the Rust reference exactly). Any
// fragment that would be empty is omitted.
func (r TileRect) GetNonOverlapping(o TileRect) []TileRect {
	var out []TileRect

	if o.MinX < r.MinX {
		out = append(out, NewTileRect(o.Zoom, o.MinX, o.MinY, r.MinX-1, o.MaxY))
	}
	if o.MaxX > r.MaxX {
		out = append(out, NewTileRect(o.Zoom, r.MaxX+1, o.MinY, o.MaxX, o.MaxY))
	}

	// Caps span only the x-range o and r share, matching the original's
	// clamp-to-self behavior.
	capMinX := o.MinX
	if r.MinX > capMinX {
		capMinX = r.MinX
	}
	capMaxX := o.MaxX
	if r.MaxX < capMaxX {
		capMaxX = r.MaxX
	}
	if capMinX <= capMaxX {
		if o.MinY < r.MinY {
			out = append(out, NewTileRect(o.Zoom, capMinX, o.MinY, capMaxX, r.MinY-1))
		}
		if o.MaxY > r.MaxY {
			out = append(out, NewTileRect(o.Zoom, capMinX, r.MaxY+1, capMaxX, o.MaxY))
		}
	}

	return out
}

// AppendRect maintains the invariant that rectangles is a non-overlapping
// set: it finds the first existing rectangle that overlaps newRect, splits
// newRect into fragments outside it, and recursively re-appends each
// fragment; if nothing overlaps, newRect is appended directly.
func AppendRect(rectangles []TileRect, newRect TileRect) []TileRect {
	for _, existing := range rectangles {
		if existing.IsOverlapping(newRect) {
			for _, frag := range existing.GetNonOverlapping(newRect) {
				rectangles = AppendRect(rectangles, frag)
			}
			return rectangles
		}
	}
	return append(rectangles, newRect)
}
