package mbtiles

import (
	"database/sql"
	"fmt"
)

// ZoomCoverage describes one zoom level's tile population: how many tiles
// are present, the tile-column/row extent they span, and whether every
// tile in that bounding extent is present ("full") or not ("sparse").
type ZoomCoverage struct {
	Zoom                 int
	TileCount            int64
	MinTileX, MaxTileX   int
	MinTileY, MaxTileY   int
	Full                 bool
}

// Summary is the full per-zoom report plus totals.
type Summary struct {
	Zooms       []ZoomCoverage
	TotalTiles  int64
	TotalBytes  int64
}

// Summarize computes per-zoom tile counts, extents, and a full/sparse
// verdict, plus totals across the whole tileset.
func Summarize(db *sql.DB) (Summary, error) {
	rows, err := db.Query(`
		SELECT zoom_level, count(*), min(tile_column), max(tile_column),
		       min(tile_row), max(tile_row), sum(length(tile_data))
		FROM tiles
		GROUP BY zoom_level
		ORDER BY zoom_level`)
	if err != nil {
		return Summary{}, fmt.Errorf("mbtiles: summary query: %w", err)
	}
	defer rows.Close()

	var out Summary
	for rows.Next() {
		var z ZoomCoverage
		var bytesAtZoom sql.NullInt64
		if err := rows.Scan(&z.Zoom, &z.TileCount, &z.MinTileX, &z.MaxTileX, &z.MinTileY, &z.MaxTileY, &bytesAtZoom); err != nil {
			return Summary{}, fmt.Errorf("mbtiles: summary scan: %w", err)
		}
		width := int64(z.MaxTileX-z.MinTileX) + 1
		height := int64(z.MaxTileY-z.MinTileY) + 1
		z.Full = z.TileCount == width*height
		out.Zooms = append(out.Zooms, z)
		out.TotalTiles += z.TileCount
		out.TotalBytes += bytesAtZoom.Int64
	}
	return out, rows.Err()
}
