package mbtiles

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// TileSource exposes an opened MBTiles archive as a Source. It runs a
// "select tile_data from tiles where z/x/y" query against the
// schema-agnostic `tiles` view every MbtType variant exposes, so the
// source doesn't need to know which of the three schemas it's reading.
type TileSource struct {
	id   string
	db   *sql.DB
	tj   tilejson.TileJSON
	info tileid.Info
}

// OpenSource opens path and builds a Source from its metadata. The schema
// type is validated but not retained: every lookup goes through the `tiles`
// view, which is schema-invariant by construction.
func OpenSource(id, path string) (*TileSource, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := DetectType(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("mbtiles: %s: %w", path, err)
	}

	tj, warnings, err := GetMetadata(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("mbtiles: %s: read metadata: %w", path, err)
	}
	for _, w := range warnings {
		slog.Warn("mbtiles: metadata parse warning", "path", path, "warning", w)
	}
	if tj.Name == "" {
		tj.Name = id
	}

	info := tileid.Info{Format: tileid.FormatMvt, Encoding: tileid.EncodingGzip}
	if f, ok := tj.Other["format"]; ok {
		switch f {
		case "png":
			info = tileid.Info{Format: tileid.FormatPng, Encoding: tileid.EncodingInternal}
		case "jpg", "jpeg":
			info = tileid.Info{Format: tileid.FormatJpeg, Encoding: tileid.EncodingInternal}
		case "webp":
			info = tileid.Info{Format: tileid.FormatWebp, Encoding: tileid.EncodingInternal}
		case "pbf", "mvt":
			info = tileid.Info{Format: tileid.FormatMvt, Encoding: tileid.EncodingGzip}
		}
	}

	return &TileSource{id: id, db: db, tj: tj, info: info}, nil
}

func (s *TileSource) ID() string                  { return s.id }
func (s *TileSource) TileJSON() tilejson.TileJSON { return s.tj }
func (s *TileSource) TileInfo() tileid.Info       { return s.info }
func (s *TileSource) SupportsURLQuery() bool      { return false }
func (s *TileSource) ConcurrentFriendly() bool    { return false } // single *sql.DB handle per archive

// GetTile reads one tile by its XYZ coordinate, converting to the TMS row
// convention the `tiles` view stores — the single y-flip boundary per
// adapter. A missing row is an empty tile, not an error — the caller maps
// zero-length data to an empty/204 response.
func (s *TileSource) GetTile(ctx context.Context, coord tileid.Coord, _ string) ([]byte, error) {
	tmsY := tileid.InvertY(coord.Z, coord.Y)
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT tile_data FROM tiles
		WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		coord.Z, coord.X, tmsY).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mbtiles: %s: get tile (%d,%d,%d): %w", s.id, coord.Z, coord.X, coord.Y, err)
	}
	return data, nil
}

// CloneHandle returns an owned reference; the underlying *sql.DB connection
// pool is already safe for concurrent use across goroutines.
func (s *TileSource) CloneHandle() source.Source {
	return s
}

// Close releases the underlying database handle.
func (s *TileSource) Close() error {
	return s.db.Close()
}
