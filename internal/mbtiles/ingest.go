package mbtiles

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mmartin/tileserv/pkg/tilejson"
)

// TileRow is one (z, x, y, data) tuple destined for the tiles table, the
// unit cmd/tilecp streams in from a live source rather than another
// mbtiles archive (Copy already covers the archive-to-archive path).
type TileRow struct {
	Z, X, Y int
	Data    []byte
}

// InsertTiles batches rows into dst inside a single transaction, matching
// martin-cp.rs's insert_tiles/BATCH_SIZE behavior: the destination schema
// must already exist (call InitSchema first for an empty archive).
// Grounded on copy.go's own batched-transaction insert loop.
func InsertTiles(dst *sql.DB, policy DuplicatePolicy, rows []TileRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := dst.Begin()
	if err != nil {
		return err
	}
	insertSQL := insertStatementFor(policy)
	for _, r := range rows {
		if policy == DuplicateAbort {
			var exists int
			if err := tx.QueryRow(`SELECT count(*) FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?`, r.Z, r.X, r.Y).Scan(&exists); err == nil && exists > 0 {
				tx.Rollback()
				return fmt.Errorf("mbtiles: insert conflict at (%d,%d,%d) under Abort policy", r.Z, r.X, r.Y)
			}
		}
		if _, err := tx.Exec(insertSQL, r.Z, r.X, r.Y, r.Data); err != nil {
			tx.Rollback()
			return fmt.Errorf("mbtiles: insert tile (%d,%d,%d): %w", r.Z, r.X, r.Y, err)
		}
	}
	return tx.Commit()
}

// InsertMetadata writes every recognized TileJSON field plus the
// vector_layers JSON blob into the metadata table, the inverse of
// GetMetadata. Used by cmd/tilecp to seed a freshly initialized archive's
// metadata from the live source(s) it copied tiles from.
func InsertMetadata(db *sql.DB, tj tilejson.TileJSON) error {
	set := func(key, value string) error {
		if value == "" {
			return nil
		}
		return SetMetadataValue(db, key, &value)
	}
	if err := set("name", tj.Name); err != nil {
		return err
	}
	if err := set("description", tj.Description); err != nil {
		return err
	}
	if err := set("attribution", tj.Attribution); err != nil {
		return err
	}
	if err := set("legend", tj.Legend); err != nil {
		return err
	}
	if err := set("template", tj.Template); err != nil {
		return err
	}
	if err := set("minzoom", strconv.Itoa(tj.MinZoom)); err != nil {
		return err
	}
	if err := set("maxzoom", strconv.Itoa(tj.MaxZoom)); err != nil {
		return err
	}
	if tj.Bounds != ([4]float64{}) {
		bounds := fmt.Sprintf("%g,%g,%g,%g", tj.Bounds[0], tj.Bounds[1], tj.Bounds[2], tj.Bounds[3])
		if err := set("bounds", bounds); err != nil {
			return err
		}
	}
	for k, v := range tj.Other {
		if err := set(k, v); err != nil {
			return err
		}
	}
	if len(tj.VectorLayers) > 0 {
		data, err := json.Marshal(map[string]any{"vector_layers": tj.VectorLayers})
		if err != nil {
			return fmt.Errorf("mbtiles: marshal vector_layers: %w", err)
		}
		if err := set("json", string(data)); err != nil {
			return err
		}
	}
	return nil
}
