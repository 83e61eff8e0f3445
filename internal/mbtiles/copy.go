package mbtiles

import (
	"database/sql"
	"fmt"
	"strings"
)

// DuplicatePolicy selects how Copy resolves a (z,x,y) conflict between the
// destination's existing rows and the source's rows.
type DuplicatePolicy int

const (
	DuplicateOverride DuplicatePolicy = iota // upsert
	DuplicateIgnore                          // skip conflicting rows
	DuplicateAbort                           // fail on any conflict
)

// CopyOptions configures Copy.
type CopyOptions struct {
	DstType          SchemaKind
	MinZoom, MaxZoom *int
	Zooms            map[int]bool
	BBoxFilter       []TileRect // at most one per zoom; see rectangle.go
	OnDuplicate      DuplicatePolicy
	RecomputeHash    bool
}

// Copy runs the copy/convert pipeline over two already-opened databases:
// initialize dst's schema if it has none, and insert every row of src's
// tiles view that passes the zoom/bbox filters, under the configured
// duplicate policy.
//
// Go's database/sql has no direct equivalent of SQLite's "ATTACH DATABASE"
// ergonomics across two *sql.DB handles cleanly, so rather than attaching
// src as a secondary database (the Rust implementation's approach), this
// port streams rows from src and inserts them into dst, committing a
// transaction every 1000 rows and once more at the end — simpler to reason
// about from application code, at the cost of one extra round trip per row
// instead of a single cross-database INSERT...SELECT.
func Copy(src, dst *sql.DB, opts CopyOptions) error {
	dstType, err := DetectType(dst)
	if err != nil {
		if err := InitSchema(dst, opts.DstType); err != nil {
			return fmt.Errorf("mbtiles: init dst schema: %w", err)
		}
		dstType = MbtType{Kind: opts.DstType}
	}

	query, args := buildCopySelect(opts)
	rows, err := src.Query(query, args...)
	if err != nil {
		return fmt.Errorf("mbtiles: copy select: %w", err)
	}
	defer rows.Close()

	tx, err := dst.Begin()
	if err != nil {
		return err
	}

	insertSQL := insertStatementFor(opts.OnDuplicate)
	verb := strings.SplitN(insertSQL, " INTO", 2)[0] // INSERT OR IGNORE / INSERT OR REPLACE
	count := 0
	for rows.Next() {
		var z, x, y int
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			tx.Rollback()
			return err
		}
		if opts.OnDuplicate == DuplicateAbort {
			var exists int
			if err := tx.QueryRow(`SELECT count(*) FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?`, z, x, y).Scan(&exists); err == nil && exists > 0 {
				tx.Rollback()
				return fmt.Errorf("mbtiles: copy conflict at (%d,%d,%d) under Abort policy", z, x, y)
			}
		}
		var execErr error
		switch dstType.Kind {
		case SchemaFlatWithHash:
			_, execErr = tx.Exec(verb+` INTO tiles_with_hash (zoom_level, tile_column, tile_row, tile_data, tile_hash) VALUES (?, ?, ?, ?, ?)`, z, x, y, data, md5HexUpper(data))
		case SchemaNormalized:
			hash := md5HexUpper(data)
			if _, execErr = tx.Exec(`INSERT OR IGNORE INTO images (tile_id, tile_data) VALUES (?, ?)`, hash, data); execErr == nil {
				_, execErr = tx.Exec(verb+` INTO map (zoom_level, tile_column, tile_row, tile_id) VALUES (?, ?, ?, ?)`, z, x, y, hash)
			}
		default:
			_, execErr = tx.Exec(insertSQL, z, x, y, data)
		}
		if execErr != nil {
			tx.Rollback()
			return fmt.Errorf("mbtiles: copy insert (%d,%d,%d): %w", z, x, y, execErr)
		}
		count++
		if count%1000 == 0 {
			if err := tx.Commit(); err != nil {
				return err
			}
			tx, err = dst.Begin()
			if err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if opts.RecomputeHash {
		if _, _, err := UpdateAggTilesHash(dst); err != nil {
			return fmt.Errorf("mbtiles: recompute agg_tiles_hash after copy: %w", err)
		}
	}
	return nil
}

func insertStatementFor(policy DuplicatePolicy) string {
	switch policy {
	case DuplicateIgnore:
		return `INSERT OR IGNORE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`
	default:
		// DuplicateOverride (upsert) and DuplicateAbort (pre-checked above).
		return `INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`
	}
}

func buildCopySelect(opts CopyOptions) (string, []any) {
	query := `SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles WHERE 1=1`
	var args []any

	if opts.MinZoom != nil {
		query += ` AND zoom_level >= ?`
		args = append(args, *opts.MinZoom)
	}
	if opts.MaxZoom != nil {
		query += ` AND zoom_level <= ?`
		args = append(args, *opts.MaxZoom)
	}
	if len(opts.Zooms) > 0 {
		query += ` AND zoom_level IN (`
		first := true
		for z := range opts.Zooms {
			if !first {
				query += ","
			}
			query += "?"
			args = append(args, z)
			first = false
		}
		query += ")"
	}
	// Multiple bounding boxes are unioned as non-overlapping rectangles;
	// each becomes an OR'd range predicate.
	if len(opts.BBoxFilter) > 0 {
		query += " AND ("
		for i, r := range opts.BBoxFilter {
			if i > 0 {
				query += " OR "
			}
			query += `(zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?)`
			args = append(args, r.Zoom, r.MinX, r.MaxX, r.MinY, r.MaxY)
		}
		query += ")"
	}
	query += ` ORDER BY zoom_level, tile_column, tile_row`
	return query, args
}
