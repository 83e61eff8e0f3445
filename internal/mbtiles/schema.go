// Package mbtiles implements the MBTiles storage-schema state machine:
// detection, metadata, content hashing, validation, copy/diff/patch, and
// the rectangle-algebra bbox filter. Uses database/sql over a pure-Go
// driver (modernc.org/sqlite, no cgo) and supports all three MBTiles
// schema variants (Flat, FlatWithHash, Normalized), not just a single
// hard-coded one.
package mbtiles

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SchemaKind enumerates the three on-disk schema variants.
type SchemaKind int

const (
	SchemaUnknown SchemaKind = iota
	SchemaFlat
	SchemaFlatWithHash
	SchemaNormalized
)

func (k SchemaKind) String() string {
	switch k {
	case SchemaFlat:
		return "flat"
	case SchemaFlatWithHash:
		return "flat-with-hash"
	case SchemaNormalized:
		return "normalized"
	default:
		return "unknown"
	}
}

// MbtType fully describes a detected schema, including whether a
// Normalized archive additionally exposes a tiles_with_hash view.
type MbtType struct {
	Kind          SchemaKind
	HasHashView   bool // Normalized only
}

// Open opens an MBTiles SQLite file (or creates one at path if missing)
// using the pure-Go modernc.org/sqlite driver.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: open %s: %w", path, err)
	}
	return db, nil
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func columns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func hasUniqueIndex(db *sql.DB, table string, cols []string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA index_list(%q)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	var indexNames []string
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if unique == 1 {
			indexNames = append(indexNames, name)
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	for _, idx := range indexNames {
		irows, err := db.Query(fmt.Sprintf("PRAGMA index_info(%q)", idx))
		if err != nil {
			return false, err
		}
		var got []string
		for irows.Next() {
			var seqno, cid int
			var cname string
			if err := irows.Scan(&seqno, &cid, &cname); err != nil {
				irows.Close()
				return false, err
			}
			got = append(got, cname)
		}
		irows.Close()
		if sameColumnSet(got, cols) {
			return true, nil
		}
	}
	return false, nil
}

func sameColumnSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[c] = true
	}
	for _, c := range b {
		if !set[c] {
			return false
		}
	}
	return true
}

// DetectType probes the database's schema via introspective SQL,
// classifying it into one of the three MbtType variants. It additionally
// requires the tile store to carry a
// UNIQUE(zoom_level, tile_column, tile_row) index.
func DetectType(db *sql.DB) (MbtType, error) {
	hasTilesWithHash, err := tableExists(db, "tiles_with_hash")
	if err != nil {
		return MbtType{}, err
	}
	hasMap, err := tableExists(db, "map")
	if err != nil {
		return MbtType{}, err
	}
	hasImages, err := tableExists(db, "images")
	if err != nil {
		return MbtType{}, err
	}
	hasTiles, err := tableExists(db, "tiles")
	if err != nil {
		return MbtType{}, err
	}

	if hasMap && hasImages {
		ok, err := hasUniqueIndex(db, "map", []string{"zoom_level", "tile_column", "tile_row"})
		if err != nil {
			return MbtType{}, err
		}
		if !ok {
			return MbtType{}, fmt.Errorf("mbtiles: normalized schema missing UNIQUE(zoom_level,tile_column,tile_row) on map")
		}
		hashView, err := tableExists(db, "tiles_with_hash")
		if err != nil {
			return MbtType{}, err
		}
		return MbtType{Kind: SchemaNormalized, HasHashView: hashView}, nil
	}

	if hasTilesWithHash {
		ok, err := hasUniqueIndex(db, "tiles_with_hash", []string{"zoom_level", "tile_column", "tile_row"})
		if err != nil {
			return MbtType{}, err
		}
		if !ok {
			return MbtType{}, fmt.Errorf("mbtiles: flat-with-hash schema missing unique index")
		}
		return MbtType{Kind: SchemaFlatWithHash}, nil
	}

	if hasTiles {
		cols, err := columns(db, "tiles")
		if err != nil {
			return MbtType{}, err
		}
		for _, want := range []string{"zoom_level", "tile_column", "tile_row", "tile_data"} {
			if !cols[want] {
				return MbtType{}, fmt.Errorf("mbtiles: tiles table missing column %q", want)
			}
		}
		ok, err := hasUniqueIndex(db, "tiles", []string{"zoom_level", "tile_column", "tile_row"})
		if err != nil {
			return MbtType{}, err
		}
		if !ok {
			return MbtType{}, fmt.Errorf("mbtiles: flat schema missing UNIQUE(zoom_level,tile_column,tile_row) index")
		}
		return MbtType{Kind: SchemaFlat}, nil
	}

	return MbtType{}, fmt.Errorf("mbtiles: no recognizable tile schema found")
}

// InitSchema creates an empty database matching kind, including the
// metadata table every variant requires.
func InitSchema(db *sql.DB, kind SchemaKind) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS metadata (name TEXT NOT NULL PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("mbtiles: create metadata table: %w", err)
	}

	switch kind {
	case SchemaFlat:
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS tiles (
				zoom_level INTEGER NOT NULL,
				tile_column INTEGER NOT NULL,
				tile_row INTEGER NOT NULL,
				tile_data BLOB
			);
			CREATE UNIQUE INDEX IF NOT EXISTS tiles_idx ON tiles (zoom_level, tile_column, tile_row);
		`)
		return err
	case SchemaFlatWithHash:
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS tiles_with_hash (
				zoom_level INTEGER NOT NULL,
				tile_column INTEGER NOT NULL,
				tile_row INTEGER NOT NULL,
				tile_data BLOB,
				tile_hash TEXT
			);
			CREATE UNIQUE INDEX IF NOT EXISTS tiles_with_hash_idx ON tiles_with_hash (zoom_level, tile_column, tile_row);
			CREATE VIEW IF NOT EXISTS tiles AS
				SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles_with_hash;
		`)
		return err
	case SchemaNormalized:
		_, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS map (
				zoom_level INTEGER NOT NULL,
				tile_column INTEGER NOT NULL,
				tile_row INTEGER NOT NULL,
				tile_id TEXT
			);
			CREATE UNIQUE INDEX IF NOT EXISTS map_idx ON map (zoom_level, tile_column, tile_row);
			CREATE TABLE IF NOT EXISTS images (
				tile_id TEXT PRIMARY KEY,
				tile_data BLOB
			);
			CREATE VIEW IF NOT EXISTS tiles AS
				SELECT map.zoom_level AS zoom_level, map.tile_column AS tile_column,
				       map.tile_row AS tile_row, images.tile_data AS tile_data
				FROM map JOIN images ON map.tile_id = images.tile_id;
			CREATE VIEW IF NOT EXISTS tiles_with_hash AS
				SELECT map.zoom_level AS zoom_level, map.tile_column AS tile_column,
				       map.tile_row AS tile_row, images.tile_data AS tile_data,
				       images.tile_id AS tile_hash
				FROM map JOIN images ON map.tile_id = images.tile_id;
		`)
		return err
	default:
		return fmt.Errorf("mbtiles: cannot init unknown schema kind")
	}
}
