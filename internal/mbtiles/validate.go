package mbtiles

import (
	"database/sql"
	"fmt"
)

// IntegrityLevel selects how thoroughly Validate checks the SQLite file
// itself, independent of the MBTiles-specific structural/hash checks.
type IntegrityLevel int

const (
	IntegrityOff IntegrityLevel = iota
	IntegrityQuick
	IntegrityFull
)

// ErrStructuralViolation is a data-integrity error: a tiles row violates
// the zoom/column/row bounds invariant.
type ErrStructuralViolation struct {
	Zoom, Column, Row int
	Reason            string
}

func (e *ErrStructuralViolation) Error() string {
	return fmt.Sprintf("mbtiles: structural violation at (%d,%d,%d): %s", e.Zoom, e.Column, e.Row, e.Reason)
}

// CheckStructure ensures every row of tiles has zoom_level in [0,30],
// tile_column/tile_row in [0, 2^z), reporting the first offending row.
func CheckStructure(db *sql.DB) error {
	rows, err := db.Query(`SELECT zoom_level, tile_column, tile_row FROM tiles`)
	if err != nil {
		return fmt.Errorf("mbtiles: structural check query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var z, x, y int
		if err := rows.Scan(&z, &x, &y); err != nil {
			return err
		}
		if z < 0 || z > 30 {
			return &ErrStructuralViolation{Zoom: z, Column: x, Row: y, Reason: "zoom_level out of [0,30]"}
		}
		n := 1 << uint(z)
		if x < 0 || x >= n {
			return &ErrStructuralViolation{Zoom: z, Column: x, Row: y, Reason: "tile_column out of range"}
		}
		if y < 0 || y >= n {
			return &ErrStructuralViolation{Zoom: z, Column: x, Row: y, Reason: "tile_row out of range"}
		}
	}
	return rows.Err()
}

// CheckSQLiteIntegrity runs PRAGMA quick_check or integrity_check depending
// on level. IntegrityOff is a no-op.
func CheckSQLiteIntegrity(db *sql.DB, level IntegrityLevel) error {
	var pragma string
	switch level {
	case IntegrityOff:
		return nil
	case IntegrityQuick:
		pragma = "PRAGMA quick_check"
	case IntegrityFull:
		pragma = "PRAGMA integrity_check"
	default:
		return fmt.Errorf("mbtiles: unknown integrity level %d", level)
	}
	var result string
	if err := db.QueryRow(pragma).Scan(&result); err != nil {
		return fmt.Errorf("mbtiles: %s: %w", pragma, err)
	}
	if result != "ok" {
		return fmt.Errorf("mbtiles: %s reported: %s", pragma, result)
	}
	return nil
}

// ValidateOptions selects which of the four validation passes to run.
type ValidateOptions struct {
	Integrity      IntegrityLevel
	CheckStructure bool
	CheckTileHash  bool
	CheckAggHash   bool
}

// Validate runs the requested passes in order: SQLite integrity,
// structural, per-tile hash, aggregate hash. It stops at the first
// failure, matching the CLI's single-diagnostic-per-run posture.
func Validate(db *sql.DB, mbt MbtType, opts ValidateOptions) error {
	if err := CheckSQLiteIntegrity(db, opts.Integrity); err != nil {
		return err
	}
	if opts.CheckStructure {
		if err := CheckStructure(db); err != nil {
			return err
		}
	}
	if opts.CheckTileHash {
		if err := CheckEachTileHash(db, mbt); err != nil {
			return err
		}
	}
	if opts.CheckAggHash {
		if err := CheckAggTilesHash(db); err != nil {
			return err
		}
	}
	return nil
}
