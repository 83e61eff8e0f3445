package mbtiles

import (
	"bytes"
	"database/sql"
	"fmt"
)

// PatchEncoding selects how a diff file stores per-tile deltas.
type PatchEncoding int

const (
	// PatchFullTile stores the complete new tile bytes for every
	// insertion/replacement and a NULL tile_data row for every deletion.
	// This is the default, always-implemented encoding.
	PatchFullTile PatchEncoding = iota
	// PatchBinDiffRaw and PatchBinDiffGz name the bsdiff-style binary delta
	// encodings. No bsdiff implementation is wired up and no function in
	// this package takes a PatchEncoding: Diff, WriteDiffFile and
	// ApplyPatch always use full-tile rows.
	PatchBinDiffRaw
	PatchBinDiffGz
)

// ErrUnsupportedEncoding names the error for the two bsdiff-based
// encodings, which have no grounded Go library to build on (see
// DESIGN.md). No function in this package currently returns it.
var ErrUnsupportedEncoding = fmt.Errorf("mbtiles: bsdiff-based patch encodings are not implemented")

// TileDelta describes one changed coordinate between two archives.
type TileDelta struct {
	Zoom, X, Y int
	// Data is nil for a deletion.
	Data []byte
}

// Diff produces the set of deltas such that applying them to src yields
// dst's tile contents: insertions (in dst, not src), deletions (in src,
// not dst, encoded as a delta with nil Data), and replacements (contents
// differ).
func Diff(src, dst *sql.DB) ([]TileDelta, error) {
	srcTiles, err := loadAllTiles(src)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: diff read src: %w", err)
	}
	dstTiles, err := loadAllTiles(dst)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: diff read dst: %w", err)
	}

	var deltas []TileDelta
	for k, dstData := range dstTiles {
		srcData, inSrc := srcTiles[k]
		if !inSrc || !bytes.Equal(srcData, dstData) {
			deltas = append(deltas, TileDelta{Zoom: k.z, X: k.x, Y: k.y, Data: dstData})
		}
	}
	for k := range srcTiles {
		if _, inDst := dstTiles[k]; !inDst {
			deltas = append(deltas, TileDelta{Zoom: k.z, X: k.x, Y: k.y, Data: nil})
		}
	}
	return deltas, nil
}

type tileKey struct{ z, x, y int }

func loadAllTiles(db *sql.DB) (map[tileKey][]byte, error) {
	rows, err := db.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[tileKey][]byte)
	for rows.Next() {
		var z, x, y int
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			return nil, err
		}
		out[tileKey{z, x, y}] = data
	}
	return out, rows.Err()
}

// WriteDiffFile materializes deltas into an MBTiles file at dst (any
// schema kind; Flat is the simplest and is used by the CLI), recording
// agg_tiles_hash_before_apply/after_apply metadata so ApplyPatch can
// enforce the round-trip invariant.
func WriteDiffFile(dst *sql.DB, kind SchemaKind, deltas []TileDelta, hashBefore, hashAfter string) error {
	if err := InitSchema(dst, kind); err != nil {
		return err
	}
	tx, err := dst.Begin()
	if err != nil {
		return err
	}
	for _, d := range deltas {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
			d.Zoom, d.X, d.Y, d.Data,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("mbtiles: write diff tile: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	before, after := hashBefore, hashAfter
	if err := SetMetadataValue(dst, MetaAggTilesHashBeforeApply, &before); err != nil {
		return err
	}
	return SetMetadataValue(dst, MetaAggTilesHashAfterApply, &after)
}

// ApplyPatch applies a diff file's deltas onto dest, enforcing that
// hash(dest) equals the patch's recorded agg_tiles_hash_before_apply
// (unless force), and verifying the result against
// agg_tiles_hash_after_apply.
func ApplyPatch(dest, patch *sql.DB, force bool) error {
	if !force {
		before, err := GetMetadataValue(patch, MetaAggTilesHashBeforeApply)
		if err != nil {
			return fmt.Errorf("mbtiles: apply patch: %w", err)
		}
		current, err := CalcAggTilesHash(dest)
		if err != nil {
			return err
		}
		if current != before {
			return &ErrAggHashMismatch{Stored: before, Computed: current}
		}
	}

	deltaRows, err := patch.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles`)
	if err != nil {
		return fmt.Errorf("mbtiles: read patch tiles: %w", err)
	}
	defer deltaRows.Close()

	tx, err := dest.Begin()
	if err != nil {
		return err
	}
	for deltaRows.Next() {
		var z, x, y int
		var data []byte
		if err := deltaRows.Scan(&z, &x, &y, &data); err != nil {
			tx.Rollback()
			return err
		}
		if data == nil {
			if _, err := tx.Exec(`DELETE FROM tiles WHERE zoom_level=? AND tile_column=? AND tile_row=?`, z, x, y); err != nil {
				tx.Rollback()
				return err
			}
			continue
		}
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
			z, x, y, data,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := deltaRows.Err(); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	after, err := GetMetadataValue(patch, MetaAggTilesHashAfterApply)
	if err != nil {
		return fmt.Errorf("mbtiles: apply patch: %w", err)
	}
	got, err := CalcAggTilesHash(dest)
	if err != nil {
		return err
	}
	if got != after {
		return &ErrAggHashMismatch{Stored: after, Computed: got}
	}
	if _, _, err := UpdateAggTilesHash(dest); err != nil {
		return fmt.Errorf("mbtiles: apply patch: persist agg_tiles_hash: %w", err)
	}
	return nil
}
