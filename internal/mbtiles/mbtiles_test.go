package mbtiles

import (
	"database/sql"
	"testing"
)

func openMemDB(t *testing.T, kind SchemaKind) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(db, kind); err != nil {
		t.Fatal(err)
	}
	return db
}

func insertTile(t *testing.T, db *sql.DB, z, x, y int, data []byte) {
	t.Helper()
	if _, err := db.Exec(`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`, z, x, y, data); err != nil {
		t.Fatal(err)
	}
}

func TestDetectTypeFlat(t *testing.T) {
	db := openMemDB(t, SchemaFlat)
	mbt, err := DetectType(db)
	if err != nil {
		t.Fatal(err)
	}
	if mbt.Kind != SchemaFlat {
		t.Fatalf("detected %v, want Flat", mbt.Kind)
	}
}

func TestDetectTypeFlatWithHash(t *testing.T) {
	db := openMemDB(t, SchemaFlatWithHash)
	mbt, err := DetectType(db)
	if err != nil {
		t.Fatal(err)
	}
	if mbt.Kind != SchemaFlatWithHash {
		t.Fatalf("detected %v, want FlatWithHash", mbt.Kind)
	}
}

func TestDetectTypeNormalized(t *testing.T) {
	db := openMemDB(t, SchemaNormalized)
	mbt, err := DetectType(db)
	if err != nil {
		t.Fatal(err)
	}
	if mbt.Kind != SchemaNormalized {
		t.Fatalf("detected %v, want Normalized", mbt.Kind)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	db := openMemDB(t, SchemaFlat)
	name := "my-tileset"
	if err := SetMetadataValue(db, "name", &name); err != nil {
		t.Fatal(err)
	}
	got, err := GetMetadataValue(db, "name")
	if err != nil || got != name {
		t.Fatalf("got %q, %v; want %q", got, err, name)
	}
	if err := SetMetadataValue(db, "name", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := GetMetadataValueOK(db, "name"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestGetMetadataProjectsKnownKeys(t *testing.T) {
	db := openMemDB(t, SchemaFlat)
	for k, v := range map[string]string{
		"name":        "world_cities",
		"version":     "2",
		"minzoom":     "0",
		"maxzoom":     "6",
		"description": "world cities",
		"json":        `{"vector_layers":[{"id":"cities","fields":{"name":"String"}}]}`,
	} {
		v := v
		if err := SetMetadataValue(db, k, &v); err != nil {
			t.Fatal(err)
		}
	}
	tj, warnings, err := GetMetadata(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if tj.Name != "world_cities" || tj.MinZoom != 0 || tj.MaxZoom != 6 {
		t.Fatalf("unexpected tilejson: %+v", tj)
	}
	if len(tj.VectorLayers) != 1 || tj.VectorLayers[0].ID != "cities" {
		t.Fatalf("vector_layers not extracted: %+v", tj.VectorLayers)
	}
}

func TestAggTilesHashEmptyTileset(t *testing.T) {
	db := openMemDB(t, SchemaFlat)
	h, err := CalcAggTilesHash(db)
	if err != nil {
		t.Fatal(err)
	}
	if h != md5Hex(nil) {
		t.Fatalf("empty tileset hash = %s, want md5(\"\")", h)
	}
}

func TestAggTilesHashOrderIndependentOfInsertOrder(t *testing.T) {
	db1 := openMemDB(t, SchemaFlat)
	insertTile(t, db1, 0, 0, 0, []byte("a"))
	insertTile(t, db1, 1, 0, 0, []byte("b"))
	h1, err := CalcAggTilesHash(db1)
	if err != nil {
		t.Fatal(err)
	}

	db2 := openMemDB(t, SchemaFlat)
	insertTile(t, db2, 1, 0, 0, []byte("b"))
	insertTile(t, db2, 0, 0, 0, []byte("a"))
	h2, err := CalcAggTilesHash(db2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash depends on insert order: %s vs %s", h1, h2)
	}
}

func TestAggTilesHashInvarianceAcrossConversion(t *testing.T) {
	flat := openMemDB(t, SchemaFlat)
	insertTile(t, flat, 0, 0, 0, []byte("alpha"))
	insertTile(t, flat, 1, 1, 0, []byte("beta"))
	wantHash, err := CalcAggTilesHash(flat)
	if err != nil {
		t.Fatal(err)
	}

	hashSchema := openMemDB(t, SchemaFlatWithHash)
	rows, err := flat.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles`)
	if err != nil {
		t.Fatal(err)
	}
	for rows.Next() {
		var z, x, y int
		var data []byte
		if err := rows.Scan(&z, &x, &y, &data); err != nil {
			t.Fatal(err)
		}
		if _, err := hashSchema.Exec(
			`INSERT INTO tiles_with_hash (zoom_level, tile_column, tile_row, tile_data, tile_hash) VALUES (?,?,?,?,?)`,
			z, x, y, data, md5HexUpper(data),
		); err != nil {
			t.Fatal(err)
		}
	}
	rows.Close()

	gotHash, err := CalcAggTilesHash(hashSchema)
	if err != nil {
		t.Fatal(err)
	}
	if gotHash != wantHash {
		t.Fatalf("agg_tiles_hash not invariant across schema conversion: flat=%s hash=%s", wantHash, gotHash)
	}
}

func TestCheckEachTileHashDetectsMismatch(t *testing.T) {
	db := openMemDB(t, SchemaFlatWithHash)
	if _, err := db.Exec(
		`INSERT INTO tiles_with_hash (zoom_level, tile_column, tile_row, tile_data, tile_hash) VALUES (0,0,0,?,?)`,
		[]byte("data"), "DEADBEEF",
	); err != nil {
		t.Fatal(err)
	}
	mbt := MbtType{Kind: SchemaFlatWithHash}
	err := CheckEachTileHash(db, mbt)
	var mismatch *ErrIncorrectTileHash
	if err == nil {
		t.Fatal("expected a hash mismatch error")
	}
	if !asIncorrectTileHash(err, &mismatch) {
		t.Fatalf("expected ErrIncorrectTileHash, got %v (%T)", err, err)
	}
}

func asIncorrectTileHash(err error, target **ErrIncorrectTileHash) bool {
	e, ok := err.(*ErrIncorrectTileHash)
	if ok {
		*target = e
	}
	return ok
}

func TestDiffApplyRoundTrip(t *testing.T) {
	a := openMemDB(t, SchemaFlat)
	insertTile(t, a, 0, 0, 0, []byte("tile-a-1"))
	insertTile(t, a, 1, 0, 0, []byte("tile-a-2"))
	insertTile(t, a, 1, 1, 0, []byte("unchanged"))

	b := openMemDB(t, SchemaFlat)
	insertTile(t, b, 0, 0, 0, []byte("tile-b-1")) // replaced
	insertTile(t, b, 1, 1, 0, []byte("unchanged")) // unchanged
	insertTile(t, b, 2, 0, 0, []byte("tile-b-new")) // inserted
	// (1,0,0) from A is absent in B: deletion

	deltas, err := Diff(a, b)
	if err != nil {
		t.Fatal(err)
	}

	hashA, err := CalcAggTilesHash(a)
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := CalcAggTilesHash(b)
	if err != nil {
		t.Fatal(err)
	}

	patch := openMemDB(t, SchemaFlat)
	if err := WriteDiffFile(patch, SchemaFlat, deltas, hashA, hashB); err != nil {
		t.Fatal(err)
	}

	dest := openMemDB(t, SchemaFlat)
	insertTile(t, dest, 0, 0, 0, []byte("tile-a-1"))
	insertTile(t, dest, 1, 0, 0, []byte("tile-a-2"))
	insertTile(t, dest, 1, 1, 0, []byte("unchanged"))

	if err := ApplyPatch(dest, patch, false); err != nil {
		t.Fatalf("apply patch failed: %v", err)
	}

	gotHash, err := CalcAggTilesHash(dest)
	if err != nil {
		t.Fatal(err)
	}
	if gotHash != hashB {
		t.Fatalf("apply(A, diff(A,B)) hash = %s, want hash(B) = %s", gotHash, hashB)
	}
}

func TestApplyPatchRejectsWrongBaseWithoutForce(t *testing.T) {
	a := openMemDB(t, SchemaFlat)
	insertTile(t, a, 0, 0, 0, []byte("x"))
	b := openMemDB(t, SchemaFlat)
	insertTile(t, b, 0, 0, 0, []byte("y"))
	deltas, _ := Diff(a, b)
	hashA, _ := CalcAggTilesHash(a)
	hashB, _ := CalcAggTilesHash(b)
	patch := openMemDB(t, SchemaFlat)
	if err := WriteDiffFile(patch, SchemaFlat, deltas, hashA, hashB); err != nil {
		t.Fatal(err)
	}

	wrongBase := openMemDB(t, SchemaFlat)
	insertTile(t, wrongBase, 0, 0, 0, []byte("not-a"))

	err := ApplyPatch(wrongBase, patch, false)
	if err == nil {
		t.Fatal("expected hash mismatch error on wrong base")
	}
}

func TestCopyFlatToFlat(t *testing.T) {
	src := openMemDB(t, SchemaFlat)
	insertTile(t, src, 0, 0, 0, []byte("a"))
	insertTile(t, src, 5, 3, 3, []byte("b"))
	insertTile(t, src, 10, 1, 1, []byte("c"))

	dst := openMemDB(t, SchemaFlat)
	maxZoom := 5
	err := Copy(src, dst, CopyOptions{DstType: SchemaFlat, MaxZoom: &maxZoom, OnDuplicate: DuplicateOverride})
	if err != nil {
		t.Fatal(err)
	}
	var count int
	if err := dst.QueryRow(`SELECT count(*) FROM tiles`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tiles copied under max_zoom=5 filter, got %d", count)
	}
}
