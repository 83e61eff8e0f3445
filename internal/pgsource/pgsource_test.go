package pgsource

import (
	"strings"
	"testing"

	"github.com/mmartin/tileserv/internal/tileid"
)

func TestCmpVersion(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"11.0.0", "11.0.0", 0},
		{"10.5.0", "11.0.0", -1},
		{"12.1", "11.0.0", 1},
		{"3.1.0", "3.0.0", 1},
		{"3.0.4", "3.1.0", -1},
	}
	for _, c := range cases {
		if got := cmpVersion(c.a, c.b); got != c.want {
			t.Errorf("cmpVersion(%q,%q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSplitVersion(t *testing.T) {
	got := splitVersion("3.1.4 (PostGIS build)")
	want := []int{3, 1, 4}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestTableSourceBuildQueryUsesTileEnvelopeMargin(t *testing.T) {
	pool := &Pool{caps: Capabilities{SupportsMargin31: true}}
	ts, err := NewTableSource(pool, TableSourceConfig{
		ID: "trails", Table: "trails", GeomColumn: "geom", SRID: 4326,
		IDColumn: "id", Properties: []string{"name", "level"},
	})
	if err != nil {
		t.Fatal(err)
	}
	query, args := ts.buildQuery(tileid.Coord{Z: 10, X: 3, Y: 7})
	if !strings.Contains(query, "margin =>") {
		t.Fatalf("expected margin parameter in query: %s", query)
	}
	if !strings.Contains(query, "name, level") {
		t.Fatalf("expected property columns in query: %s", query)
	}
	if len(args) != 3 || args[0] != uint32(3) || args[1] != uint32(7) || args[2] != uint8(10) {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestTableSourceBuildQueryNoMarginWhenUnsupported(t *testing.T) {
	pool := &Pool{caps: Capabilities{SupportsMargin31: false}}
	ts, err := NewTableSource(pool, TableSourceConfig{
		ID: "trails", Table: "trails", GeomColumn: "geom", SRID: 4326,
	})
	if err != nil {
		t.Fatal(err)
	}
	query, _ := ts.buildQuery(tileid.Coord{Z: 1, X: 0, Y: 0})
	if strings.Contains(query, "margin =>") {
		t.Fatalf("did not expect margin parameter: %s", query)
	}
}

func TestNewTableSourceRequiresTableAndGeom(t *testing.T) {
	pool := &Pool{}
	if _, err := NewTableSource(pool, TableSourceConfig{ID: "x"}); err == nil {
		t.Fatal("expected error for missing table/geom_column")
	}
}

func TestNewFunctionSourceRequiresFunction(t *testing.T) {
	pool := &Pool{}
	if _, err := NewFunctionSource(pool, FunctionSourceConfig{ID: "x"}); err == nil {
		t.Fatal("expected error for missing function name")
	}
}
