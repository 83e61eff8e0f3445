package pgsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// TableSourceConfig describes one PostGIS table bound as a Source, the
// generalized form of the column list postgis_service.go hard-coded for
// the "trails" table.
type TableSourceConfig struct {
	ID          string
	Schema      string
	Table       string
	GeomColumn  string
	SRID        int
	IDColumn    string   // optional
	Properties  []string // property columns, emitted verbatim
	Extent      int      // default 4096
	Buffer      int      // default 64
	ClipGeom    bool
	MaxFeatures int // 0 = unbounded
	Bounds      *[4]float64
}

// TableSource generates ST_AsMVTGeom/ST_AsMVT SQL per tile request,
// generalizing the single-table query bodies in
// mvt_generator_postgis_service.go's GetTile into a reusable template
// driven by TableSourceConfig instead of literal column names.
type TableSource struct {
	pool *Pool
	cfg  TableSourceConfig
	tj   tilejson.TileJSON
}

// NewTableSource validates cfg and builds the TileJSON projection; bounds
// are taken from cfg.Bounds when set, otherwise left at the zero value.
// Nothing in this package or the catalog computes them from the table (no
// ST_EstimatedExtent query is run).
func NewTableSource(pool *Pool, cfg TableSourceConfig) (*TableSource, error) {
	if cfg.Extent == 0 {
		cfg.Extent = 4096
	}
	if cfg.Buffer == 0 {
		cfg.Buffer = 64
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Table == "" || cfg.GeomColumn == "" {
		return nil, fmt.Errorf("pgsource: table source %s: table and geom_column are required", cfg.ID)
	}

	tj := tilejson.New()
	tj.Name = cfg.ID
	if cfg.Bounds != nil {
		tj.Bounds = *cfg.Bounds
	}
	return &TableSource{pool: pool, cfg: cfg, tj: tj}, nil
}

func (t *TableSource) ID() string                  { return t.cfg.ID }
func (t *TableSource) TileJSON() tilejson.TileJSON { return t.tj }
func (t *TableSource) SupportsURLQuery() bool      { return false }
func (t *TableSource) ConcurrentFriendly() bool    { return true }

func (t *TableSource) TileInfo() tileid.Info {
	return tileid.Info{Format: tileid.FormatMvt, Encoding: tileid.EncodingUncompressed}
}

// GetTile builds and runs the ST_AsMVTGeom/ST_AsMVT query for (z,x,y),
// always building the tile envelope with ST_TileEnvelope and adding its
// margin parameter only when the cluster is PostGIS >= 3.1.
func (t *TableSource) GetTile(ctx context.Context, coord tileid.Coord, _ string) ([]byte, error) {
	query, args := t.buildQuery(coord)

	var mvt []byte
	err := t.pool.db.QueryRowContext(ctx, query, args...).Scan(&mvt)
	if err != nil {
		return nil, fmt.Errorf("pgsource: table %s.%s: query tile (%d,%d,%d): %w",
			t.cfg.Schema, t.cfg.Table, coord.Z, coord.X, coord.Y, err)
	}
	return mvt, nil
}

func (t *TableSource) buildQuery(coord tileid.Coord) (string, []interface{}) {
	var cols []string
	if t.cfg.IDColumn != "" {
		cols = append(cols, t.cfg.IDColumn)
	}
	cols = append(cols, t.cfg.Properties...)

	var envelope string
	if t.pool.caps.SupportsMargin31 {
		envelope = fmt.Sprintf("ST_TileEnvelope($1,$2,$3, margin => %f)", float64(t.cfg.Buffer)/float64(t.cfg.Extent))
	} else {
		envelope = "ST_TileEnvelope($1,$2,$3)"
	}

	clip := "false"
	if t.cfg.ClipGeom {
		clip = "true"
	}

	limitClause := ""
	if t.cfg.MaxFeatures > 0 {
		limitClause = fmt.Sprintf(" LIMIT %d", t.cfg.MaxFeatures)
	}

	colList := ""
	if len(cols) > 0 {
		colList = ", " + strings.Join(cols, ", ")
	}
	idArg := ""
	if t.cfg.IDColumn != "" {
		idArg = fmt.Sprintf(", '%s'", t.cfg.IDColumn)
	}

	query := fmt.Sprintf(`
WITH mvt_geom AS (
  SELECT
    ST_AsMVTGeom(
      ST_Transform(ST_CurveToLine(%[1]s::geometry), 3857),
      %[2]s,
      %[3]d, %[4]d, %[5]s) AS geom%[6]s
  FROM %[7]s.%[8]s
  WHERE %[1]s && ST_Transform(%[2]s, %[9]d)%[10]s
)
SELECT ST_AsMVT(mvt_geom.*, '%[11]s', %[3]d, 'geom'%[12]s)
FROM mvt_geom
WHERE geom IS NOT NULL;`,
		t.cfg.GeomColumn, envelope, t.cfg.Extent, t.cfg.Buffer, clip, colList,
		t.cfg.Schema, t.cfg.Table, t.cfg.SRID, limitClause, t.cfg.ID, idArg)

	return query, []interface{}{coord.X, coord.Y, coord.Z}
}

// CloneHandle returns an owned reference; TableSource holds no per-request
// state beyond the shared pool, which is itself concurrency-safe.
func (t *TableSource) CloneHandle() source.Source {
	return t
}
