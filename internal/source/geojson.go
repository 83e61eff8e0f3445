package source

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// GeoJSONSource is a single static GeoJSON file, loaded fully into memory
// at startup and sliced into MVT tiles on request. It runs the inverse
// direction from a typical fetch-and-decode MVT client — cutting a
// GeoJSON FeatureCollection into MVT rather than reading MVT back into Go
// structs — but uses the same paulmach/orb/geojson and
// paulmach/orb/encoding/mvt packages, with a per-coordinate memo of the
// finished tile bytes. Concurrent misses on the same coordinate are not
// coalesced: each one builds the tile.
type GeoJSONSource struct {
	id        string
	layerName string
	fc        *geojson.FeatureCollection
	tj        tilejson.TileJSON

	mu    sync.Mutex
	cache map[maptile.Tile][]byte
}

// OpenGeoJSON reads and parses a GeoJSON file into a single-layer MVT
// source. The layer name defaults to the source id, matching martin's own
// convention for file-based vector sources.
func OpenGeoJSON(id, path string) (*GeoJSONSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geojson: read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("geojson: parse %s: %w", path, err)
	}

	tj := tilejson.New()
	tj.Name = id
	tj.MaxZoom = 22
	tj.VectorLayers = []tilejson.VectorLayer{VectorLayerFor(id)}

	return &GeoJSONSource{
		id:        id,
		layerName: id,
		fc:        fc,
		tj:        tj,
		cache:     make(map[maptile.Tile][]byte),
	}, nil
}

// VectorLayerFor builds the single-layer vector_layers entry a GeoJSON
// source's TileJSON advertises; exported so catalog tests can construct
// an expected document without round-tripping a file.
func VectorLayerFor(id string) tilejson.VectorLayer {
	return tilejson.VectorLayer{ID: id}
}

func (g *GeoJSONSource) ID() string                  { return g.id }
func (g *GeoJSONSource) TileJSON() tilejson.TileJSON { return g.tj }
func (g *GeoJSONSource) SupportsURLQuery() bool      { return false }
func (g *GeoJSONSource) ConcurrentFriendly() bool    { return true }

func (g *GeoJSONSource) TileInfo() tileid.Info {
	return tileid.Info{Format: tileid.FormatMvt, Encoding: tileid.EncodingGzip}
}

// CloneHandle returns itself: the in-memory FeatureCollection is never
// mutated after OpenGeoJSON returns, so concurrent readers share it
// safely, guarded only by the per-tile cache's own mutex.
func (g *GeoJSONSource) CloneHandle() Source { return g }

// GetTile projects copies of the in-memory features into the requested
// tile, clips them to the tile extent, drops features left empty, and
// marshals to gzipped MVT (no geometry simplification is applied),
// memoizing the result per coordinate since the source data never changes.
func (g *GeoJSONSource) GetTile(_ context.Context, coord tileid.Coord, _ string) ([]byte, error) {
	t := maptile.New(uint32(coord.X), uint32(coord.Y), maptile.Zoom(coord.Z))

	g.mu.Lock()
	if cached, ok := g.cache[t]; ok {
		g.mu.Unlock()
		return cached, nil
	}
	g.mu.Unlock()

	// mvt.NewLayers shares the *geojson.Feature values, and ProjectToTile
	// and Clip replace their geometries, so the layers get copies.
	fc := geojson.NewFeatureCollection()
	for _, f := range g.fc.Features {
		cp := *f
		cp.Geometry = orb.Clone(f.Geometry)
		fc.Append(&cp)
	}
	collections := map[string]*geojson.FeatureCollection{g.layerName: fc}
	layers, err := mvt.NewLayers(collections)
	if err != nil {
		return nil, fmt.Errorf("geojson: %s: build layers: %w", g.id, err)
	}
	layers.ProjectToTile(t)
	layers.Clip(mvt.MapboxGLDefaultExtentBound)
	layers.RemoveEmpty(1.0, 1.0)

	data, err := mvt.MarshalGzipped(layers)
	if err != nil {
		return nil, fmt.Errorf("geojson: %s: marshal tile (%d,%d,%d): %w", g.id, coord.Z, coord.X, coord.Y, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	g.mu.Lock()
	g.cache[t] = data
	g.mu.Unlock()
	return data, nil
}
