// Package catalog builds the /catalog document and resolves an id_list
// into a single merged TileJSON, including the tiles-URL templating
// rules: route prefix, base_path override, and the X-Rewrite-Url header.
// Each request follows the same shape: read path params, resolve via a
// registry, marshal JSON.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// Document is the /catalog response body shape: `GET /catalog` → JSON
// `{tiles, sprites, fonts}`. Sprites are an external collaborator and
// always serialize as an empty object here.
type Document struct {
	Tiles   map[string]source.CatalogEntry `json:"tiles"`
	Sprites map[string]struct{}            `json:"sprites"`
	Fonts   map[string]struct{}            `json:"fonts"`
}

// Build assembles the /catalog document from the tile registry and the
// font catalog's id set.
func Build(reg *source.Registry, fontIDs []string) Document {
	fonts := make(map[string]struct{}, len(fontIDs))
	for _, id := range fontIDs {
		fonts[id] = struct{}{}
	}
	return Document{
		Tiles:   reg.Catalog(),
		Sprites: map[string]struct{}{},
		Fonts:   fonts,
	}
}

// URLContext carries the request-derived values needed to template the
// TileJSON `tiles` array: the scheme/host the request arrived on, the
// server's configured route prefix, an optional explicit base_path
// override, and the raw X-Rewrite-Url header value if present.
type URLContext struct {
	Scheme       string
	Host         string
	RoutePrefix  string
	BasePath     string
	RewriteURL   string
}

// effectivePrefix resolves the three competing prefix sources in the
// precedence route_prefix_test.rs's test_base_path_overrides_route_prefix
// establishes: an explicit base_path always wins, then a rewrite header,
// then the configured route prefix.
func (u URLContext) effectivePrefix() string {
	if u.BasePath != "" {
		return normalizePrefix(u.BasePath)
	}
	if u.RewriteURL != "" {
		return normalizePrefix(stripLastSegment(u.RewriteURL))
	}
	return normalizePrefix(u.RoutePrefix)
}

// normalizePrefix treats "/" the same as "" (test_route_prefix_root_path:
// a bare root path means no prefix) and trims any trailing slash.
func normalizePrefix(p string) string {
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// stripLastSegment drops the final path segment from an X-Rewrite-Url
// header value.
func stripLastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// TileJSON resolves idList against the registry and returns the merged
// TileJSON document. Its name and tiles template both use the original
// idList string, unchanged — composites keep serving under the same
// comma-joined id the client asked for.
func TileJSON(reg *source.Registry, idList string, u URLContext) (tilejson.TileJSON, error) {
	sources, err := reg.GetMany(idList)
	if err != nil {
		return tilejson.TileJSON{}, err
	}

	var tj tilejson.TileJSON
	switch len(sources) {
	case 0:
		return tilejson.TileJSON{}, fmt.Errorf("catalog: empty id_list")
	case 1:
		tj = sources[0].TileJSON() // single source: clone its own document
	default:
		tj = merge(sources)
	}

	tj.Name = idList
	tj.Tiles = []string{tilesTemplate(u, idList)}
	return tj, nil
}

// tilesTemplate builds the `<scheme>://<host>/<prefix>/{ids}/{z}/{x}/{y}`
// URL template, substituting the resolved id_list for `{ids}` (not left
// as a literal placeholder, since the document is already scoped to this
// specific composite).
func tilesTemplate(u URLContext, idList string) string {
	prefix := u.effectivePrefix()
	return fmt.Sprintf("%s://%s%s/%s/{z}/{x}/{y}", u.Scheme, u.Host, prefix, idList)
}

// merge implements the composite merge rules: intersect zoom bounds,
// union spatial bounds and vector layers (first wins on id conflict),
// clear fields that cannot be meaningfully merged across sources.
func merge(sources []source.Source) tilejson.TileJSON {
	out := tilejson.New()

	first := true
	seenLayer := make(map[string]bool)
	for _, s := range sources {
		tj := s.TileJSON()
		if first {
			out.MinZoom, out.MaxZoom = tj.MinZoom, tj.MaxZoom
			out.Bounds = tj.Bounds
			first = false
		} else {
			if tj.MinZoom > out.MinZoom {
				out.MinZoom = tj.MinZoom
			}
			if tj.MaxZoom < out.MaxZoom {
				out.MaxZoom = tj.MaxZoom
			}
			out.Bounds = unionBounds(out.Bounds, tj.Bounds)
		}
		for _, vl := range tj.VectorLayers {
			if seenLayer[vl.ID] {
				continue // first registration wins; later duplicates are dropped
			}
			seenLayer[vl.ID] = true
			out.VectorLayers = append(out.VectorLayers, vl)
		}
	}

	sort.Slice(out.VectorLayers, func(i, j int) bool {
		return out.VectorLayers[i].ID < out.VectorLayers[j].ID
	})

	// attribution and legend are source-specific and cannot be merged
	// meaningfully across a composite, so they are cleared.
	out.Attribution = ""
	out.Legend = ""
	return out
}

func unionBounds(a, b [4]float64) [4]float64 {
	if a == ([4]float64{}) {
		return b
	}
	if b == ([4]float64{}) {
		return a
	}
	return [4]float64{
		min(a[0], b[0]),
		min(a[1], b[1]),
		max(a[2], b[2]),
		max(a[3], b[3]),
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
