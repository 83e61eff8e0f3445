// Package tilejson implements the tilejson.io 3.0.0 document shape shared by
// every source and by the composite/catalog merger (components E, F, G, H,
// I, L all produce or consume this type).
package tilejson

// VectorLayer describes one vector layer's id/field schema (MVT sources).
type VectorLayer struct {
	ID          string            `json:"id"`
	Fields      map[string]string `json:"fields,omitempty"`
	Description string            `json:"description,omitempty"`
	MinZoom     *int              `json:"minzoom,omitempty"`
	MaxZoom     *int              `json:"maxzoom,omitempty"`
}

// TileJSON mirrors the tilejson.io 3.0.0 document fields: tilejson, tiles,
// name, description, attribution, legend, template, minzoom, maxzoom,
// bounds, center, vector_layers, plus an Other bag for preserved but
// unrecognized metadata keys.
type TileJSON struct {
	TileJSON     string            `json:"tilejson"`
	Tiles        []string          `json:"tiles"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Attribution  string            `json:"attribution,omitempty"`
	Legend       string            `json:"legend,omitempty"`
	Template     string            `json:"template,omitempty"`
	Scheme       string            `json:"scheme,omitempty"`
	MinZoom      int               `json:"minzoom"`
	MaxZoom      int               `json:"maxzoom"`
	Bounds       [4]float64        `json:"bounds,omitempty"`
	Center       [3]float64        `json:"center,omitempty"`
	VectorLayers []VectorLayer     `json:"vector_layers,omitempty"`
	Other        map[string]string `json:"-"`
}

// New returns a TileJSON with the required version field and XYZ scheme
// set, matching every adapter's baseline document.
func New() TileJSON {
	return TileJSON{TileJSON: "3.0.0", Scheme: "xyz", MinZoom: 0, MaxZoom: 22}
}
