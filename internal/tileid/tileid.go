// Package tileid implements tile coordinate arithmetic and format/encoding
// detection shared by every adapter.
package tileid

import (
	"bytes"
	"fmt"
)

// Coord is a Web Mercator tile coordinate in XYZ convention.
type Coord struct {
	Z uint8
	X uint32
	Y uint32
}

// Validate checks the invariants from the data model: x < 2^z, y < 2^z, z <= 30.
func (c Coord) Validate() error {
	if c.Z > 30 {
		return fmt.Errorf("tileid: zoom %d exceeds maximum of 30", c.Z)
	}
	n := uint32(1) << c.Z
	if c.X >= n {
		return fmt.Errorf("tileid: x %d out of range for zoom %d", c.X, c.Z)
	}
	if c.Y >= n {
		return fmt.Errorf("tileid: y %d out of range for zoom %d", c.Y, c.Z)
	}
	return nil
}

// InvertY converts between XYZ and TMS y-row conventions. It is its own
// inverse, so the same function is used for both directions; MBTiles
// adapters call it exactly once at the storage boundary.
func InvertY(z uint8, y uint32) uint32 {
	n := uint32(1) << z
	return n - 1 - y
}

const earthCircumferenceMeters = 40075016.685578488
const originShift = earthCircumferenceMeters / 2.0

// Envelope is a tile's bounding box in Web Mercator projected meters.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// Bounds returns the Web Mercator envelope of tile (z, x, y) in XYZ
// convention, covering the full extent of the earth.
func Bounds(z uint8, x, y uint32) Envelope {
	tiles := float64(uint32(1) << z)
	tileSize := earthCircumferenceMeters / tiles

	minX := -originShift + float64(x)*tileSize
	maxX := minX + tileSize

	// XYZ row 0 is the top of the world; Mercator Y grows upward, so row
	// indices and Y coordinates run in opposite directions.
	maxY := originShift - float64(y)*tileSize
	minY := maxY - tileSize

	return Envelope{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Format identifies the payload shape of a tile.
type Format int

const (
	FormatUnknown Format = iota
	FormatPng
	FormatJpeg
	FormatWebp
	FormatGif
	FormatMvt
	FormatJson
	FormatGeoJson
)

func (f Format) String() string {
	switch f {
	case FormatPng:
		return "png"
	case FormatJpeg:
		return "jpeg"
	case FormatWebp:
		return "webp"
	case FormatGif:
		return "gif"
	case FormatMvt:
		return "mvt"
	case FormatJson:
		return "json"
	case FormatGeoJson:
		return "geojson"
	default:
		return "unknown"
	}
}

// ContentType returns the HTTP Content-Type for a format, or "" if unknown.
func (f Format) ContentType() string {
	switch f {
	case FormatPng:
		return "image/png"
	case FormatJpeg:
		return "image/jpeg"
	case FormatWebp:
		return "image/webp"
	case FormatGif:
		return "image/gif"
	case FormatMvt:
		return "application/vnd.mapbox-vector-tile"
	case FormatJson, FormatGeoJson:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// IsRaster reports whether a format is compressed in-band and therefore
// must never be wrapped in an HTTP content-encoding.
func (f Format) IsRaster() bool {
	switch f {
	case FormatPng, FormatJpeg, FormatWebp, FormatGif:
		return true
	default:
		return false
	}
}

// Encoding identifies the transport/content encoding of a tile's bytes.
type Encoding int

const (
	// EncodingInternal means the format's own in-band compression (e.g.
	// PNG's DEFLATE stream); it is never sent as an HTTP Content-Encoding.
	EncodingInternal Encoding = iota
	EncodingUncompressed
	EncodingGzip
	EncodingBrotli
	EncodingZstd
	EncodingZlib
)

func (e Encoding) String() string {
	switch e {
	case EncodingUncompressed:
		return "identity"
	case EncodingGzip:
		return "gzip"
	case EncodingBrotli:
		return "br"
	case EncodingZstd:
		return "zstd"
	case EncodingZlib:
		return "deflate"
	default:
		return "internal"
	}
}

// Info describes a tile's payload shape and wire encoding.
type Info struct {
	Format   Format
	Encoding Encoding
}

var (
	pngMagic  = []byte("\x89PNG")
	jpegMagic = []byte("\xFF\xD8\xFF")
	gifMagic  = []byte("GIF8")
	gzipMagic = []byte("\x1F\x8B")
)

// Detect examines magic bytes to advise a tile's format and encoding.
// Detection is advisory: explicit metadata should override it, but a
// mismatch between the two should be surfaced as an error by the caller.
func Detect(data []byte) (Info, bool) {
	if len(data) == 0 {
		return Info{}, false
	}
	if bytes.HasPrefix(data, gzipMagic) {
		// Format detection on the compressed bytes themselves is
		// impossible without decoding; callers that need the inner
		// format decode via internal/codec first and call Detect again
		// on the plaintext. Here we only report the wire encoding.
		return Info{Format: FormatUnknown, Encoding: EncodingGzip}, true
	}
	if bytes.HasPrefix(data, pngMagic) {
		return Info{Format: FormatPng, Encoding: EncodingInternal}, true
	}
	if bytes.HasPrefix(data, jpegMagic) {
		return Info{Format: FormatJpeg, Encoding: EncodingInternal}, true
	}
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return Info{Format: FormatWebp, Encoding: EncodingInternal}, true
	}
	if bytes.HasPrefix(data, gifMagic) {
		return Info{Format: FormatGif, Encoding: EncodingInternal}, true
	}
	if data[0] == '{' {
		return Info{Format: FormatJson, Encoding: EncodingUncompressed}, true
	}
	// MVT tiles are protobuf streams; a leading field-1 length-delimited
	// tag (layer message) encodes as 0x0A.
	if data[0] == 0x0A {
		return Info{Format: FormatMvt, Encoding: EncodingUncompressed}, true
	}
	return Info{}, false
}
