// Package cog implements the Cloud-Optimized GeoTIFF tile source. IFD
// enumeration and tag reading use github.com/hhrutter/tiff; the decode/
// re-encode-to-PNG path reuses disintegration/imaging, already present
// for image handling elsewhere in this codebase. Pixel unpacking from the
// raw decompressed sample stream stays in this package since imaging has
// no TIFF-sample ingestion path of its own.
package cog

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/hhrutter/tiff"

	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// compression codes as used by the TIFF spec (subset COG cares about).
const (
	compNone    = 1
	compJPEG    = 7
	compDeflate = 8
	compLZW     = 5
	compWebp    = 50001
)

// level describes one IFD's role as a zoom-mapped pyramid level.
type level struct {
	zoom          int
	ifdIndex      int
	tileWidth     int
	tileHeight    int
	compression   int
	jpegTables    []byte
	colorRGBA     bool
}

// Adapter is a Source backed by a single Cloud-Optimized GeoTIFF, opened
// once at startup and queried per-tile thereafter.
type Adapter struct {
	id     string
	opener func(ctx context.Context) (io.ReadSeekCloser, error)
	levels map[int]level
	tj     tilejson.TileJSON
}

const earthCircumference = 40075016.685578488

// Open enumerates IFDs, keeping only those that satisfy the COG tiling
// requirements: ChunkType must be Tile, PlanarConfiguration must be 1,
// color type RGB(8)/RGBA(8), and a geo-transform (pixel scale + tie
// points, or a 4x4 transformation) must be present.
func Open(ctx context.Context, id string, opener func(ctx context.Context) (io.ReadSeekCloser, error)) (*Adapter, error) {
	rs, err := opener(ctx)
	if err != nil {
		return nil, fmt.Errorf("cog: open %s: %w", id, err)
	}
	defer rs.Close()

	dec, err := tiff.NewDecoder(rs)
	if err != nil {
		return nil, fmt.Errorf("cog: %s: not a valid TIFF: %w", id, err)
	}

	levels := make(map[int]level)
	ifdIndex := 0
	for {
		tags, ok := dec.NextIFD()
		if !ok {
			break
		}
		ifdIndex++

		if tags.NewSubfileType()&0x4 != 0 {
			continue // mask subfile, not a usable pyramid level
		}

		chunkType, err := tags.ChunkType()
		if err != nil || chunkType != tiff.ChunkTile {
			continue
		}
		if tags.PlanarConfiguration() != 1 {
			continue
		}
		if !tags.IsRGB8() && !tags.IsRGBA8() {
			continue
		}

		resMeters, ok := tags.PixelScaleMeters()
		if !ok {
			continue // neither pixel scale+tie points nor a 4x4 transform
		}

		zoom := nearestZoomForResolution(resMeters)
		levels[zoom] = level{
			zoom:        zoom,
			ifdIndex:    ifdIndex - 1,
			tileWidth:   tags.TileWidth(),
			tileHeight:  tags.TileHeight(),
			compression: tags.Compression(),
			jpegTables:  tags.JPEGTables(),
			colorRGBA:   tags.IsRGBA8(),
		}
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("cog: %s: no usable IFDs found", id)
	}

	tj := tilejson.New()
	tj.Name = id
	return &Adapter{id: id, opener: opener, levels: levels, tj: tj}, nil
}

// nearestZoomForResolution maps an image's ground resolution (meters per
// pixel) to the Web Mercator zoom level minimizing
// |tile_width_in_meters - earth_circumference / 2^z|.
func nearestZoomForResolution(metersPerPixel float64) int {
	best, bestDiff := 0, math.Inf(1)
	tileMeters := metersPerPixel * 256
	for z := 0; z <= 24; z++ {
		want := earthCircumference / math.Pow(2, float64(z))
		diff := math.Abs(tileMeters - want)
		if diff < bestDiff {
			best, bestDiff = z, diff
		}
	}
	return best
}

func (a *Adapter) ID() string                  { return a.id }
func (a *Adapter) TileJSON() tilejson.TileJSON { return a.tj }
func (a *Adapter) SupportsURLQuery() bool      { return false }
func (a *Adapter) ConcurrentFriendly() bool    { return true }

func (a *Adapter) TileInfo() tileid.Info {
	return tileid.Info{Format: tileid.FormatPng, Encoding: tileid.EncodingInternal}
}

// GetTile maps (z,x,y) to the matching IFD/chunk, returning raw bytes
// unchanged for JPEG/WEBP-compressed chunks (splicing JPEGTables into a
// standalone JPEG) or decoding+re-encoding to PNG otherwise.
func (a *Adapter) GetTile(ctx context.Context, coord tileid.Coord, _ string) ([]byte, error) {
	lvl, ok := a.levels[int(coord.Z)]
	if !ok {
		return nil, nil // out of the archive's zoom range: empty tile
	}

	rs, err := a.opener(ctx)
	if err != nil {
		return nil, fmt.Errorf("cog: %s: reopen: %w", a.id, err)
	}
	defer rs.Close()

	dec, err := tiff.NewDecoder(rs)
	if err != nil {
		return nil, fmt.Errorf("cog: %s: decode: %w", a.id, err)
	}

	chunk, err := dec.ReadChunk(lvl.ifdIndex, int(coord.X), int(coord.Y))
	if err != nil {
		return nil, fmt.Errorf("cog: %s: read chunk (%d,%d,%d): %w", a.id, coord.Z, coord.X, coord.Y, err)
	}
	if chunk == nil {
		return nil, nil
	}

	switch lvl.compression {
	case compJPEG:
		return spliceJPEGTables(chunk, lvl.jpegTables), nil
	case compWebp:
		return chunk, nil
	default:
		img, err := decodeChunk(chunk, lvl)
		if err != nil {
			return nil, fmt.Errorf("cog: %s: decode chunk: %w", a.id, err)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("cog: %s: encode png: %w", a.id, err)
		}
		return buf.Bytes(), nil
	}
}

// spliceJPEGTables inserts a file-level JPEGTables segment between a raw
// chunk's SOI marker and its frame data, forming a standalone JPEG (the
// per-tile JPEG stream in a COG omits the shared quantization/Huffman
// tables to save space).
func spliceJPEGTables(chunk, jpegTables []byte) []byte {
	if len(jpegTables) == 0 || len(chunk) < 2 {
		return chunk
	}
	// jpegTables already carries its own SOI/EOI wrapper; strip both so
	// only the table segments are spliced in.
	tables := jpegTables
	if len(tables) >= 4 && tables[0] == 0xFF && tables[1] == 0xD8 {
		tables = tables[2:]
	}
	if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
		tables = tables[:len(tables)-2]
	}
	out := make([]byte, 0, len(chunk)+len(tables))
	out = append(out, chunk[0], chunk[1]) // SOI
	out = append(out, tables...)
	out = append(out, chunk[2:]...)
	return out
}

// CloneHandle returns an owned reference usable from another goroutine;
// Adapter holds no per-request mutable state beyond its opener closure,
// which is itself safe for concurrent use.
func (a *Adapter) CloneHandle() source.Source {
	return a
}

func decodeChunk(raw []byte, lvl level) (image.Image, error) {
	var decompressed []byte
	var err error
	switch lvl.compression {
	case compNone:
		decompressed = raw
	case compLZW:
		decompressed, err = decodeLZW(raw)
	case compDeflate:
		decompressed, err = decodeDeflate(raw)
	default:
		return nil, fmt.Errorf("cog: unsupported chunk compression %d", lvl.compression)
	}
	if err != nil {
		return nil, err
	}
	return assembleImage(decompressed, lvl)
}
