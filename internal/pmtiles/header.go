// Package pmtiles implements the PMTiles adapter: range reads over an
// object-store abstraction, header/directory decoding, Hilbert tile-id
// lookup, and directory traversal, following the reference Go
// implementation of the PMTiles v3 format. Range reads go through the
// gocloud.dev Bucket abstraction, promoted here from an indirect to a
// direct, load-bearing dependency.
package pmtiles

import (
	"encoding/binary"
	"fmt"
)

// TileType enumerates the payload format a PMTiles archive stores.
type TileType uint8

const (
	TileTypeUnknown TileType = iota
	TileTypeMvt
	TileTypePng
	TileTypeJpeg
	TileTypeWebp
	TileTypeAvif
)

// Compression enumerates the internal compression applied to the
// directory, metadata, and (optionally) tile blobs.
type Compression uint8

const (
	CompressionUnknown Compression = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

const headerSizeV3 = 127

// Header is the fixed-size PMTiles v3 header.
type Header struct {
	RootOffset     uint64
	RootLength     uint64
	MetadataOffset uint64
	MetadataLength uint64
	LeafOffset     uint64
	LeafLength     uint64
	TileDataOffset uint64
	TileDataLength uint64

	MinZoom, MaxZoom uint8
	MinLonE7         int32
	MinLatE7         int32
	MaxLonE7         int32
	MaxLatE7         int32
	CenterZoom       uint8
	CenterLonE7      int32
	CenterLatE7      int32

	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
}

// ErrNotPMTiles indicates the magic bytes don't match the PMTiles v3
// signature; a "PM"-prefixed v2 file is reported distinctly so callers can
// surface an upgrade-needed diagnostic.
type ErrNotPMTiles struct {
	IsV2 bool
}

func (e *ErrNotPMTiles) Error() string {
	if e.IsV2 {
		return "pmtiles: file is PMTiles v2; only v3 is supported"
	}
	return "pmtiles: not a PMTiles file"
}

// DeserializeHeader parses the first headerSizeV3 bytes of a PMTiles
// archive (the first 16 KiB read at open time covers this plus the root
// directory).
func DeserializeHeader(data []byte) (Header, error) {
	isV3 := len(data) >= 7 && string(data[0:7]) == "PMTiles"
	if !isV3 && len(data) >= 2 && data[0] == 'P' && data[1] == 'M' {
		return Header{}, &ErrNotPMTiles{IsV2: true}
	}
	if len(data) < headerSizeV3 || !isV3 {
		return Header{}, &ErrNotPMTiles{}
	}
	if data[7] != 3 {
		return Header{}, fmt.Errorf("pmtiles: unsupported spec version %d", data[7])
	}

	le := binary.LittleEndian
	h := Header{
		RootOffset:     le.Uint64(data[8:16]),
		RootLength:     le.Uint64(data[16:24]),
		MetadataOffset: le.Uint64(data[24:32]),
		MetadataLength: le.Uint64(data[32:40]),
		LeafOffset:     le.Uint64(data[40:48]),
		LeafLength:     le.Uint64(data[48:56]),
		TileDataOffset: le.Uint64(data[56:64]),
		TileDataLength: le.Uint64(data[64:72]),
		MinZoom:        data[100],
		MaxZoom:        data[101],
		MinLonE7:       int32(le.Uint32(data[102:106])),
		MinLatE7:       int32(le.Uint32(data[106:110])),
		MaxLonE7:       int32(le.Uint32(data[110:114])),
		MaxLatE7:       int32(le.Uint32(data[114:118])),
		CenterZoom:     data[118],
		CenterLonE7:    int32(le.Uint32(data[119:123])),
		CenterLatE7:    int32(le.Uint32(data[123:127])),

		InternalCompression: Compression(data[97]),
		TileCompression:     Compression(data[98]),
		TileType:            TileType(data[99]),
	}
	return h, nil
}

// HeaderExt returns the file extension PMTiles servers conventionally use
// for this header's tile type, used to validate request extensions.
func (h Header) HeaderExt() string {
	switch h.TileType {
	case TileTypeMvt:
		return ".mvt"
	case TileTypePng:
		return ".png"
	case TileTypeJpeg:
		return ".jpg"
	case TileTypeWebp:
		return ".webp"
	case TileTypeAvif:
		return ".avif"
	default:
		return ""
	}
}
