package pmtiles

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"gocloud.dev/blob"

	"github.com/mmartin/tileserv/internal/pmtdircache"
	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

const maxDirectoryDepth = 3
const rootDirectoryBudget = 16384 // root directory must fit in the first 16 KiB

var nextInstanceID uint64

// Adapter is a Source backed by a single PMTiles archive read via range
// requests against a gocloud.dev blob.Bucket (local file, S3, GCS, or
// Azure, chosen by the bucket URL scheme at open time).
type Adapter struct {
	id         string
	bucket     *blob.Bucket
	key        string
	instanceID uint64
	header     Header
	dirCache   *pmtdircache.Cache
	tj         tilejson.TileJSON
}

// Open reads the header and root directory of the archive at key within
// bucket, validating that the root directory fits the first 16 KiB.
func Open(ctx context.Context, id string, bucket *blob.Bucket, key string, dirCache *pmtdircache.Cache) (*Adapter, error) {
	head, err := rangeRead(ctx, bucket, key, 0, rootDirectoryBudget)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: open %s: %w", key, err)
	}
	header, err := DeserializeHeader(head)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: open %s: %w", key, err)
	}
	if header.RootOffset+header.RootLength > rootDirectoryBudget {
		return nil, fmt.Errorf("pmtiles: %s: root directory does not fit in first 16 KiB", key)
	}

	a := &Adapter{
		id:         id,
		bucket:     bucket,
		key:        key,
		instanceID: atomic.AddUint64(&nextInstanceID, 1),
		header:     header,
		dirCache:   dirCache,
	}

	rootBytes := head[header.RootOffset : header.RootOffset+header.RootLength]
	rootDir, err := DeserializeDirectory(rootBytes)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: %s: decode root directory: %w", key, err)
	}
	a.dirCache.GetOrLoad(pmtdircache.Key{InstanceID: a.instanceID, Offset: header.RootOffset}, func(pmtdircache.Key) (pmtdircache.Directory, error) {
		return rootDir, nil
	})

	a.tj = tilejson.New()
	a.tj.Name = id
	a.tj.MinZoom = int(header.MinZoom)
	a.tj.MaxZoom = int(header.MaxZoom)
	a.tj.Bounds = [4]float64{
		float64(header.MinLonE7) / 1e7, float64(header.MinLatE7) / 1e7,
		float64(header.MaxLonE7) / 1e7, float64(header.MaxLatE7) / 1e7,
	}
	a.tj.Center = [3]float64{
		float64(header.CenterLonE7) / 1e7, float64(header.CenterLatE7) / 1e7,
		float64(header.CenterZoom),
	}
	return a, nil
}

func rangeRead(ctx context.Context, bucket *blob.Bucket, key string, offset, length int64) ([]byte, error) {
	r, err := bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (a *Adapter) ID() string                  { return a.id }
func (a *Adapter) TileJSON() tilejson.TileJSON { return a.tj }
func (a *Adapter) SupportsURLQuery() bool      { return false }
func (a *Adapter) ConcurrentFriendly() bool    { return true }

func (a *Adapter) TileInfo() tileid.Info {
	info := tileid.Info{Encoding: tileid.EncodingInternal}
	switch a.header.TileType {
	case TileTypeMvt:
		info.Format = tileid.FormatMvt
		info.Encoding = encodingFromPMTiles(a.header.TileCompression)
	case TileTypePng:
		info.Format = tileid.FormatPng
	case TileTypeJpeg:
		info.Format = tileid.FormatJpeg
	case TileTypeWebp:
		info.Format = tileid.FormatWebp
	}
	return info
}

func encodingFromPMTiles(c Compression) tileid.Encoding {
	switch c {
	case CompressionGzip:
		return tileid.EncodingGzip
	case CompressionBrotli:
		return tileid.EncodingBrotli
	case CompressionZstd:
		return tileid.EncodingZstd
	default:
		return tileid.EncodingUncompressed
	}
}

// GetTile descends from the root directory through up to maxDirectoryDepth
// leaf directories looking for tileID's entry, then performs a single range
// read for the tile bytes. A miss after full traversal means "no content
// at this coordinate" (empty tile, not an error).
func (a *Adapter) GetTile(ctx context.Context, coord tileid.Coord, _ string) ([]byte, error) {
	tileID := ZxyToID(coord.Z, coord.X, coord.Y)

	offset := a.header.RootOffset
	for depth := 0; depth < maxDirectoryDepth; depth++ {
		dir, err := a.dirCache.GetOrLoad(pmtdircache.Key{InstanceID: a.instanceID, Offset: offset}, func(k pmtdircache.Key) (pmtdircache.Directory, error) {
			raw, err := rangeRead(ctx, a.bucket, a.key, int64(k.Offset), int64(a.header.RootLength))
			if err != nil {
				return nil, err
			}
			return DeserializeDirectory(raw)
		})
		if err != nil {
			return nil, fmt.Errorf("pmtiles: %s: load directory at offset %d: %w", a.key, offset, err)
		}

		entry, found, isLeaf := FindTile(dir, tileID)
		if !found {
			return nil, nil // empty tile: absent entry
		}
		if isLeaf {
			offset = a.header.LeafOffset + entry.Offset
			continue
		}
		data, err := rangeRead(ctx, a.bucket, a.key, int64(a.header.TileDataOffset+entry.Offset), int64(entry.Length))
		if err != nil {
			return nil, fmt.Errorf("pmtiles: %s: read tile data: %w", a.key, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("pmtiles: %s: directory traversal exceeded depth %d", a.key, maxDirectoryDepth)
}

// CloneHandle returns an owned reference usable from another goroutine;
// Adapter holds no per-request mutable state, so the receiver itself is
// safe to share.
func (a *Adapter) CloneHandle() source.Source {
	return a
}
