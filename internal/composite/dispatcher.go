// Package composite implements the composite & encoding dispatcher:
// resolving a comma-separated id_list against the source registry,
// fetching each source concurrently, and either concatenating MVT byte
// streams or passing through a single non-MVT tile — then negotiating
// the response content encoding. Each request fans out to every attached
// source concurrently via a WaitGroup before assembling the response.
package composite

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/mmartin/tileserv/internal/codec"
	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
)

// Result is the fully assembled HTTP response body plus headers needed by
// the transport layer.
type Result struct {
	Body            []byte
	ContentType     string
	ContentEncoding string // "" means identity
	ETag            string
	Empty           bool // true => caller should emit 204 with no body
}

// fetchedTile is one source's raw fetch result, gathered concurrently
// before assembly so a single failed fetch can short-circuit the response.
type fetchedTile struct {
	raw      []byte
	encoding tileid.Encoding
	err      error
}

// ErrMixedFormats is returned when an id_list mixes MVT and non-MVT
// sources, or mixes distinct non-MVT formats: all sources in a composite
// must share one non-MVT format, or all be MVT.
type ErrMixedFormats struct{}

func (ErrMixedFormats) Error() string {
	return "composite: id_list sources do not share a single format"
}

// Serve resolves idList, fetches every source, and assembles the
// composite response.
func Serve(ctx context.Context, registry *source.Registry, idList string, coord tileid.Coord, query, acceptEncoding string) (*Result, error) {
	sources, err := registry.GetMany(idList)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("composite: empty id_list")
	}

	format := sources[0].TileInfo().Format
	mvt := format == tileid.FormatMvt
	for _, s := range sources[1:] {
		f := s.TileInfo().Format
		if mvt != (f == tileid.FormatMvt) {
			return nil, ErrMixedFormats{}
		}
		if !mvt && f != format {
			return nil, ErrMixedFormats{}
		}
	}

	results := make([]fetchedTile, len(sources))
	var wg sync.WaitGroup
	for i, s := range sources {
		wg.Add(1)
		go func(i int, s source.Source) {
			defer wg.Done()
			raw, err := s.GetTile(ctx, coord, query)
			results[i] = fetchedTile{raw: raw, encoding: s.TileInfo().Encoding, err: err}
		}(i, s)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
	}

	var negotiated tileid.Encoding
	if !mvt && format.IsRaster() {
		// Raster formats are compressed in-band; they must never be
		// wrapped in an HTTP content-encoding, so negotiation is skipped
		// and the source's own encoding always passes through.
		negotiated = tileid.EncodingInternal
	} else {
		negotiated, err = codec.Negotiate(codec.SupportedEncodings, acceptEncoding)
		if err != nil {
			return nil, err
		}
	}

	if mvt {
		return assembleMVT(results, format, negotiated)
	}
	return assembleSingle(results[0], format, negotiated)
}

func assembleMVT(results []fetchedTile, format tileid.Format, negotiated tileid.Encoding) (*Result, error) {
	var concat []byte
	anyData := false
	for _, r := range results {
		if len(r.raw) == 0 {
			continue
		}
		anyData = true
		plain, err := codec.Decode(r.raw, r.encoding)
		if err != nil {
			return nil, fmt.Errorf("composite: decode source tile: %w", err)
		}
		concat = append(concat, plain...)
	}
	if !anyData {
		return emptyResult(), nil
	}

	encoded, err := codec.Encode(concat, negotiated)
	if err != nil {
		return nil, fmt.Errorf("composite: encode response: %w", err)
	}
	return finalize(encoded, format, negotiated)
}

func assembleSingle(r fetchedTile, format tileid.Format, negotiated tileid.Encoding) (*Result, error) {
	if len(r.raw) == 0 {
		return emptyResult(), nil
	}

	var body []byte
	var err error
	if r.encoding == negotiated || r.encoding == tileid.EncodingInternal || negotiated == tileid.EncodingInternal {
		body = r.raw
	} else {
		body, err = codec.Recode(r.raw, r.encoding, negotiated, format)
		if err != nil {
			return nil, fmt.Errorf("composite: recode single source: %w", err)
		}
	}
	return finalize(body, format, negotiated)
}

// emptyResult builds the Empty response: it still carries the ETag of the
// empty body (MD5 of zero bytes) so a 204 response is cacheable and
// conditional-request-able exactly like a populated tile.
func emptyResult() *Result {
	sum := md5.Sum(nil)
	return &Result{Empty: true, ETag: hex.EncodeToString(sum[:])}
}

func finalize(body []byte, format tileid.Format, encoding tileid.Encoding) (*Result, error) {
	sum := md5.Sum(body)
	res := &Result{
		Body:        body,
		ContentType: format.ContentType(),
		ETag:        hex.EncodeToString(sum[:]),
	}
	if encoding != tileid.EncodingUncompressed && encoding != tileid.EncodingInternal {
		res.ContentEncoding = encoding.String()
	}
	return res, nil
}
