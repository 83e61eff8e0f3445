// Package codec implements stateless encode/decode/recode/negotiate for
// tile transport encodings, using klauspost/compress for gzip/zlib/zstd
// and andybalholm/brotli for brotli: stdlib compress/* has no zstd
// implementation at all, and klauspost's gzip is faster than stdlib's.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/mmartin/tileserv/internal/tileid"
)

// SupportedEncodings lists every content-encoding this package can
// produce, in no particular preference order — Negotiate applies its own
// ranking (brotli over gzip at equal weight) over this set.
var SupportedEncodings = []tileid.Encoding{
	tileid.EncodingBrotli,
	tileid.EncodingZstd,
	tileid.EncodingGzip,
	tileid.EncodingZlib,
	tileid.EncodingUncompressed,
}

// Encode compresses data with the given encoding. EncodingInternal and
// EncodingUncompressed both return data unchanged.
func Encode(data []byte, enc tileid.Encoding) ([]byte, error) {
	switch enc {
	case tileid.EncodingInternal, tileid.EncodingUncompressed:
		return data, nil
	case tileid.EncodingGzip:
		var buf bytes.Buffer
		w, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: gzip encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: gzip encode: %w", err)
		}
		return buf.Bytes(), nil
	case tileid.EncodingBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: brotli encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: brotli encode: %w", err)
		}
		return buf.Bytes(), nil
	case tileid.EncodingZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("codec: zstd encode: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case tileid.EncodingZlib:
		var buf bytes.Buffer
		w, _ := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: zlib encode: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: zlib encode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unknown encoding %v", enc)
	}
}

// Decode decompresses data that was compressed with enc.
func Decode(data []byte, enc tileid.Encoding) ([]byte, error) {
	switch enc {
	case tileid.EncodingInternal, tileid.EncodingUncompressed:
		return data, nil
	case tileid.EncodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: gzip decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case tileid.EncodingBrotli:
		r := brotli.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	case tileid.EncodingZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decode: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case tileid.EncodingZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: zlib decode: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("codec: unknown encoding %v", enc)
	}
}

// Recode transforms data encoded with `from` into data encoded with `to`.
// A raster format's Internal encoding is never re-wrapped: passthrough
// applies whenever from==to, or either side is Internal for a raster
// format.
func Recode(data []byte, from, to tileid.Encoding, format tileid.Format) ([]byte, error) {
	if from == to {
		return data, nil
	}
	if format.IsRaster() && (from == tileid.EncodingInternal || to == tileid.EncodingInternal) {
		return data, nil
	}
	plain, err := Decode(data, from)
	if err != nil {
		return nil, fmt.Errorf("codec: recode decode step: %w", err)
	}
	out, err := Encode(plain, to)
	if err != nil {
		return nil, fmt.Errorf("codec: recode encode step: %w", err)
	}
	return out, nil
}
