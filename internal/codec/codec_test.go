package codec

import (
	"bytes"
	"testing"

	"github.com/mmartin/tileserv/internal/tileid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("hello tile world "), 100)
	for _, enc := range []tileid.Encoding{
		tileid.EncodingGzip,
		tileid.EncodingBrotli,
		tileid.EncodingZstd,
		tileid.EncodingZlib,
	} {
		encoded, err := Encode(data, enc)
		if err != nil {
			t.Fatalf("Encode(%v) error: %v", enc, err)
		}
		decoded, err := Decode(encoded, enc)
		if err != nil {
			t.Fatalf("Decode(%v) error: %v", enc, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Errorf("round trip mismatch for %v", enc)
		}
	}
}

func TestEncodePassthrough(t *testing.T) {
	data := []byte("raw bytes")
	out, err := Encode(data, tileid.EncodingInternal)
	if err != nil || !bytes.Equal(out, data) {
		t.Fatalf("Internal encode should passthrough, got %v, %v", out, err)
	}
}

func TestRecodeSameEncodingPassthrough(t *testing.T) {
	data := []byte("abc")
	out, err := Recode(data, tileid.EncodingGzip, tileid.EncodingGzip, tileid.FormatMvt)
	if err != nil || !bytes.Equal(out, data) {
		t.Fatalf("Recode same encoding should passthrough")
	}
}

func TestRecodeRasterInternalPassthrough(t *testing.T) {
	data := []byte("\x89PNGfakepngbytes")
	out, err := Recode(data, tileid.EncodingInternal, tileid.EncodingGzip, tileid.FormatPng)
	if err != nil || !bytes.Equal(out, data) {
		t.Fatalf("Recode raster Internal->Gzip must passthrough, got %v, %v", out, err)
	}
}

func TestRecodeMvtGzipToBrotli(t *testing.T) {
	data := bytes.Repeat([]byte("mvt layer bytes "), 50)
	gz, err := Encode(data, tileid.EncodingGzip)
	if err != nil {
		t.Fatal(err)
	}
	br, err := Recode(gz, tileid.EncodingGzip, tileid.EncodingBrotli, tileid.FormatMvt)
	if err != nil {
		t.Fatal(err)
	}
	back, err := Decode(br, tileid.EncodingBrotli)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("recode gzip->brotli did not preserve content")
	}
}

func TestNegotiateBrotliPreferredOverGzip(t *testing.T) {
	avail := []tileid.Encoding{tileid.EncodingGzip, tileid.EncodingBrotli}
	got, err := Negotiate(avail, "gzip;q=1.0, br;q=1.0")
	if err != nil || got != tileid.EncodingBrotli {
		t.Fatalf("Negotiate = %v, %v; want brotli", got, err)
	}
}

func TestNegotiateHighestQWins(t *testing.T) {
	avail := []tileid.Encoding{tileid.EncodingGzip, tileid.EncodingBrotli}
	got, err := Negotiate(avail, "gzip;q=1.0, br;q=0.5")
	if err != nil || got != tileid.EncodingGzip {
		t.Fatalf("Negotiate = %v, %v; want gzip", got, err)
	}
}

func TestNegotiateIdentityQZeroNotAcceptable(t *testing.T) {
	avail := []tileid.Encoding{tileid.EncodingGzip}
	_, err := Negotiate(avail, "gzip;q=0, identity;q=0")
	if err != ErrNotAcceptable {
		t.Fatalf("expected ErrNotAcceptable, got %v", err)
	}
}

func TestNegotiateEmptyHeaderFallsBackToIdentity(t *testing.T) {
	avail := []tileid.Encoding{tileid.EncodingGzip, tileid.EncodingBrotli}
	got, err := Negotiate(avail, "")
	if err != nil || got != tileid.EncodingUncompressed {
		t.Fatalf("Negotiate empty header = %v, %v; want identity", got, err)
	}
}

func TestNegotiateWildcard(t *testing.T) {
	avail := []tileid.Encoding{tileid.EncodingGzip}
	got, err := Negotiate(avail, "*;q=1.0")
	if err != nil || got != tileid.EncodingGzip {
		t.Fatalf("Negotiate wildcard = %v, %v", got, err)
	}
}
