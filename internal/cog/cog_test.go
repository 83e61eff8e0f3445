package cog

import (
	"bytes"
	"compress/flate"
	"testing"
)

func TestNearestZoomForResolutionZoom0(t *testing.T) {
	// 256px tile spanning the whole earth circumference is zoom 0.
	res := earthCircumference / 256
	if z := nearestZoomForResolution(res); z != 0 {
		t.Fatalf("got zoom %d, want 0", z)
	}
}

func TestNearestZoomForResolutionHighZoom(t *testing.T) {
	res := earthCircumference / 256 / 1024 // zoom 10 scale
	if z := nearestZoomForResolution(res); z != 10 {
		t.Fatalf("got zoom %d, want 10", z)
	}
}

func TestSpliceJPEGTablesInsertsBetweenSOIAndFrame(t *testing.T) {
	chunk := []byte{0xFF, 0xD8, 0xAA, 0xBB, 0xFF, 0xD9}
	tables := []byte{0xFF, 0xD8, 0xCC, 0xDD, 0xFF, 0xD9}
	out := spliceJPEGTables(chunk, tables)
	want := []byte{0xFF, 0xD8, 0xCC, 0xDD, 0xAA, 0xBB, 0xFF, 0xD9}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % X, want % X", out, want)
	}
}

func TestSpliceJPEGTablesNoTables(t *testing.T) {
	chunk := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	if out := spliceJPEGTables(chunk, nil); !bytes.Equal(out, chunk) {
		t.Fatalf("expected passthrough when no tables present")
	}
}

func TestDecodeDeflateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	original := bytes.Repeat([]byte{1, 2, 3, 4}, 64)
	w.Write(original)
	w.Close()

	out, err := decodeDeflate(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, original) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(out), len(original))
	}
}

func TestAssembleImageRGB(t *testing.T) {
	lvl := level{tileWidth: 2, tileHeight: 2, colorRGBA: false}
	samples := make([]byte, 2*2*3)
	for i := range samples {
		samples[i] = byte(i)
	}
	img, err := assembleImage(samples, lvl)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 2 || img.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds: %v", img.Bounds())
	}
}

func TestAssembleImageTooShort(t *testing.T) {
	lvl := level{tileWidth: 4, tileHeight: 4, colorRGBA: false}
	if _, err := assembleImage([]byte{1, 2, 3}, lvl); err == nil {
		t.Fatal("expected error for short sample buffer")
	}
}
