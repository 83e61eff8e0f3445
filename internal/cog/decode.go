package cog

import (
	"bytes"
	"compress/flate"
	"compress/lzw"
	"fmt"
	"image"
	"image/color"
	"io"
)

// decodeLZW reverses the TIFF-variant LZW compression (MSB-first codes).
// Horizontal differencing (a TIFF predictor) is not undone here, nor by
// assembleImage, which uses the decompressed samples as they are.
func decodeLZW(raw []byte) ([]byte, error) {
	r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cog: lzw decode: %w", err)
	}
	return out, nil
}

// decodeDeflate inflates a raw DEFLATE stream for chunks with compression
// code compDeflate (8); it does not strip or accept a zlib header.
func decodeDeflate(raw []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(raw))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cog: deflate decode: %w", err)
	}
	return out, nil
}

// assembleImage packs a decompressed sample stream into an image.Image
// according to the level's tile geometry and channel count (RGB vs RGBA).
func assembleImage(samples []byte, lvl level) (image.Image, error) {
	channels := 3
	if lvl.colorRGBA {
		channels = 4
	}
	want := lvl.tileWidth * lvl.tileHeight * channels
	if len(samples) < want {
		return nil, fmt.Errorf("cog: decompressed chunk too short: got %d bytes, want %d", len(samples), want)
	}

	if lvl.colorRGBA {
		img := image.NewNRGBA(image.Rect(0, 0, lvl.tileWidth, lvl.tileHeight))
		copy(img.Pix, samples[:want])
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, lvl.tileWidth, lvl.tileHeight))
	for i := 0; i < lvl.tileWidth*lvl.tileHeight; i++ {
		r, g, b := samples[i*3], samples[i*3+1], samples[i*3+2]
		img.Set(i%lvl.tileWidth, i/lvl.tileWidth, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return img, nil
}
