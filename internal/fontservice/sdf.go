package fontservice

import (
	"image"
	"math"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

const (
	glyphFontSize = 24.0
	glyphBuffer   = 3
	glyphRadius   = 8
	glyphCutoff   = 0.25
)

// sdfGlyph is one rendered glyph's SDF bitmap plus its metrics, matching
// the fields a mapbox-gl-compatible Fontstack.glyph message carries.
type sdfGlyph struct {
	id      uint32
	bitmap  []byte // width*height bytes, one per pixel
	width   int
	height  int
	left    int
	top     int
	advance int
}

// renderGlyph rasterizes codepoint r at glyphFontSize into an alpha
// coverage bitmap padded by glyphBuffer+glyphRadius on every side, then
// converts the coverage into a signed distance field (distance to the
// nearest opposite-side pixel, normalized into [0,255] with the glyph
// edge at 255*glyphCutoff).
func renderGlyph(f *Face, r rune) (*sdfGlyph, bool) {
	var buf sfnt.Buffer
	idx, err := f.sfnt.GlyphIndex(&buf, r)
	if err != nil || idx == 0 {
		return nil, false
	}

	ppem := fixed.Int26_6(glyphFontSize * 64)
	segs, err := f.sfnt.LoadGlyph(&buf, idx, ppem, nil)
	if err != nil {
		return nil, false
	}

	metrics, err := f.sfnt.GlyphAdvance(&buf, idx, ppem, 0)
	advance := 0
	if err == nil {
		advance = int(metrics.Round())
	}

	bounds, _ := f.sfnt.Bounds(&buf, ppem, 0)
	gw := int((bounds.Max.X - bounds.Min.X).Round())
	gh := int((bounds.Max.Y - bounds.Min.Y).Round())
	if gw <= 0 || gh <= 0 {
		// Whitespace or empty glyph: zero-size bitmap, still emitted with
		// its advance so layout spacing survives.
		return &sdfGlyph{id: uint32(r), advance: advance}, true
	}

	pad := glyphBuffer + glyphRadius
	width, height := gw+2*pad, gh+2*pad

	rast := vector.NewRasterizer(width, height)
	ox := float32(pad) - float32(bounds.Min.X.Round())
	oy := float32(pad) - float32(bounds.Min.Y.Round())
	for _, seg := range segs {
		p0 := toPoint(seg.Args[0], ox, oy)
		switch seg.Op {
		case sfnt.SegmentOpMoveTo:
			rast.MoveTo(p0.X, p0.Y)
		case sfnt.SegmentOpLineTo:
			rast.LineTo(p0.X, p0.Y)
		case sfnt.SegmentOpQuadTo:
			p1 := toPoint(seg.Args[1], ox, oy)
			rast.QuadTo(p0.X, p0.Y, p1.X, p1.Y)
		case sfnt.SegmentOpCubeTo:
			p1 := toPoint(seg.Args[1], ox, oy)
			p2 := toPoint(seg.Args[2], ox, oy)
			rast.CubeTo(p0.X, p0.Y, p1.X, p1.Y, p2.X, p2.Y)
		}
	}

	dst := image.NewAlpha(image.Rect(0, 0, width, height))
	rast.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})

	sdfBitmap := distanceField(dst.Pix, width, height, glyphRadius)

	return &sdfGlyph{
		id:      uint32(r),
		bitmap:  sdfBitmap,
		width:   width,
		height:  height,
		left:    -pad + int(bounds.Min.X.Round()),
		top:     pad + int(bounds.Max.Y.Round()),
		advance: advance,
	}, true
}

func toPoint(p fixed.Point26_6, ox, oy float32) struct{ X, Y float32 } {
	return struct{ X, Y float32 }{
		X: float32(p.X)/64 + ox,
		Y: float32(p.Y)/64 + oy,
	}
}

// distanceField computes, for each pixel, the signed distance (in pixels,
// clamped to radius) to the nearest pixel of opposite coverage, encoded
// into a byte as 255*cutoff + (distance/radius)*255*(1-cutoff): inside
// the glyph the value rises above 255*cutoff, outside it falls below.
func distanceField(coverage []uint8, w, h, radius int) []byte {
	out := make([]byte, w*h)
	threshold := uint8(128)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			inside := coverage[y*w+x] >= threshold
			dist := float64(radius)
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					other := coverage[ny*w+nx] >= threshold
					if other == inside {
						continue
					}
					d := math.Hypot(float64(dx), float64(dy))
					if d < dist {
						dist = d
					}
				}
			}
			signed := dist / float64(radius)
			if !inside {
				signed = -signed
			}
			val := glyphCutoff*255 + signed*255*(1-glyphCutoff)
			out[y*w+x] = clampByte(val)
		}
	}
	return out
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
