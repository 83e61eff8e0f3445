package fontservice

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestNormalizeFontIDCollapsesSeparators(t *testing.T) {
	cases := []struct {
		family, style, want string
	}{
		{"Open Sans", "Regular", "Open Sans"},
		{"Open  Sans", "Bold", "Open Sans Bold"},
		{"Noto Sans CJK", "Bold/Italic", "Noto Sans CJK Bold Italic"},
		{"Arial,Helvetica", "Regular", "Arial Helvetica"},
	}
	for _, c := range cases {
		if got := normalizeFontID(c.family, c.style); got != c.want {
			t.Errorf("normalizeFontID(%q,%q) = %q, want %q", c.family, c.style, got, c.want)
		}
	}
}

func TestGetFontRangeRejectsMisalignedStart(t *testing.T) {
	cat := &Catalog{faces: map[string]*Face{}}
	if _, err := GetFontRange(cat, "Arial", 1, 256); err == nil {
		t.Fatal("expected error for non-multiple-of-256 start")
	}
}

func TestGetFontRangeRejectsWrongEnd(t *testing.T) {
	cat := &Catalog{faces: map[string]*Face{}}
	if _, err := GetFontRange(cat, "Arial", 256, 256); err == nil {
		t.Fatal("expected error when end != start+255")
	}
}

func TestGetFontRangeEmptyCatalogProducesEmptyOutput(t *testing.T) {
	cat := &Catalog{faces: map[string]*Face{}}
	out, err := GetFontRange(cat, "Arial", 0, 255)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected an empty byte string when no glyph is produced, got %d bytes", len(out))
	}
}

func TestDistanceFieldInsideOutsideSeparation(t *testing.T) {
	w, h := 10, 10
	coverage := make([]uint8, w*h)
	for y := 3; y < 7; y++ {
		for x := 3; x < 7; x++ {
			coverage[y*w+x] = 255
		}
	}
	sdf := distanceField(coverage, w, h, 4)
	center := sdf[5*w+5]
	corner := sdf[0*w+0]
	if center <= corner {
		t.Fatalf("expected interior pixel brighter than exterior: center=%d corner=%d", center, corner)
	}
}

func TestEncodeGlyphRoundTripBasicFields(t *testing.T) {
	g := &sdfGlyph{id: 65, bitmap: []byte{1, 2, 3, 4}, width: 2, height: 2, left: -1, top: 5, advance: 12}
	raw := encodeGlyph(g)

	var gotID uint64
	var gotAdvance uint64
	b := raw
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("bad tag")
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			b = b[n:]
			gotID = v
		case 7:
			v, n := protowire.ConsumeVarint(b)
			b = b[n:]
			gotAdvance = v
		default:
			switch typ {
			case protowire.BytesType:
				_, n := protowire.ConsumeBytes(b)
				b = b[n:]
			case protowire.VarintType:
				_, n := protowire.ConsumeVarint(b)
				b = b[n:]
			}
		}
	}
	if gotID != 65 || gotAdvance != 12 {
		t.Fatalf("got id=%d advance=%d, want 65/12", gotID, gotAdvance)
	}
}
