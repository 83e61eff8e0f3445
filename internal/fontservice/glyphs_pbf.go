package fontservice

import "google.golang.org/protobuf/encoding/protowire"

// encodeGlyphsPBF hand-encodes a Glyphs protobuf message containing a
// single Fontstack, matching the well-known glyphs.proto schema used by
// vector tile style renderers:
//
//	message glyphs {
//	  message fontstack {
//	    optional string name = 1;
//	    optional string range = 2;
//	    repeated glyph glyphs = 3;
//	    message glyph {
//	      required uint32 id = 1;
//	      optional bytes bitmap = 2;
//	      optional uint32 width = 3;
//	      optional uint32 height = 4;
//	      optional sint32 left = 5;
//	      optional sint32 top = 6;
//	      optional uint32 advance = 7;
//	    }
//	  }
//	  repeated fontstack stacks = 1;
//	}
//
// No generated Go bindings exist for this schema, so the message is built
// directly with google.golang.org/protobuf/encoding/protowire (already a
// dependency in go.mod) instead of inventing a vendored .pb.go file.
func encodeGlyphsPBF(name, rng string, glyphs []*sdfGlyph) []byte {
	fontstack := encodeFontstack(name, rng, glyphs)

	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, fontstack)
	return out
}

func encodeFontstack(name, rng string, glyphs []*sdfGlyph) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, name)

	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, rng)

	for _, g := range glyphs {
		glyphBytes := encodeGlyph(g)
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, glyphBytes)
	}
	return b
}

func encodeGlyph(g *sdfGlyph) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.id))

	if len(g.bitmap) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, g.bitmap)

		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(g.width))

		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(g.height))

		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(g.left)))

		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(g.top)))
	}

	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(g.advance))
	return b
}
