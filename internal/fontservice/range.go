package fontservice

import (
	"fmt"
	"strconv"
	"strings"
)

// GetFontRange implements get_font_range(ids, start, end): start must be
// a multiple of 256 and end must equal start+255; ids is a
// comma-separated priority list. For each id in order, only the
// codepoints in [start,end] not yet satisfied by an earlier id are
// rendered, so no codepoint appears twice in the output and every
// codepoint in output lies within the requested range.
func GetFontRange(cat *Catalog, ids string, start, end int) ([]byte, error) {
	if start%256 != 0 {
		return nil, fmt.Errorf("fontservice: start %d is not a multiple of 256", start)
	}
	if end != start+255 {
		return nil, fmt.Errorf("fontservice: end %d must equal start+255 (%d)", end, start+255)
	}

	idList := strings.Split(ids, ",")
	for i := range idList {
		idList[i] = strings.TrimSpace(idList[i])
	}

	produced := make(map[rune]bool, 256)
	var glyphs []*sdfGlyph
	var names []string

	for _, id := range idList {
		face, ok := cat.Get(id)
		if !ok {
			continue
		}

		rendered := false
		for cp := start; cp <= end; cp++ {
			r := rune(cp)
			if produced[r] {
				continue
			}
			if !face.Coverage[r] {
				continue
			}
			g, ok := renderGlyph(face, r)
			if !ok {
				continue
			}
			glyphs = append(glyphs, g)
			produced[r] = true
			rendered = true
		}
		if rendered {
			names = append(names, id)
		}
	}

	if len(glyphs) == 0 {
		return nil, nil
	}

	compositeName := strings.Join(names, ", ")
	rangeStr := strconv.Itoa(start) + "-" + strconv.Itoa(end)
	return encodeGlyphsPBF(compositeName, rangeStr, glyphs), nil
}
