// Package fontservice implements the font glyph service: a directory walk
// cataloging TrueType/OpenType faces, and SDF glyph range assembly into a
// Fontstack protobuf. The directory walk uses a filepath.Walk plus
// extension-driven dispatch table; glyph rasterization is built on
// golang.org/x/image/font/sfnt, already a dependency elsewhere (the COG
// decode path also uses golang.org/x/image). No SDF or font-shaping
// library is wired in, so the distance-field computation itself is a
// from-scratch implementation over sfnt's rasterized glyph coverage
// (see DESIGN.md).
package fontservice

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/font/sfnt"
)

// Face describes one cataloged font file.
type Face struct {
	Path     string
	Family   string
	Style    string
	Glyphs   int
	Coverage map[rune]bool
	sfnt     *sfnt.Font
}

// Catalog holds every cataloged face, keyed by its normalized family+style
// id (the public "font id" clients reference in get_font_range's ids
// list).
type Catalog struct {
	faces map[string]*Face
	order []string
}

// Walk scans root for .ttf/.otf/.ttc files, parsing each with sfnt and
// recording its codepoint coverage. Faces whose normalized family+style
// collide with an already-cataloged face are skipped with a warning;
// warnings are returned as Walk's second result.
func Walk(root string) (*Catalog, []string, error) {
	cat := &Catalog{faces: make(map[string]*Face)}
	var warnings []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".ttf" && ext != ".otf" && ext != ".ttc" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("fontservice: read %s: %v", path, err))
			return nil
		}
		face, err := parseFace(path, raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("fontservice: parse %s: %v", path, err))
			return nil
		}

		id := normalizeFontID(face.Family, face.Style)
		if _, exists := cat.faces[id]; exists {
			warnings = append(warnings, fmt.Sprintf("fontservice: duplicate family+style %q from %s ignored", id, path))
			return nil
		}
		cat.faces[id] = face
		cat.order = append(cat.order, id)
		return nil
	})
	if err != nil {
		return nil, warnings, err
	}
	sort.Strings(cat.order)
	return cat, warnings, nil
}

func parseFace(path string, raw []byte) (*Face, error) {
	f, err := sfnt.Parse(raw)
	if err != nil {
		return nil, err
	}
	var buf sfnt.Buffer
	family, err := f.Name(&buf, sfnt.NameIDFamily)
	if err != nil || family == "" {
		family = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	style, err := f.Name(&buf, sfnt.NameIDSubfamily)
	if err != nil || style == "" {
		style = "Regular"
	}

	coverage := make(map[rune]bool)
	for r := rune(0); r <= 0x10FFFF; r++ {
		idx, err := f.GlyphIndex(&buf, r)
		if err == nil && idx != 0 {
			coverage[r] = true
		}
	}

	return &Face{
		Path:     path,
		Family:   family,
		Style:    style,
		Glyphs:   len(coverage),
		Coverage: coverage,
		sfnt:     f,
	}, nil
}

// normalizeFontID collapses a family+style pair into the priority-list id
// form: single spaces, with slashes/commas normalized to spaces.
func normalizeFontID(family, style string) string {
	name := family
	if style != "" && style != "Regular" {
		name = family + " " + style
	}
	replacer := strings.NewReplacer("/", " ", ",", " ")
	name = replacer.Replace(name)
	fields := strings.Fields(name)
	return strings.Join(fields, " ")
}

// Get returns the cataloged face for a font id, if any.
func (c *Catalog) Get(id string) (*Face, bool) {
	f, ok := c.faces[id]
	return f, ok
}

// IDs returns every cataloged font id in sorted order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
