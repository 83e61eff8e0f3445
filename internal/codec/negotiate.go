package codec

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mmartin/tileserv/internal/tileid"
)

// acceptEncoding is one parsed "token;q=value" entry from an Accept-Encoding
// header (RFC 9110 section 12.5.3).
type acceptEncoding struct {
	token string
	q     float64
}

func parseAcceptEncoding(header string) []acceptEncoding {
	var out []acceptEncoding
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs := strings.Split(part, ";")
		token := strings.ToLower(strings.TrimSpace(segs[0]))
		q := 1.0
		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			if v, ok := strings.CutPrefix(seg, "q="); ok {
				if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = parsed
				}
			}
		}
		out = append(out, acceptEncoding{token: token, q: q})
	}
	return out
}

func tokenToEncoding(token string) (tileid.Encoding, bool) {
	switch token {
	case "gzip":
		return tileid.EncodingGzip, true
	case "br":
		return tileid.EncodingBrotli, true
	case "zstd":
		return tileid.EncodingZstd, true
	case "deflate":
		return tileid.EncodingZlib, true
	case "identity":
		return tileid.EncodingUncompressed, true
	default:
		return 0, false
	}
}

// ErrNotAcceptable is returned by Negotiate when every candidate is explicitly
// excluded (q=0) by the client, including identity.
var ErrNotAcceptable = negotiateErr("codec: no acceptable encoding")

type negotiateErr string

func (e negotiateErr) Error() string { return string(e) }

// Negotiate parses an Accept-Encoding header and chooses the best of the
// available encodings. Brotli wins a tie against gzip at equal weight;
// identity is the implicit fallback unless explicitly excluded with
// "identity;q=0" and no other acceptable candidate exists.
func Negotiate(available []tileid.Encoding, acceptHeader string) (tileid.Encoding, error) {
	parsed := parseAcceptEncoding(acceptHeader)

	qFor := func(enc tileid.Encoding) (float64, bool) {
		name := enc.String()
		var wildcard *float64
		for _, p := range parsed {
			if p.token == "*" {
				q := p.q
				wildcard = &q
				continue
			}
			if p.token == name {
				return p.q, true
			}
		}
		if wildcard != nil {
			return *wildcard, true
		}
		return 0, false
	}

	// Rank candidates: prefer brotli over gzip at an equal q, otherwise
	// sort descending by q. Build a stable preference order first, then
	// filter by acceptability.
	pref := make([]tileid.Encoding, len(available))
	copy(pref, available)
	rank := func(e tileid.Encoding) int {
		switch e {
		case tileid.EncodingBrotli:
			return 0
		case tileid.EncodingZstd:
			return 1
		case tileid.EncodingGzip:
			return 2
		case tileid.EncodingZlib:
			return 3
		default:
			return 4
		}
	}
	sort.SliceStable(pref, func(i, j int) bool { return rank(pref[i]) < rank(pref[j]) })

	type candidate struct {
		enc tileid.Encoding
		q   float64
	}
	var candidates []candidate
	for _, enc := range pref {
		q, explicit := qFor(enc)
		if !explicit {
			// Encodings the header does not mention (and no wildcard
			// covers) are never candidates; with an empty header this
			// leaves only the identity fallback below.
			if len(parsed) == 0 {
				continue
			}
			q = 0
		}
		if q > 0 {
			candidates = append(candidates, candidate{enc: enc, q: q})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].q != candidates[j].q {
			return candidates[i].q > candidates[j].q
		}
		return rank(candidates[i].enc) < rank(candidates[j].enc)
	})
	if len(candidates) > 0 {
		return candidates[0].enc, nil
	}

	// No explicit non-identity match: fall back to identity unless the
	// client excluded it.
	idQ, idExplicit := qFor(tileid.EncodingUncompressed)
	if idExplicit && idQ == 0 {
		return 0, ErrNotAcceptable
	}
	return tileid.EncodingUncompressed, nil
}
