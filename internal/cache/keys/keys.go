// Package keys builds cache keys for tiled and whole-layer feature payloads.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Tile keys a tile of a layer. The query endpoint is hashed in so that
// repointing a source at another service never serves stale payloads.
func Tile(layer, srid string, z, x, y uint32, endpoint string) string {
	return fmt.Sprintf("tile:%s:%s:%d:%d:%d:q=%016x",
		sanitizeLayer(strings.TrimSpace(layer)), srid, z, x, y, hashEndpoint(endpoint))
}

// TilePrefix is the prefix shared by every tile key of layer.
func TilePrefix(layer string) string {
	return "tile:" + sanitizeLayer(strings.TrimSpace(layer)) + ":"
}

// Layer keys a whole-layer download (single-extent sources).
func Layer(layer, endpoint string) string {
	return fmt.Sprintf("layer:%s:q=%016x",
		sanitizeLayer(strings.TrimSpace(layer)), hashEndpoint(endpoint))
}

func hashEndpoint(s string) uint64 {
	return xxhash.Sum64String(strings.TrimRight(strings.TrimSpace(s), "/"))
}

func sanitizeLayer(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// ':' is the key separator, so it is replaced like any other rune
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return r <= unicode.MaxASCII && ((r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r))
}
