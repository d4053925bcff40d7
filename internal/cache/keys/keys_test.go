package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

const qld = "https://spatial-gis.information.qld.gov.au/arcgis/rest/services/Transportation/HeavyVehicleRoutesAndRestrictions/MapServer/18"

func TestTile_Deterministic(t *testing.T) {
	k1 := Tile("qld", "3857", 6, 58, 36, qld)
	k2 := Tile("qld", "3857", 6, 58, 36, qld)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !strings.HasPrefix(k1, "tile:qld:3857:6:58:36:q=") {
		t.Fatalf("unexpected key layout: %s", k1)
	}
}

func TestTile_TrailingSlashAndSpaceNormalized(t *testing.T) {
	k1 := Tile(" qld ", "3857", 1, 0, 0, qld+"/")
	k2 := Tile("qld", "3857", 1, 0, 0, qld)
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestTile_DifferentInputsDiffer(t *testing.T) {
	base := Tile("qld", "3857", 6, 58, 36, qld)
	others := []string{
		Tile("sa", "3857", 6, 58, 36, qld),
		Tile("qld", "4326", 6, 58, 36, qld),
		Tile("qld", "3857", 7, 58, 36, qld),
		Tile("qld", "3857", 6, 59, 36, qld),
		Tile("qld", "3857", 6, 58, 36, qld+"0"),
	}
	for _, o := range others {
		if o == base {
			t.Fatalf("expected distinct keys, both %s", o)
		}
	}
}

func TestLayer_UnicodeAndSeparatorSafety(t *testing.T) {
	k := Layer("routes:Göteborg 雪", "https://x.carto.com/api/v1/sql")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if strings.Count(k, ":") != 2 {
		t.Fatalf("layer name must not introduce separators: %s", k)
	}
	if !regexp.MustCompile(`:q=[0-9a-f]{16}$`).MatchString(k) {
		t.Fatalf("missing :q=<hex64> suffix in key: %s", k)
	}
}

func TestTilePrefix_MatchesTileKeysOfLayerOnly(t *testing.T) {
	p := TilePrefix(" qld ")
	if !strings.HasPrefix(Tile("qld", "3857", 6, 58, 36, qld), p) {
		t.Fatalf("tile key does not start with %q", p)
	}
	if strings.HasPrefix(Tile("qld2", "3857", 6, 58, 36, qld), p) {
		t.Fatalf("prefix %q matches another layer", p)
	}
	if strings.HasPrefix(Layer("qld", qld), p) {
		t.Fatalf("prefix %q matches a whole-layer key", p)
	}
}
