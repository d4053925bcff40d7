// Package hittest decides which layers answer identify requests and finds
// the route lines under a point.
package hittest

import (
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Filter is the set of layers that take part in hit-testing. Layers not in
// the set are never reported, whatever lies under the point.
type Filter struct {
	names map[string]struct{}
	order []string
}

func NewFilter(layers ...string) *Filter {
	f := &Filter{names: make(map[string]struct{}, len(layers))}
	for _, l := range layers {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := f.names[l]; dup {
			continue
		}
		f.names[l] = struct{}{}
		f.order = append(f.order, l)
	}
	return f
}

func (f *Filter) Allows(layer string) bool {
	if f == nil {
		return false
	}
	_, ok := f.names[layer]
	return ok
}

// Layers returns the eligible layer names in configuration order.
func (f *Filter) Layers() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.order...)
}

type Hit struct {
	Layer    string           `json:"layer"`
	Distance float64          `json:"distance"`
	Feature  *geojson.Feature `json:"feature"`
}

// Identify returns line features within tolerance of pt from the eligible
// layers, nearest first.
func (f *Filter) Identify(pt orb.Point, tolerance float64, layers map[string]*geojson.FeatureCollection) []Hit {
	var hits []Hit
	for _, name := range f.Layers() {
		fc := layers[name]
		if fc == nil {
			continue
		}
		for _, feat := range fc.Features {
			if !isLine(feat.Geometry) {
				continue
			}
			if !expand(feat.Geometry.Bound(), tolerance).Contains(pt) {
				continue
			}
			d := planar.DistanceFrom(feat.Geometry, pt)
			if d <= tolerance {
				hits = append(hits, Hit{Layer: name, Distance: d, Feature: feat})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	return hits
}

func isLine(g orb.Geometry) bool {
	switch g.(type) {
	case orb.LineString, orb.MultiLineString:
		return true
	}
	return false
}

func expand(b orb.Bound, d float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min[0] - d, b.Min[1] - d},
		Max: orb.Point{b.Max[0] + d, b.Max[1] + d},
	}
}

const (
	webMercatorWorld = 2 * 20037508.342789244
	degreesWorld     = 360.0
	tilePixels       = 256.0
)

// ToleranceAt converts a pixel radius to map units at a view zoom. Only
// Web Mercator and geographic srids are known; others get pixels unchanged.
func ToleranceAt(srid string, zoom, pixels float64) float64 {
	if pixels <= 0 {
		return 0
	}
	var world float64
	switch srid {
	case "3857", "900913", "102100", "102113":
		world = webMercatorWorld
	case "4326":
		world = degreesWorld
	default:
		return pixels
	}
	return pixels * world / (tilePixels * math.Exp2(zoom))
}
