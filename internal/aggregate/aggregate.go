// Package aggregate merges per-tile feature payloads into one collection.
package aggregate

import "github.com/paulmach/orb/geojson"

type Interface interface {
	Merge(parts [][]byte) (*geojson.FeatureCollection, error)
}
