package arcgis

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ServiceError is the error envelope ArcGIS Server returns with HTTP 200.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
}

type FeatureSet struct {
	ObjectIDFieldName string         `json:"objectIdFieldName"`
	GeometryType      string         `json:"geometryType"`
	Features          []Feature      `json:"features"`
	Error             *ServiceError  `json:"error,omitempty"`
	SpatialReference  map[string]any `json:"spatialReference,omitempty"`
}

type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry"`
}

type Geometry struct {
	X      *float64      `json:"x,omitempty"`
	Y      *float64      `json:"y,omitempty"`
	Points [][]float64   `json:"points,omitempty"`
	Paths  [][][]float64 `json:"paths,omitempty"`
	Rings  [][][]float64 `json:"rings,omitempty"`
}

var errEmptyGeometry = errors.New("empty geometry")

// DecodeFeatureSet parses an EsriJSON query response.
func DecodeFeatureSet(data []byte) (*FeatureSet, error) {
	var fs FeatureSet
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse esrijson: %w", err)
	}
	if fs.Error != nil {
		return nil, fs.Error
	}
	return &fs, nil
}

// ToGeoJSON converts the feature set, dropping features whose geometry is
// null or has no coordinates. Malformed coordinates fail the whole set.
func (fs *FeatureSet) ToGeoJSON() (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	idField := fs.ObjectIDFieldName
	if idField == "" {
		idField = "OBJECTID"
	}
	for i, f := range fs.Features {
		if f.Geometry == nil {
			continue
		}
		g, err := f.Geometry.toOrb()
		if errors.Is(err, errEmptyGeometry) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		gf := geojson.NewFeature(g)
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		if id, ok := f.Attributes[idField]; ok && id != nil {
			gf.ID = id
		}
		fc.Append(gf)
	}
	return fc, nil
}

func (g *Geometry) toOrb() (orb.Geometry, error) {
	switch {
	case g.X != nil && g.Y != nil:
		return orb.Point{*g.X, *g.Y}, nil
	case len(g.Points) > 0:
		mp := make(orb.MultiPoint, 0, len(g.Points))
		for _, p := range g.Points {
			pt, err := toPoint(p)
			if err != nil {
				return nil, err
			}
			mp = append(mp, pt)
		}
		return mp, nil
	case len(g.Paths) > 0:
		mls := make(orb.MultiLineString, 0, len(g.Paths))
		for _, path := range g.Paths {
			ls, err := toLineString(path)
			if err != nil {
				return nil, err
			}
			mls = append(mls, ls)
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	case len(g.Rings) > 0:
		return ringsToPolygons(g.Rings)
	default:
		return nil, errEmptyGeometry
	}
}

// outer rings are clockwise in EsriJSON; counter-clockwise rings are holes of the preceding outer ring
func ringsToPolygons(rings [][][]float64) (orb.Geometry, error) {
	var mp orb.MultiPolygon
	for i, raw := range rings {
		ls, err := toLineString(raw)
		if err != nil {
			return nil, err
		}
		ring := orb.Ring(ls)
		if len(ring) < 4 {
			return nil, fmt.Errorf("ring %d has < 4 points", i)
		}
		if ring.Orientation() == orb.CW || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0], nil
	}
	return mp, nil
}

func toLineString(coords [][]float64) (orb.LineString, error) {
	ls := make(orb.LineString, 0, len(coords))
	for _, c := range coords {
		pt, err := toPoint(c)
		if err != nil {
			return nil, err
		}
		ls = append(ls, pt)
	}
	return ls, nil
}

func toPoint(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, fmt.Errorf("coordinate must have at least x,y")
	}
	return orb.Point{c[0], c[1]}, nil
}
