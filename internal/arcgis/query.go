// Package arcgis builds ArcGIS REST query requests and decodes EsriJSON responses.
package arcgis

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

var (
	ErrMalformedSpatialRef = errors.New("malformed spatial reference")
	ErrInvalidExtent       = errors.New("invalid extent")
)

// trailing numeric run after an optional ':' (EPSG:3857, urn:ogc:def:crs:EPSG::3857, 3857)
var sridPattern = regexp.MustCompile(`(?:^|:)(\d+)$`)

// ExtractSRID returns the numeric well-known id ArcGIS Server expects.
func ExtractSRID(spatialRef string) (string, error) {
	s := strings.TrimSpace(spatialRef)
	m := sridPattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q has no trailing numeric code", ErrMalformedSpatialRef, spatialRef)
	}
	return m[1], nil
}

// LayerEndpoint joins a MapServer/FeatureServer URL and a layer index.
func LayerEndpoint(serviceURL string, layer int) string {
	return fmt.Sprintf("%s/%d", strings.TrimRight(serviceURL, "/"), layer)
}

// EnvelopeJSON renders the extent as an esriGeometryEnvelope.
func EnvelopeJSON(e model.Extent, srid string) string {
	return `{"xmin":` + model.FormatNumber(e.XMin) +
		`,"ymin":` + model.FormatNumber(e.YMin) +
		`,"xmax":` + model.FormatNumber(e.XMax) +
		`,"ymax":` + model.FormatNumber(e.YMax) +
		`,"spatialReference":{"wkid":` + srid + `}}`
}

// BuildQueryRequest builds an intersects query for every feature within extent.
func BuildQueryRequest(endpointBase string, extent model.Extent, spatialRef string) (model.FetchRequest, error) {
	if err := extent.Validate(); err != nil {
		return model.FetchRequest{}, fmt.Errorf("%w: %w", ErrInvalidExtent, err)
	}
	srid, err := ExtractSRID(spatialRef)
	if err != nil {
		return model.FetchRequest{}, err
	}
	return model.FetchRequest{
		EndpointBase: strings.TrimRight(endpointBase, "/") + "/query/",
		Params: []model.Param{
			{Key: "f", Value: "json"},
			{Key: "returnGeometry", Value: "true"},
			{Key: "spatialRel", Value: "esriSpatialRelIntersects"},
			{Key: "geometry", Value: EnvelopeJSON(extent, srid)},
			{Key: "geometryType", Value: "esriGeometryEnvelope"},
			{Key: "inSR", Value: srid},
			{Key: "outFields", Value: "*"},
			{Key: "outSR", Value: srid},
		},
	}, nil
}

func BuildQueryURL(endpointBase string, extent model.Extent, spatialRef string) (string, error) {
	req, err := BuildQueryRequest(endpointBase, extent, spatialRef)
	if err != nil {
		return "", err
	}
	return req.URL(), nil
}

// BuildLayerQueryURL requests the whole layer as GeoJSON.
func BuildLayerQueryURL(endpointBase string) string {
	req := model.FetchRequest{
		EndpointBase: strings.TrimRight(endpointBase, "/") + "/query",
		Params: []model.Param{
			{Key: "where", Value: "1=1"},
			{Key: "outFields", Value: "*"},
			{Key: "returnGeometry", Value: "true"},
			{Key: "f", Value: "geojson"},
			{Key: "isDataVersioned", Value: "false"},
			{Key: "isDataArchived", Value: "false"},
		},
	}
	return req.URL()
}
