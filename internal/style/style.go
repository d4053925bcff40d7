// Package style assigns route styling to served features as simplestyle
// properties (stroke, stroke-width, fill ...).
package style

import (
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Class is the closed set of route classifications.
type Class string

const (
	ClassGML     Class = "GML"
	ClassHML     Class = "HML"
	ClassDefault Class = "default"
)

// DefaultProperty is the attribute carrying the route scheme.
const DefaultProperty = "scheme"

// ClassProperty receives the resolved Class. Upstream attributes keep their
// own names, so this must not be a plain word like "class".
const ClassProperty = "hv:class"

type Style struct {
	Stroke        string
	StrokeWidth   float64
	StrokeOpacity float64
	Fill          string
	FillOpacity   float64
}

var styles = map[Class]Style{
	ClassGML:     {Stroke: "#ff0000", StrokeWidth: 1, StrokeOpacity: 1, Fill: "#000000", FillOpacity: 0},
	ClassHML:     {Stroke: "#00ff00", StrokeWidth: 1, StrokeOpacity: 1, Fill: "#000000", FillOpacity: 0},
	ClassDefault: {Stroke: "#ff0000", StrokeWidth: 2, StrokeOpacity: 1, Fill: "#000000", FillOpacity: 0},
}

// Classify maps a raw attribute value to a Class. Anything unrecognized,
// including an empty value, is ClassDefault.
func Classify(v string) Class {
	switch Class(strings.ToUpper(strings.TrimSpace(v))) {
	case ClassGML:
		return ClassGML
	case ClassHML:
		return ClassHML
	default:
		return ClassDefault
	}
}

func For(c Class) Style {
	if s, ok := styles[c]; ok {
		return s
	}
	return styles[ClassDefault]
}

// Styler decorates features of one layer.
type Styler struct {
	// attribute to classify on; DefaultProperty when empty
	Property string
	// layer opacity multiplied into stroke-opacity; 1 when zero
	Opacity float64
}

// LayerOpacity is the opacity route layers are drawn with.
const LayerOpacity = 0.7

// NewStyler returns the styler for route layers: classify on the scheme
// attribute, draw at LayerOpacity.
func NewStyler() Styler {
	return Styler{Property: DefaultProperty, Opacity: LayerOpacity}
}

func (s Styler) Select(props geojson.Properties) (Class, Style) {
	prop := s.Property
	if prop == "" {
		prop = DefaultProperty
	}
	raw, _ := props[prop].(string)
	c := Classify(raw)
	return c, For(c)
}

// Apply sets style properties on every feature in fc.
func (s Styler) Apply(fc *geojson.FeatureCollection) {
	if fc == nil {
		return
	}
	op := s.Opacity
	if op <= 0 || op > 1 {
		op = 1
	}
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		c, st := s.Select(f.Properties)
		f.Properties[ClassProperty] = string(c)
		f.Properties["stroke"] = st.Stroke
		f.Properties["stroke-width"] = st.StrokeWidth
		f.Properties["stroke-opacity"] = st.StrokeOpacity * op
		f.Properties["fill"] = st.Fill
		f.Properties["fill-opacity"] = st.FillOpacity
	}
}
