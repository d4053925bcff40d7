package style

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestClassify(t *testing.T) {
	cases := map[string]Class{
		"GML":      ClassGML,
		" hml ":    ClassHML,
		"":         ClassDefault,
		"PBS":      ClassDefault,
		"default":  ClassDefault,
		"GML;drop": ClassDefault,
	}
	for in, want := range cases {
		if got := Classify(in); got != want {
			t.Fatalf("Classify(%q)=%q want %q", in, got, want)
		}
	}
}

func TestFor_UnknownClassFallsBackToDefault(t *testing.T) {
	if got := For(Class("bogus")); got != For(ClassDefault) {
		t.Fatalf("unknown class style=%+v", got)
	}
	d := For(ClassDefault)
	if d.Stroke != "#ff0000" || d.StrokeWidth != 2 || d.FillOpacity != 0 {
		t.Fatalf("default style=%+v", d)
	}
}

func TestStyler_Apply_KeepsUpstreamClassAttribute(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	f.Properties["scheme"] = "HML"
	f.Properties["class"] = "B-Double"
	fc.Append(f)

	Styler{}.Apply(fc)

	if f.Properties["class"] != "B-Double" {
		t.Fatalf("upstream class overwritten: %v", f.Properties["class"])
	}
	if f.Properties[ClassProperty] != "HML" {
		t.Fatalf("%s=%v want HML", ClassProperty, f.Properties[ClassProperty])
	}
}

func TestStyler_Apply(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	gml := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	gml.Properties["scheme"] = "GML"
	hml := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	hml.Properties["scheme"] = "HML"
	bare := &geojson.Feature{Type: "Feature", Geometry: orb.Point{0, 0}}
	fc.Append(gml)
	fc.Append(hml)
	fc.Append(bare)

	Styler{Opacity: 0.7}.Apply(fc)

	if gml.Properties["stroke"] != "#ff0000" || gml.Properties[ClassProperty] != "GML" {
		t.Fatalf("gml props=%v", gml.Properties)
	}
	if hml.Properties["stroke"] != "#00ff00" || hml.Properties["stroke-width"] != 1.0 {
		t.Fatalf("hml props=%v", hml.Properties)
	}
	if bare.Properties[ClassProperty] != "default" || bare.Properties["stroke-width"] != 2.0 {
		t.Fatalf("bare props=%v", bare.Properties)
	}
	if got := gml.Properties["stroke-opacity"].(float64); got < 0.69 || got > 0.71 {
		t.Fatalf("stroke-opacity=%v want 0.7", got)
	}
}

func TestStyler_CustomProperty(t *testing.T) {
	props := geojson.Properties{"ROUTE_CLASS": "hml", "scheme": "GML"}
	c, _ := Styler{Property: "ROUTE_CLASS"}.Select(props)
	if c != ClassHML {
		t.Fatalf("class=%q want HML", c)
	}
}

func TestStyler_NonStringAttributeIsDefault(t *testing.T) {
	c, _ := Styler{}.Select(geojson.Properties{"scheme": 42.0})
	if c != ClassDefault {
		t.Fatalf("class=%q want default", c)
	}
}

func TestNewStyler_DrawsAtLayerOpacity(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	f.Properties["scheme"] = "GML"
	fc.Append(f)

	NewStyler().Apply(fc)

	if got := f.Properties["stroke-opacity"].(float64); got < 0.69 || got > 0.71 {
		t.Fatalf("stroke-opacity=%v want 0.7", got)
	}
}
