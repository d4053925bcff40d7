// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Extent is an axis-aligned box in map units (xmin, ymin, xmax, ymax).
type Extent struct {
	XMin, YMin float64
	XMax, YMax float64
}

func ExtentFromSlice(v []float64) (Extent, error) {
	if len(v) != 4 {
		return Extent{}, fmt.Errorf("extent needs 4 values, got %d", len(v))
	}
	e := Extent{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]}
	if err := e.Validate(); err != nil {
		return Extent{}, err
	}
	return e, nil
}

func (e Extent) Validate() error {
	for _, f := range []float64{e.XMin, e.YMin, e.XMax, e.YMax} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errors.New("extent values must be finite")
		}
	}
	if e.XMax < e.XMin || e.YMax < e.YMin {
		return errors.New("extent must satisfy xmax>=xmin and ymax>=ymin")
	}
	return nil
}

func (e Extent) Valid() bool { return e.Validate() == nil }

func (e Extent) Intersects(o Extent) bool {
	return e.XMin <= o.XMax && o.XMin <= e.XMax && e.YMin <= o.YMax && o.YMin <= e.YMax
}

// String renders the extent as "xmin,ymin,xmax,ymax"
func (e Extent) String() string {
	return strings.Join([]string{
		FormatNumber(e.XMin), FormatNumber(e.YMin),
		FormatNumber(e.XMax), FormatNumber(e.YMax),
	}, ",")
}

// FormatNumber prints the shortest decimal that round-trips to f.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Viewport is a read-only snapshot of the map view.
type Viewport struct {
	Extent     Extent
	Zoom       float64
	Projection string
}

// FetchRequest is an upstream request derived from a viewport. Params keeps
// insertion order so the rendered URL is stable.
type FetchRequest struct {
	EndpointBase string
	Params       []Param
}

type Param struct {
	Key   string
	Value string
}

func (r FetchRequest) Get(key string) string {
	for _, p := range r.Params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

func (r FetchRequest) Encode() string {
	var b strings.Builder
	for i, p := range r.Params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(escapeValue(p.Value))
	}
	return b.String()
}

func (r FetchRequest) URL() string {
	if len(r.Params) == 0 {
		return r.EndpointBase
	}
	return r.EndpointBase + "?" + r.Encode()
}

// escapes like encodeURIComponent; '*' is left as-is for outFields=*
func escapeValue(v string) string {
	s := url.QueryEscape(v)
	s = strings.ReplaceAll(s, "+", "%20")
	return strings.ReplaceAll(s, "%2A", "*")
}

// Layer describes a registered vector source for listings.
type Layer struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	TileSize   int    `json:"tile_size,omitempty"`
	HitTesting bool   `json:"hit_testing"`
}
