package router

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

const defaultSRS = "EPSG:3857"

func parseBBox(raw string) (model.Extent, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Extent{}, errors.New("missing required parameter: bbox")
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return model.Extent{}, errors.New("bbox: expected 4 comma-separated values: xmin,ymin,xmax,ymax")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		f, err := parseFloat(p)
		if err != nil {
			return model.Extent{}, fmt.Errorf("bbox[%d]: %w", i, err)
		}
		vals[i] = f
	}
	return model.ExtentFromSlice(vals)
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parse float: %q is not finite", v)
	}
	return f, nil
}

// optional float with default
func floatParam(q url.Values, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return def, nil
	}
	f, err := parseFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func srsParam(q url.Values) string {
	if s := strings.TrimSpace(q.Get("srs")); s != "" {
		return s
	}
	return defaultSRS
}

func parsePoint(q url.Values) (orb.Point, error) {
	if q.Get("x") == "" || q.Get("y") == "" {
		return orb.Point{}, errors.New("missing required parameters: x, y")
	}
	x, err := parseFloat(q.Get("x"))
	if err != nil {
		return orb.Point{}, fmt.Errorf("x: %w", err)
	}
	y, err := parseFloat(q.Get("y"))
	if err != nil {
		return orb.Point{}, fmt.Errorf("y: %w", err)
	}
	return orb.Point{x, y}, nil
}
