package geojsonagg

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/hv-route-sync/internal/aggregate"
)

// Aggregator concatenates FeatureCollections. Intersects queries return a
// feature once for every tile it crosses, so duplicates are dropped by id.
type Aggregator struct {
	DeduplicateByID bool
}

var _ aggregate.Interface = (*Aggregator)(nil)

func New(dedup bool) *Aggregator {
	return &Aggregator{DeduplicateByID: dedup}
}

func (a *Aggregator) Merge(parts [][]byte) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	if len(parts) == 0 {
		return out, nil
	}

	seen := map[string]struct{}{}
	for i, p := range parts {
		var head struct {
			Type     string          `json:"type"`
			Features json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(p, &head); err != nil {
			return nil, fmt.Errorf("part %d: parse json: %w", i, err)
		}
		if head.Type != "FeatureCollection" {
			return nil, fmt.Errorf(`part %d: type is %q (want "FeatureCollection")`, i, head.Type)
		}
		if head.Features == nil {
			return nil, fmt.Errorf(`part %d: missing required member "features"`, i)
		}

		fc, err := geojson.UnmarshalFeatureCollection(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}

		for j, f := range fc.Features {
			if f.Type != "Feature" {
				return nil, fmt.Errorf(`part %d feature %d: type is %q (want "Feature")`, i, j, f.Type)
			}
			if f.ID != nil {
				key, idErr := canonicalIDKey(f.ID)
				if idErr != nil {
					return nil, fmt.Errorf("part %d feature %d: invalid id: %w", i, j, idErr)
				}
				if a.DeduplicateByID {
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
				}
			}
			out.Append(f)
		}
	}
	return out, nil
}

// ids may be strings or numbers; "1" and 1 stay distinct
func canonicalIDKey(id any) (string, error) {
	switch t := id.(type) {
	case string:
		return "s:" + t, nil
	case float64:
		return "n:" + strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return "n:" + strconv.Itoa(t), nil
	case int64:
		return "n:" + strconv.FormatInt(t, 10), nil
	case json.Number:
		return "n:" + t.String(), nil
	default:
		return "", fmt.Errorf("id must be string or number (got %T)", id)
	}
}
