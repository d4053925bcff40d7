// Package events carries viewport changes and refresh notifications over
// Kafka.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

var ErrInvalidEvent = errors.New("invalid viewport event")

// ViewportEvent is the wire form of a map moveend. Seq orders events from
// one client; zero disables ordering checks.
type ViewportEvent struct {
	Version    int       `json:"version"`
	Client     string    `json:"client,omitempty"`
	Seq        uint64    `json:"seq,omitempty"`
	Extent     []float64 `json:"extent"`
	Zoom       float64   `json:"zoom"`
	Projection string    `json:"projection"`
	TS         time.Time `json:"ts"`
}

func (e ViewportEvent) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("%w: version must be 1", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Projection) == "" {
		return fmt.Errorf("%w: projection is required", ErrInvalidEvent)
	}
	if _, err := arcgis.ExtractSRID(e.Projection); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if _, err := model.ExtentFromSlice(e.Extent); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if e.Zoom < 0 || e.Zoom > 30 {
		return fmt.Errorf("%w: zoom %v out of range", ErrInvalidEvent, e.Zoom)
	}
	return nil
}

// Viewport converts a validated event.
func (e ViewportEvent) Viewport() (model.Viewport, error) {
	if err := e.Validate(); err != nil {
		return model.Viewport{}, err
	}
	ext, _ := model.ExtentFromSlice(e.Extent)
	return model.Viewport{Extent: ext, Zoom: e.Zoom, Projection: e.Projection}, nil
}

type LayerOutcome struct {
	Layer      string `json:"layer"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RefreshEvent is published after every refresh run.
type RefreshEvent struct {
	ID         string         `json:"id"`
	Zoom       float64        `json:"zoom"`
	Extent     [4]float64     `json:"extent"`
	Projection string         `json:"projection"`
	Layers     []LayerOutcome `json:"layers"`
	TS         time.Time      `json:"ts"`
}
