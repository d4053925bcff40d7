// Package source holds the remote vector layers kept in sync with the map
// viewport.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

var ErrUnknownLayer = errors.New("unknown layer")

// Source is one remote vector layer.
type Source interface {
	Name() string
	Describe() model.Layer
	// QueryURL is the upstream request that covers ext.
	QueryURL(ext model.Extent, spatialRef string) (string, error)
	// Features returns the layer's features intersecting ext, loading
	// whatever is not cached.
	Features(ctx context.Context, ext model.Extent, spatialRef string, zoom float64) (*geojson.FeatureCollection, error)
	// Refresh drops everything loaded so far and reloads for vp.
	Refresh(ctx context.Context, vp model.Viewport) error
}

// Upstream fetches a remote payload; *resilience.Client implements it.
type Upstream interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Registry keeps sources in registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []Source
	byName map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Source{}}
}

func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[s.Name()]; dup {
		return fmt.Errorf("source %q already registered", s.Name())
	}
	r.byName[s.Name()] = s
	r.order = append(r.order, s)
	return nil
}

func (r *Registry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return s, nil
}

func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Source(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
