package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache/keys"
	"github.com/mohammed-shakir/hv-route-sync/internal/carto"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/tiling"
)

type CartoConfig struct {
	Name       string
	Endpoint   string // SQL API base, see carto.SQLEndpoint
	APIKey     string
	Query      carto.RouteQuery
	TTL        time.Duration
	HitTesting bool
}

// Carto downloads the whole route table once (single-extent loading) and
// serves extent subsets from it. The SQL API returns EPSG:4326 geometry.
type Carto struct {
	cfg    CartoConfig
	url    string
	key    string
	store  cache.Interface
	up     Upstream
	logger *slog.Logger

	mu sync.Mutex
	fc *geojson.FeatureCollection
}

func NewCarto(cfg CartoConfig, store cache.Interface, up Upstream, logger *slog.Logger) (*Carto, error) {
	sql, err := cfg.Query.SQL()
	if err != nil {
		return nil, fmt.Errorf("carto source %q: %w", cfg.Name, err)
	}
	u := carto.BuildSQLRequest(cfg.Endpoint, sql, cfg.APIKey).URL()
	return &Carto{
		cfg:    cfg,
		url:    u,
		key:    keys.Layer(cfg.Name, u),
		store:  store,
		up:     up,
		logger: logger.With("layer", cfg.Name),
	}, nil
}

func (s *Carto) Name() string { return s.cfg.Name }

func (s *Carto) Describe() model.Layer {
	return model.Layer{Name: s.cfg.Name, Kind: "carto", HitTesting: s.cfg.HitTesting}
}

// QueryURL ignores the extent: the layer is always fetched whole.
func (s *Carto) QueryURL(model.Extent, string) (string, error) { return s.url, nil }

func (s *Carto) Features(ctx context.Context, ext model.Extent, spatialRef string, _ float64) (*geojson.FeatureCollection, error) {
	bound, err := wgs84Bound(ext, spatialRef)
	if err != nil {
		return nil, err
	}
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := geojson.NewFeatureCollection()
	for _, f := range all.Features {
		if f.Geometry == nil || !f.Geometry.Bound().Intersects(bound) {
			continue
		}
		out.Append(cloneFeature(f))
	}
	return out, nil
}

func (s *Carto) load(ctx context.Context) (*geojson.FeatureCollection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fc != nil {
		return s.fc, nil
	}

	var body []byte
	hits, err := s.store.MGet(ctx, []string{s.key})
	if err != nil {
		s.logger.Warn("cache mget error, continuing with fetch path", "err", err)
	}
	if v, ok := hits[s.key]; ok && len(v) > 0 {
		observability.IncTileCacheHit()
		body = v
	} else {
		observability.IncTileCacheMiss()
		start := time.Now()
		body, err = s.up.Get(ctx, s.url)
		if err != nil {
			return nil, fmt.Errorf("%s download: %w", s.cfg.Name, err)
		}
		s.logger.Info("layer downloaded", "bytes", len(body), "dur", time.Since(start).String())
	}

	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("%s decode: %w", s.cfg.Name, err)
	}
	if _, cached := hits[s.key]; !cached {
		if err := s.store.Set(ctx, s.key, body, s.cfg.TTL); err != nil {
			s.logger.Warn("cache set failed", "key", s.key, "err", err)
		}
	}
	s.fc = fc
	return fc, nil
}

func (s *Carto) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.fc = nil
	s.mu.Unlock()
	if err := s.store.Del(ctx, s.key); err != nil {
		return fmt.Errorf("%s clear: %w", s.cfg.Name, err)
	}
	return nil
}

func (s *Carto) Refresh(ctx context.Context, _ model.Viewport) error {
	if err := s.Clear(ctx); err != nil {
		return err
	}
	_, err := s.load(ctx)
	return err
}

func wgs84Bound(ext model.Extent, spatialRef string) (orb.Bound, error) {
	if err := ext.Validate(); err != nil {
		return orb.Bound{}, fmt.Errorf("%w: %w", arcgis.ErrInvalidExtent, err)
	}
	srid, err := arcgis.ExtractSRID(spatialRef)
	if err != nil {
		return orb.Bound{}, err
	}
	minPt, maxPt := orb.Point{ext.XMin, ext.YMin}, orb.Point{ext.XMax, ext.YMax}
	switch srid {
	case "4326":
	case "3857", "900913", "102100", "102113":
		minPt = project.Mercator.ToWGS84(minPt)
		maxPt = project.Mercator.ToWGS84(maxPt)
	default:
		return orb.Bound{}, fmt.Errorf("carto: %w %s", tiling.ErrUnsupportedSpatialRef, spatialRef)
	}
	return orb.Bound{Min: minPt, Max: maxPt}, nil
}

// served features get style properties written onto them; the loaded
// collection must stay untouched
func cloneFeature(f *geojson.Feature) *geojson.Feature {
	c := *f
	c.Properties = f.Properties.Clone()
	return &c
}
