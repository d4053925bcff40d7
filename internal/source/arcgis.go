package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/hv-route-sync/internal/aggregate"
	"github.com/mohammed-shakir/hv-route-sync/internal/aggregate/geojsonagg"
	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache"
	"github.com/mohammed-shakir/hv-route-sync/internal/cache/keys"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/tiling"
)

type ArcGISConfig struct {
	Name       string
	ServiceURL string
	Layer      int
	TileSize   int
	MaxTiles   int
	MaxWorkers int
	TTL        time.Duration
	HitTesting bool
}

// ArcGIS is a tiled EsriJSON query layer. Each grid tile is fetched with its
// own envelope query and cached as a GeoJSON FeatureCollection.
type ArcGIS struct {
	cfg      ArcGISConfig
	endpoint string
	strategy tiling.Strategy
	store    cache.Interface
	up       Upstream
	agg      aggregate.Interface
	logger   *slog.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

func NewArcGIS(cfg ArcGISConfig, store cache.Interface, up Upstream, logger *slog.Logger) *ArcGIS {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	return &ArcGIS{
		cfg:      cfg,
		endpoint: arcgis.LayerEndpoint(cfg.ServiceURL, cfg.Layer),
		strategy: tiling.Strategy{TileSize: cfg.TileSize, MaxTiles: cfg.MaxTiles},
		store:    store,
		up:       up,
		agg:      geojsonagg.New(true),
		logger:   logger.With("layer", cfg.Name),
		loaded:   map[string]struct{}{},
	}
}

func (s *ArcGIS) Name() string { return s.cfg.Name }

func (s *ArcGIS) Describe() model.Layer {
	return model.Layer{Name: s.cfg.Name, Kind: "arcgis", TileSize: s.strategy.TileSize, HitTesting: s.cfg.HitTesting}
}

func (s *ArcGIS) Endpoint() string { return s.endpoint }

func (s *ArcGIS) QueryURL(ext model.Extent, spatialRef string) (string, error) {
	return arcgis.BuildQueryURL(s.endpoint, ext, spatialRef)
}

type tileResult struct {
	key  string
	body []byte
	err  error
}

func (s *ArcGIS) Features(ctx context.Context, ext model.Extent, spatialRef string, zoom float64) (*geojson.FeatureCollection, error) {
	start := time.Now()
	tiles, keyList, err := s.tileKeys(ext, spatialRef, zoom)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.MGet(ctx, keyList)
	if err != nil {
		s.logger.Warn("cache mget error, continuing with fetch path", "err", err)
		hits = map[string][]byte{}
	}

	parts := make([][]byte, 0, len(tiles))
	var missing []int
	for i, k := range keyList {
		if v, ok := hits[k]; ok && len(v) > 0 {
			parts = append(parts, v)
			observability.IncTileCacheHit()
			continue
		}
		observability.IncTileCacheMiss()
		missing = append(missing, i)
	}

	fetched, err := s.fill(ctx, tiles, keyList, missing, spatialRef)
	if err != nil {
		return nil, err
	}
	parts = append(parts, fetched...)

	s.mu.Lock()
	for _, k := range keyList {
		s.loaded[k] = struct{}{}
	}
	s.mu.Unlock()

	fc, err := s.agg.Merge(parts)
	if err != nil {
		return nil, fmt.Errorf("%s merge tiles: %w", s.cfg.Name, err)
	}
	s.logger.Debug("tiles loaded",
		"tiles", len(tiles), "hits", len(tiles)-len(missing), "misses", len(missing),
		"features", len(fc.Features), "dur", time.Since(start).String())
	return fc, nil
}

func (s *ArcGIS) tileKeys(ext model.Extent, spatialRef string, zoom float64) ([]tiling.Tile, []string, error) {
	tiles, err := s.strategy.Tiles(ext, spatialRef, zoom)
	if err != nil {
		return nil, nil, err
	}
	srid, err := arcgis.ExtractSRID(spatialRef)
	if err != nil {
		return nil, nil, err
	}
	keyList := make([]string, len(tiles))
	for i, t := range tiles {
		keyList[i] = keys.Tile(s.cfg.Name, srid, uint32(t.Z), t.X, t.Y, s.endpoint)
	}
	return tiles, keyList, nil
}

// fill fetches the missing tiles with a bounded worker pool.
func (s *ArcGIS) fill(ctx context.Context, tiles []tiling.Tile, keyList []string, missing []int, spatialRef string) ([][]byte, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	jobs := make(chan int)
	results := make(chan tileResult, len(missing))

	workerN := min(s.cfg.MaxWorkers, len(missing))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := s.fetchTile(ctx, tiles[i], keyList[i], spatialRef)
				if res.err == nil {
					if err := s.store.Set(ctx, res.key, res.body, s.cfg.TTL); err != nil {
						s.logger.Warn("cache set failed", "key", res.key, "err", err)
					}
				}
				results <- res
			}
		}()
	}

feed:
	for _, i := range missing {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s tile fill: %w", s.cfg.Name, err)
	}

	out := make([][]byte, 0, len(missing))
	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		out = append(out, r.body)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %d/%d tiles failed: %w", s.cfg.Name, len(errs), len(missing), errors.Join(errs...))
	}
	return out, nil
}

func (s *ArcGIS) fetchTile(ctx context.Context, t tiling.Tile, key, spatialRef string) tileResult {
	u, err := arcgis.BuildQueryURL(s.endpoint, t.Extent, spatialRef)
	if err != nil {
		return tileResult{key: key, err: err}
	}
	raw, err := s.up.Get(ctx, u)
	if err != nil {
		return tileResult{key: key, err: fmt.Errorf("tile %s: %w", t.Key(), err)}
	}
	fs, err := arcgis.DecodeFeatureSet(raw)
	if err != nil {
		return tileResult{key: key, err: fmt.Errorf("tile %s: %w", t.Key(), err)}
	}
	fc, err := fs.ToGeoJSON()
	if err != nil {
		return tileResult{key: key, err: fmt.Errorf("tile %s: %w", t.Key(), err)}
	}
	body, err := fc.MarshalJSON()
	if err != nil {
		return tileResult{key: key, err: fmt.Errorf("tile %s encode: %w", t.Key(), err)}
	}
	return tileResult{key: key, body: body}
}

// Clear forgets every tile loaded so far and evicts them from the cache.
// Stores that support prefix purges also lose tiles of this layer written
// by other replicas.
func (s *ArcGIS) Clear(ctx context.Context) error {
	if p, ok := s.store.(cache.Purger); ok {
		n, err := p.Purge(ctx, keys.TilePrefix(s.cfg.Name))
		if err != nil {
			return fmt.Errorf("%s clear: %w", s.cfg.Name, err)
		}
		s.logger.Debug("layer tiles purged", "tiles", n)
	}
	return s.evict(ctx, nil)
}

// evict drops the loaded tiles plus extra, which may name tiles this
// instance never loaded but another process sharing the cache did.
func (s *ArcGIS) evict(ctx context.Context, extra []string) error {
	s.mu.Lock()
	ks := make([]string, 0, len(s.loaded)+len(extra))
	for k := range s.loaded {
		ks = append(ks, k)
	}
	for _, k := range extra {
		if _, ok := s.loaded[k]; !ok {
			ks = append(ks, k)
		}
	}
	s.loaded = map[string]struct{}{}
	s.mu.Unlock()

	if len(ks) == 0 {
		return nil
	}
	if err := s.store.Del(ctx, ks...); err != nil {
		return fmt.Errorf("%s clear: %w", s.cfg.Name, err)
	}
	return nil
}

func (s *ArcGIS) Loaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loaded)
}

func (s *ArcGIS) Refresh(ctx context.Context, vp model.Viewport) error {
	_, current, err := s.tileKeys(vp.Extent, vp.Projection, vp.Zoom)
	if err != nil {
		return err
	}
	if err := s.evict(ctx, current); err != nil {
		return err
	}
	_, err = s.Features(ctx, vp.Extent, vp.Projection, vp.Zoom)
	return err
}
