// Package fetcher keeps registered vector sources in sync with the map
// viewport. Pans only record the viewport; a zoom change schedules a
// debounced refetch of every source.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/debounce"
	"github.com/mohammed-shakir/hv-route-sync/internal/logger"
	"github.com/mohammed-shakir/hv-route-sync/internal/source"
)

type Config struct {
	Debounce       time.Duration
	InitialZoom    float64
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Debounce:       500 * time.Millisecond,
		InitialZoom:    5,
		RefreshTimeout: 30 * time.Second,
	}
}

// Notifier is told about every finished refresh run.
type Notifier interface {
	RefreshCompleted(ctx context.Context, res Result)
}

// SourceResult is the outcome for one layer in a refresh run.
type SourceResult struct {
	Layer    string
	Duration time.Duration
	Err      error
}

type Result struct {
	ID       string
	Viewport model.Viewport
	Started  time.Time
	Sources  []SourceResult
}

// Err joins the per-source failures, nil when every source succeeded.
func (r Result) Err() error {
	var errs []error
	for _, s := range r.Sources {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", s.Layer, s.Err))
		}
	}
	return errors.Join(errs...)
}

type Fetcher struct {
	cfg      Config
	sources  *source.Registry
	log      *slog.Logger
	timer    *debounce.Timer
	notifier Notifier
	baseCtx  context.Context
	now      func() time.Time

	mu       sync.Mutex
	lastZoom float64
	viewport model.Viewport
	seen     bool
}

type Option func(*Fetcher)

// WithTimer replaces the debounce timer, tests inject one backed by a fake
// clock.
func WithTimer(t *debounce.Timer) Option {
	return func(f *Fetcher) { f.timer = t }
}

func WithNotifier(n Notifier) Option {
	return func(f *Fetcher) { f.notifier = n }
}

// WithBaseContext sets the parent context of debounced refreshes.
func WithBaseContext(ctx context.Context) Option {
	return func(f *Fetcher) { f.baseCtx = ctx }
}

func New(cfg Config, reg *source.Registry, log *slog.Logger, opts ...Option) *Fetcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	f := &Fetcher{
		cfg:      cfg,
		sources:  reg,
		log:      log,
		baseCtx:  context.Background(),
		now:      time.Now,
		lastZoom: cfg.InitialZoom,
	}
	for _, o := range opts {
		o(f)
	}
	if f.timer == nil {
		f.timer = debounce.New()
	}
	return f
}

// OnViewportChanged records vp and, when its zoom differs from the last
// observed zoom, schedules a debounced refetch. It reports whether a refetch
// was scheduled.
func (f *Fetcher) OnViewportChanged(vp model.Viewport) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.viewport = vp
	f.seen = true
	if vp.Zoom == f.lastZoom {
		observability.IncViewportEvent(observability.ViewportPanIgnored)
		return false
	}
	f.lastZoom = vp.Zoom

	// scheduling under mu keeps cancel-then-arm ordered with the event stream
	if f.timer.Schedule(f.debouncedRefresh, f.cfg.Debounce) {
		observability.IncRefreshSuperseded()
	}
	observability.IncViewportEvent(observability.ViewportZoomScheduled)
	f.log.Debug("refresh scheduled", "zoom", vp.Zoom, "delay", f.cfg.Debounce.String())
	return true
}

// ScheduleRefresh arms cb on the fetcher's timer, replacing any pending one.
func (f *Fetcher) ScheduleRefresh(cb func(), delay time.Duration) {
	if f.timer.Schedule(cb, delay) {
		observability.IncRefreshSuperseded()
	}
}

// Viewport returns the latest recorded viewport and whether one was seen.
func (f *Fetcher) Viewport() (model.Viewport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewport, f.seen
}

func (f *Fetcher) LastZoom() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastZoom
}

// RefetchAll refreshes every registered source for the current viewport.
func (f *Fetcher) RefetchAll(ctx context.Context) error {
	res, err := f.Refetch(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// Refetch refreshes sources in registration order. A failing source does not
// stop the others. The returned error is only set when there is nothing to
// refresh against; per-source failures are in the Result.
func (f *Fetcher) Refetch(ctx context.Context) (Result, error) {
	vp, ok := f.Viewport()
	if !ok {
		return Result{}, errors.New("no viewport recorded yet")
	}

	res := Result{ID: uuid.NewString(), Viewport: vp, Started: f.now()}
	ctx = logger.WithRefreshID(ctx, res.ID)
	for _, s := range f.sources.All() {
		start := f.now()
		err := s.Refresh(logger.WithLayer(ctx, s.Name()), vp)
		d := f.now().Sub(start)
		observability.ObserveSourceRefresh(s.Name(), d.Seconds())
		if err != nil {
			f.log.WarnContext(logger.WithLayer(ctx, s.Name()), "source refresh failed", "err", err)
		}
		res.Sources = append(res.Sources, SourceResult{Layer: s.Name(), Duration: d, Err: err})
	}

	err := res.Err()
	observability.ObserveRefreshRun(err)
	if f.notifier != nil {
		f.notifier.RefreshCompleted(ctx, res)
	}
	f.log.InfoContext(ctx, "refresh finished",
		"zoom", vp.Zoom,
		"sources", len(res.Sources),
		"ok", err == nil,
		"took_ms", f.now().Sub(res.Started).Milliseconds())
	return res, nil
}

func (f *Fetcher) debouncedRefresh() {
	ctx, cancel := context.WithTimeout(f.baseCtx, f.cfg.RefreshTimeout)
	defer cancel()
	if err := f.RefetchAll(ctx); err != nil {
		f.log.ErrorContext(ctx, "debounced refresh failed", "err", err)
	}
}

// Close drops any pending refresh.
func (f *Fetcher) Close() {
	f.timer.Cancel()
}
