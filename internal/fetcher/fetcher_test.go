package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/debounce"
	"github.com/mohammed-shakir/hv-route-sync/internal/logger"
	"github.com/mohammed-shakir/hv-route-sync/internal/source"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) debounce.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	ft := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, ft)
	return ft
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	ts := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, ft := range ts {
		if !ft.stopped {
			ft.f()
		}
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeSource struct {
	name string
	err  error
	log  *[]string

	mu    sync.Mutex
	calls []model.Viewport
	ids   []string
}

func (s *fakeSource) Name() string { return s.name }
func (s *fakeSource) Describe() model.Layer {
	return model.Layer{Name: s.name, Kind: "fake"}
}
func (s *fakeSource) QueryURL(model.Extent, string) (string, error) { return "", nil }
func (s *fakeSource) Features(context.Context, model.Extent, string, float64) (*geojson.FeatureCollection, error) {
	return geojson.NewFeatureCollection(), nil
}

func (s *fakeSource) Refresh(ctx context.Context, vp model.Viewport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, vp)
	s.ids = append(s.ids, logger.RefreshID(ctx))
	if s.log != nil {
		*s.log = append(*s.log, s.name)
	}
	return s.err
}

func (s *fakeSource) refreshes() []model.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Viewport(nil), s.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []Result
}

func (n *recordingNotifier) RefreshCompleted(_ context.Context, res Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, res)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T, srcs ...source.Source) (*Fetcher, *fakeClock) {
	t.Helper()
	reg := source.NewRegistry()
	for _, s := range srcs {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	clk := &fakeClock{}
	f := New(DefaultConfig(), reg, quietLogger(),
		WithTimer(debounce.New(debounce.WithAfterFunc(clk.AfterFunc))))
	return f, clk
}

func vp(zoom float64, x0 float64) model.Viewport {
	return model.Viewport{
		Extent:     model.Extent{XMin: x0, YMin: 0, XMax: x0 + 100, YMax: 100},
		Zoom:       zoom,
		Projection: "EPSG:3857",
	}
}

func TestOnViewportChanged_PanAtSameZoomNeverSchedules(t *testing.T) {
	src := &fakeSource{name: "qld"}
	f, clk := newTestFetcher(t, src)

	for i := range 5 {
		if f.OnViewportChanged(vp(5, float64(i*10))) {
			t.Fatalf("pan %d at initial zoom scheduled a refresh", i)
		}
	}
	if clk.armed() != 0 {
		t.Fatalf("timers armed=%d want 0", clk.armed())
	}
	clk.fireAll()
	if n := len(src.refreshes()); n != 0 {
		t.Fatalf("refreshes=%d want 0", n)
	}
	got, ok := f.Viewport()
	if !ok || got.Extent.XMin != 40 {
		t.Fatalf("latest viewport not recorded: %+v ok=%v", got, ok)
	}
}

func TestOnViewportChanged_ZoomSchedulesWithDebounceDelay(t *testing.T) {
	src := &fakeSource{name: "qld"}
	f, clk := newTestFetcher(t, src)

	if !f.OnViewportChanged(vp(6, 0)) {
		t.Fatal("zoom change should schedule")
	}
	if clk.armed() != 1 || clk.timers[0].d != 500*time.Millisecond {
		t.Fatalf("expected one timer with 500ms delay, got %d", clk.armed())
	}
	if f.LastZoom() != 6 {
		t.Fatalf("last zoom=%v want 6", f.LastZoom())
	}
	clk.fireAll()
	calls := src.refreshes()
	if len(calls) != 1 || calls[0].Zoom != 6 {
		t.Fatalf("refreshes=%+v", calls)
	}
}

func TestOnViewportChanged_RapidZoomsCollapseIntoOneRefresh(t *testing.T) {
	src := &fakeSource{name: "qld"}
	f, clk := newTestFetcher(t, src)

	f.OnViewportChanged(vp(6, 0))
	f.OnViewportChanged(vp(7, 0))
	// pan after the last zoom: refetch must use this extent
	f.OnViewportChanged(vp(7, 300))
	f.OnViewportChanged(vp(8, 500))

	clk.fireAll()
	calls := src.refreshes()
	if len(calls) != 1 {
		t.Fatalf("refreshes=%d want 1", len(calls))
	}
	if calls[0].Zoom != 8 || calls[0].Extent.XMin != 500 {
		t.Fatalf("refresh used %+v, want latest viewport", calls[0])
	}
}

func TestOnViewportChanged_ZoomBackToPreviousValueStillSchedules(t *testing.T) {
	src := &fakeSource{name: "qld"}
	f, clk := newTestFetcher(t, src)

	f.OnViewportChanged(vp(6, 0))
	clk.fireAll()
	if !f.OnViewportChanged(vp(5, 0)) {
		t.Fatal("zooming back out is still a change")
	}
	clk.fireAll()
	if n := len(src.refreshes()); n != 2 {
		t.Fatalf("refreshes=%d want 2", n)
	}
}

func TestRefetchAll_RegistrationOrderAndJoinedErrors(t *testing.T) {
	var order []string
	errA := errors.New("upstream 503")
	a := &fakeSource{name: "qld", err: errA, log: &order}
	b := &fakeSource{name: "sa", log: &order}
	c := &fakeSource{name: "nsw", err: context.DeadlineExceeded, log: &order}
	f, _ := newTestFetcher(t, a, b, c)
	n := &recordingNotifier{}
	f.notifier = n

	f.OnViewportChanged(vp(9, 0))
	err := f.RefetchAll(context.Background())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !errors.Is(err, errA) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("joined error lost a cause: %v", err)
	}
	if len(order) != 3 || order[0] != "qld" || order[1] != "sa" || order[2] != "nsw" {
		t.Fatalf("refresh order=%v", order)
	}

	if len(n.results) != 1 {
		t.Fatalf("notifications=%d want 1", len(n.results))
	}
	res := n.results[0]
	if res.ID == "" || len(res.Sources) != 3 || res.Sources[1].Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if a.ids[0] != res.ID || b.ids[0] != res.ID {
		t.Fatal("sources should see the run's refresh id in ctx")
	}
}

func TestRefetchAll_NoViewportYet(t *testing.T) {
	f, _ := newTestFetcher(t, &fakeSource{name: "qld"})
	if err := f.RefetchAll(context.Background()); err == nil {
		t.Fatal("expected error without a viewport")
	}
}

func TestClose_DropsPendingRefresh(t *testing.T) {
	src := &fakeSource{name: "qld"}
	f, clk := newTestFetcher(t, src)

	f.OnViewportChanged(vp(6, 0))
	f.Close()
	f.Close()
	clk.fireAll()
	if n := len(src.refreshes()); n != 0 {
		t.Fatalf("refreshes=%d want 0 after Close", n)
	}
}

func TestScheduleRefresh_ReplacesPending(t *testing.T) {
	f, clk := newTestFetcher(t)
	var got []int
	f.ScheduleRefresh(func() { got = append(got, 1) }, time.Second)
	f.ScheduleRefresh(func() { got = append(got, 2) }, time.Second)
	clk.fireAll()
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("ran %v, want only the last callback", got)
	}
}

func TestDebouncedRefresh_RealTimer(t *testing.T) {
	src := &fakeSource{name: "qld"}
	reg := source.NewRegistry()
	_ = reg.Register(src)
	n := &recordingNotifier{}
	done := make(chan struct{})
	f := New(Config{Debounce: 20 * time.Millisecond, InitialZoom: 5}, reg, quietLogger(),
		WithNotifier(notifyFunc(func(res Result) {
			n.RefreshCompleted(context.Background(), res)
			close(done)
		})))
	defer f.Close()

	f.OnViewportChanged(vp(6, 0))
	f.OnViewportChanged(vp(7, 0))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced refresh never ran")
	}
	if calls := src.refreshes(); len(calls) != 1 || calls[0].Zoom != 7 {
		t.Fatalf("refreshes=%+v", calls)
	}
}

type notifyFunc func(Result)

func (fn notifyFunc) RefreshCompleted(_ context.Context, res Result) { fn(res) }
