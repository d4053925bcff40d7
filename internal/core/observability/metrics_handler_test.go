package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg, true); err != nil {
		t.Fatalf("init: %v", err)
	}
	ExposeBuildInfo("test")
	ObserveHTTP("POST", "/viewport", 202, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `hvsync_build_info{version="test"} 1`) {
		t.Fatalf("missing build info:\n%s", body)
	}
	if !strings.Contains(body, `http_requests_total{method="POST",route="/viewport",status="202"}`) {
		t.Fatalf("missing http_requests_total sample:\n%s", body)
	}
}

func TestInit_TwiceIsNoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg, true); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := Init(reg, true); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestInit_DisabledRegistersNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Init(reg, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected empty registry, got %d families", len(mfs))
	}
}

func TestViewportAndRefreshCounters(t *testing.T) {
	beforePan := testutil.ToFloat64(viewportEventsTotal.WithLabelValues(ViewportPanIgnored))
	beforeErr := testutil.ToFloat64(refreshRunsTotal.WithLabelValues("error"))
	beforeSup := testutil.ToFloat64(refreshSupersededTotal)

	IncViewportEvent(ViewportPanIgnored)
	ObserveRefreshRun(errors.New("boom"))
	IncRefreshSuperseded()

	if got := testutil.ToFloat64(viewportEventsTotal.WithLabelValues(ViewportPanIgnored)); got != beforePan+1 {
		t.Fatalf("pan_ignored=%v want %v", got, beforePan+1)
	}
	if got := testutil.ToFloat64(refreshRunsTotal.WithLabelValues("error")); got != beforeErr+1 {
		t.Fatalf("refresh error=%v want %v", got, beforeErr+1)
	}
	if got := testutil.ToFloat64(refreshSupersededTotal); got != beforeSup+1 {
		t.Fatalf("superseded=%v want %v", got, beforeSup+1)
	}
}

func TestObserveCacheOp_Result(t *testing.T) {
	before := testutil.ToFloat64(cacheOpTotal.WithLabelValues("mget", "error"))
	ObserveCacheOp("mget", errors.New("down"), 0.001)
	if got := testutil.ToFloat64(cacheOpTotal.WithLabelValues("mget", "error")); got != before+1 {
		t.Fatalf("cache_op_total{mget,error}=%v want %v", got, before+1)
	}
}
