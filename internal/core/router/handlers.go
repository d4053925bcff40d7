package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
	"github.com/mohammed-shakir/hv-route-sync/internal/hittest"
	"github.com/mohammed-shakir/hv-route-sync/internal/logger"
	"github.com/mohammed-shakir/hv-route-sync/internal/source"
	"github.com/mohammed-shakir/hv-route-sync/internal/tiling"
)

const maxViewportBody = 1 << 16

type viewportRequest struct {
	Extent     []float64 `json:"extent"`
	Zoom       *float64  `json:"zoom"`
	Projection string    `json:"projection"`
}

func (a *api) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxViewportBody))
	if err := dec.Decode(&req); err != nil {
		a.badViewport(w, r, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Zoom == nil {
		a.badViewport(w, r, errors.New("zoom is required"))
		return
	}
	if req.Projection == "" {
		req.Projection = defaultSRS
	}
	if _, err := arcgis.ExtractSRID(req.Projection); err != nil {
		a.badViewport(w, r, err)
		return
	}
	ext, err := model.ExtentFromSlice(req.Extent)
	if err != nil {
		a.badViewport(w, r, err)
		return
	}

	scheduled := a.Fetcher.OnViewportChanged(model.Viewport{
		Extent:     ext,
		Zoom:       *req.Zoom,
		Projection: req.Projection,
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
}

func (a *api) badViewport(w http.ResponseWriter, r *http.Request, err error) {
	observability.IncViewportEvent(observability.ViewportInvalid)
	a.Logger.DebugContext(r.Context(), "viewport rejected", "err", err)
	writeError(w, r, http.StatusBadRequest, err)
}

type layerOutcome struct {
	Layer      string `json:"layer"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (a *api) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.RefreshTimeout)
	defer cancel()

	res, err := a.Fetcher.Refetch(ctx)
	if err != nil {
		writeError(w, r, http.StatusConflict, err)
		return
	}

	out := struct {
		ID     string         `json:"id"`
		Zoom   float64        `json:"zoom"`
		Layers []layerOutcome `json:"layers"`
	}{ID: res.ID, Zoom: res.Viewport.Zoom, Layers: []layerOutcome{}}
	for _, s := range res.Sources {
		lo := layerOutcome{Layer: s.Layer, OK: s.Err == nil, DurationMS: s.Duration.Milliseconds()}
		if s.Err != nil {
			lo.Error = s.Err.Error()
		}
		out.Layers = append(out.Layers, lo)
	}

	code := http.StatusOK
	if res.Err() != nil {
		code = http.StatusBadGateway
	}
	writeJSON(w, code, out)
}

func (a *api) handleLayers(w http.ResponseWriter, _ *http.Request) {
	out := []model.Layer{}
	for _, s := range a.Sources.All() {
		l := s.Describe()
		l.HitTesting = a.HitTest.Allows(l.Name)
		out = append(out, l)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleQueryURL(w http.ResponseWriter, r *http.Request) {
	src, err := a.Sources.Get(chi.URLParam(r, "layer"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	ext, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	u, err := src.QueryURL(ext, srsParam(r.URL.Query()))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (a *api) handleFeatures(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "layer")
	src, err := a.Sources.Get(name)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	q := r.URL.Query()
	ext, err := parseBBox(q.Get("bbox"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	zoom, err := floatParam(q, "zoom", a.currentZoom())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	ctx := logger.WithLayer(r.Context(), name)
	fc, err := src.Features(ctx, ext, srsParam(q), zoom)
	if err != nil {
		a.Logger.WarnContext(ctx, "features failed", "err", err)
		writeError(w, r, statusFor(err), err)
		return
	}
	a.Styler.Apply(fc)
	writeGeoJSON(w, fc)
}

type identifyResponse struct {
	Tolerance float64       `json:"tolerance"`
	Hits      []hittest.Hit `json:"hits"`
}

func (a *api) handleIdentify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pt, err := parsePoint(q)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	srs := srsParam(q)
	srid, err := arcgis.ExtractSRID(srs)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	zoom, err := floatParam(q, "zoom", a.currentZoom())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	pixels, err := floatParam(q, "tolerance", 5)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	tol := hittest.ToleranceAt(srid, zoom, pixels)
	ext := model.Extent{XMin: pt[0] - tol, YMin: pt[1] - tol, XMax: pt[0] + tol, YMax: pt[1] + tol}

	layers := map[string]*geojson.FeatureCollection{}
	for _, name := range a.HitTest.Layers() {
		src, err := a.Sources.Get(name)
		if err != nil {
			continue
		}
		ctx := logger.WithLayer(r.Context(), name)
		fc, err := src.Features(ctx, ext, srs, zoom)
		if err != nil {
			a.Logger.WarnContext(ctx, "identify: layer skipped", "err", err)
			continue
		}
		a.Styler.Apply(fc)
		layers[name] = fc
	}

	hits := a.HitTest.Identify(pt, tol, layers)
	if hits == nil {
		hits = []hittest.Hit{}
	}
	writeJSON(w, http.StatusOK, identifyResponse{Tolerance: tol, Hits: hits})
}

// zoom of the latest recorded viewport, used when a request omits it
func (a *api) currentZoom() float64 {
	if vp, seen := a.Fetcher.Viewport(); seen {
		return vp.Zoom
	}
	return a.Fetcher.LastZoom()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, source.ErrUnknownLayer):
		return http.StatusNotFound
	case errors.Is(err, arcgis.ErrMalformedSpatialRef),
		errors.Is(err, arcgis.ErrInvalidExtent),
		errors.Is(err, tiling.ErrUnsupportedSpatialRef),
		errors.Is(err, tiling.ErrTooManyTiles):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	b, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "encode features", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	writeJSON(w, code, map[string]string{
		"error":      err.Error(),
		"request_id": logger.RequestID(r.Context()),
	})
}
