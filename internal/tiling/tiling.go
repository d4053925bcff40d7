// Package tiling partitions a map extent into XYZ grid tiles.
package tiling

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/mohammed-shakir/hv-route-sync/internal/arcgis"
	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

const (
	// half the Web Mercator world width in metres
	originShift = 20037508.342789244
	MaxZoom     = 22
	baseSize    = 256
	maxLat      = 85.05112878

	// DefaultMaxTiles applies when Strategy.MaxTiles is not positive.
	DefaultMaxTiles = 64
)

var (
	ErrTooManyTiles          = errors.New("extent covers too many tiles")
	ErrUnsupportedSpatialRef = errors.New("unsupported spatial reference")
)

type Tile struct {
	maptile.Tile
	Extent model.Extent
}

func (t Tile) Key() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Strategy is a fixed-size XYZ tile grid. A 512px grid reaches a given
// resolution one zoom level earlier than a 256px grid. Extents covering more
// than MaxTiles tiles are rejected.
type Strategy struct {
	TileSize int
	MaxTiles int
}

func (s Strategy) size() int {
	if s.TileSize <= 0 {
		return baseSize
	}
	return s.TileSize
}

func (s Strategy) maxTiles() int {
	if s.MaxTiles <= 0 {
		return DefaultMaxTiles
	}
	return s.MaxTiles
}

func (s Strategy) GridZoom(viewZoom float64) maptile.Zoom {
	if math.IsNaN(viewZoom) || viewZoom < 0 {
		return 0
	}
	z := math.Floor(viewZoom) - math.Log2(float64(s.size())/baseSize)
	z = math.Round(z)
	if z < 0 {
		return 0
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return maptile.Zoom(z)
}

// Tiles returns the tiles covering ext at the grid zoom for viewZoom, row-major.
func (s Strategy) Tiles(ext model.Extent, spatialRef string, viewZoom float64) ([]Tile, error) {
	return s.TilesAt(ext, spatialRef, s.GridZoom(viewZoom))
}

func (s Strategy) TilesAt(ext model.Extent, spatialRef string, z maptile.Zoom) ([]Tile, error) {
	if err := ext.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", arcgis.ErrInvalidExtent, err)
	}
	srid, err := arcgis.ExtractSRID(spatialRef)
	if err != nil {
		return nil, err
	}

	var minX, minY, maxX, maxY uint32
	switch srid {
	case "3857", "900913", "102100", "102113":
		minX, minY, maxX, maxY = mercatorRange(ext, z)
	case "4326":
		nw := maptile.At(orb.Point{ext.XMin, clamp(ext.YMax, -maxLat, maxLat)}, z)
		se := maptile.At(orb.Point{ext.XMax, clamp(ext.YMin, -maxLat, maxLat)}, z)
		last := uint32(1)<<z - 1
		minX, minY = min(nw.X, last), min(nw.Y, last)
		maxX, maxY = max(min(se.X, last), minX), max(min(se.Y, last), minY)
	default:
		return nil, fmt.Errorf("tiling: %w %s", ErrUnsupportedSpatialRef, spatialRef)
	}

	count := int(maxX-minX+1) * int(maxY-minY+1)
	if limit := s.maxTiles(); count > limit {
		return nil, fmt.Errorf("%w: %d > %d at z=%d", ErrTooManyTiles, count, limit, z)
	}

	out := make([]Tile, 0, count)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			t := maptile.New(x, y, z)
			out = append(out, Tile{Tile: t, Extent: tileExtent(t, srid)})
		}
	}
	return out, nil
}

func mercatorRange(ext model.Extent, z maptile.Zoom) (minX, minY, maxX, maxY uint32) {
	n := math.Exp2(float64(z))
	size := 2 * originShift / n
	last := n - 1

	// an edge lying exactly on a tile boundary does not pull in the next tile
	x0 := math.Floor((ext.XMin + originShift) / size)
	x1 := math.Max(math.Ceil((ext.XMax+originShift)/size)-1, x0)
	y0 := math.Floor((originShift - ext.YMax) / size)
	y1 := math.Max(math.Ceil((originShift-ext.YMin)/size)-1, y0)

	return uint32(clamp(x0, 0, last)), uint32(clamp(y0, 0, last)),
		uint32(clamp(x1, 0, last)), uint32(clamp(y1, 0, last))
}

func tileExtent(t maptile.Tile, srid string) model.Extent {
	if srid == "4326" {
		b := t.Bound()
		return model.Extent{XMin: b.Min[0], YMin: b.Min[1], XMax: b.Max[0], YMax: b.Max[1]}
	}
	size := 2 * originShift / math.Exp2(float64(t.Z))
	xmin := -originShift + float64(t.X)*size
	ymax := originShift - float64(t.Y)*size
	return model.Extent{XMin: xmin, YMin: ymax - size, XMax: xmin + size, YMax: ymax}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
