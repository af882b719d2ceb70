package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/ctessum/geom"
)

// edgeSamples is the number of segments per rectangle edge when projecting
// bounds; projected edges of a lat/long box are curves.
const edgeSamples = 16

// TargetGrid is the requested output lattice before layout.
type TargetGrid struct {
	CRS              string            `json:"crs"`
	ResolutionMeters float64           `json:"resolution_m"`
	Bounds           domain.Rect       `json:"bounds"`
	Resampling       domain.Resampling `json:"resampling"`
}

// Validate checks the target's fields.
func (t TargetGrid) Validate() error {
	var errs []error
	if _, err := LookupCRS(t.CRS); err != nil {
		errs = append(errs, err)
	}
	if !(t.ResolutionMeters > 0) {
		errs = append(errs, fmt.Errorf("resolution must be positive, got %g", t.ResolutionMeters))
	}
	if err := t.Bounds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("bounds: %w", err))
	}
	switch t.Resampling {
	case domain.ResampleNearest, domain.ResampleBilinear:
	default:
		errs = append(errs, fmt.Errorf("unknown resampling %q", t.Resampling))
	}
	return errors.Join(errs...)
}

// Layout projects the densified bounds into the target CRS and snaps the
// extent outward to whole pixels.
func Layout(t TargetGrid) (domain.Grid, error) {
	if err := t.Validate(); err != nil {
		return domain.Grid{}, fmt.Errorf("target grid: %w", err)
	}
	dst, _ := LookupCRS(t.CRS)
	src, _ := LookupCRS(WGS84)
	tr, err := NewTransform(src, dst)
	if err != nil {
		return domain.Grid{}, err
	}

	g, err := densePolygon(t.Bounds).Transform(tr)
	if err != nil {
		return domain.Grid{}, fmt.Errorf("project bounds to %s: %w", dst.Code, err)
	}
	b := g.Bounds()

	res := dst.PixelSize(t.ResolutionMeters)
	minX := math.Floor(b.Min.X/res) * res
	maxX := math.Ceil(b.Max.X/res) * res
	minY := math.Floor(b.Min.Y/res) * res
	maxY := math.Ceil(b.Max.Y/res) * res

	cols := max(int(math.Round((maxX-minX)/res)), 1)
	rows := max(int(math.Round((maxY-minY)/res)), 1)

	return domain.Grid{
		Cols: cols,
		Rows: rows,
		Transform: domain.GeoTransform{
			OriginX:     minX,
			OriginY:     maxY,
			PixelWidth:  res,
			PixelHeight: res,
		},
		CRS: dst.Code,
	}, nil
}

// PixelCount is cols × rows of a laid-out grid.
func PixelCount(g domain.Grid) int64 {
	return int64(g.Cols) * int64(g.Rows)
}

// CheckBudget fails with PixelBudgetExceededError when the grid is larger than maxPixels.
func CheckBudget(name string, g domain.Grid, maxPixels int64) error {
	n := PixelCount(g)
	if maxPixels > 0 && n > maxPixels {
		return &domain.PixelBudgetExceededError{Name: name, Pixels: n, MaxPixels: maxPixels}
	}
	return nil
}

// densePolygon returns the rectangle outline (X=long, Y=lat) with
// edgeSamples points per edge.
func densePolygon(r domain.Rect) geom.Polygon {
	dx := (r.MaxLong - r.MinLong) / edgeSamples
	dy := (r.MaxLat - r.MinLat) / edgeSamples
	path := make(geom.Path, 0, 4*edgeSamples+1)
	for i := range edgeSamples {
		path = append(path, geom.Point{X: r.MinLong + float64(i)*dx, Y: r.MinLat})
	}
	for i := range edgeSamples {
		path = append(path, geom.Point{X: r.MaxLong, Y: r.MinLat + float64(i)*dy})
	}
	for i := range edgeSamples {
		path = append(path, geom.Point{X: r.MaxLong - float64(i)*dx, Y: r.MaxLat})
	}
	for i := range edgeSamples {
		path = append(path, geom.Point{X: r.MinLong, Y: r.MaxLat - float64(i)*dy})
	}
	path = append(path, geom.Point{X: r.MinLong, Y: r.MinLat})
	return geom.Polygon{path}
}
