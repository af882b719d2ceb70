package grid

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// samplePoint is a fractional source pixel position; ok is false when the
// output pixel lies outside the clip rectangle or the source extent.
type samplePoint struct {
	col, row float64
	ok       bool
}

// Reproject resamples every band of r onto layout. Output pixels whose centre
// falls outside target.Bounds are no-data. Band labels, empty flags and notes
// are carried over unchanged.
func Reproject(r domain.Raster, target TargetGrid, layout domain.Grid) (domain.Raster, error) {
	if err := layout.Validate(); err != nil {
		return domain.Raster{}, fmt.Errorf("output layout: %w", err)
	}
	if err := r.Grid.Validate(); err != nil {
		return domain.Raster{}, fmt.Errorf("source grid: %w", err)
	}

	out := domain.Raster{
		Grid:  layout,
		Bands: make([]domain.Band, len(r.Bands)),
		Notes: slices.Clone(r.Notes),
	}

	points, err := samplePoints(r.Grid, target.Bounds, layout)
	if err != nil {
		return domain.Raster{}, err
	}

	sample := sampleNearest
	if target.Resampling == domain.ResampleBilinear {
		sample = sampleBilinear
	}

	for i, b := range r.Bands {
		if len(b.Data) != r.Grid.Size() {
			return domain.Raster{}, fmt.Errorf("band %q has %d pixels, grid has %d", b.Label, len(b.Data), r.Grid.Size())
		}
		data := make([]float64, layout.Size())
		for k, p := range points {
			if !p.ok {
				data[k] = domain.NoData
				continue
			}
			data[k] = sample(b.Data, r.Grid.Cols, r.Grid.Rows, p.col, p.row)
		}
		out.Bands[i] = domain.Band{Label: b.Label, Data: data, Empty: b.Empty}
	}
	return out, nil
}

// samplePoints maps each output pixel centre to a source pixel position once,
// so that multiband rasters pay the projection cost a single time.
func samplePoints(src domain.Grid, clip domain.Rect, layout domain.Grid) ([]samplePoint, error) {
	srcCRS, err := LookupCRS(src.CRS)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	dstCRS, err := LookupCRS(layout.CRS)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	geo, _ := LookupCRS(WGS84)

	toSource, err := NewTransform(dstCRS, srcCRS)
	if err != nil {
		return nil, err
	}
	toGeo, err := NewTransform(dstCRS, geo)
	if err != nil {
		return nil, err
	}

	points := make([]samplePoint, layout.Size())
	for row := range layout.Rows {
		for col := range layout.Cols {
			x, y := layout.Transform.Center(col, row)
			long, lat, err := toGeo(x, y)
			if err != nil || !clip.Contains(lat, long) {
				continue
			}
			sx, sy, err := toSource(x, y)
			if err != nil {
				continue
			}
			fc, fr := src.Transform.Pixel(sx, sy)
			if fc < -0.5 || fr < -0.5 || fc >= float64(src.Cols)-0.5 || fr >= float64(src.Rows)-0.5 {
				continue
			}
			points[row*layout.Cols+col] = samplePoint{col: fc, row: fr, ok: true}
		}
	}
	return points, nil
}

func sampleNearest(data []float64, cols, rows int, fc, fr float64) float64 {
	c := clampIndex(int(math.Floor(fc+0.5)), cols)
	r := clampIndex(int(math.Floor(fr+0.5)), rows)
	return data[r*cols+c]
}

// sampleBilinear interpolates between the four surrounding pixel centres and
// falls back to nearest neighbour when any of them is no-data.
func sampleBilinear(data []float64, cols, rows int, fc, fr float64) float64 {
	c0f, r0f := math.Floor(fc), math.Floor(fr)
	dx, dy := fc-c0f, fr-r0f
	c0 := clampIndex(int(c0f), cols)
	c1 := clampIndex(int(c0f)+1, cols)
	r0 := clampIndex(int(r0f), rows)
	r1 := clampIndex(int(r0f)+1, rows)

	v00 := data[r0*cols+c0]
	v10 := data[r0*cols+c1]
	v01 := data[r1*cols+c0]
	v11 := data[r1*cols+c1]
	if domain.IsNoData(v00) || domain.IsNoData(v10) || domain.IsNoData(v01) || domain.IsNoData(v11) {
		return sampleNearest(data, cols, rows, fc, fr)
	}
	top := v00*(1-dx) + v10*dx
	bottom := v01*(1-dx) + v11*dx
	return top*(1-dy) + bottom*dy
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
