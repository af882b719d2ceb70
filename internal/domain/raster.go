package domain

import (
	"fmt"
	"math"
	"time"
)

// GeoTransform maps pixel (col, row) to CRS coordinates for a north-up grid.
// OriginX/OriginY locate the outer top-left corner of pixel (0, 0).
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Center returns the CRS coordinates of the centre of pixel (col, row).
func (g GeoTransform) Center(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelWidth, g.OriginY - (float64(row)+0.5)*g.PixelHeight
}

// Pixel returns fractional pixel coordinates for a CRS position, using pixel
// centres as integral positions.
func (g GeoTransform) Pixel(x, y float64) (col, row float64) {
	return (x-g.OriginX)/g.PixelWidth - 0.5, (g.OriginY-y)/g.PixelHeight - 0.5
}

// Grid describes the raster lattice shared by every band of a raster.
type Grid struct {
	Cols      int          `json:"cols"`
	Rows      int          `json:"rows"`
	Transform GeoTransform `json:"transform"`
	CRS       string       `json:"crs"`
}

// Size returns the number of pixels in one band.
func (g Grid) Size() int { return g.Cols * g.Rows }

// Validate checks the grid dimensions and pixel size.
func (g Grid) Validate() error {
	if g.Cols <= 0 || g.Rows <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", g.Cols, g.Rows)
	}
	if g.Transform.PixelWidth <= 0 || g.Transform.PixelHeight <= 0 {
		return fmt.Errorf("grid pixel size must be positive, got %gx%g", g.Transform.PixelWidth, g.Transform.PixelHeight)
	}
	return nil
}

// Equal compares dimensions, CRS and transform with a small tolerance.
func (g Grid) Equal(o Grid) bool {
	const eps = 1e-9
	return g.Cols == o.Cols && g.Rows == o.Rows && g.CRS == o.CRS &&
		math.Abs(g.Transform.OriginX-o.Transform.OriginX) < eps &&
		math.Abs(g.Transform.OriginY-o.Transform.OriginY) < eps &&
		math.Abs(g.Transform.PixelWidth-o.Transform.PixelWidth) < eps &&
		math.Abs(g.Transform.PixelHeight-o.Transform.PixelHeight) < eps
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d@%s(%g,%g;%g)", g.Cols, g.Rows, g.CRS, g.Transform.OriginX, g.Transform.OriginY, g.Transform.PixelWidth)
}

// NoData is the in-memory representation of a missing pixel.
var NoData = math.NaN()

// IsNoData reports whether v is the no-data marker.
func IsNoData(v float64) bool { return math.IsNaN(v) }

// Image is one time-stamped entry of a source collection. Field data is stored
// row-major with len == Grid.Size().
type Image struct {
	Timestamp time.Time            `json:"timestamp"`
	Grid      Grid                 `json:"grid"`
	Fields    map[string][]float64 `json:"-"`
}

// Field returns the pixel values for name.
func (im Image) Field(name string) ([]float64, bool) {
	v, ok := im.Fields[name]
	return v, ok
}

// Collection is a read-only set of images from a source catalog. Image order
// carries no meaning; consumers must sort or select explicitly.
type Collection struct {
	ID     string
	Images []Image
}

// Band is one 2-D layer of a raster. Empty marks a band whose selector matched
// nothing; its data is all no-data.
type Band struct {
	Label string    `json:"label"`
	Data  []float64 `json:"-"`
	Empty bool      `json:"empty,omitempty"`
}

// Raster is a multiband grid produced by reduction, stacking or reprojection.
type Raster struct {
	Grid  Grid
	Bands []Band
	Notes []string
}

// BandCount returns the number of bands.
func (r Raster) BandCount() int { return len(r.Bands) }

// EmptyBands returns the indexes of bands flagged empty.
func (r Raster) EmptyBands() []int {
	var idx []int
	for i, b := range r.Bands {
		if b.Empty {
			idx = append(idx, i)
		}
	}
	return idx
}

// NewNoDataBand returns a band of the given size filled with no-data.
func NewNoDataBand(label string, size int) Band {
	data := make([]float64, size)
	for i := range data {
		data[i] = NoData
	}
	return Band{Label: label, Data: data, Empty: true}
}
