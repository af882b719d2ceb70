package grid_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halfDegree is a metre resolution that lays out to exactly 0.5° pixels in EPSG:4326.
const halfDegree = 111319.49079327357 * 0.5

func testRect() domain.Rect {
	return domain.Rect{MinLat: 42.363116, MinLong: -111.155208, MaxLat: 44.582480, MaxLong: -109.477849}
}

func squareRect() domain.Rect {
	return domain.Rect{MinLat: 42, MinLong: -111, MaxLat: 44, MaxLong: -109}
}

// sourceRaster is a 4x4 geographic raster over squareRect whose values equal the column index.
func sourceRaster(bands ...string) domain.Raster {
	g := domain.Grid{
		Cols: 4, Rows: 4, CRS: grid.WGS84,
		Transform: domain.GeoTransform{OriginX: -111, OriginY: 44, PixelWidth: 0.5, PixelHeight: 0.5},
	}
	r := domain.Raster{Grid: g}
	for _, label := range bands {
		data := make([]float64, g.Size())
		for i := range data {
			data[i] = float64(i % g.Cols)
		}
		r.Bands = append(r.Bands, domain.Band{Label: label, Data: data})
	}
	return r
}

func TestComputeResolution_PRISMDefault(t *testing.T) {
	res, err := grid.ComputeResolution(grid.DefaultReferenceArcSecondMeters, domain.PRISMArcSeconds)
	require.NoError(t, err)
	assert.InDelta(t, 3385.5, res, 1e-9)
}

func TestComputeResolution_Monotone(t *testing.T) {
	prev := 0.0
	for _, arc := range []float64{1, 3, 30, 150, 300} {
		res, err := grid.ComputeResolution(22.57, arc)
		require.NoError(t, err)
		assert.Greater(t, res, prev)
		prev = res
	}
}

func TestComputeResolution_RejectsInvalid(t *testing.T) {
	for _, args := range [][2]float64{{0, 150}, {-1, 150}, {22.57, 0}, {22.57, -5}, {math.NaN(), 150}, {22.57, math.Inf(1)}} {
		_, err := grid.ComputeResolution(args[0], args[1])
		assert.ErrorIs(t, err, domain.ErrInvalidResolutionArg, "%v", args)
	}
}

func TestArcSecondMetersAt(t *testing.T) {
	assert.InDelta(t, 30.87, grid.ArcSecondMetersAt(0), 1e-9)
	assert.InDelta(t, 22.4, grid.ArcSecondMetersAt(43.47), 0.1)
	note := grid.ResolutionNote(43.472798, grid.DefaultReferenceArcSecondMeters)
	assert.Contains(t, note, "reference latitude 43.4728")
	assert.Contains(t, note, "22.57 m/arc-second used")
	assert.Contains(t, note, "22.40 m local")
}

func TestLookupCRS(t *testing.T) {
	north, err := grid.LookupCRS("EPSG:32612")
	require.NoError(t, err)
	assert.Contains(t, north.Definition, "+zone=12")
	assert.NotContains(t, north.Definition, "+south")

	south, err := grid.LookupCRS("epsg:32719")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32719", south.Code)
	assert.Contains(t, south.Definition, "+south")

	geo, err := grid.LookupCRS("4326")
	require.NoError(t, err)
	assert.True(t, geo.Geographic)

	for _, code := range []string{"EPSG:9999", "EPSG:32661", "EPSG:32600", "UTM12", ""} {
		_, err := grid.LookupCRS(code)
		assert.ErrorIs(t, err, domain.ErrUnsupportedCRS, code)
	}
}

func TestResolveCode_Auto(t *testing.T) {
	code, err := grid.ResolveCode("auto", testRect())
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32612", code)

	code, err = grid.ResolveCode("5070", testRect())
	require.NoError(t, err)
	assert.Equal(t, "EPSG:5070", code)
}

func TestLayout_Geographic(t *testing.T) {
	g, err := grid.Layout(grid.TargetGrid{
		CRS: grid.WGS84, ResolutionMeters: halfDegree, Bounds: squareRect(), Resampling: domain.ResampleNearest,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, g.Cols)
	assert.Equal(t, 4, g.Rows)
	assert.InDelta(t, -111, g.Transform.OriginX, 1e-9)
	assert.InDelta(t, 44, g.Transform.OriginY, 1e-9)
	assert.Equal(t, int64(16), grid.PixelCount(g))
}

func TestLayout_UTM(t *testing.T) {
	g, err := grid.Layout(grid.TargetGrid{
		CRS: "EPSG:32612", ResolutionMeters: 100, Bounds: testRect(), Resampling: domain.ResampleBilinear,
	})
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32612", g.CRS)
	assert.InDelta(t, 100, g.Transform.PixelWidth, 1e-9)
	assert.InDelta(t, 1400, g.Cols, 80)
	assert.InDelta(t, 2470, g.Rows, 60)
	assert.NoError(t, grid.CheckBudget("dem", g, domain.TerrainMaxPixels))
}

func TestCheckBudget_Exceeded(t *testing.T) {
	g, err := grid.Layout(grid.TargetGrid{
		CRS: "EPSG:32612", ResolutionMeters: 1, Bounds: testRect(), Resampling: domain.ResampleNearest,
	})
	require.NoError(t, err)

	err = grid.CheckBudget("landcover", g, domain.DefaultMaxPixels)
	require.ErrorIs(t, err, domain.ErrPixelBudgetExceeded)
	var pb *domain.PixelBudgetExceededError
	require.ErrorAs(t, err, &pb)
	assert.Equal(t, grid.PixelCount(g), pb.Pixels)
	assert.Equal(t, domain.DefaultMaxPixels, pb.MaxPixels)
}

func TestLayout_RejectsInvalidTarget(t *testing.T) {
	_, err := grid.Layout(grid.TargetGrid{CRS: "EPSG:1", ResolutionMeters: 0, Bounds: squareRect(), Resampling: "cubic"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedCRS)
}

func TestReproject_SameLatticePreservesValues(t *testing.T) {
	src := sourceRaster("b0")
	for _, rs := range []domain.Resampling{domain.ResampleNearest, domain.ResampleBilinear} {
		target := grid.TargetGrid{CRS: grid.WGS84, ResolutionMeters: halfDegree, Bounds: squareRect(), Resampling: rs}
		layout, err := grid.Layout(target)
		require.NoError(t, err)

		out, err := grid.Reproject(src, target, layout)
		require.NoError(t, err)
		assert.InDeltaSlice(t, src.Bands[0].Data, out.Bands[0].Data, 1e-9, string(rs))
	}
}

func TestReproject_Upsample(t *testing.T) {
	src := sourceRaster("b0")
	target := grid.TargetGrid{CRS: grid.WGS84, ResolutionMeters: halfDegree / 2, Bounds: squareRect(), Resampling: domain.ResampleBilinear}
	layout, err := grid.Layout(target)
	require.NoError(t, err)
	require.Equal(t, 8, layout.Cols)

	out, err := grid.Reproject(src, target, layout)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Bands[0].Data[0], 1e-9)
	assert.InDelta(t, 0.25, out.Bands[0].Data[1*8+1], 1e-9)

	target.Resampling = domain.ResampleNearest
	out, err = grid.Reproject(src, target, layout)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Bands[0].Data[1*8+1], 1e-9)
	assert.InDelta(t, 1.0, out.Bands[0].Data[1*8+2], 1e-9)
}

func TestReproject_BilinearFallsBackToNearestOnNoData(t *testing.T) {
	src := sourceRaster("b0")
	src.Bands[0].Data[1] = domain.NoData
	target := grid.TargetGrid{CRS: grid.WGS84, ResolutionMeters: halfDegree / 2, Bounds: squareRect(), Resampling: domain.ResampleBilinear}
	layout, err := grid.Layout(target)
	require.NoError(t, err)

	out, err := grid.Reproject(src, target, layout)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Bands[0].Data[1*8+1], 1e-9)
}

func TestReproject_ClipsOutsideBounds(t *testing.T) {
	src := sourceRaster("b0")
	full := grid.TargetGrid{CRS: grid.WGS84, ResolutionMeters: halfDegree, Bounds: squareRect(), Resampling: domain.ResampleNearest}
	layout, err := grid.Layout(full)
	require.NoError(t, err)

	clipped := full
	clipped.Bounds = domain.Rect{MinLat: 43, MinLong: -111, MaxLat: 44, MaxLong: -109}
	out, err := grid.Reproject(src, clipped, layout)
	require.NoError(t, err)

	for row := range layout.Rows {
		for col := range layout.Cols {
			v := out.Bands[0].Data[row*layout.Cols+col]
			if row < 2 {
				assert.False(t, domain.IsNoData(v), "row %d col %d", row, col)
			} else {
				assert.True(t, domain.IsNoData(v), "row %d col %d", row, col)
			}
		}
	}
}

func TestReproject_NearestKeepsClassValues(t *testing.T) {
	src := sourceRaster("classes")
	classes := []float64{11, 41, 42, 90}
	for i := range src.Bands[0].Data {
		src.Bands[0].Data[i] = classes[i%4]
	}
	target := grid.TargetGrid{CRS: "EPSG:32612", ResolutionMeters: 5000, Bounds: domain.Rect{MinLat: 42.5, MinLong: -110.5, MaxLat: 43.5, MaxLong: -109.5}, Resampling: domain.ResampleNearest}
	layout, err := grid.Layout(target)
	require.NoError(t, err)

	out, err := grid.Reproject(src, target, layout)
	require.NoError(t, err)
	valid := 0
	for _, v := range out.Bands[0].Data {
		if domain.IsNoData(v) {
			continue
		}
		valid++
		assert.Contains(t, classes, v)
	}
	assert.Positive(t, valid)
}

func TestReproject_CarriesLabelsFlagsAndNotes(t *testing.T) {
	src := sourceRaster("a", "b")
	src.Bands[1] = domain.NewNoDataBand("b", src.Grid.Size())
	src.Notes = []string{"band 1 empty"}
	target := grid.TargetGrid{CRS: grid.WGS84, ResolutionMeters: halfDegree, Bounds: squareRect(), Resampling: domain.ResampleBilinear}
	layout, err := grid.Layout(target)
	require.NoError(t, err)

	out, err := grid.Reproject(src, target, layout)
	require.NoError(t, err)
	require.Equal(t, 2, out.BandCount())
	assert.Equal(t, "a", out.Bands[0].Label)
	assert.True(t, out.Bands[1].Empty)
	assert.Equal(t, []int{1}, out.EmptyBands())
	assert.Equal(t, []string{"band 1 empty"}, out.Notes)
	for _, v := range out.Bands[1].Data {
		assert.True(t, domain.IsNoData(v))
	}
}
