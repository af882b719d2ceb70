package netcdf

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

const packedFill int16 = math.MinInt16

// SourceFile describes a source NetCDF file in the catalog layout.
type SourceFile struct {
	Lats []float64
	Lons []float64
	// Times is nil for static data.
	Times []time.Time
	// Fields maps a field to one row-major image per time step (or exactly
	// one for static data), rows in Lats order. NaN marks missing pixels.
	Fields map[string][][]float64
	// Packed stores fields as int16 with scale factor and offset.
	Packed bool
	Scale  float64
	Offset float64
}

func (s SourceFile) validate() error {
	if len(s.Lats) < 2 || len(s.Lons) < 2 {
		return errors.New("source file needs at least 2 lats and lons")
	}
	if len(s.Fields) == 0 {
		return errors.New("source file needs at least one field")
	}
	steps := max(len(s.Times), 1)
	for name, images := range s.Fields {
		if len(images) != steps {
			return fmt.Errorf("field %s: %d images for %d steps", name, len(images), steps)
		}
		for i, img := range images {
			if len(img) != len(s.Lats)*len(s.Lons) {
				return fmt.Errorf("field %s[%d]: %d values for %dx%d", name, i, len(img), len(s.Lons), len(s.Lats))
			}
		}
	}
	if s.Packed && s.Scale == 0 {
		return errors.New("packed source file needs a scale")
	}
	return nil
}

// WriteSource writes s to path.
func WriteSource(path string, s SourceFile) error {
	if err := s.validate(); err != nil {
		return err
	}
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	if err := addSourceVars(cw, s); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func addSourceVars(cw api.Writer, s SourceFile) error {
	latAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": "degrees_north"})
	if err != nil {
		return err
	}
	lonAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": "degrees_east"})
	if err != nil {
		return err
	}
	if err := cw.AddVar("lat", api.Variable{Values: s.Lats, Dimensions: []string{"lat"}, Attributes: latAttrs}); err != nil {
		return fmt.Errorf("add lat: %w", err)
	}
	if err := cw.AddVar("lon", api.Variable{Values: s.Lons, Dimensions: []string{"lon"}, Attributes: lonAttrs}); err != nil {
		return fmt.Errorf("add lon: %w", err)
	}

	dims := []string{"lat", "lon"}
	if len(s.Times) > 0 {
		hours := make([]float64, len(s.Times))
		for i, t := range s.Times {
			hours[i] = float64(t.UTC().Unix()-unixSecs1900) / 3600
		}
		timeAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": "hours since 1900-01-01 00:00:00"})
		if err != nil {
			return err
		}
		if err := cw.AddVar("time", api.Variable{Values: hours, Dimensions: []string{"time"}, Attributes: timeAttrs}); err != nil {
			return fmt.Errorf("add time: %w", err)
		}
		dims = []string{"time", "lat", "lon"}
	}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		v, err := fieldVar(s, s.Fields[name], dims)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		if err := cw.AddVar(name, v); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}

func fieldVar(s SourceFile, images [][]float64, dims []string) (api.Variable, error) {
	rows, cols := len(s.Lats), len(s.Lons)
	if s.Packed {
		attrs, err := util.NewOrderedMap(
			[]string{"scale_factor", "add_offset", "_FillValue"},
			map[string]any{"scale_factor": s.Scale, "add_offset": s.Offset, "_FillValue": packedFill},
		)
		if err != nil {
			return api.Variable{}, err
		}
		pack := func(v float64) int16 {
			if math.IsNaN(v) {
				return packedFill
			}
			return int16(math.Round((v - s.Offset) / s.Scale))
		}
		out := make([][][]int16, len(images))
		for i, img := range images {
			out[i] = grid2D(img, rows, cols, pack)
		}
		if len(dims) == 2 {
			return api.Variable{Values: out[0], Dimensions: dims, Attributes: attrs}, nil
		}
		return api.Variable{Values: out, Dimensions: dims, Attributes: attrs}, nil
	}

	attrs, err := util.NewOrderedMap([]string{"_FillValue"}, map[string]any{"_FillValue": float32(math.NaN())})
	if err != nil {
		return api.Variable{}, err
	}
	out := make([][][]float32, len(images))
	for i, img := range images {
		out[i] = grid2D(img, rows, cols, func(v float64) float32 { return float32(v) })
	}
	if len(dims) == 2 {
		return api.Variable{Values: out[0], Dimensions: dims, Attributes: attrs}, nil
	}
	return api.Variable{Values: out, Dimensions: dims, Attributes: attrs}, nil
}

func grid2D[T any](flat []float64, rows, cols int, conv func(float64) T) [][]T {
	out := make([][]T, rows)
	for r := range out {
		line := make([]T, cols)
		for c := range line {
			line[c] = conv(flat[r*cols+c])
		}
		out[r] = line
	}
	return out
}
