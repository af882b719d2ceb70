package netcdf

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

const (
	bandVar      = "band"
	labelSep     = ";"
	contentLabel = "snow model forcing raster"
)

// Encoder writes rasters as NetCDF classic files with a band(band, y, x)
// float32 variable and x/y pixel-centre coordinates.
type Encoder struct {
	// TempDir holds scratch files; empty uses os.TempDir.
	TempDir string
}

// Extension is the artifact file extension.
func (Encoder) Extension() string { return ".nc" }

// Encode serialises r. Band labels, empty flags and the manifest identity
// travel as global attributes.
func (e Encoder) Encode(r domain.Raster, m pipeline.Manifest) ([]byte, error) {
	if err := r.Grid.Validate(); err != nil {
		return nil, err
	}
	if len(r.Bands) == 0 {
		return nil, errors.New("raster has no bands")
	}

	dir, err := os.MkdirTemp(e.TempDir, "artifact-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.nc")

	if err := writeRaster(path, r, m); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func writeRaster(path string, r domain.Raster, m pipeline.Manifest) error {
	g := r.Grid
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}

	xs := make([]float64, g.Cols)
	for c := range xs {
		xs[c], _ = g.Transform.Center(c, 0)
	}
	ys := make([]float64, g.Rows)
	for row := range ys {
		_, ys[row] = g.Transform.Center(0, row)
	}

	values := make([][][]float32, len(r.Bands))
	labels := make([]string, len(r.Bands))
	var empty []string
	for b, band := range r.Bands {
		if len(band.Data) != g.Size() {
			cw.Close()
			return fmt.Errorf("band %d has %d values for a %dx%d grid", b, len(band.Data), g.Cols, g.Rows)
		}
		rows := make([][]float32, g.Rows)
		for row := range rows {
			line := make([]float32, g.Cols)
			for c := range line {
				line[c] = float32(band.Data[row*g.Cols+c])
			}
			rows[row] = line
		}
		values[b] = rows
		labels[b] = band.Label
		if band.Empty {
			empty = append(empty, strconv.Itoa(b))
		}
	}

	xAttrs, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": unitsOf(g.CRS)})
	if err != nil {
		cw.Close()
		return err
	}
	bandAttrs, err := util.NewOrderedMap([]string{"_FillValue"}, map[string]any{"_FillValue": float32(math.NaN())})
	if err != nil {
		cw.Close()
		return err
	}
	globals, err := globalAttrs(
		"title", contentLabel,
		"output_name", m.OutputName,
		"variable", m.Variable,
		"plan_key", m.PlanKey,
		"crs", g.CRS,
		"resolution_m", m.ResolutionMeters,
		"origin_x", g.Transform.OriginX,
		"origin_y", g.Transform.OriginY,
		"pixel_width", g.Transform.PixelWidth,
		"pixel_height", g.Transform.PixelHeight,
		"band_labels", strings.Join(labels, labelSep),
		"empty_bands", strings.Join(empty, ","),
		"notes", strings.Join(r.Notes, "\n"),
	)
	if err != nil {
		cw.Close()
		return err
	}

	steps := []struct {
		name string
		v    api.Variable
	}{
		{"x", api.Variable{Values: xs, Dimensions: []string{"x"}, Attributes: xAttrs}},
		{"y", api.Variable{Values: ys, Dimensions: []string{"y"}, Attributes: xAttrs}},
		{bandVar, api.Variable{Values: values, Dimensions: []string{"band", "y", "x"}, Attributes: bandAttrs}},
	}
	for _, s := range steps {
		if err := cw.AddVar(s.name, s.v); err != nil {
			cw.Close()
			return fmt.Errorf("add %s: %w", s.name, err)
		}
	}
	if err := cw.AddAttributes(globals); err != nil {
		cw.Close()
		return fmt.Errorf("add attributes: %w", err)
	}
	return cw.Close()
}

// globalAttrs builds an ordered attribute map from key/value pairs. Empty
// strings are left out.
func globalAttrs(kv ...any) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key := kv[i].(string)
		if s, ok := kv[i+1].(string); ok && s == "" {
			continue
		}
		keys = append(keys, key)
		vals[key] = kv[i+1]
	}
	return util.NewOrderedMap(keys, vals)
}

func unitsOf(crs string) string {
	if crs == "EPSG:4326" {
		return "degrees"
	}
	return "m"
}

// Artifact is a decoded export artifact.
type Artifact struct {
	OutputName       string
	Variable         string
	PlanKey          string
	ResolutionMeters float64
	Raster           domain.Raster
}

// Decode parses an artifact produced by Encoder.
func Decode(data []byte) (Artifact, error) {
	dir, err := os.MkdirTemp("", "artifact-*")
	if err != nil {
		return Artifact{}, err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "in.nc")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Artifact{}, err
	}
	return DecodeFile(path)
}

// DecodeFile parses the artifact at path.
func DecodeFile(path string) (Artifact, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer nc.Close()

	attrs := nc.Attributes()
	a := Artifact{
		OutputName: attrString(attrs, "output_name"),
		Variable:   attrString(attrs, "variable"),
		PlanKey:    attrString(attrs, "plan_key"),
	}
	a.ResolutionMeters, _ = attrFloat(attrs, "resolution_m")

	xs, err := coordinate(nc, "x")
	if err != nil {
		return Artifact{}, err
	}
	ys, err := coordinate(nc, "y")
	if err != nil {
		return Artifact{}, err
	}
	g := domain.Grid{Cols: len(xs), Rows: len(ys), CRS: attrString(attrs, "crs")}
	g.Transform.OriginX, _ = attrFloat(attrs, "origin_x")
	g.Transform.OriginY, _ = attrFloat(attrs, "origin_y")
	g.Transform.PixelWidth, _ = attrFloat(attrs, "pixel_width")
	g.Transform.PixelHeight, _ = attrFloat(attrs, "pixel_height")
	if err := g.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("artifact grid: %w", err)
	}

	vg, err := nc.GetVarGetter(bandVar)
	if err != nil {
		return Artifact{}, err
	}
	raw, err := vg.Values()
	if err != nil {
		return Artifact{}, err
	}
	flat, err := flatten(raw)
	if err != nil {
		return Artifact{}, err
	}
	if len(flat)%g.Size() != 0 {
		return Artifact{}, fmt.Errorf("band variable holds %d values, not a multiple of %d", len(flat), g.Size())
	}

	labels := strings.Split(attrString(attrs, "band_labels"), labelSep)
	n := len(flat) / g.Size()
	if len(labels) != n {
		return Artifact{}, fmt.Errorf("artifact has %d bands but %d labels", n, len(labels))
	}
	empty := make(map[int]bool)
	if s := attrString(attrs, "empty_bands"); s != "" {
		for _, part := range strings.Split(s, ",") {
			i, err := strconv.Atoi(part)
			if err != nil {
				return Artifact{}, fmt.Errorf("empty_bands: %w", err)
			}
			empty[i] = true
		}
	}

	a.Raster = domain.Raster{Grid: g, Bands: make([]domain.Band, n)}
	for b := range n {
		a.Raster.Bands[b] = domain.Band{
			Label: labels[b],
			Data:  flat[b*g.Size() : (b+1)*g.Size()],
			Empty: empty[b],
		}
	}
	if notes := attrString(attrs, "notes"); notes != "" {
		a.Raster.Notes = strings.Split(notes, "\n")
	}
	return a, nil
}
