package netcdf

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
)

// Catalog reads collections laid out as <root>/<collection id>/*.nc. Every
// file carries lat/lon (or y/x plus a global "crs" attribute) coordinate
// variables, an optional time variable, and one variable per field with
// dimensions (time, lat, lon) or (lat, lon) for static data.
type Catalog struct {
	root   string
	logger *slog.Logger
}

// NewCatalog creates a catalog rooted at root.
func NewCatalog(root string, logger *slog.Logger) *Catalog {
	return &Catalog{root: root, logger: logger}
}

// Collection reads every image of q.CollectionID admitted by q.
func (c *Catalog) Collection(ctx context.Context, q domain.Query) (domain.Collection, error) {
	dir := filepath.Join(c.root, filepath.FromSlash(q.CollectionID))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return domain.Collection{}, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, q.CollectionID)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.nc"))
	if err != nil {
		return domain.Collection{}, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)

	m := merger{id: q.CollectionID, images: make(map[int64]*domain.Image)}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return domain.Collection{}, err
		}
		n, err := c.readFile(path, q, &m)
		if err != nil {
			return domain.Collection{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		c.logger.Debug("source file read", "collection", q.CollectionID, "file", filepath.Base(path), "images", n)
	}
	return m.collection(), nil
}

func (c *Catalog) readFile(path string, q domain.Query, m *merger) (int, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer nc.Close()

	g, lay, err := readGrid(nc)
	if err != nil {
		return 0, err
	}

	times := []time.Time{{}}
	hasTime := false
	if tv, err := nc.GetVarGetter("time"); err == nil {
		raw, err := tv.Values()
		if err != nil {
			return 0, fmt.Errorf("time: %w", err)
		}
		vals, err := flatten(raw)
		if err != nil {
			return 0, fmt.Errorf("time: %w", err)
		}
		if times, err = timeAxis(vals, attrString(tv.Attributes(), "units")); err != nil {
			return 0, err
		}
		hasTime = true
	}

	vars := nc.ListVariables()
	read := 0
	for _, field := range q.Fields {
		if !slices.Contains(vars, field) {
			continue
		}
		vg, err := nc.GetVarGetter(field)
		if err != nil {
			return read, fmt.Errorf("%s: %w", field, err)
		}
		timed := hasTime && len(vg.Dimensions()) == 3 && vg.Dimensions()[0] == "time"
		pk := packingOf(vg.Attributes())

		if !timed {
			raw, err := vg.Values()
			if err != nil {
				return read, fmt.Errorf("%s: %w", field, err)
			}
			ts := time.Time{}
			if hasTime && len(times) == 1 {
				ts = times[0]
			}
			if !q.Admits(ts) {
				continue
			}
			if err := m.add(ts, g, field, raw, pk, lay); err != nil {
				return read, fmt.Errorf("%s: %w", field, err)
			}
			read++
			continue
		}

		for i, ts := range times {
			if !q.Admits(ts) {
				continue
			}
			raw, err := vg.GetSlice(int64(i), int64(i)+1)
			if err != nil {
				return read, fmt.Errorf("%s[%d]: %w", field, i, err)
			}
			if err := m.add(ts, g, field, raw, pk, lay); err != nil {
				return read, fmt.Errorf("%s[%d]: %w", field, i, err)
			}
			read++
		}
	}
	return read, nil
}

// layout maps stored values onto the north-up, west-to-east grid.
type layout struct {
	flipY bool
	// cols[i] is the stored column of grid column i; nil keeps storage order.
	cols []int
}

// readGrid derives the north-up grid from 1-D coordinate variables.
// Geographic longitudes past 180 are wrapped into -180..180.
func readGrid(nc api.Group) (domain.Grid, layout, error) {
	crs := grid.WGS84
	yName, xName := "", ""
	vars := nc.ListVariables()
	for _, pair := range [][2]string{{"lat", "lon"}, {"latitude", "longitude"}, {"y", "x"}} {
		if slices.Contains(vars, pair[0]) && slices.Contains(vars, pair[1]) {
			yName, xName = pair[0], pair[1]
			break
		}
	}
	if yName == "" {
		return domain.Grid{}, layout{}, errors.New("no lat/lon or y/x coordinate variables")
	}
	if yName == "y" {
		crs = attrString(nc.Attributes(), "crs")
		if crs == "" {
			return domain.Grid{}, layout{}, errors.New("projected coordinates without a crs attribute")
		}
	}

	ys, err := coordinate(nc, yName)
	if err != nil {
		return domain.Grid{}, layout{}, err
	}
	xs, err := coordinate(nc, xName)
	if err != nil {
		return domain.Grid{}, layout{}, err
	}
	if len(ys) < 2 || len(xs) < 2 {
		return domain.Grid{}, layout{}, fmt.Errorf("coordinates need at least 2 points, got %dx%d", len(xs), len(ys))
	}

	cols, xs, err := westToEast(xs, yName != "y")
	if err != nil {
		return domain.Grid{}, layout{}, fmt.Errorf("%s: %w", xName, err)
	}
	pw := xs[1] - xs[0]
	ph := math.Abs(ys[1] - ys[0])
	lay := layout{flipY: ys[0] < ys[len(ys)-1], cols: cols}
	top := max(ys[0], ys[len(ys)-1])
	g := domain.Grid{
		Cols: len(xs),
		Rows: len(ys),
		CRS:  crs,
		Transform: domain.GeoTransform{
			OriginX:     xs[0] - pw/2,
			OriginY:     top + ph/2,
			PixelWidth:  pw,
			PixelHeight: ph,
		},
	}
	return g, lay, g.Validate()
}

// westToEast sorts x coordinates ascending, first wrapping longitudes past
// 180 when geographic. The returned order is nil when storage already runs
// west to east. The sorted axis must stay evenly spaced, so a regional grid
// straddling the antimeridian is rejected.
func westToEast(xs []float64, geographic bool) ([]int, []float64, error) {
	norm := slices.Clone(xs)
	if geographic {
		for i, x := range norm {
			if x > 180 {
				norm[i] = x - 360
			}
		}
	}
	order := make([]int, len(norm))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(norm[a], norm[b]) })

	sorted := make([]float64, len(norm))
	identity := true
	for i, j := range order {
		sorted[i] = norm[j]
		identity = identity && i == j
	}
	step := sorted[1] - sorted[0]
	if !(step > 0) {
		return nil, nil, errors.New("duplicate coordinates")
	}
	for i := 2; i < len(sorted); i++ {
		if math.Abs(sorted[i]-sorted[i-1]-step) > step*0.01 {
			return nil, nil, fmt.Errorf("coordinates not evenly spaced between %g and %g", sorted[i-1], sorted[i])
		}
	}
	if identity {
		return nil, sorted, nil
	}
	return order, sorted, nil
}

func coordinate(nc api.Group, name string) ([]float64, error) {
	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return flatten(raw)
}

// merger assembles images across files keyed by timestamp.
type merger struct {
	id     string
	images map[int64]*domain.Image
}

func (m *merger) add(ts time.Time, g domain.Grid, field string, raw any, pk packing, lay layout) error {
	data, err := flatten(raw)
	if err != nil {
		return err
	}
	if len(data) != g.Size() {
		return fmt.Errorf("got %d values for a %dx%d grid", len(data), g.Cols, g.Rows)
	}
	pk.unpack(data)
	if lay.flipY {
		flipRows(data, g.Cols, g.Rows)
	}
	if lay.cols != nil {
		reorderCols(data, lay.cols)
	}

	key := ts.UnixNano()
	if ts.IsZero() {
		key = math.MinInt64
	}
	img, ok := m.images[key]
	if !ok {
		img = &domain.Image{Timestamp: ts, Grid: g, Fields: make(map[string][]float64)}
		m.images[key] = img
	} else if !img.Grid.Equal(g) {
		return &domain.GridMismatchError{CollectionID: m.id, Want: img.Grid, Got: g}
	}
	img.Fields[field] = data
	return nil
}

func (m *merger) collection() domain.Collection {
	keys := make([]int64, 0, len(m.images))
	for k := range m.images {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := domain.Collection{ID: m.id, Images: make([]domain.Image, 0, len(keys))}
	for _, k := range keys {
		out.Images = append(out.Images, *m.images[k])
	}
	return out
}

func flipRows(data []float64, cols, rows int) {
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := data[top*cols : (top+1)*cols]
		b := data[bottom*cols : (bottom+1)*cols]
		for i := range a {
			a[i], b[i] = b[i], a[i]
		}
	}
}

func reorderCols(data []float64, cols []int) {
	row := make([]float64, len(cols))
	for start := 0; start+len(cols) <= len(data); start += len(cols) {
		line := data[start : start+len(cols)]
		for i, j := range cols {
			row[i] = line[j]
		}
		copy(line, row)
	}
}
