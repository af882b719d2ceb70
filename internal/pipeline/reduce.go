package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// Reduce produces one band per period selector, in the given order, by
// aggregating field across the images each selector matches. A selector that
// matches nothing yields an empty no-data band and a note; the call fails with
// EmptyRangeError only when every selector is empty.
func Reduce(c domain.Collection, field string, periods []domain.PeriodSelector, agg domain.Aggregator) (domain.Raster, error) {
	if len(periods) == 0 {
		return domain.Raster{}, fmt.Errorf("%w: reduction needs at least one period", domain.ErrInvalidPeriodSpec)
	}
	for _, p := range periods {
		if err := p.Validate(); err != nil {
			return domain.Raster{}, err
		}
	}
	fn, err := aggregatorFor(agg)
	if err != nil {
		return domain.Raster{}, err
	}
	if len(c.Images) == 0 {
		return domain.Raster{}, emptySelectors(c.ID, periods)
	}
	g, err := commonGrid(c)
	if err != nil {
		return domain.Raster{}, err
	}
	layers, err := fieldLayers(c, field, g)
	if err != nil {
		return domain.Raster{}, err
	}

	out := domain.Raster{Grid: g, Bands: make([]domain.Band, 0, len(periods))}
	empty := 0
	for i, p := range periods {
		var matched [][]float64
		for j, im := range c.Images {
			if p.Matches(im.Timestamp) {
				matched = append(matched, layers[j])
			}
		}
		if len(matched) == 0 {
			empty++
			out.Bands = append(out.Bands, domain.NewNoDataBand(p.Label, g.Size()))
			out.Notes = append(out.Notes, fmt.Sprintf("band %d (%s): no %s entries matched", i, p.Label, c.ID))
			continue
		}
		out.Bands = append(out.Bands, domain.Band{Label: p.Label, Data: reducePixels(matched, g.Size(), fn)})
	}
	if empty == len(periods) {
		return domain.Raster{}, emptySelectors(c.ID, periods)
	}
	return out, nil
}

// Static returns the single image of a collection as a one-band raster. When a
// collection holds several images the most recent one is used and noted.
func Static(c domain.Collection, field string) (domain.Raster, error) {
	if len(c.Images) == 0 {
		return domain.Raster{}, &domain.EmptyRangeError{CollectionID: c.ID}
	}
	latest := 0
	for i, im := range c.Images {
		if im.Timestamp.After(c.Images[latest].Timestamp) {
			latest = i
		}
	}
	im := c.Images[latest]
	data, ok := im.Field(field)
	if !ok {
		return domain.Raster{}, fmt.Errorf("collection %s: %w %q", c.ID, domain.ErrMissingField, field)
	}
	if len(data) != im.Grid.Size() {
		return domain.Raster{}, fmt.Errorf("collection %s: field %q has %d pixels, grid has %d", c.ID, field, len(data), im.Grid.Size())
	}
	out := domain.Raster{
		Grid:  im.Grid,
		Bands: []domain.Band{{Label: field, Data: slices.Clone(data)}},
	}
	if len(c.Images) > 1 {
		out.Notes = append(out.Notes, fmt.Sprintf("collection %s holds %d images; using %s",
			c.ID, len(c.Images), im.Timestamp.UTC().Format(time.RFC3339)))
	}
	return out, nil
}

func emptySelectors(id string, periods []domain.PeriodSelector) error {
	labels := make([]string, len(periods))
	for i, p := range periods {
		labels[i] = p.Label
	}
	return &domain.EmptyRangeError{CollectionID: id, Selectors: labels}
}

// commonGrid returns the grid shared by every image, or GridMismatchError.
func commonGrid(c domain.Collection) (domain.Grid, error) {
	g := c.Images[0].Grid
	if err := g.Validate(); err != nil {
		return domain.Grid{}, fmt.Errorf("collection %s: %w", c.ID, err)
	}
	for _, im := range c.Images[1:] {
		if !im.Grid.Equal(g) {
			return domain.Grid{}, &domain.GridMismatchError{CollectionID: c.ID, Want: g, Got: im.Grid}
		}
	}
	return g, nil
}

// fieldLayers returns field's pixels for each image, index-aligned with c.Images.
func fieldLayers(c domain.Collection, field string, g domain.Grid) ([][]float64, error) {
	layers := make([][]float64, len(c.Images))
	for i, im := range c.Images {
		data, ok := im.Field(field)
		if !ok {
			return nil, fmt.Errorf("collection %s image %s: %w %q", c.ID,
				im.Timestamp.UTC().Format(time.RFC3339), domain.ErrMissingField, field)
		}
		if len(data) != g.Size() {
			return nil, fmt.Errorf("collection %s: field %q has %d pixels, grid has %d", c.ID, field, len(data), g.Size())
		}
		layers[i] = data
	}
	return layers, nil
}
