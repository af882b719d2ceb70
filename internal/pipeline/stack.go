package pipeline

import (
	"fmt"
	"slices"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// BandLabel names a stacked band "<field>@<RFC3339 timestamp>".
func BandLabel(field string, ts time.Time) string {
	return field + "@" + ts.UTC().Format(time.RFC3339)
}

// ParseBandLabel splits a stacked band label into field and timestamp.
func ParseBandLabel(label string) (string, time.Time, bool) {
	for i := len(label) - 1; i >= 0; i-- {
		if label[i] != '@' {
			continue
		}
		ts, err := time.Parse(time.RFC3339, label[i+1:])
		if err != nil {
			return "", time.Time{}, false
		}
		return label[:i], ts, true
	}
	return "", time.Time{}, false
}

// Stack concatenates every image in [begin, end) into one multiband raster.
// Bands are ordered by timestamp ascending, then by the given field order, so
// the result does not depend on storage order.
func Stack(c domain.Collection, fields []string, begin, end time.Time) (domain.Raster, error) {
	if len(fields) == 0 {
		return domain.Raster{}, fmt.Errorf("collection %s: stack needs at least one field", c.ID)
	}
	if !begin.Before(end) {
		return domain.Raster{}, fmt.Errorf("%w: begin %s must be before end %s", domain.ErrInvalidPeriodSpec,
			begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var selected []domain.Image
	for _, im := range c.Images {
		if domain.InRange(im.Timestamp, begin, end) {
			selected = append(selected, im)
		}
	}
	if len(selected) == 0 {
		return domain.Raster{}, &domain.EmptyRangeError{CollectionID: c.ID, Begin: begin, End: end}
	}

	slices.SortStableFunc(selected, func(a, b domain.Image) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for i := 1; i < len(selected); i++ {
		if selected[i].Timestamp.Equal(selected[i-1].Timestamp) {
			return domain.Raster{}, &domain.DuplicateTimestampError{CollectionID: c.ID, Timestamp: selected[i].Timestamp}
		}
	}

	sub := domain.Collection{ID: c.ID, Images: selected}
	g, err := commonGrid(sub)
	if err != nil {
		return domain.Raster{}, err
	}

	out := domain.Raster{Grid: g, Bands: make([]domain.Band, 0, len(selected)*len(fields))}
	for _, f := range fields {
		if _, err := fieldLayers(sub, f, g); err != nil {
			return domain.Raster{}, err
		}
	}
	for _, im := range selected {
		for _, f := range fields {
			data, _ := im.Field(f)
			out.Bands = append(out.Bands, domain.Band{Label: BandLabel(f, im.Timestamp), Data: slices.Clone(data)})
		}
	}
	return out, nil
}
