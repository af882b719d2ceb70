package pipeline_test

import (
	"testing"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	waterYearBegin = time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	waterYearEnd   = time.Date(2015, 9, 30, 0, 0, 0, 0, time.UTC)
)

// sixHourly returns a CFSv2-like collection from begin to end inclusive of
// both edges, so the stacker has to drop the end timestamp itself.
func sixHourly(begin, end time.Time, fields ...string) domain.Collection {
	c := domain.Collection{ID: domain.CollectionCFSv2}
	for ts := begin; !ts.After(end); ts = ts.Add(6 * time.Hour) {
		im := image(ts, fields[0], float64(ts.Unix()))
		for _, f := range fields[1:] {
			im.Fields[f] = append([]float64(nil), im.Fields[fields[0]]...)
		}
		c.Images = append(c.Images, im)
	}
	return c
}

func labels(r domain.Raster) []string {
	out := make([]string, len(r.Bands))
	for i, b := range r.Bands {
		out[i] = b.Label
	}
	return out
}

func TestStack_WaterYearBandCount(t *testing.T) {
	field := "Temperature_height_above_ground"
	c := sixHourly(waterYearBegin.Add(-24*time.Hour), waterYearEnd, field)

	r, err := pipeline.Stack(c, []string{field}, waterYearBegin, waterYearEnd)
	require.NoError(t, err)
	assert.Equal(t, 1576, r.BandCount())
	assert.Equal(t, field+"@2014-09-01T00:00:00Z", r.Bands[0].Label)
	assert.Equal(t, field+"@2015-09-29T18:00:00Z", r.Bands[r.BandCount()-1].Label)

	for _, b := range r.Bands {
		_, ts, ok := pipeline.ParseBandLabel(b.Label)
		require.True(t, ok)
		assert.True(t, domain.InRange(ts, waterYearBegin, waterYearEnd), b.Label)
	}
}

func TestStack_TimestampMajorThenFieldOrder(t *testing.T) {
	begin := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	c := sixHourly(begin, begin.Add(6*time.Hour), "u", "v")

	r, err := pipeline.Stack(c, []string{"v", "u"}, begin, begin.Add(24*time.Hour))
	require.NoError(t, err)
	want := []string{
		"v@2015-01-01T00:00:00Z", "u@2015-01-01T00:00:00Z",
		"v@2015-01-01T06:00:00Z", "u@2015-01-01T06:00:00Z",
	}
	if diff := cmp.Diff(want, labels(r)); diff != "" {
		t.Errorf("band order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(c.Images)*2, r.BandCount())
}

func TestStack_InvariantUnderPermutation(t *testing.T) {
	begin := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	end := begin.Add(10 * 24 * time.Hour)
	c := sixHourly(begin, end, "prec")

	want, err := pipeline.Stack(c, []string{"prec"}, begin, end)
	require.NoError(t, err)
	for seed := range uint64(5) {
		got, err := pipeline.Stack(shuffled(c, seed), []string{"prec"}, begin, end)
		require.NoError(t, err)
		if diff := cmp.Diff(labels(want), labels(got)); diff != "" {
			t.Fatalf("seed %d: labels differ (-want +got):\n%s", seed, diff)
		}
		for i := range want.Bands {
			assert.Equal(t, want.Bands[i].Data, got.Bands[i].Data)
		}
	}
}

func TestStack_EmptyRange(t *testing.T) {
	c := sixHourly(waterYearBegin, waterYearBegin.Add(24*time.Hour), "tair")
	_, err := pipeline.Stack(c, []string{"tair"}, waterYearEnd, waterYearEnd.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrEmptyRange)

	var er *domain.EmptyRangeError
	require.ErrorAs(t, err, &er)
	assert.Equal(t, waterYearEnd, er.Begin)
}

func TestStack_DuplicateTimestamp(t *testing.T) {
	c := sixHourly(waterYearBegin, waterYearBegin.Add(6*time.Hour), "tair")
	c.Images = append(c.Images, image(waterYearBegin, "tair", 1))

	_, err := pipeline.Stack(c, []string{"tair"}, waterYearBegin, waterYearEnd)
	assert.ErrorIs(t, err, domain.ErrDuplicateTimestamp)
}

func TestStack_Rejects(t *testing.T) {
	c := sixHourly(waterYearBegin, waterYearBegin.Add(6*time.Hour), "tair")

	_, err := pipeline.Stack(c, []string{"tair"}, waterYearEnd, waterYearBegin)
	assert.ErrorIs(t, err, domain.ErrInvalidPeriodSpec)

	_, err = pipeline.Stack(c, []string{"tair", "swr"}, waterYearBegin, waterYearEnd)
	assert.ErrorIs(t, err, domain.ErrMissingField)

	_, err = pipeline.Stack(c, nil, waterYearBegin, waterYearEnd)
	assert.Error(t, err)
}

func TestParseBandLabel(t *testing.T) {
	ts := time.Date(2014, 9, 1, 6, 0, 0, 0, time.UTC)
	field, got, ok := pipeline.ParseBandLabel(pipeline.BandLabel("Pressure_surface", ts))
	require.True(t, ok)
	assert.Equal(t, "Pressure_surface", field)
	assert.True(t, ts.Equal(got))

	_, _, ok = pipeline.ParseBandLabel("Jan 1985-2015")
	assert.False(t, ok)
}
