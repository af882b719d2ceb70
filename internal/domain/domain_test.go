package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRect() domain.Rect {
	return domain.Rect{MinLat: 42.363116, MinLong: -111.155208, MaxLat: 44.582480, MaxLong: -109.477849}
}

func TestNewDomainSpec_BufferedScenario(t *testing.T) {
	d, err := domain.NewDomainSpec("GRB", testRect(), domain.DefaultBuffer())
	require.NoError(t, err)

	b := d.Buffered()
	assert.InDelta(t, 42.113116, b.MinLat, 1e-9)
	assert.InDelta(t, -111.655208, b.MinLong, 1e-9)
	assert.InDelta(t, 44.832480, b.MaxLat, 1e-9)
	assert.InDelta(t, -108.977849, b.MaxLong, 1e-9)
	assert.True(t, b.Covers(d.Domain()))
	assert.Equal(t, "GRB", d.Name())
	assert.Equal(t, d.Domain(), d.Region(domain.RegionDomain))
	assert.Equal(t, b, d.Region(domain.RegionBuffered))
}

func TestNewDomainSpec_ZeroBuffer(t *testing.T) {
	d, err := domain.NewDomainSpec("", testRect(), domain.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, d.Domain(), d.Buffered())
}

func TestNewDomainSpec_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		rect   domain.Rect
		buffer domain.Buffer
	}{
		{"inverted latitude", domain.Rect{MinLat: 44, MinLong: -111, MaxLat: 42, MaxLong: -109}, domain.DefaultBuffer()},
		{"inverted longitude", domain.Rect{MinLat: 42, MinLong: -109, MaxLat: 44, MaxLong: -111}, domain.DefaultBuffer()},
		{"latitude out of range", domain.Rect{MinLat: -95, MinLong: -111, MaxLat: 44, MaxLong: -109}, domain.DefaultBuffer()},
		{"negative buffer", testRect(), domain.Buffer{Lat: -0.1, Long: 0.5}},
		{"buffer crosses pole", domain.Rect{MinLat: 80, MinLong: 0, MaxLat: 89.9, MaxLong: 10}, domain.Buffer{Lat: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewDomainSpec("x", tt.rect, tt.buffer)
			assert.Error(t, err)
		})
	}
}

func TestRect_Center(t *testing.T) {
	lat, long := testRect().Center()
	assert.InDelta(t, 43.472798, lat, 1e-6)
	assert.InDelta(t, -110.3165285, long, 1e-6)
}

func TestMonthlyClimatology(t *testing.T) {
	periods := domain.MonthlyClimatology(1985, 2015)
	require.Len(t, periods, 12)
	assert.Equal(t, time.January, periods[0].Month)
	assert.Equal(t, time.December, periods[11].Month)
	assert.Equal(t, "Jan 1985-2015", periods[0].Label)
	for _, p := range periods {
		require.NoError(t, p.Validate())
	}
}

func TestPeriodSelector_Matches(t *testing.T) {
	jan := domain.MonthOfYears(time.January, 1985, 2015)
	assert.True(t, jan.Matches(time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, jan.Matches(time.Date(2015, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.False(t, jan.Matches(time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, jan.Matches(time.Date(2000, 2, 1, 0, 0, 0, 0, time.UTC)))

	begin := time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2014, 9, 2, 0, 0, 0, 0, time.UTC)
	r := domain.DateRange(begin, end)
	assert.True(t, r.Matches(begin))
	assert.False(t, r.Matches(end))

	assert.True(t, domain.AllTime().Matches(time.Time{}))
}

func TestPeriodSelector_ValidateRejects(t *testing.T) {
	day := time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range []domain.PeriodSelector{
		domain.MonthOfYears(time.Month(13), 1985, 2015),
		domain.MonthOfYears(time.March, 2015, 1985),
		domain.DateRange(day, day),
		{Kind: "season"},
	} {
		err := p.Validate()
		assert.ErrorIs(t, err, domain.ErrInvalidPeriodSpec, p.Label)
	}
}

func TestDefaultCatalog_Resolve(t *testing.T) {
	c := domain.DefaultCatalog()
	assert.Len(t, c.Names(), 13)

	lc, err := c.Resolve("landcover")
	require.NoError(t, err)
	assert.Equal(t, domain.KindCategorical, lc.Kind)
	assert.Equal(t, domain.AggregateMode, lc.EffectiveAggregator())
	assert.Equal(t, domain.ResampleNearest, lc.Kind.DefaultResampling())

	dem, err := c.Resolve("dem")
	require.NoError(t, err)
	assert.Equal(t, domain.TerrainMaxPixels, dem.EffectiveMaxPixels())

	swr, err := c.Resolve("swr")
	require.NoError(t, err)
	assert.Equal(t, domain.RegionBuffered, swr.Region)
	assert.Equal(t, []string{"Downward_Short-Wave_Radiation_Flux_surface_6_Hour_Average"}, swr.Fields)
	assert.Equal(t, domain.DefaultMaxPixels, swr.EffectiveMaxPixels())
}

func TestCatalog_ResolveUnknown(t *testing.T) {
	_, err := domain.DefaultCatalog().Resolve("snow_depth")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownVariable)

	var uv *domain.UnknownVariableError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "snow_depth", uv.Name)
}

func TestCatalog_ResolveReturnsCopy(t *testing.T) {
	c := domain.DefaultCatalog()
	e, err := c.Resolve("tair")
	require.NoError(t, err)
	e.Fields[0] = "mutated"

	again, err := c.Resolve("tair")
	require.NoError(t, err)
	assert.Equal(t, "Temperature_height_above_ground", again.Fields[0])
}

func TestCatalog_WithReturnsNewCatalog(t *testing.T) {
	base := domain.DefaultCatalog()
	swe := domain.CatalogEntry{
		Name:           "swe",
		CollectionID:   "NASA/SNODAS",
		Fields:         []string{"swe"},
		Kind:           domain.KindContinuous,
		Temporal:       domain.TemporalTimeSeries,
		Region:         domain.RegionDomain,
		Resolution:     domain.ResolutionRule{Kind: domain.ResolutionFixed, Meters: 1000},
		OutputTemplate: "snodas_{begin}_{end}_{var}",
	}
	extended, err := base.With(swe)
	require.NoError(t, err)

	_, err = base.Resolve("swe")
	assert.ErrorIs(t, err, domain.ErrUnknownVariable)
	got, err := extended.Resolve("swe")
	require.NoError(t, err)
	if diff := cmp.Diff(swe, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "swe", extended.Names()[len(extended.Names())-1])
}

func TestNewVariableCatalog_RejectsInvalid(t *testing.T) {
	_, err := domain.NewVariableCatalog(domain.CatalogEntry{Name: "bad", Kind: "fuzzy"})
	require.Error(t, err)

	entry := domain.CatalogEntry{
		Name: "a", CollectionID: "c", Fields: []string{"f"}, Kind: domain.KindContinuous,
		Temporal: domain.TemporalStatic, Resolution: domain.ResolutionRule{Kind: domain.ResolutionModel},
		OutputTemplate: "A",
	}
	_, err = domain.NewVariableCatalog(entry, entry)
	assert.ErrorContains(t, err, "registered twice")

	entry.Aggregator = "median"
	_, err = domain.NewVariableCatalog(entry)
	assert.ErrorIs(t, err, domain.ErrUnknownAggregator)
}

func TestGeoTransform_CenterPixelRoundTrip(t *testing.T) {
	gt := domain.GeoTransform{OriginX: 500000, OriginY: 4900000, PixelWidth: 100, PixelHeight: 100}
	x, y := gt.Center(3, 7)
	assert.InDelta(t, 500350, x, 1e-9)
	assert.InDelta(t, 4899250, y, 1e-9)

	col, row := gt.Pixel(x, y)
	assert.InDelta(t, 3, col, 1e-9)
	assert.InDelta(t, 7, row, 1e-9)
}

func TestBackendJobFailure_Transient(t *testing.T) {
	transient := &domain.BackendJobFailure{JobID: "j1", Reason: "throttled"}
	permanent := &domain.BackendJobFailure{JobID: "j2", Permanent: true, Reason: "quota"}

	assert.True(t, domain.IsTransient(transient))
	assert.False(t, domain.IsTransient(permanent))
	assert.False(t, domain.IsTransient(errors.New("plain")))
	assert.ErrorIs(t, permanent, domain.ErrBackendJob)
}

func TestHashID_Deterministic(t *testing.T) {
	a := domain.HashID("dem", "EPSG:32612", "100")
	b := domain.HashID("dem", "EPSG:32612", "100")
	c := domain.HashID("dem", "EPSG:32612", "90")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestQuery_AdmitsAndKey(t *testing.T) {
	begin := time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2015, 9, 30, 0, 0, 0, 0, time.UTC)
	q := domain.Query{CollectionID: domain.CollectionCFSv2, Fields: []string{"b", "a"}, Begin: begin, End: end}

	assert.True(t, q.Admits(begin))
	assert.False(t, q.Admits(end))
	assert.True(t, domain.Query{}.Admits(end))

	reordered := q
	reordered.Fields = []string{"a", "b"}
	assert.Equal(t, q.Key(), reordered.Key())
}

func TestNow_UsesInjectedClock(t *testing.T) {
	frozen := time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	t.Cleanup(func() { domain.SetClock(nil) })

	assert.Equal(t, frozen, domain.Now())
}
