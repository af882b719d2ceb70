package pipeline_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain(t *testing.T) domain.DomainSpec {
	t.Helper()
	d, err := domain.NewDomainSpec("GRB", domain.Rect{
		MinLat: 42.363116, MinLong: -111.155208, MaxLat: 44.582480, MaxLong: -109.477849,
	}, domain.DefaultBuffer())
	require.NoError(t, err)
	return d
}

func testRun(t *testing.T, variables ...string) pipeline.RunSpec {
	t.Helper()
	return pipeline.RunSpec{
		Domain:                   testDomain(t),
		Variables:                variables,
		Begin:                    waterYearBegin,
		End:                      waterYearEnd,
		ClimatologyFromYear:      1985,
		ClimatologyToYear:        2015,
		CRS:                      "EPSG:32612",
		ModelResolutionMeters:    100,
		ReferenceArcSecondMeters: grid.DefaultReferenceArcSecondMeters,
	}
}

func plansByVariable(plans []pipeline.Plan) map[string]pipeline.Plan {
	m := make(map[string]pipeline.Plan, len(plans))
	for _, p := range plans {
		m[p.Variable] = p
	}
	return m
}

func TestPlanner_BuildDefaultCatalog(t *testing.T) {
	catalog := domain.DefaultCatalog()
	plans, err := pipeline.NewPlanner(catalog).Build(testRun(t, catalog.Names()...))
	require.NoError(t, err)
	require.Len(t, plans, 13)

	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.OutputName
	}
	want := []string{
		"DEM_GRB", "NLCD2016_GRB", "PRISM_Precip", "PRISM_Temp",
		"cfsv2_2014-09-01_2015-09-30_tair", "cfsv2_2014-09-01_2015-09-30_elev",
		"cfsv2_2014-09-01_2015-09-30_uwind", "cfsv2_2014-09-01_2015-09-30_vwind",
		"cfsv2_2014-09-01_2015-09-30_surfpres", "cfsv2_2014-09-01_2015-09-30_spechum",
		"cfsv2_2014-09-01_2015-09-30_prec", "cfsv2_2014-09-01_2015-09-30_lwr",
		"cfsv2_2014-09-01_2015-09-30_swr",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("output names mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanner_VariableSemantics(t *testing.T) {
	d := testDomain(t)
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(testRun(t, "dem", "landcover", "precip_climatology", "tair"))
	require.NoError(t, err)
	byVar := plansByVariable(plans)

	dem := byVar["dem"]
	assert.Equal(t, pipeline.OpStatic, dem.Op)
	assert.Equal(t, domain.TerrainMaxPixels, dem.MaxPixels)
	assert.InDelta(t, 100.0, dem.Target.ResolutionMeters, 0)
	assert.Equal(t, d.Domain(), dem.Target.Bounds)

	lc := byVar["landcover"]
	assert.Equal(t, pipeline.OpReduce, lc.Op)
	assert.Equal(t, domain.AggregateMode, lc.Aggregator)
	assert.Equal(t, domain.ResampleNearest, lc.Target.Resampling)
	require.Len(t, lc.Periods, 1)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), lc.Begin)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), lc.End)

	ppt := byVar["precip_climatology"]
	assert.Len(t, ppt.Periods, 12)
	assert.Equal(t, domain.AggregateMean, ppt.Aggregator)
	assert.Equal(t, domain.ResampleBilinear, ppt.Target.Resampling)
	assert.InDelta(t, 3385.5, ppt.Target.ResolutionMeters, 1e-9)
	require.Len(t, ppt.Notes, 1)
	assert.Contains(t, ppt.Notes[0], "resolution approximated at reference latitude")
	assert.Equal(t, time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC), ppt.Begin)
	assert.Equal(t, time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), ppt.End)

	tair := byVar["tair"]
	assert.Equal(t, pipeline.OpStack, tair.Op)
	assert.Equal(t, d.Buffered(), tair.Target.Bounds)
	assert.InDelta(t, 22200.0, tair.Target.ResolutionMeters, 0)
	assert.Equal(t, waterYearBegin, tair.Begin)
	assert.Equal(t, waterYearEnd, tair.End)
}

func TestPlanner_UnknownVariableFailsOnlyThatVariable(t *testing.T) {
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(testRun(t, "dem", "snow_depth", "swr"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownVariable)

	var uv *domain.UnknownVariableError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "snow_depth", uv.Name)

	require.Len(t, plans, 2)
	assert.Equal(t, "dem", plans[0].Variable)
	assert.Equal(t, "swr", plans[1].Variable)
}

func TestPlanner_AutoCRS(t *testing.T) {
	run := testRun(t, "dem")
	run.CRS = "auto"
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(run)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:32612", plans[0].Target.CRS)
}

func TestPlanner_UnsetReferenceUsesDefault(t *testing.T) {
	run := testRun(t, "temp_climatology")
	run.ReferenceArcSecondMeters = 0
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(run)
	require.NoError(t, err)

	assert.InDelta(t, 3385.5, plans[0].Target.ResolutionMeters, 1e-9)
	require.Len(t, plans[0].Notes, 1)
	assert.Contains(t, plans[0].Notes[0], "22.57 m/arc-second used")
}

func TestPlan_KeyDeterministic(t *testing.T) {
	planner := pipeline.NewPlanner(domain.DefaultCatalog())
	a, err := planner.Build(testRun(t, "dem"))
	require.NoError(t, err)
	b, err := planner.Build(testRun(t, "dem"))
	require.NoError(t, err)
	assert.Equal(t, a[0].Key(), b[0].Key())

	run := testRun(t, "dem")
	run.ModelResolutionMeters = 90
	c, err := planner.Build(run)
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Key(), c[0].Key())

	noted := a[0]
	noted.Notes = append(noted.Notes, "extra")
	assert.Equal(t, a[0].Key(), noted.Key())
}

func TestPlan_SurvivesTransport(t *testing.T) {
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(testRun(t, "precip_climatology"))
	require.NoError(t, err)

	data, err := json.Marshal(plans[0])
	require.NoError(t, err)
	var decoded pipeline.Plan
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, plans[0].Key(), decoded.Key())
	require.NoError(t, decoded.Validate())
}

func TestPlan_ValidateRejects(t *testing.T) {
	err := pipeline.Plan{Op: "interpolate"}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownTemporalMode)
}

func TestNewManifest_FromPlanWithoutData(t *testing.T) {
	plans, err := pipeline.NewPlanner(domain.DefaultCatalog()).Build(testRun(t, "temp_climatology", "tair"))
	require.NoError(t, err)
	byVar := plansByVariable(plans)

	m := pipeline.NewManifest(byVar["temp_climatology"])
	require.Len(t, m.Bands, 12)
	assert.Equal(t, time.July, m.Bands[6].Period.Month)
	assert.Equal(t, "PRISM_Temp", m.OutputName)
	assert.Equal(t, byVar["temp_climatology"].Key(), m.PlanKey)
	assert.Len(t, m.Notes, 1)

	stack := pipeline.NewManifest(byVar["tair"])
	assert.Empty(t, stack.Bands)
}

func TestManifest_WithRasterFillsStackBands(t *testing.T) {
	ts := time.Date(2014, 9, 1, 6, 0, 0, 0, time.UTC)
	r := domain.Raster{
		Grid: testGrid(),
		Bands: []domain.Band{
			{Label: pipeline.BandLabel("Pressure_surface", ts), Data: make([]float64, 4)},
			domain.NewNoDataBand(pipeline.BandLabel("Pressure_surface", ts.Add(6*time.Hour)), 4),
		},
		Notes: []string{"n"},
	}
	m := pipeline.Manifest{OutputName: "x"}.WithRaster(r)

	require.Len(t, m.Bands, 2)
	assert.Equal(t, "Pressure_surface", m.Bands[0].Field)
	require.NotNil(t, m.Bands[0].Timestamp)
	assert.True(t, ts.Equal(*m.Bands[0].Timestamp))
	assert.True(t, m.Bands[1].Empty)
	assert.Equal(t, 1, m.EmptyBandCount())
	assert.Equal(t, []string{"n"}, m.Notes)
	require.NotNil(t, m.Grid)
	assert.Equal(t, 2, m.Grid.Cols)
}

func TestOutputName(t *testing.T) {
	b := time.Date(2014, 9, 1, 0, 0, 0, 0, time.UTC)
	e := time.Date(2015, 9, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "cfsv2_2014-09-01_2015-09-30_prec", pipeline.OutputName("cfsv2_{begin}_{end}_{var}", "GRB", b, e, "prec"))
	assert.Equal(t, "DEM_GRB", pipeline.OutputName("DEM_{domain}", "GRB", b, e, "dem"))
	assert.Equal(t, "PRISM_Precip", pipeline.OutputName("PRISM_Precip", "GRB", b, e, "precip_climatology"))
}
