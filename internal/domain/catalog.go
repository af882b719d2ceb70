package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Kind is the semantic kind of a variable's values.
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindCategorical Kind = "categorical"
)

// Aggregator names a per-pixel reduction function.
type Aggregator string

const (
	AggregateMean Aggregator = "mean"
	AggregateMode Aggregator = "mode"
)

// Resampling names the interpolation used during reprojection.
type Resampling string

const (
	ResampleNearest  Resampling = "nearest"
	ResampleBilinear Resampling = "bilinear"
)

// DefaultAggregator is mean for continuous values and mode for class values.
func (k Kind) DefaultAggregator() Aggregator {
	if k == KindCategorical {
		return AggregateMode
	}
	return AggregateMean
}

// DefaultResampling avoids inventing intermediate class values for categorical data.
func (k Kind) DefaultResampling() Resampling {
	if k == KindCategorical {
		return ResampleNearest
	}
	return ResampleBilinear
}

// TemporalMode describes how a variable's collection is reduced over time.
type TemporalMode string

const (
	// TemporalStatic exports a single image as-is (terrain).
	TemporalStatic TemporalMode = "static"
	// TemporalComposite reduces a date range to one band (land cover).
	TemporalComposite TemporalMode = "composite"
	// TemporalClimatology reduces each calendar month across a year range.
	TemporalClimatology TemporalMode = "climatology"
	// TemporalTimeSeries stacks every timestep of a date range.
	TemporalTimeSeries TemporalMode = "timeseries"
)

// ResolutionKind selects how the output pixel size of a variable is derived.
type ResolutionKind string

const (
	// ResolutionModel uses the run's model resolution (terrain and land-cover products).
	ResolutionModel ResolutionKind = "model"
	// ResolutionFixed uses Meters as-is.
	ResolutionFixed ResolutionKind = "fixed"
	// ResolutionArcSeconds scales the run's reference arc-second length by ArcSeconds.
	ResolutionArcSeconds ResolutionKind = "arc_seconds"
)

// ResolutionRule is the per-variable output resolution policy.
type ResolutionRule struct {
	Kind       ResolutionKind `json:"kind"`
	Meters     float64        `json:"meters,omitempty"`
	ArcSeconds float64        `json:"arc_seconds,omitempty"`
}

// Pixel ceilings enforced by the export backend.
const (
	DefaultMaxPixels int64 = 1e8
	TerrainMaxPixels int64 = 1e12
)

// CatalogEntry binds a logical variable to its source collection and behaviour.
type CatalogEntry struct {
	Name         string
	CollectionID string
	Fields       []string
	Kind         Kind
	Temporal     TemporalMode
	Aggregator   Aggregator // empty means Kind.DefaultAggregator
	Region       RegionKind
	Resolution   ResolutionRule
	// CompositeBegin/CompositeEnd bound composite reductions when the run does not.
	CompositeBegin time.Time
	CompositeEnd   time.Time
	// OutputTemplate may use {domain}, {begin}, {end} and {var}.
	OutputTemplate string
	MaxPixels      int64
}

// EffectiveAggregator returns the configured aggregator or the kind's default.
func (e CatalogEntry) EffectiveAggregator() Aggregator {
	if e.Aggregator != "" {
		return e.Aggregator
	}
	return e.Kind.DefaultAggregator()
}

// EffectiveMaxPixels returns the entry's pixel ceiling or the backend default.
func (e CatalogEntry) EffectiveMaxPixels() int64 {
	if e.MaxPixels > 0 {
		return e.MaxPixels
	}
	return DefaultMaxPixels
}

// Validate checks that the entry is internally consistent.
func (e CatalogEntry) Validate() error {
	var errs []error
	if strings.TrimSpace(e.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(e.CollectionID) == "" {
		errs = append(errs, fmt.Errorf("%s: collection id is required", e.Name))
	}
	if len(e.Fields) == 0 {
		errs = append(errs, fmt.Errorf("%s: at least one field is required", e.Name))
	}
	switch e.Kind {
	case KindContinuous, KindCategorical:
	default:
		errs = append(errs, fmt.Errorf("%s: unknown kind %q", e.Name, e.Kind))
	}
	switch e.Temporal {
	case TemporalStatic, TemporalComposite, TemporalClimatology, TemporalTimeSeries:
	default:
		errs = append(errs, fmt.Errorf("%s: %w %q", e.Name, ErrUnknownTemporalMode, e.Temporal))
	}
	switch e.EffectiveAggregator() {
	case AggregateMean, AggregateMode:
	default:
		errs = append(errs, fmt.Errorf("%s: %w %q", e.Name, ErrUnknownAggregator, e.Aggregator))
	}
	if e.Temporal != TemporalTimeSeries && len(e.Fields) != 1 {
		errs = append(errs, fmt.Errorf("%s: %s variables take exactly one field", e.Name, e.Temporal))
	}
	switch e.Resolution.Kind {
	case ResolutionModel:
	case ResolutionFixed:
		if e.Resolution.Meters <= 0 {
			errs = append(errs, fmt.Errorf("%s: fixed resolution must be positive", e.Name))
		}
	case ResolutionArcSeconds:
		if e.Resolution.ArcSeconds <= 0 {
			errs = append(errs, fmt.Errorf("%s: arc-second resolution must be positive", e.Name))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown resolution kind %q", e.Name, e.Resolution.Kind))
	}
	if e.OutputTemplate == "" {
		errs = append(errs, fmt.Errorf("%s: output template is required", e.Name))
	}
	return errors.Join(errs...)
}

// VariableCatalog is an immutable registry of catalog entries keyed by name.
type VariableCatalog struct {
	entries map[string]CatalogEntry
	order   []string
}

// NewVariableCatalog validates the entries and rejects duplicate names.
func NewVariableCatalog(entries ...CatalogEntry) (*VariableCatalog, error) {
	c := &VariableCatalog{entries: make(map[string]CatalogEntry, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry: %w", err)
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("catalog entry %q registered twice", e.Name)
		}
		e.Fields = slices.Clone(e.Fields)
		c.entries[e.Name] = e
		c.order = append(c.order, e.Name)
	}
	return c, nil
}

// With returns a new catalog containing the receiver's entries plus extra.
// Entries in extra replace same-named entries.
func (c *VariableCatalog) With(extra ...CatalogEntry) (*VariableCatalog, error) {
	replaced := make(map[string]CatalogEntry, len(extra))
	for _, e := range extra {
		replaced[e.Name] = e
	}
	merged := make([]CatalogEntry, 0, len(c.order)+len(extra))
	for _, name := range c.order {
		if e, ok := replaced[name]; ok {
			merged = append(merged, e)
			delete(replaced, name)
			continue
		}
		merged = append(merged, c.entries[name])
	}
	for _, e := range extra {
		if _, pending := replaced[e.Name]; pending {
			merged = append(merged, e)
			delete(replaced, e.Name)
		}
	}
	return NewVariableCatalog(merged...)
}

// Resolve returns the entry registered under name.
func (c *VariableCatalog) Resolve(name string) (CatalogEntry, error) {
	e, ok := c.entries[name]
	if !ok {
		return CatalogEntry{}, &UnknownVariableError{Name: name}
	}
	e.Fields = slices.Clone(e.Fields)
	return e, nil
}

// Names returns registered variable names in registration order.
func (c *VariableCatalog) Names() []string {
	return slices.Clone(c.order)
}

// Source dataset identifiers used by the default catalog.
const (
	CollectionSRTM90 = "CGIAR/SRTM90_V4"
	CollectionNLCD   = "USGS/NLCD"
	CollectionPRISM  = "OREGONSTATE/PRISM/AN81m"
	CollectionCFSv2  = "NOAA/CFSV2/FOR6H"
)

// PRISMArcSeconds is the PRISM grid spacing: 2.5 arc-minutes.
const PRISMArcSeconds = 150

// CFSv2ResolutionMeters is the export scale used for reanalysis forcings.
const CFSv2ResolutionMeters = 22200

// CFSv2Fields maps the short forcing names to CFSv2 band names, in the order
// MicroMet preprocessing expects them.
var CFSv2Fields = []struct{ Var, Field string }{
	{"tair", "Temperature_height_above_ground"},
	{"elev", "Geopotential_height_surface"},
	{"uwind", "u-component_of_wind_height_above_ground"},
	{"vwind", "v-component_of_wind_height_above_ground"},
	{"surfpres", "Pressure_surface"},
	{"spechum", "Specific_humidity_height_above_ground"},
	{"prec", "Precipitation_rate_surface_6_Hour_Average"},
	{"lwr", "Downward_Long-Wave_Radp_Flux_surface_6_Hour_Average"},
	{"swr", "Downward_Short-Wave_Radiation_Flux_surface_6_Hour_Average"},
}

// DefaultCatalog registers the terrain, land-cover, climatology and reanalysis
// variables required by the snow model.
func DefaultCatalog() *VariableCatalog {
	entries := []CatalogEntry{
		{
			Name:           "dem",
			CollectionID:   CollectionSRTM90,
			Fields:         []string{"elevation"},
			Kind:           KindContinuous,
			Temporal:       TemporalStatic,
			Region:         RegionDomain,
			Resolution:     ResolutionRule{Kind: ResolutionModel},
			OutputTemplate: "DEM_{domain}",
			MaxPixels:      TerrainMaxPixels,
		},
		{
			Name:           "landcover",
			CollectionID:   CollectionNLCD,
			Fields:         []string{"landcover"},
			Kind:           KindCategorical,
			Temporal:       TemporalComposite,
			Region:         RegionDomain,
			Resolution:     ResolutionRule{Kind: ResolutionModel},
			CompositeBegin: time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC),
			CompositeEnd:   time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
			OutputTemplate: "NLCD2016_{domain}",
		},
		{
			Name:           "precip_climatology",
			CollectionID:   CollectionPRISM,
			Fields:         []string{"ppt"},
			Kind:           KindContinuous,
			Temporal:       TemporalClimatology,
			Region:         RegionDomain,
			Resolution:     ResolutionRule{Kind: ResolutionArcSeconds, ArcSeconds: PRISMArcSeconds},
			OutputTemplate: "PRISM_Precip",
		},
		{
			Name:           "temp_climatology",
			CollectionID:   CollectionPRISM,
			Fields:         []string{"tmean"},
			Kind:           KindContinuous,
			Temporal:       TemporalClimatology,
			Region:         RegionDomain,
			Resolution:     ResolutionRule{Kind: ResolutionArcSeconds, ArcSeconds: PRISMArcSeconds},
			OutputTemplate: "PRISM_Temp",
		},
	}
	for _, f := range CFSv2Fields {
		entries = append(entries, CatalogEntry{
			Name:           f.Var,
			CollectionID:   CollectionCFSv2,
			Fields:         []string{f.Field},
			Kind:           KindContinuous,
			Temporal:       TemporalTimeSeries,
			Region:         RegionBuffered,
			Resolution:     ResolutionRule{Kind: ResolutionFixed, Meters: CFSv2ResolutionMeters},
			OutputTemplate: "cfsv2_{begin}_{end}_{var}",
		})
	}

	c, err := NewVariableCatalog(entries...)
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}
