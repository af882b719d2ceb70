package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

const (
	runEnvPrefix = "SNOWPREP_"
	dateLayout   = "2006-01-02"

	defaultModelResolutionMeters = 100.0
)

// RunConfig is the YAML run description consumed by cmd/prepare.
type RunConfig struct {
	Domain      DomainConfig      `koanf:"domain"`
	Variables   []string          `koanf:"variables"`
	Begin       string            `koanf:"begin"`
	End         string            `koanf:"end"`
	Climatology ClimatologyConfig `koanf:"climatology"`
	CRS         string            `koanf:"crs"`

	// ModelResolution is the model grid spacing in meters.
	ModelResolution     float64 `koanf:"model_resolution_m"`
	ReferenceArcSecondM float64 `koanf:"reference_arc_second_m"`

	Backend           BackendConfig `koanf:"backend"`
	AwaitTimeout      time.Duration `koanf:"await_timeout"`
	AwaitPollInterval time.Duration `koanf:"await_poll_interval"`
}

// DomainConfig is the study area in WGS84 degrees.
type DomainConfig struct {
	Name    string  `koanf:"name"`
	MinLat  float64 `koanf:"min_lat"`
	MinLong float64 `koanf:"min_long"`
	MaxLat  float64 `koanf:"max_lat"`
	MaxLong float64 `koanf:"max_long"`
	// BufferLat/BufferLong of zero fall back to the default margin.
	BufferLat  float64 `koanf:"buffer_lat"`
	BufferLong float64 `koanf:"buffer_long"`
}

// ClimatologyConfig is the inclusive year range of monthly climatologies.
type ClimatologyConfig struct {
	FromYear int `koanf:"from_year"`
	ToYear   int `koanf:"to_year"`
}

// BackendConfig locates the export worker's jobs API.
type BackendConfig struct {
	URL             string        `koanf:"url"`
	Timeout         time.Duration `koanf:"timeout"`
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// LoadRun reads the run config at path and applies SNOWPREP_ overrides, e.g.
//
//	SNOWPREP_DOMAIN_NAME        -> domain.name
//	SNOWPREP_CLIMATOLOGY_TO_YEAR -> climatology.to_year
//	SNOWPREP_VARIABLES=dem,swr  -> variables
func LoadRun(path string) (*RunConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading run config %s: %w", path, err)
		}
	}

	envLookup := buildEnvLookup(append(k.Keys(), knownRunKeys...))
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: runEnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, runEnvPrefix))
			if koanfKey, ok := envLookup[key]; ok {
				if koanfKey == "variables" {
					return koanfKey, splitList(value)
				}
				return koanfKey, value
			}
			return strings.ReplaceAll(key, "_", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg RunConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling run config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating run config: %w", err)
	}
	return &cfg, nil
}

// knownRunKeys lets env overrides address keys the YAML file left out.
var knownRunKeys = []string{
	"domain.name", "domain.min_lat", "domain.min_long", "domain.max_lat", "domain.max_long",
	"domain.buffer_lat", "domain.buffer_long",
	"variables", "begin", "end", "crs",
	"climatology.from_year", "climatology.to_year",
	"model_resolution_m", "reference_arc_second_m",
	"backend.url", "backend.timeout", "backend.breaker_failures", "backend.breaker_timeout",
	"await_timeout", "await_poll_interval",
}

func (c *RunConfig) applyDefaults() {
	if c.CRS == "" {
		c.CRS = grid.AutoCRS
	}
	if c.ModelResolution == 0 {
		c.ModelResolution = defaultModelResolutionMeters
	}
	if c.Domain.BufferLat == 0 && c.Domain.BufferLong == 0 {
		def := domain.DefaultBuffer()
		c.Domain.BufferLat, c.Domain.BufferLong = def.Lat, def.Long
	}
	if c.Climatology.FromYear == 0 && c.Climatology.ToYear == 0 {
		c.Climatology = ClimatologyConfig{FromYear: 1985, ToYear: 2015}
	}
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:8080"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 30 * time.Second
	}
	if c.Backend.BreakerFailures == 0 {
		c.Backend.BreakerFailures = 5
	}
	if c.Backend.BreakerTimeout == 0 {
		c.Backend.BreakerTimeout = 30 * time.Second
	}
	if c.AwaitTimeout == 0 {
		c.AwaitTimeout = 6 * time.Hour
	}
	if c.AwaitPollInterval == 0 {
		c.AwaitPollInterval = 5 * time.Second
	}
	for i, v := range c.Variables {
		c.Variables[i] = strings.TrimSpace(v)
	}
}

// Validate checks the run config without resolving variables; unknown
// variable names are reported per variable by the planner.
func (c *RunConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Domain.Name) == "" {
		errs = append(errs, errors.New("domain.name is required"))
	}
	if len(c.Variables) == 0 {
		errs = append(errs, errors.New("variables must name at least one variable"))
	}
	begin, end, err := c.window()
	if err != nil {
		errs = append(errs, err)
	} else if !begin.IsZero() && !begin.Before(end) {
		errs = append(errs, fmt.Errorf("begin %s must be before end %s", c.Begin, c.End))
	}
	if c.Climatology.FromYear > c.Climatology.ToYear {
		errs = append(errs, fmt.Errorf("climatology.from_year %d after to_year %d", c.Climatology.FromYear, c.Climatology.ToYear))
	}
	if c.ModelResolution < 0 {
		errs = append(errs, errors.New("model_resolution_m must not be negative"))
	}
	if c.ReferenceArcSecondM < 0 {
		errs = append(errs, errors.New("reference_arc_second_m must not be negative"))
	}
	if strings.Contains(c.Backend.URL, " ") || !strings.Contains(c.Backend.URL, "://") {
		errs = append(errs, fmt.Errorf("backend.url must be an absolute URL, got %q", c.Backend.URL))
	}
	if c.Backend.Timeout < 0 || c.AwaitTimeout < 0 || c.AwaitPollInterval < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	return errors.Join(errs...)
}

// window parses begin/end. Both are optional together; the run then has no
// time-series window. The end date is exclusive.
func (c *RunConfig) window() (time.Time, time.Time, error) {
	if c.Begin == "" && c.End == "" {
		return time.Time{}, time.Time{}, nil
	}
	begin, err := time.Parse(dateLayout, c.Begin)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("begin: %w", err)
	}
	end, err := time.Parse(dateLayout, c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return begin, end, nil
}

// RunSpec converts the config into the planner's input.
func (c *RunConfig) RunSpec() (pipeline.RunSpec, error) {
	rect := domain.Rect{
		MinLat:  c.Domain.MinLat,
		MinLong: c.Domain.MinLong,
		MaxLat:  c.Domain.MaxLat,
		MaxLong: c.Domain.MaxLong,
	}
	dom, err := domain.NewDomainSpec(c.Domain.Name, rect, domain.Buffer{Lat: c.Domain.BufferLat, Long: c.Domain.BufferLong})
	if err != nil {
		return pipeline.RunSpec{}, err
	}
	begin, end, err := c.window()
	if err != nil {
		return pipeline.RunSpec{}, err
	}
	return pipeline.RunSpec{
		Domain:                   dom,
		Variables:                c.Variables,
		Begin:                    begin,
		End:                      end,
		ClimatologyFromYear:      c.Climatology.FromYear,
		ClimatologyToYear:        c.Climatology.ToYear,
		CRS:                      c.CRS,
		ModelResolutionMeters:    c.ModelResolution,
		ReferenceArcSecondMeters: c.ReferenceArcSecondM,
	}, nil
}

// splitList turns "dem, swr" into its trimmed, non-empty items.
func splitList(value string) []string {
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// buildEnvLookup maps env-style keys ("domain_min_lat") back to koanf keys
// ("domain.min_lat") so underscores inside a field name survive.
func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}
