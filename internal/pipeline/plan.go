package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
)

// Op is the temporal operation a plan applies to its source collection.
type Op string

const (
	OpStatic Op = "static"
	OpReduce Op = "reduce"
	OpStack  Op = "stack"
)

// Plan is a pure, serialisable description of one export: what to read, how
// to reduce it, and where to put it. Nothing is evaluated until a backend runs it.
type Plan struct {
	Variable     string                  `json:"variable"`
	CollectionID string                  `json:"collection_id"`
	Fields       []string                `json:"fields"`
	Kind         domain.Kind             `json:"kind"`
	Op           Op                      `json:"op"`
	Periods      []domain.PeriodSelector `json:"periods,omitempty"`
	Aggregator   domain.Aggregator       `json:"aggregator,omitempty"`
	// Begin/End bound the catalog query; for stacks they are the stacked range.
	Begin      time.Time       `json:"begin,omitzero"`
	End        time.Time       `json:"end,omitzero"`
	Target     grid.TargetGrid `json:"target"`
	MaxPixels  int64           `json:"max_pixels"`
	OutputName string          `json:"output_name"`
	Notes      []string        `json:"notes,omitempty"`
}

// Key is the deterministic artifact key of the plan. Notes do not contribute.
func (p Plan) Key() string {
	p.Notes = nil
	data, err := json.Marshal(p)
	if err != nil {
		// Plan holds only marshalable fields.
		panic(fmt.Sprintf("marshal plan: %v", err))
	}
	return domain.HashID(p.OutputName, string(data))
}

// Query returns the catalog query the plan needs.
func (p Plan) Query() domain.Query {
	return domain.Query{CollectionID: p.CollectionID, Fields: slices.Clone(p.Fields), Begin: p.Begin, End: p.End}
}

// Validate checks that the plan is complete and internally consistent.
func (p Plan) Validate() error {
	var errs []error
	if p.Variable == "" {
		errs = append(errs, errors.New("plan: variable is required"))
	}
	if p.CollectionID == "" {
		errs = append(errs, errors.New("plan: collection id is required"))
	}
	if len(p.Fields) == 0 {
		errs = append(errs, errors.New("plan: at least one field is required"))
	}
	if p.OutputName == "" {
		errs = append(errs, errors.New("plan: output name is required"))
	}
	switch p.Op {
	case OpStatic:
	case OpReduce:
		if len(p.Periods) == 0 {
			errs = append(errs, fmt.Errorf("plan: %w: reduce needs periods", domain.ErrInvalidPeriodSpec))
		}
		for _, period := range p.Periods {
			if err := period.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("plan: %w", err))
			}
		}
		if _, err := aggregatorFor(p.Aggregator); err != nil {
			errs = append(errs, fmt.Errorf("plan: %w", err))
		}
	case OpStack:
		if !p.Begin.Before(p.End) {
			errs = append(errs, fmt.Errorf("plan: %w: stack begin must be before end", domain.ErrInvalidPeriodSpec))
		}
	default:
		errs = append(errs, fmt.Errorf("plan: %w %q", domain.ErrUnknownTemporalMode, p.Op))
	}
	if err := p.Target.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plan: %w", err))
	}
	return errors.Join(errs...)
}

// RunSpec is everything a run needs to plan its exports.
type RunSpec struct {
	Domain    domain.DomainSpec
	Variables []string
	// Begin/End bound time-series stacks; End is exclusive.
	Begin time.Time
	End   time.Time
	// ClimatologyFromYear/ClimatologyToYear bound monthly climatologies, inclusive.
	ClimatologyFromYear int
	ClimatologyToYear   int
	// CRS is an EPSG code or "auto".
	CRS                   string
	ModelResolutionMeters float64
	// ReferenceArcSecondMeters of zero is derived from the domain centre latitude.
	ReferenceArcSecondMeters float64
}

// Planner builds plans from the variable catalog.
type Planner struct {
	catalog *domain.VariableCatalog
}

// NewPlanner creates a planner over catalog.
func NewPlanner(catalog *domain.VariableCatalog) *Planner {
	return &Planner{catalog: catalog}
}

// Build returns one plan per requested variable, in request order. A variable
// that cannot be planned is left out and its error joined into the result, so
// callers may submit the plans that did build.
func (p *Planner) Build(run RunSpec) ([]Plan, error) {
	crs, err := grid.ResolveCode(run.CRS, run.Domain.Domain())
	if err != nil {
		return nil, fmt.Errorf("run crs: %w", err)
	}

	var plans []Plan
	var errs []error
	for _, name := range run.Variables {
		plan, err := p.build(run, crs, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("variable %s: %w", name, err))
			continue
		}
		plans = append(plans, plan)
	}
	return plans, errors.Join(errs...)
}

func (p *Planner) build(run RunSpec, crs, name string) (Plan, error) {
	entry, err := p.catalog.Resolve(name)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Variable:     entry.Name,
		CollectionID: entry.CollectionID,
		Fields:       entry.Fields,
		Kind:         entry.Kind,
		MaxPixels:    entry.EffectiveMaxPixels(),
		Target: grid.TargetGrid{
			CRS:        crs,
			Bounds:     run.Domain.Region(entry.Region),
			Resampling: entry.Kind.DefaultResampling(),
		},
	}

	res, note, err := resolution(run, entry.Resolution)
	if err != nil {
		return Plan{}, err
	}
	plan.Target.ResolutionMeters = res
	if note != "" {
		plan.Notes = append(plan.Notes, note)
	}

	switch entry.Temporal {
	case domain.TemporalStatic:
		plan.Op = OpStatic
	case domain.TemporalComposite:
		begin, end := entry.CompositeBegin, entry.CompositeEnd
		if begin.IsZero() || end.IsZero() {
			begin, end = run.Begin, run.End
		}
		plan.Op = OpReduce
		plan.Aggregator = entry.EffectiveAggregator()
		plan.Periods = []domain.PeriodSelector{domain.DateRange(begin, end)}
		plan.Begin, plan.End = begin, end
	case domain.TemporalClimatology:
		from, to := run.ClimatologyFromYear, run.ClimatologyToYear
		plan.Op = OpReduce
		plan.Aggregator = entry.EffectiveAggregator()
		plan.Periods = domain.MonthlyClimatology(from, to)
		plan.Begin = time.Date(from, time.January, 1, 0, 0, 0, 0, time.UTC)
		plan.End = time.Date(to+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	case domain.TemporalTimeSeries:
		plan.Op = OpStack
		plan.Begin, plan.End = run.Begin.UTC(), run.End.UTC()
	default:
		return Plan{}, fmt.Errorf("%w %q", domain.ErrUnknownTemporalMode, entry.Temporal)
	}

	plan.OutputName = OutputName(entry.OutputTemplate, run.Domain.Name(), run.Begin, run.End, entry.Name)
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func resolution(run RunSpec, rule domain.ResolutionRule) (float64, string, error) {
	switch rule.Kind {
	case domain.ResolutionModel:
		return run.ModelResolutionMeters, "", nil
	case domain.ResolutionFixed:
		return rule.Meters, "", nil
	case domain.ResolutionArcSeconds:
		lat, _ := run.Domain.Domain().Center()
		ref := run.ReferenceArcSecondMeters
		if ref == 0 {
			ref = grid.DefaultReferenceArcSecondMeters
		}
		res, err := grid.ComputeResolution(ref, rule.ArcSeconds)
		if err != nil {
			return 0, "", err
		}
		return res, grid.ResolutionNote(lat, ref), nil
	default:
		return 0, "", fmt.Errorf("unknown resolution kind %q", rule.Kind)
	}
}

// OutputName expands an output template. Dates render as YYYY-MM-DD.
func OutputName(template, domainName string, begin, end time.Time, variable string) string {
	return strings.NewReplacer(
		"{domain}", domainName,
		"{begin}", begin.UTC().Format(time.DateOnly),
		"{end}", end.UTC().Format(time.DateOnly),
		"{var}", variable,
	).Replace(template)
}
