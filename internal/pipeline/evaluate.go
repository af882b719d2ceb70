package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
)

// Catalog reads source collections.
type Catalog interface {
	Collection(ctx context.Context, q domain.Query) (domain.Collection, error)
}

// Evaluator runs plans against a source catalog.
type Evaluator struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator reading from catalog.
func NewEvaluator(catalog Catalog, logger *slog.Logger) *Evaluator {
	return &Evaluator{catalog: catalog, logger: logger}
}

// Evaluate reads, reduces and reprojects the plan's data. The pixel budget is
// checked before any data is read.
func (e *Evaluator) Evaluate(ctx context.Context, p Plan) (domain.Raster, Manifest, error) {
	if err := p.Validate(); err != nil {
		return domain.Raster{}, Manifest{}, err
	}
	layout, err := grid.Layout(p.Target)
	if err != nil {
		return domain.Raster{}, Manifest{}, err
	}
	if err := grid.CheckBudget(p.OutputName, layout, p.MaxPixels); err != nil {
		return domain.Raster{}, Manifest{}, err
	}

	coll, err := e.catalog.Collection(ctx, p.Query())
	if err != nil {
		return domain.Raster{}, Manifest{}, fmt.Errorf("read %s: %w", p.CollectionID, err)
	}

	var r domain.Raster
	switch p.Op {
	case OpStatic:
		r, err = Static(coll, p.Fields[0])
	case OpReduce:
		r, err = Reduce(coll, p.Fields[0], p.Periods, p.Aggregator)
	case OpStack:
		r, err = Stack(coll, p.Fields, p.Begin, p.End)
	}
	if err != nil {
		return domain.Raster{}, Manifest{}, err
	}
	if n := len(r.EmptyBands()); n > 0 {
		e.logger.Warn("empty bands in reduction", "output", p.OutputName, "empty", n, "bands", r.BandCount())
	}

	out, err := grid.Reproject(r, p.Target, layout)
	if err != nil {
		return domain.Raster{}, Manifest{}, fmt.Errorf("reproject %s: %w", p.OutputName, err)
	}

	m := NewManifest(p).WithRaster(out)
	m.GeneratedAt = domain.Now()
	e.logger.Debug("plan evaluated",
		"output", p.OutputName,
		"bands", out.BandCount(),
		"grid", out.Grid.String(),
	)
	return out, m, nil
}
