package main

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
	"github.com/couchcryptid/snow-forcing-etl/internal/worker"
)

func decode(in input) (netcdf.Artifact, pipeline.Manifest, error) {
	a, err := netcdf.Decode(in.artifact)
	if err != nil {
		return netcdf.Artifact{}, pipeline.Manifest{}, fmt.Errorf("decode artifact: %w", err)
	}
	var m pipeline.Manifest
	if err := json.Unmarshal(in.manifest, &m); err != nil {
		return netcdf.Artifact{}, pipeline.Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return a, m, nil
}

// ── Phase 1: Raster Structure ──

func validateStructure(a netcdf.Artifact) *phase {
	p := &phase{name: "Phase 1: Raster Structure"}
	r := a.Raster

	if err := r.Grid.Validate(); err != nil {
		p.errorf("grid: %v", err)
	}
	if r.BandCount() == 0 {
		p.errorf("artifact has no bands")
	}
	if a.OutputName == "" {
		p.errorf("output_name attribute is missing")
	}
	if a.PlanKey == "" {
		p.errorf("plan_key attribute is missing")
	}

	seen := map[string]int{}
	for i, b := range r.Bands {
		if b.Label == "" {
			p.errorf("band %d: empty label", i)
		} else if j, dup := seen[b.Label]; dup {
			p.errorf("band %d: label %q repeats band %d", i, b.Label, j)
		} else {
			seen[b.Label] = i
		}
		if len(b.Data) != r.Grid.Size() {
			p.errorf("band %d (%s): %d values for %dx%d grid", i, b.Label, len(b.Data), r.Grid.Cols, r.Grid.Rows)
		}
	}
	return p
}

// ── Phase 2: Manifest Agreement ──

func validateManifest(a netcdf.Artifact, m pipeline.Manifest) *phase {
	p := &phase{name: "Phase 2: Manifest Agreement"}

	if m.OutputName != a.OutputName {
		p.errorf("output_name: manifest %q, artifact %q", m.OutputName, a.OutputName)
	}
	if m.Variable != a.Variable {
		p.errorf("variable: manifest %q, artifact %q", m.Variable, a.Variable)
	}
	if m.PlanKey != a.PlanKey {
		p.errorf("plan_key: manifest %q, artifact %q", m.PlanKey, a.PlanKey)
	}
	if math.Abs(m.ResolutionMeters-a.ResolutionMeters) > 1e-6 {
		p.errorf("resolution: manifest %g m, artifact %g m", m.ResolutionMeters, a.ResolutionMeters)
	}
	if m.Grid == nil {
		p.errorf("manifest has no grid")
	} else if !m.Grid.Equal(a.Raster.Grid) {
		p.errorf("grid: manifest %s, artifact %s", *m.Grid, a.Raster.Grid)
	}
	if m.CRS != a.Raster.Grid.CRS {
		p.errorf("crs: manifest %q, artifact %q", m.CRS, a.Raster.Grid.CRS)
	}

	if len(m.Bands) != a.Raster.BandCount() {
		p.errorf("band count: manifest %d, artifact %d", len(m.Bands), a.Raster.BandCount())
		return p
	}
	for i, mb := range m.Bands {
		b := a.Raster.Bands[i]
		if mb.Index != i {
			p.errorf("band %d: manifest index %d", i, mb.Index)
		}
		if mb.Label != b.Label {
			p.errorf("band %d: manifest label %q, artifact %q", i, mb.Label, b.Label)
		}
		if mb.Empty != b.Empty {
			p.errorf("band %d (%s): manifest empty=%t, artifact empty=%t", i, b.Label, mb.Empty, b.Empty)
		}
	}
	return p
}

// ── Phase 3: Key Layout ──

func validateKeyLayout(key string, m pipeline.Manifest) *phase {
	p := &phase{name: "Phase 3: Object Key Layout"}
	if key == "" {
		return p
	}
	if want := worker.ArtifactKey(m.PlanKey, m.OutputName, netcdf.Encoder{}.Extension()); key != want {
		p.errorf("key %q, expected %q", key, want)
	}
	return p
}

// ── Phase 4: Values ──

func validateValues(a netcdf.Artifact) *phase {
	p := &phase{name: "Phase 4: Band Values"}
	for i, b := range a.Raster.Bands {
		valid := 0
		for _, v := range b.Data {
			switch {
			case math.IsInf(v, 0):
				p.errorf("band %d (%s): infinite value", i, b.Label)
				return p
			case !domain.IsNoData(v):
				valid++
			}
		}
		if b.Empty && valid > 0 {
			p.errorf("band %d (%s): flagged empty but has %d values", i, b.Label, valid)
		}
		if !b.Empty && valid == 0 {
			p.errorf("band %d (%s): all no-data but not flagged empty", i, b.Label)
		}
	}
	return p
}
