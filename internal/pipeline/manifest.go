package pipeline

import (
	"slices"
	"time"

	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
)

// ManifestBand records what one output band represents.
type ManifestBand struct {
	Index     int                    `json:"index"`
	Label     string                 `json:"label"`
	Field     string                 `json:"field,omitempty"`
	Period    *domain.PeriodSelector `json:"period,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
	Empty     bool                   `json:"empty,omitempty"`
}

// Manifest is the band mapping written next to every artifact.
type Manifest struct {
	OutputName       string         `json:"output_name"`
	Variable         string         `json:"variable"`
	CollectionID     string         `json:"collection_id"`
	PlanKey          string         `json:"plan_key"`
	CRS              string         `json:"crs"`
	ResolutionMeters float64        `json:"resolution_m"`
	Resampling       string         `json:"resampling"`
	Grid             *domain.Grid   `json:"grid,omitempty"`
	Bands            []ManifestBand `json:"bands"`
	Notes            []string       `json:"notes,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at,omitzero"`
}

// NewManifest derives a manifest from a plan without reading any data. Stack
// bands depend on which timestamps exist, so they are filled by WithRaster.
func NewManifest(p Plan) Manifest {
	m := Manifest{
		OutputName:       p.OutputName,
		Variable:         p.Variable,
		CollectionID:     p.CollectionID,
		PlanKey:          p.Key(),
		CRS:              p.Target.CRS,
		ResolutionMeters: p.Target.ResolutionMeters,
		Resampling:       string(p.Target.Resampling),
		Notes:            slices.Clone(p.Notes),
	}
	switch p.Op {
	case OpStatic:
		m.Bands = []ManifestBand{{Index: 0, Label: p.Fields[0], Field: p.Fields[0]}}
	case OpReduce:
		for i := range p.Periods {
			period := p.Periods[i]
			m.Bands = append(m.Bands, ManifestBand{Index: i, Label: period.Label, Field: p.Fields[0], Period: &period})
		}
	}
	return m
}

// WithRaster completes the manifest from an evaluated raster: its grid, stack
// band timestamps, empty flags and notes.
func (m Manifest) WithRaster(r domain.Raster) Manifest {
	g := r.Grid
	m.Grid = &g
	m.Notes = append(slices.Clone(m.Notes), r.Notes...)

	if len(m.Bands) != len(r.Bands) {
		m.Bands = make([]ManifestBand, len(r.Bands))
		for i, b := range r.Bands {
			mb := ManifestBand{Index: i, Label: b.Label}
			if field, ts, ok := ParseBandLabel(b.Label); ok {
				mb.Field = field
				mb.Timestamp = &ts
			}
			m.Bands[i] = mb
		}
	} else {
		m.Bands = slices.Clone(m.Bands)
	}
	for i, b := range r.Bands {
		m.Bands[i].Empty = b.Empty
	}
	return m
}

// EmptyBandCount counts bands flagged empty.
func (m Manifest) EmptyBandCount() int {
	n := 0
	for _, b := range m.Bands {
		if b.Empty {
			n++
		}
	}
	return n
}
