package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Default reanalysis buffer margins in degrees. Reanalysis grids are coarse, so the
// buffered rectangle must fully cover the model domain after resampling.
const (
	DefaultBufferLat  = 0.25
	DefaultBufferLong = 0.5
)

// Rect is an axis-aligned rectangle in WGS84 geographic degrees.
type Rect struct {
	MinLat  float64 `json:"min_lat"`
	MinLong float64 `json:"min_long"`
	MaxLat  float64 `json:"max_lat"`
	MaxLong float64 `json:"max_long"`
}

// Validate checks ordering and coordinate ranges.
func (r Rect) Validate() error {
	var errs []error
	if r.MinLat < -90 || r.MaxLat > 90 {
		errs = append(errs, fmt.Errorf("latitude out of range [-90, 90]: %g..%g", r.MinLat, r.MaxLat))
	}
	if r.MinLong < -180 || r.MaxLong > 180 {
		errs = append(errs, fmt.Errorf("longitude out of range [-180, 180]: %g..%g", r.MinLong, r.MaxLong))
	}
	if r.MinLat >= r.MaxLat {
		errs = append(errs, fmt.Errorf("min_lat %g must be below max_lat %g", r.MinLat, r.MaxLat))
	}
	if r.MinLong >= r.MaxLong {
		errs = append(errs, fmt.Errorf("min_long %g must be below max_long %g", r.MinLong, r.MaxLong))
	}
	return errors.Join(errs...)
}

// Contains reports whether (lat, long) lies inside or on the edge of r.
func (r Rect) Contains(lat, long float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && long >= r.MinLong && long <= r.MaxLong
}

// Covers reports whether r fully contains other.
func (r Rect) Covers(other Rect) bool {
	return r.MinLat <= other.MinLat && r.MinLong <= other.MinLong &&
		r.MaxLat >= other.MaxLat && r.MaxLong >= other.MaxLong
}

// Center returns the midpoint latitude and longitude.
func (r Rect) Center() (lat, long float64) {
	return (r.MinLat + r.MaxLat) / 2, (r.MinLong + r.MaxLong) / 2
}

// Expand grows the rectangle by the given margins on every side.
func (r Rect) Expand(b Buffer) Rect {
	return Rect{
		MinLat:  r.MinLat - b.Lat,
		MinLong: r.MinLong - b.Long,
		MaxLat:  r.MaxLat + b.Lat,
		MaxLong: r.MaxLong + b.Long,
	}
}

func (r Rect) String() string {
	return fmt.Sprintf("[%g,%g .. %g,%g]", r.MinLat, r.MinLong, r.MaxLat, r.MaxLong)
}

// Buffer holds the reanalysis margins in degrees.
type Buffer struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// DefaultBuffer returns the standard forcing margins: 0.25° latitude, 0.5° longitude.
func DefaultBuffer() Buffer {
	return Buffer{Lat: DefaultBufferLat, Long: DefaultBufferLong}
}

// RegionKind selects which rectangle of a DomainSpec an export covers.
type RegionKind string

const (
	RegionDomain   RegionKind = "domain"
	RegionBuffered RegionKind = "buffered"
)

// DomainSpec is the model domain plus its buffered reanalysis rectangle.
// It is immutable once constructed.
type DomainSpec struct {
	name     string
	domain   Rect
	buffer   Buffer
	buffered Rect
}

// NewDomainSpec validates the rectangle and margins and derives the buffered domain.
func NewDomainSpec(name string, rect Rect, buffer Buffer) (DomainSpec, error) {
	if err := rect.Validate(); err != nil {
		return DomainSpec{}, fmt.Errorf("domain: %w", err)
	}
	if buffer.Lat < 0 || buffer.Long < 0 {
		return DomainSpec{}, fmt.Errorf("domain: buffer margins must be non-negative, got lat=%g long=%g", buffer.Lat, buffer.Long)
	}
	buffered := rect.Expand(buffer)
	if err := buffered.Validate(); err != nil {
		return DomainSpec{}, fmt.Errorf("buffered domain: %w", err)
	}
	return DomainSpec{
		name:     strings.TrimSpace(name),
		domain:   rect,
		buffer:   buffer,
		buffered: buffered,
	}, nil
}

// Name is the label attached to output artifacts. May be empty.
func (d DomainSpec) Name() string { return d.name }

// Domain returns the model domain rectangle.
func (d DomainSpec) Domain() Rect { return d.domain }

// Buffer returns the margins used to derive the buffered rectangle.
func (d DomainSpec) Buffer() Buffer { return d.buffer }

// Buffered returns the reanalysis rectangle. It always covers Domain.
func (d DomainSpec) Buffered() Rect { return d.buffered }

// Region returns the rectangle for the given kind; unknown kinds map to the domain.
func (d DomainSpec) Region(kind RegionKind) Rect {
	if kind == RegionBuffered {
		return d.buffered
	}
	return d.domain
}
