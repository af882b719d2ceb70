package domain

import (
	"fmt"
	"time"
)

// PeriodKind distinguishes the supported calendar predicates.
type PeriodKind string

const (
	PeriodMonth PeriodKind = "month"
	PeriodRange PeriodKind = "range"
	PeriodAll   PeriodKind = "all"
)

// PeriodSelector is a calendar predicate over image timestamps. A reduction
// produces exactly one band per selector, in the order the selectors are given.
//
//	month: t.Month() == Month and FromYear <= t.Year() <= ToYear (years inclusive)
//	range: Begin <= t < End
//	all:   every timestamp
type PeriodSelector struct {
	Label    string     `json:"label"`
	Kind     PeriodKind `json:"kind"`
	Month    time.Month `json:"month,omitempty"`
	FromYear int        `json:"from_year,omitempty"`
	ToYear   int        `json:"to_year,omitempty"`
	Begin    time.Time  `json:"begin,omitzero"`
	End      time.Time  `json:"end,omitzero"`
}

// MonthOfYears selects one calendar month across an inclusive year range.
func MonthOfYears(month time.Month, fromYear, toYear int) PeriodSelector {
	return PeriodSelector{
		Label:    fmt.Sprintf("%s %d-%d", month.String()[:3], fromYear, toYear),
		Kind:     PeriodMonth,
		Month:    month,
		FromYear: fromYear,
		ToYear:   toYear,
	}
}

// DateRange selects the half-open interval [begin, end).
func DateRange(begin, end time.Time) PeriodSelector {
	return PeriodSelector{
		Label: fmt.Sprintf("%s/%s", begin.UTC().Format(time.DateOnly), end.UTC().Format(time.DateOnly)),
		Kind:  PeriodRange,
		Begin: begin.UTC(),
		End:   end.UTC(),
	}
}

// AllTime selects every image of a collection.
func AllTime() PeriodSelector {
	return PeriodSelector{Label: "all", Kind: PeriodAll}
}

// MonthlyClimatology returns the twelve January..December selectors for a year range.
func MonthlyClimatology(fromYear, toYear int) []PeriodSelector {
	periods := make([]PeriodSelector, 0, 12)
	for m := time.January; m <= time.December; m++ {
		periods = append(periods, MonthOfYears(m, fromYear, toYear))
	}
	return periods
}

// Validate checks the selector's fields for its kind.
func (p PeriodSelector) Validate() error {
	switch p.Kind {
	case PeriodMonth:
		if p.Month < time.January || p.Month > time.December {
			return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriodSpec, p.Month)
		}
		if p.FromYear > p.ToYear {
			return fmt.Errorf("%w: from_year %d after to_year %d", ErrInvalidPeriodSpec, p.FromYear, p.ToYear)
		}
	case PeriodRange:
		if !p.Begin.Before(p.End) {
			return fmt.Errorf("%w: begin %s must be before end %s", ErrInvalidPeriodSpec,
				p.Begin.Format(time.RFC3339), p.End.Format(time.RFC3339))
		}
	case PeriodAll:
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidPeriodSpec, p.Kind)
	}
	return nil
}

// Matches evaluates the predicate against t in UTC.
func (p PeriodSelector) Matches(t time.Time) bool {
	t = t.UTC()
	switch p.Kind {
	case PeriodMonth:
		return t.Month() == p.Month && t.Year() >= p.FromYear && t.Year() <= p.ToYear
	case PeriodRange:
		return !t.Before(p.Begin) && t.Before(p.End)
	case PeriodAll:
		return true
	default:
		return false
	}
}

// InRange reports whether t lies in the half-open interval [begin, end).
func InRange(t, begin, end time.Time) bool {
	return !t.Before(begin) && t.Before(end)
}
