package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrUnknownVariable      = errors.New("unknown variable")
	ErrEmptyRange           = errors.New("empty range")
	ErrPixelBudgetExceeded  = errors.New("pixel budget exceeded")
	ErrBackendJob           = errors.New("backend job failure")
	ErrGridMismatch         = errors.New("grid mismatch")
	ErrDuplicateTimestamp   = errors.New("duplicate timestamp")
	ErrMissingField         = errors.New("missing field")
	ErrUnsupportedCRS       = errors.New("unsupported crs")
	ErrUnknownAggregator    = errors.New("unknown aggregator")
	ErrUnknownTemporalMode  = errors.New("unknown temporal mode")
	ErrInvalidPeriodSpec    = errors.New("invalid period selector")
	ErrCollectionNotFound   = errors.New("collection not found")
	ErrInvalidResolutionArg = errors.New("invalid resolution argument")
)

// UnknownVariableError is returned when a variable name is not registered in the catalog.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

func (e *UnknownVariableError) Is(target error) bool { return target == ErrUnknownVariable }

// EmptyRangeError is returned when a date range or every period selector of a
// reduction matches no collection entry. It aborts that artifact only.
type EmptyRangeError struct {
	CollectionID string
	Begin        time.Time
	End          time.Time
	Selectors    []string
}

func (e *EmptyRangeError) Error() string {
	if len(e.Selectors) > 0 {
		return fmt.Sprintf("collection %s: no entries match any of %d period selectors", e.CollectionID, len(e.Selectors))
	}
	return fmt.Sprintf("collection %s: no entries in [%s, %s)", e.CollectionID,
		e.Begin.Format(time.DateOnly), e.End.Format(time.DateOnly))
}

func (e *EmptyRangeError) Is(target error) bool { return target == ErrEmptyRange }

// PixelBudgetExceededError signals a configuration problem (resolution too fine
// for the region). It is surfaced to the caller and never retried.
type PixelBudgetExceededError struct {
	Name      string
	Pixels    int64
	MaxPixels int64
}

func (e *PixelBudgetExceededError) Error() string {
	return fmt.Sprintf("%s: %d pixels exceeds ceiling of %d", e.Name, e.Pixels, e.MaxPixels)
}

func (e *PixelBudgetExceededError) Is(target error) bool { return target == ErrPixelBudgetExceeded }

// BackendJobFailure is a failure reported by the execution backend. Transient
// failures may be retried by the caller; permanent ones are surfaced.
type BackendJobFailure struct {
	JobID     string
	Permanent bool
	Reason    string
	Err       error
}

func (e *BackendJobFailure) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	msg := fmt.Sprintf("backend job %s failed (%s): %s", e.JobID, kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendJobFailure) Is(target error) bool { return target == ErrBackendJob }

func (e *BackendJobFailure) Unwrap() error { return e.Err }

// IsTransient reports whether err is a backend failure worth retrying.
func IsTransient(err error) bool {
	var bf *BackendJobFailure
	return errors.As(err, &bf) && !bf.Permanent
}

// GridMismatchError is returned when images combined into one raster do not share a grid.
type GridMismatchError struct {
	CollectionID string
	Want         Grid
	Got          Grid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("collection %s: image grid %s does not match %s", e.CollectionID, e.Got, e.Want)
}

func (e *GridMismatchError) Is(target error) bool { return target == ErrGridMismatch }

// DuplicateTimestampError is returned when a time series holds two entries for
// the same instant, which would make band order ambiguous.
type DuplicateTimestampError struct {
	CollectionID string
	Timestamp    time.Time
}

func (e *DuplicateTimestampError) Error() string {
	return fmt.Sprintf("collection %s: duplicate timestamp %s", e.CollectionID, e.Timestamp.UTC().Format(time.RFC3339))
}

func (e *DuplicateTimestampError) Is(target error) bool { return target == ErrDuplicateTimestamp }
