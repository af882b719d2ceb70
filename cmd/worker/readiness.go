package main

import (
	"context"
	"errors"
)

type readinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// readiness is ready when every component is.
type readiness []readinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
