package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/snow-forcing-etl/internal/export"
)

func newSubmitCmd(opts *options) *cobra.Command {
	var await bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit every plan of a run to the jobs API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := opts.loadRun()
			if err != nil {
				return err
			}
			logger := opts.logger()
			plans, buildErr := buildPlans(rc)
			if buildErr != nil {
				logger.Error("some variables could not be planned", "error", buildErr)
			}

			exp := newExporter(rc.Backend, logger, export.WithPollInterval(rc.AwaitPollInterval))
			results := exp.MaterializeAll(cmd.Context(), plans)

			out := cmd.OutOrStdout()
			var errs []error
			var jobs []*export.Job
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(out, "%-36s rejected: %v\n", r.Plan.OutputName, r.Err)
					errs = append(errs, r.Err)
					continue
				}
				fmt.Fprintf(out, "%-36s %s\n", r.Plan.OutputName, r.Job.ID)
				jobs = append(jobs, r.Job)
			}

			if await {
				errs = append(errs, awaitAll(cmd.Context(), out, jobs, rc.AwaitTimeout))
			}
			return errors.Join(append(errs, buildErr)...)
		},
	}
	cmd.Flags().BoolVar(&await, "await", false, "wait for every job to finish")
	return cmd
}

// awaitAll waits for jobs concurrently and prints each terminal status.
func awaitAll(ctx context.Context, out io.Writer, jobs []*export.Job, timeout time.Duration) error {
	var mu sync.Mutex
	var errs []error
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			st, err := job.Await(ctx, timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(out, "%-36s %s: %v\n", job.Plan.OutputName, st.State, err)
				errs = append(errs, err)
				return nil
			}
			fmt.Fprintf(out, "%-36s %s %s (%d bands, %d empty)\n",
				job.Plan.OutputName, st.State, st.ArtifactKey, st.Bands, st.EmptyBands)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
