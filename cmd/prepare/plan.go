package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/snow-forcing-etl/internal/config"
	"github.com/couchcryptid/snow-forcing-etl/internal/domain"
	"github.com/couchcryptid/snow-forcing-etl/internal/grid"
	"github.com/couchcryptid/snow-forcing-etl/internal/pipeline"
)

func newPlanCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and print the export plans of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, err := opts.loadRun()
			if err != nil {
				return err
			}
			plans, buildErr := buildPlans(rc)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(plans); err != nil {
					return err
				}
			} else {
				for _, p := range plans {
					layout, err := grid.Layout(p.Target)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-36s %-10s %-20s %5d bands  %dx%d px  %s\n",
						p.OutputName, p.Op, p.Target.CRS, bandCount(p), layout.Cols, layout.Rows, p.Key()[:12])
					for _, n := range p.Notes {
						fmt.Fprintf(out, "    note: %s\n", n)
					}
				}
			}
			return buildErr
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print plans as JSON")
	return cmd
}

// buildPlans plans every variable of the run. Plans that built are returned
// alongside the joined errors of those that did not.
func buildPlans(rc *config.RunConfig) ([]pipeline.Plan, error) {
	run, err := rc.RunSpec()
	if err != nil {
		return nil, err
	}
	return pipeline.NewPlanner(domain.DefaultCatalog()).Build(run)
}

func bandCount(p pipeline.Plan) int {
	switch p.Op {
	case pipeline.OpReduce:
		return len(p.Periods)
	case pipeline.OpStatic:
		return 1
	default:
		// Stacks have one band per source timestep, known only at evaluation.
		return 0
	}
}
