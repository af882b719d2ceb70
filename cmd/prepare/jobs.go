package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>...",
		Short: "Show the status of submitted jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := opts.backendConfig()
			if err != nil {
				return err
			}
			exp := newExporter(bc, opts.logger())
			out := cmd.OutOrStdout()

			var errs []error
			for _, id := range args {
				st, err := exp.Attach(id).Status(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "%s  error: %v\n", id, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(out, "%s  %-9s %s", id, st.State, st.OutputName)
				if st.ArtifactKey != "" {
					fmt.Fprintf(out, "  %s", st.ArtifactKey)
				}
				if st.Error != "" {
					fmt.Fprintf(out, "  %s", st.Error)
				}
				fmt.Fprintln(out)
			}
			return errors.Join(errs...)
		},
	}
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>...",
		Short: "Cancel submitted jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := opts.backendConfig()
			if err != nil {
				return err
			}
			exp := newExporter(bc, opts.logger())

			var errs []error
			for _, id := range args {
				if err := exp.Attach(id).Cancel(cmd.Context()); err != nil {
					errs = append(errs, fmt.Errorf("cancel %s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  cancel requested\n", id)
			}
			return errors.Join(errs...)
		},
	}
}
