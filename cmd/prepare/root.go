package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/snow-forcing-etl/internal/adapter/backend"
	"github.com/couchcryptid/snow-forcing-etl/internal/config"
	"github.com/couchcryptid/snow-forcing-etl/internal/export"
	"github.com/couchcryptid/snow-forcing-etl/internal/observability"
)

type options struct {
	configPath string
	backendURL string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "prepare",
		Short:         "Prepare snow model forcing rasters",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "run config YAML")
	root.PersistentFlags().StringVar(&opts.backendURL, "backend-url", "", "jobs API base URL (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newPlanCmd(opts),
		newSubmitCmd(opts),
		newStatusCmd(opts),
		newCancelCmd(opts),
	)
	return root
}

func (o *options) logger() *slog.Logger {
	return observability.NewLogger(o.logLevel, o.logFormat)
}

// loadRun reads the run config named by --config.
func (o *options) loadRun() (*config.RunConfig, error) {
	rc, err := config.LoadRun(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.backendURL != "" {
		rc.Backend.URL = o.backendURL
	}
	return rc, nil
}

// backendConfig uses the run file when one is given, BACKEND_* env otherwise.
func (o *options) backendConfig() (config.BackendConfig, error) {
	var bc config.BackendConfig
	if o.configPath != "" {
		rc, err := o.loadRun()
		if err != nil {
			return bc, err
		}
		bc = rc.Backend
	} else {
		var err error
		if bc, err = config.LoadBackend(); err != nil {
			return bc, err
		}
	}
	if o.backendURL != "" {
		bc.URL = o.backendURL
	}
	return bc, nil
}

func newExporter(bc config.BackendConfig, logger *slog.Logger, opts ...export.Option) *export.Exporter {
	client := backend.NewClient(backend.Config{
		BaseURL:          bc.URL,
		Timeout:          bc.Timeout,
		MaxFailures:      bc.BreakerFailures,
		OpenTimeout:      bc.BreakerTimeout,
		HalfOpenRequests: 1,
	}, logger)
	return export.NewExporter(client, logger, opts...)
}
