// Command myx runs sensor-data processing flows: raw KV-CSV files are parsed,
// cleaned, resampled onto fixed grids, transformed, normalized, aggregated and
// exported, one declarative flow definition at a time.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"myxcli/internal/config"
	"myxcli/internal/flow"
	"myxcli/internal/infrastructure"
	"myxcli/internal/metrics"
	"myxcli/internal/storage"
	"myxcli/internal/timerange"
	"myxcli/internal/treatment"
)

type cliState struct {
	cfg       *config.Config
	logger    *slog.Logger
	driver    *flow.Driver
	collector *metrics.Collector
	tracing   *infrastructure.TracingProviders
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already printed usage errors; runtime errors land here.
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile    string
		logLevel      string
		trace         bool
		metricsListen string
		state         cliState
	)

	root := &cobra.Command{
		Use:           "myx",
		Short:         "Incremental sensor data processing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			state.cfg = cfg

			logger, err := infrastructure.InitializeLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			state.logger = logger

			state.tracing, err = infrastructure.InitializeTracing(trace)
			if err != nil {
				return fmt.Errorf("failed to initialize tracing: %w", err)
			}

			registry := prometheus.NewRegistry()
			state.collector = metrics.NewCollector(registry)
			if metricsListen != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(metricsListen, mux); err != nil {
						logger.Warn("metrics listener stopped", slog.Any("error", err))
					}
				}()
				logger.Info("metrics exposed", slog.String("addr", metricsListen))
			}

			store := storage.NewStore(logger)
			driver := flow.NewDriver(flow.DriverOptions{
				Store:     store,
				Resolver:  timerange.Resolver{MinWindow: cfg.Pipeline.MinWindow},
				Logger:    logger,
				Collector: state.collector,
				Tracer:    state.tracing.Tracer,
				Workers:   cfg.Pipeline.Workers,
			})
			if err := treatment.RegisterAll(driver.Registry()); err != nil {
				return err
			}
			state.driver = driver
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.tracing != nil {
				if err := state.tracing.Shutdown(context.Background()); err != nil {
					state.logger.Warn("tracing shutdown failed", slog.Any("error", err))
				}
			}
			infrastructure.CloseLogger()
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "myx.yaml", "configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "emit execution traces to stdout")
	root.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address to expose prometheus metrics on during the run")

	root.AddCommand(newFlowCmd(&state))
	root.AddCommand(newTreatmentCmd(&state))
	return root
}
