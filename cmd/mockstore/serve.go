package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jrepp/mockstore/cmd/mockstore/internal/ui"
	"github.com/jrepp/mockstore/pkg/config"
	"github.com/jrepp/mockstore/pkg/procmgr"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Launch the ephemeral store and keep it running",
	Long: `Launch the ephemeral store with the configured launcher and keep it up
until interrupted. On exit the process is stopped and its data discarded.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("store-version", "", "Server version used to pick the storage engine")
	serveCmd.Flags().Int("port", procmgr.DefaultPort, "First port to try")
	serveCmd.Flags().String("launcher", config.LauncherMongod, "Launcher kind (mongod, container, miniredis)")
	serveCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address")

	viper.BindPFlag("store.version", serveCmd.Flags().Lookup("store-version"))
	viper.BindPFlag("store.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("launcher.kind", serveCmd.Flags().Lookup("launcher"))
	viper.BindPFlag("metrics.address", serveCmd.Flags().Lookup("metrics-addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := ui.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
	return serve(ctx, cfg, out, logger, nil)
}

// serve runs the store until ctx is done. onReady, when set, is called once
// the store accepts connections.
func serve(ctx context.Context, cfg *config.Config, out *ui.UI, logger *slog.Logger, onReady func(*procmgr.Controller)) error {
	pmc := procmgr.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
	opts, err := cfg.ControllerOptions(logger, pmc)
	if err != nil {
		return err
	}
	ctrl := procmgr.NewController(opts...)
	defer ctrl.Reset()

	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(pmc.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "address", cfg.Metrics.Address, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	out.Info(fmt.Sprintf("Starting %s store...", cfg.Launcher.Kind))
	if err := ctrl.EnsureRunning().Wait(ctx); err != nil {
		out.Error("Store failed to start")
		return err
	}

	spec := ctrl.Spec()
	out.Success("Store ready")
	out.KeyValue("Address", ctrl.Addr())
	out.KeyValue("Storage", spec.StorageDirectory)
	if spec.StorageEngine != "" {
		out.KeyValue("Engine", spec.StorageEngine)
	}
	if cfg.Metrics.Address != "" {
		out.KeyValue("Metrics", "http://"+cfg.Metrics.Address+"/metrics")
	}
	out.Subtle("Press Ctrl+C to stop")

	if onReady != nil {
		onReady(ctrl)
	}

	<-ctx.Done()
	ctrl.Reset()
	out.Success("Store stopped")
	return nil
}
