package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/api"
	"github.com/imalyk/go-thumbnailer/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process thumbnail jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		cfg, p, release, err := setup(ctx)
		if err != nil {
			return err
		}
		defer release()

		zap.S().Info("Starting worker")
		defer zap.S().Info("Worker stopped")

		listener, err := api.NewListener(cfg.Service.MetricsAddress)
		if err != nil {
			return fmt.Errorf("creating metrics listener: %w", err)
		}
		router := mux.NewRouter()
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
		go func() {
			if err := api.NewServer("metrics_server", router, listener).Run(ctx); err != nil {
				zap.S().Named("metrics_server").Errorw("metrics server stopped", "error", err)
			}
		}()

		return p.WorkerPool().Run(ctx)
	},
}
