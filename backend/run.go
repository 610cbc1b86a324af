package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imalyk/go-thumbnailer/internal/api"
	"github.com/imalyk/go-thumbnailer/internal/config"
	"github.com/imalyk/go-thumbnailer/internal/pipeline"
	"github.com/imalyk/go-thumbnailer/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the upload and status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		undo, err := log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
		if err != nil {
			return fmt.Errorf("configuring logger: %w", err)
		}
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		p, err := pipeline.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing pipeline: %w", err)
		}
		defer p.Close()

		listener, err := api.NewListener(cfg.Service.Address)
		if err != nil {
			return fmt.Errorf("creating listener: %w", err)
		}

		router := api.NewRouter(p.Dispatcher, p.DeadLetters, api.Options{
			MaxUploadBytes:    cfg.Limits.MaxUploadBytes,
			TrustProxyHeaders: cfg.Service.TrustProxyHeaders,
			Health:            p.Ping,
		})
		return api.NewServer("api_server", router, listener).Run(ctx)
	},
}
