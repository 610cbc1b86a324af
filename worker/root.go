package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imalyk/go-thumbnailer/internal/config"
	"github.com/imalyk/go-thumbnailer/internal/pipeline"
	"github.com/imalyk/go-thumbnailer/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Thumbnail worker and dead-letter tooling",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deadLettersCmd)
}

// setup loads the configuration, installs the logger and connects the
// pipeline. The returned func releases everything.
func setup(ctx context.Context) (*config.Config, *pipeline.Pipeline, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading configuration: %w", err)
	}
	undo, err := log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuring logger: %w", err)
	}

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		undo()
		return nil, nil, nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	return cfg, p, func() {
		_ = p.Close()
		undo()
	}, nil
}
