package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/homefeed-crawler/internal/config"
	"github.com/samvad-hq/homefeed-crawler/internal/logger"
)

// Runtime is a long-running binary body that stops when ctx is cancelled.
type Runtime interface {
	Run(ctx context.Context) error
}

// BuildFunc constructs a runtime from loaded config.
type BuildFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) (Runtime, error)

// Execute loads config, starts logging and runs the runtime until SIGINT or SIGTERM.
func Execute(name string, build BuildFunc) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	log.InfoObj(name+" starting", "config", cfg.LogFields())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := build(ctx, cfg, log)
	if err != nil {
		log.ErrorObj(name+" init failed", "error", err.Error())
		return err
	}
	if err := rt.Run(ctx); err != nil {
		return fmt.Errorf("%s run: %w", name, err)
	}
	log.InfoObj(name+" stopped", "reason", "signal")
	return nil
}
