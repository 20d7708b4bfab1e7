package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"telemon/internal/config"
	"telemon/internal/logger"
	"telemon/internal/processor"
)

func main() {
	cfg, err := config.Load(os.Getenv("TELEMON_CONFIG"))
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)

	// cancelled on SIGINT/SIGTERM, which starts graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := processor.New(cfg).Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("processor exited")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}
