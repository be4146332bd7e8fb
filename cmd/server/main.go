// Package main is the entry point for marketd, the crypto market data
// aggregation and analysis service. It wires the DI container, starts
// the scheduler and the HTTP server, and shuts everything down cleanly
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketd/internal/config"
	"marketd/internal/di"
	"marketd/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	log.Info().
		Str("addr", cfg.Addr()).
		Str("database", cfg.DatabasePath).
		Str("timezone", cfg.Timezone).
		Msg("Starting marketd")

	container, err := di.Build(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire application")
	}

	container.Scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- container.Server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	container.Shutdown(shutdownCtx)

	log.Info().Msg("Shutdown complete")
}
