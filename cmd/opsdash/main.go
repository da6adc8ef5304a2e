// Command opsdash polls the configured monitoring sources and serves their
// status over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-opsdash/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg.LogLevel, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}
	if err := a.start(ctx); err != nil {
		_ = a.shutdown(context.Background())
		logger.Fatal().Err(err).Msg("Failed to start")
	}
	logger.Info().Str("port", a.server.GetHTTPPort()).Dur("poll_interval", cfg.PollInterval.Duration).Msg("Dashboard running.")

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors.")
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete.")
}

// newLogger builds the root logger. An unknown level falls back to info.
func newLogger(level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Str("service", service).Logger()
	if err != nil {
		logger.Warn().Str("log_level", level).Msg("Unknown log level, using info.")
	}
	return logger
}
