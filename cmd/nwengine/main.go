// cmd/nwengine runs the live Nadaraya-Watson envelope engine. It consumes
// closed candles from Redis streams, publishes the envelope point and band
// crossings per bar, and serves /envelope, /series, /healthz and /metrics.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"nwenvelope/config"
	"nwenvelope/internal/logger"
	"nwenvelope/internal/nwengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.Init("nwengine", zerolog.InfoLevel)
		boot.Fatal().Err(err).Msg("config load failed")
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.Init("nwengine", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	svc, err := nwengine.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}
