// cmd/gateway fans the envelope Pub/Sub channels out to WebSocket clients.
// It is read-only: it never writes to Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nwenvelope/config"
	"nwenvelope/internal/gateway"
	"nwenvelope/internal/logger"
	"nwenvelope/internal/metrics"
	redisstore "nwenvelope/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.Init("gateway", zerolog.InfoLevel)
		boot.Fatal().Err(err).Msg("config load failed")
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logger.Init("gateway", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer reader.Close()

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(false)
	health.SetRedisConnected(true)
	health.SetEnabledTFs(cfg.ParseTFs())

	hub := gateway.NewHub(log, prom)
	ps, err := reader.PSubscribe(ctx, gateway.ChannelPattern)
	if err != nil {
		log.Fatal().Err(err).Msg("pubsub subscribe failed")
	}
	go hub.RunPubSub(ctx, ps)
	health.SetEngineOK(true)
	health.StartLivenessChecker(ctx, reader.Client(), nil, 10*time.Second)

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub)
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil)
	metricsSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.GatewayAddr).Str("pattern", gateway.ChannelPattern).Msg("serving websocket")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
}
