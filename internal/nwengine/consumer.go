package nwengine

import (
	"context"
	"errors"
	"time"

	"nwenvelope/internal/logger"
	"nwenvelope/internal/model"
)

// startConsumer starts the Redis stream XREADGROUP consumer in a goroutine.
func (svc *Service) startConsumer(ctx context.Context) {
	go func() {
		err := svc.redisReader.ConsumeTFCandles(ctx, svc.streams, svc.tfCandleCh)
		if err != nil && !errors.Is(err, context.Canceled) {
			svc.log.Error().Err(err).Msg("consumer stopped")
		}
	}()
}

// processLoop feeds completed candles to the tracker and publishes the
// resulting points and crossings.
func (svc *Service) processLoop(ctx context.Context) {
	mode := svc.tracker.Mode().String()
	for {
		select {
		case <-ctx.Done():
			return
		case tfc, ok := <-svc.tfCandleCh:
			if !ok {
				return
			}
			if tfc.Forming {
				continue
			}
			svc.handle(logger.WithTraceID(ctx, logger.GenerateTraceID(tfc.Token, tfc.TS)), tfc, mode)
		}
	}
}

func (svc *Service) handle(ctx context.Context, tfc model.TFCandle, mode string) {
	log := logger.LogWithTrace(ctx, svc.log)

	start := time.Now()
	up, err := svc.tracker.Apply(tfc)
	svc.prom.ComputeDur.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Str("series", tfc.SeriesKey()).Msg("envelope compute")
		return
	}
	if up.Stale {
		svc.prom.StaleCandles.Inc()
		return
	}
	svc.prom.CandlesTotal.Inc()
	svc.health.SetLastCandleTime(tfc.TS)
	svc.health.SetSeriesTracked(svc.tracker.Len())
	if !up.Point.Defined() {
		svc.prom.UndefinedPoints.Inc()
	}

	pubStart := time.Now()
	if err := svc.pub.PublishPoint(ctx, up.Point); err != nil {
		log.Warn().Err(err).Str("series", tfc.SeriesKey()).Msg("publish point")
	}
	if up.Signal != nil {
		svc.prom.SignalsTotal.WithLabelValues(up.Signal.Direction).Inc()
		log.Info().Str("series", tfc.SeriesKey()).Str("direction", up.Signal.Direction).
			Float64("price", up.Signal.Price).Float64("band", up.Signal.Band).Msg("band crossing")
		if err := svc.pub.PublishSignal(ctx, *up.Signal); err != nil {
			log.Warn().Err(err).Str("series", tfc.SeriesKey()).Msg("publish signal")
		}
	}
	svc.prom.RedisWriteDur.Observe(time.Since(pubStart).Seconds())
}
