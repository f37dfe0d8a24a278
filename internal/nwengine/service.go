package nwengine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nwenvelope/config"
	"nwenvelope/internal/metrics"
	"nwenvelope/internal/model"
	redisstore "nwenvelope/internal/store/redis"
	sqlitestore "nwenvelope/internal/store/sqlite"
)

// Service is the top-level orchestrator for the live envelope engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	tracker     *Tracker
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	pub         model.EnvelopePublisher
	sqlReader   *sqlitestore.Reader
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	server      *metrics.Server

	streams    []string
	tfCandleCh chan model.TFCandle
}

// New creates a new Service from the given Config.
// It connects to Redis and opens SQLite for history seeding.
func New(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	tracker, err := NewTracker(cfg.Envelope.Params(), cfg.Envelope.ParsedMode(), cfg.Envelope.HistoryBars)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:        cfg,
		log:        log.With().Str("component", "nwengine").Logger(),
		tracker:    tracker,
		prom:       metrics.NewMetrics(prometheus.DefaultRegisterer),
		health:     metrics.NewHealthStatus(false),
		tfCandleCh: make(chan model.TFCandle, 5000),
	}

	// ---- Connect to Redis ----
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	guarded := redisstore.NewGuardedPublisher(svc.redisWriter, redisstore.NewBreaker(5, 10*time.Second), 1000)
	guarded.OnDrop = func() { svc.prom.PublishDrops.Inc() }
	svc.pub = guarded
	svc.health.SetRedisConnected(true)

	// ---- Open SQLite (optional) ----
	if _, statErr := os.Stat(cfg.SQLitePath); statErr == nil {
		svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			svc.log.Warn().Err(err).Msg("sqlite reader init failed, continuing without history seed")
		}
	} else {
		svc.log.Info().Str("path", filepath.Clean(cfg.SQLitePath)).Msg("no sqlite database, skipping history seed")
	}

	return svc, nil
}

// Tracker exposes the in-memory series state.
func (svc *Service) Tracker() *Tracker { return svc.tracker }

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	tfs := cfg.ParseTFs()
	instruments := cfg.ParseInstruments()
	svc.health.SetEnabledTFs(tfs)

	svc.streams = buildStreams(tfs, instruments)
	if len(svc.streams) == 0 {
		return errors.New("nwengine: no streams to consume (check ENABLED_TFS and SUBSCRIBE_TOKENS)")
	}
	svc.log.Info().Strs("streams", svc.streams).Str("mode", svc.tracker.Mode().String()).Msg("starting envelope engine")

	// ---- Seed history ----
	svc.seedFromSQLite(tfs, instruments)
	svc.backfillFromRedis(ctx)

	// ---- Consumer groups ----
	if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		svc.log.Warn().Err(err).Msg("consumer group setup")
	}
	if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.tfCandleCh); err != nil {
		svc.log.Error().Err(err).Msg("pending recovery")
	}

	// ---- Start subsystems ----
	go svc.processLoop(ctx)
	svc.startConsumer(ctx)
	svc.startHTTP()
	svc.health.SetEngineOK(true)
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), nil, 10*time.Second)

	svc.log.Info().Ints("tfs", tfs).Int("history_bars", cfg.Envelope.HistoryBars).Msg("all systems running")

	<-ctx.Done()
	svc.shutdown()
	return nil
}

func (svc *Service) startHTTP() {
	svc.server = metrics.NewServer(svc.cfg.HTTPAddr, svc.health, map[string]http.Handler{
		"/envelope": svc.envelopeHandler(),
		"/series":   svc.seriesHandler(),
	})
	svc.server.Start()
}

// shutdown closes servers and connections.
func (svc *Service) shutdown() {
	svc.log.Info().Msg("shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if svc.server != nil {
		svc.server.Stop(shutCtx)
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	svc.pub.Close()
	svc.redisReader.Close()

	svc.log.Info().Msg("shutdown complete")
}

// buildStreams constructs the candle stream names to consume.
func buildStreams(tfs []int, instruments []config.Instrument) []string {
	streams := make([]string, 0, len(tfs)*len(instruments))
	for _, tf := range tfs {
		for _, inst := range instruments {
			streams = append(streams, model.CandleStreamKey(tf, inst.Exchange, inst.Token))
		}
	}
	return streams
}

// seedFromSQLite loads the newest history window per series without publishing.
func (svc *Service) seedFromSQLite(tfs []int, instruments []config.Instrument) {
	if svc.sqlReader == nil {
		return
	}
	seeded := 0
	for _, tf := range tfs {
		for _, inst := range instruments {
			candles, err := svc.sqlReader.ReadLatestTFCandles(inst.Exchange, inst.Token, tf, svc.cfg.Envelope.HistoryBars)
			if err != nil {
				svc.log.Warn().Err(err).Str("instrument", inst.Key()).Int("tf", tf).Msg("sqlite seed")
				continue
			}
			for _, c := range candles {
				if _, err := svc.tracker.Apply(c); err == nil {
					seeded++
				}
			}
		}
	}
	if seeded > 0 {
		svc.log.Info().Int("candles", seeded).Msg("seeded history from sqlite")
	}
}

// backfillFromRedis replays the candle streams from the start. Crossings
// found while catching up are not published; the newest point per series is.
func (svc *Service) backfillFromRedis(ctx context.Context) {
	backfillCh := make(chan model.TFCandle, 5000)
	go svc.replayStreams(ctx, svc.redisReader, backfillCh)

	count := 0
	heads := map[string]model.EnvelopePoint{}
	for tfc := range backfillCh {
		up, err := svc.tracker.Apply(tfc)
		if err != nil || up.Stale {
			continue
		}
		heads[tfc.SeriesKey()] = up.Point
		count++
	}
	for _, pt := range heads {
		if err := svc.pub.PublishPoint(ctx, pt); err != nil {
			svc.log.Warn().Err(err).Msg("publish backfilled point")
		}
	}
	svc.health.SetSeriesTracked(svc.tracker.Len())
	svc.log.Info().Int("candles", count).Int("series", len(heads)).Msg("backfilled from redis streams")
}

// replayStreams reads every stream from its first entry into out and closes it.
func (svc *Service) replayStreams(ctx context.Context, src model.StreamConsumer, out chan<- model.TFCandle) {
	defer close(out)
	for _, stream := range svc.streams {
		if _, err := src.ReplayFromID(ctx, stream, "0", out); err != nil {
			svc.log.Error().Err(err).Str("stream", stream).Msg("backfill")
		}
	}
}
