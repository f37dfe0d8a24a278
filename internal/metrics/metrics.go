package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus metrics for the envelope services.
type Metrics struct {
	ComputeDur       *prometheus.HistogramVec // labels: mode
	CandlesTotal     prometheus.Counter
	SignalsTotal     *prometheus.CounterVec // labels: direction
	UndefinedPoints  prometheus.Counter
	RedisWriteDur    prometheus.Histogram
	StaleCandles     prometheus.Counter
	GatewayClients   prometheus.Gauge
	GatewayDrops     prometheus.Counter
	PublishDrops     prometheus.Counter
	BacktestBarsLast prometheus.Gauge
}

// NewMetrics registers all metrics on reg. A nil reg uses the default
// Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nwe_compute_duration_seconds",
			Help:    "Envelope computation latency per series update",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode"}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nwe_candles_total",
			Help: "Total completed candles fed to the envelope",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nwe_signals_total",
			Help: "Band crossings emitted",
		}, []string{"direction"}),
		UndefinedPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nwe_undefined_points_total",
			Help: "Envelope points published without a defined band",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nwe_redis_write_duration_seconds",
			Help:    "Latency of envelope publishes to Redis",
			Buckets: prometheus.DefBuckets,
		}),
		StaleCandles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nwe_stale_candles_total",
			Help: "Candles dropped because they were not newer than the series head",
		}),
		GatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nwe_gateway_clients",
			Help: "Connected WebSocket clients",
		}),
		GatewayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nwe_gateway_dropped_messages_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
		PublishDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nwe_publish_dropped_total",
			Help: "Points or signals dropped while the Redis breaker was open",
		}),
		BacktestBarsLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nwe_backtest_bars",
			Help: "Bar count of the most recent offline run",
		}),
	}

	reg.MustRegister(
		m.ComputeDur,
		m.CandlesTotal,
		m.SignalsTotal,
		m.UndefinedPoints,
		m.RedisWriteDur,
		m.StaleCandles,
		m.GatewayClients,
		m.GatewayDrops,
		m.PublishDrops,
		m.BacktestBarsLast,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	EngineOK       bool      `json:"engine_ok"`
	EnabledTFs     []int     `json:"enabled_tfs"`
	SeriesTracked  int       `json:"series_tracked"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// requireSQLite is false for services that run without a database.
	requireSQLite bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(requireSQLite bool) *HealthStatus {
	return &HealthStatus{
		StartedAt:     time.Now(),
		requireSQLite: requireSQLite,
	}
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEngineOK(v bool) {
	h.mu.Lock()
	h.EngineOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetEnabledTFs(tfs []int) {
	h.mu.Lock()
	h.EnabledTFs = tfs
	h.mu.Unlock()
}

func (h *HealthStatus) SetSeriesTracked(n int) {
	h.mu.Lock()
	h.SeriesTracked = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a ping and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// status derives the overall state and HTTP code. Callers hold h.mu.
func (h *HealthStatus) status() (string, int) {
	sqliteDown := h.requireSQLite && !h.SQLiteOK
	switch {
	case !h.RedisConnected && (sqliteDown || !h.requireSQLite):
		return "unhealthy", http.StatusServiceUnavailable
	case !h.RedisConnected || sqliteDown || !h.EngineOK:
		return "degraded", http.StatusServiceUnavailable
	}
	return "healthy", http.StatusOK
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.status()

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		EngineOK        bool    `json:"engine_ok"`
		EnabledTFs      []int   `json:"enabled_tfs"`
		SeriesTracked   int     `json:"series_tracked"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		EngineOK:        h.EngineOK,
		EnabledTFs:      h.EnabledTFs,
		SeriesTracked:   h.SeriesTracked,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server. Extra handlers are
// mounted on the same mux.
func NewServer(addr string, health *HealthStatus, extra map[string]http.Handler) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	for path, h := range extra {
		mux.Handle(path, h)
	}

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("component", "metrics").Str("addr", s.addr).Msg("server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "metrics").Msg("server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
