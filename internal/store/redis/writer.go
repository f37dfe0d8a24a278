package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"nwenvelope/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// Signal streams keep ~3h of bars at the series TF, min 200 entries.
	signalHorizonSec = 10800
	minSignalMaxLen  = 200
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes envelope points and crossing signals to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return &Writer{client: client}, nil
}

// signalMaxLen sizes the signal stream to the series timeframe.
func signalMaxLen(tf int) int64 {
	if tf <= 0 {
		return minSignalMaxLen
	}
	n := int64(signalHorizonSec/tf) + 100
	if n < minSignalMaxLen {
		n = minSignalMaxLen
	}
	return n
}

// PublishPoint stores the newest envelope point under its latest key and
// broadcasts it, in one pipeline.
func (w *Writer) PublishPoint(ctx context.Context, p model.EnvelopePoint) error {
	data := string(p.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, p.LatestKey(), data, defaultLatestTTL)
	pipe.Publish(ctx, p.PubSubChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish point %s: %w", p.LatestKey(), err)
	}
	return nil
}

// PublishSignal appends a crossing to its stream and broadcasts it.
func (w *Writer) PublishSignal(ctx context.Context, e model.SignalEvent) error {
	data := string(e.JSON())

	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: e.StreamKey(),
		MaxLen: signalMaxLen(e.TF),
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, e.PubSubChannel(), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish signal %s: %w", e.StreamKey(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
