package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the envelope engine from concrete storage
// implementations (Redis, SQLite).

// CandleReader reads TF candles for backfill and offline runs.
type CandleReader interface {
	// ReadTFCandles reads candles for a specific instrument and TF, oldest first.
	ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]TFCandle, error)

	// Close releases underlying resources.
	Close() error
}

// EnvelopePublisher pushes live envelope output to subscribers.
type EnvelopePublisher interface {
	// PublishPoint stores and broadcasts the newest envelope row.
	PublishPoint(ctx context.Context, p EnvelopePoint) error

	// PublishSignal appends a crossing to its stream and broadcasts it.
	PublishSignal(ctx context.Context, e SignalEvent) error

	// Close releases underlying resources.
	Close() error
}

// StreamConsumer consumes TF candles from a stream (e.g. Redis Streams).
type StreamConsumer interface {
	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ConsumeTFCandles reads TF candles via consumer groups.
	// Blocks until ctx is cancelled.
	ConsumeTFCandles(ctx context.Context, streams []string, out chan<- TFCandle) error

	// ReplayFromID reads all messages from a stream starting at a given ID.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- TFCandle) (string, error)

	// Close releases underlying resources.
	Close() error
}
