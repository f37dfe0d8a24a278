package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"nwenvelope/internal/model"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "nwengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader reads TF candles from Redis Streams via Consumer Groups.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "nwengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	log.Info().Str("component", "redis-reader").Str("addr", cfg.Addr).
		Str("group", group).Str("consumer", consumer).Msg("connected")
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates a consumer group on the given streams if it doesn't exist.
// Uses "$" as start ID (only new messages) for fresh groups.
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// decodeCandle parses a stream entry. ok is false for malformed entries and
// for forming candles, which never enter the envelope history.
func decodeCandle(values map[string]interface{}) (model.TFCandle, bool) {
	var tfc model.TFCandle
	data, ok := values["data"].(string)
	if !ok {
		return tfc, false
	}
	if err := json.Unmarshal([]byte(data), &tfc); err != nil {
		log.Warn().Err(err).Str("component", "redis-reader").Msg("unmarshal TFCandle")
		return tfc, false
	}
	return tfc, !tfc.Forming
}

// ConsumeTFCandles reads TF candles from Redis Streams using consumer groups.
// Blocks on XREADGROUP and sends parsed candles to the output channel.
// Returns when ctx is cancelled.
func (r *Reader) ConsumeTFCandles(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	// Build stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Str("component", "redis-reader").Msg("xreadgroup")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				tfc, ok := decodeCandle(msg.Values)
				if !ok {
					// ACK even on bad message to avoid poison pill
					r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
					continue
				}

				select {
				case out <- tfc:
				case <-ctx.Done():
					return ctx.Err()
				}

				r.client.XAck(ctx, stream.Stream, r.consumerGroup, msg.ID)
			}
		}
	}
}

// RecoverPending processes any pending (unACKed) messages from a previous crash.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.TFCandle) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				log.Error().Err(err).Str("component", "redis-reader").Str("stream", stream).Msg("xclaim")
				break
			}

			for _, msg := range claimed {
				if tfc, ok := decodeCandle(msg.Values); ok {
					select {
					case out <- tfc:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			}

			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// ReplayFromID reads all messages from a stream after a given ID ("0" for
// the whole stream). Returns the last ID seen.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.TFCandle) (string, error) {
	const page = 1000
	lastID := startID
	for {
		start := "(" + lastID
		if lastID == "0" {
			start = "-"
		}
		results, err := r.client.XRangeN(ctx, stream, start, "+", page).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range results {
			lastID = msg.ID
			tfc, ok := decodeCandle(msg.Values)
			if !ok {
				continue
			}
			select {
			case out <- tfc:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < page {
			break
		}
	}
	return lastID, nil
}

// PSubscribe subscribes to a Pub/Sub pattern and waits for confirmation.
func (r *Reader) PSubscribe(ctx context.Context, pattern string) (*goredis.PubSub, error) {
	pubsub := r.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	return pubsub, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
