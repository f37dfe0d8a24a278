package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"nwenvelope/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and offline runs.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Info().Str("component", "sqlite-reader").Str("path", dbPath).Msg("opened")
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadTFCandles reads TF candles from the candles_tf table for a given exchange:token and TF.
// Results are ordered by timestamp ascending for correct replay order.
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT token, exchange, tf, ts, open, high, low, close, volume, count
		FROM candles_tf
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	defer rows.Close()

	var candles []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadLatestTFCandles returns the newest limit candles, oldest first.
// The live engine seeds its history window with it.
func (r *Reader) ReadLatestTFCandles(exchange, token string, tf, limit int) ([]model.TFCandle, error) {
	rows, err := r.db.Query(`
		SELECT token, exchange, tf, ts, open, high, low, close, volume, count
		FROM (
			SELECT * FROM candles_tf
			WHERE exchange = ? AND token = ? AND tf = ?
			ORDER BY ts DESC
			LIMIT ?
		)
		ORDER BY ts ASC
	`, exchange, token, tf, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query latest candles_tf: %w", err)
	}
	defer rows.Close()

	var candles []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// RunPoint is one stored envelope row. Undefined values come back as NaN.
type RunPoint struct {
	Index                        int
	Price, Mid, Upper, Lower, MAE float64
}

// ReadRunPoints loads the stored envelope of a run ordered by index.
func (r *Reader) ReadRunPoints(ctx context.Context, runID int64) ([]RunPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT idx, price, mid, upper, lower, mae
		FROM nwe_points
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query nwe_points: %w", err)
	}
	defer rows.Close()

	var out []RunPoint
	for rows.Next() {
		var p RunPoint
		var mid, upper, lower, mae sql.NullFloat64
		if err := rows.Scan(&p.Index, &p.Price, &mid, &upper, &lower, &mae); err != nil {
			return nil, fmt.Errorf("sqlite scan nwe_points: %w", err)
		}
		p.Mid, p.Upper, p.Lower, p.MAE = fromNull(mid), fromNull(upper), fromNull(lower), fromNull(mae)
		out = append(out, p)
	}
	return out, rows.Err()
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
