package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("component", "sqlite").Str("path", cfg.DBPath).Msg("opened database")
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_tf (
			token      TEXT    NOT NULL,
			exchange   TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			ts         INTEGER NOT NULL,
			open       INTEGER NOT NULL,
			high       INTEGER NOT NULL,
			low        INTEGER NOT NULL,
			close      INTEGER NOT NULL,
			volume     INTEGER,
			count      INTEGER,
			PRIMARY KEY (exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS nwe_runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange   TEXT    NOT NULL,
			token      TEXT    NOT NULL,
			tf         INTEGER NOT NULL,
			mode       TEXT    NOT NULL,
			bandwidth  REAL    NOT NULL,
			window     INTEGER NOT NULL,
			mult       REAL    NOT NULL,
			bars       INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS nwe_points (
			run_id INTEGER NOT NULL REFERENCES nwe_runs(id),
			idx    INTEGER NOT NULL,
			price  REAL    NOT NULL,
			mid    REAL,
			upper  REAL,
			lower  REAL,
			mae    REAL,
			PRIMARY KEY (run_id, idx)
		);

		CREATE TABLE IF NOT EXISTS nwe_signals (
			run_id    INTEGER NOT NULL REFERENCES nwe_runs(id),
			idx       INTEGER NOT NULL,
			direction INTEGER NOT NULL,
			price     REAL    NOT NULL,
			PRIMARY KEY (run_id, idx)
		);
	`)
	return err
}

// InsertTFCandles inserts a batch of TF candles in a single transaction.
func (w *Writer) InsertTFCandles(candles []model.TFCandle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles_tf (token, exchange, tf, ts, open, high, low, close, volume, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Token, c.Exchange, c.TF, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Count)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Run identifies one offline envelope computation to persist.
type Run struct {
	Exchange string
	Token    string
	TF       int
	Prices   []float64
	Result   envelope.Result
	Signals  envelope.Signals
}

// SaveRun stores a run with its per-bar envelope and crossings in one
// transaction and returns the run id.
func (w *Writer) SaveRun(ctx context.Context, run Run) (int64, error) {
	if len(run.Prices) != run.Result.Len() {
		return 0, fmt.Errorf("save run: %d prices for %d envelope rows: %w",
			len(run.Prices), run.Result.Len(), envelope.ErrLengthMismatch)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	p := run.Result.Params
	res, err := tx.ExecContext(ctx, `
		INSERT INTO nwe_runs (exchange, token, tf, mode, bandwidth, window, mult, bars, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Exchange, run.Token, run.TF, run.Result.Mode.String(),
		p.Bandwidth, run.Result.Window, p.ErrorMultiplier, len(run.Prices), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert nwe_runs: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	pointStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nwe_points (run_id, idx, price, mid, upper, lower, mae)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer pointStmt.Close()

	r := run.Result
	for i, price := range run.Prices {
		if _, err := pointStmt.ExecContext(ctx, runID, i, price,
			toNull(r.Mid[i]), toNull(r.Upper[i]), toNull(r.Lower[i]), toNull(r.MAE[i])); err != nil {
			return 0, fmt.Errorf("insert nwe_points[%d]: %w", i, err)
		}
	}

	sigStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nwe_signals (run_id, idx, direction, price) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer sigStmt.Close()

	for _, ev := range run.Signals.Events() {
		if _, err := sigStmt.ExecContext(ctx, runID, ev.Index, int(ev.Signal), run.Prices[ev.Index]); err != nil {
			return 0, fmt.Errorf("insert nwe_signals[%d]: %w", ev.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// toNull stores undefined positions as SQL NULL.
func toNull(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
