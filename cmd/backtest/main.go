// cmd/backtest computes the envelope over historical closes from SQLite or a
// CSV file, detects band crossings and optionally stores the run.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --exchange=NSE --token=99926000 --tf=60
//	go run ./cmd/backtest --csv=closes.csv --mode=non_repaint --save=false
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/logger"
	"nwenvelope/internal/metrics"
	"nwenvelope/internal/model"
	"nwenvelope/internal/parity"
	sqlitestore "nwenvelope/internal/store/sqlite"
)

type options struct {
	dbPath   string
	csvPath  string
	exchange string
	token    string
	tf       int
	fromTS   int64
	mode     envelope.Mode
	params   envelope.Params
	workers  int
	save     bool
	list     int
}

func main() {
	defaults := envelope.DefaultParams()
	var opt options
	flag.StringVar(&opt.dbPath, "db", "data/candles.db", "Path to SQLite database")
	flag.StringVar(&opt.csvPath, "csv", "", "Read closes from a CSV file instead of SQLite")
	flag.StringVar(&opt.exchange, "exchange", "NSE", "Exchange of the series")
	flag.StringVar(&opt.token, "token", "99926000", "Instrument token of the series")
	flag.IntVar(&opt.tf, "tf", 60, "Timeframe in seconds")
	flag.Int64Var(&opt.fromTS, "from", 0, "Unix timestamp to start from (0=all)")
	modeStr := flag.String("mode", "repaint_full_history", "non_repaint | repaint_on_last | repaint_full_history")
	flag.Float64Var(&opt.params.Bandwidth, "h", defaults.Bandwidth, "Kernel bandwidth")
	flag.IntVar(&opt.params.Window, "window", defaults.Window, "Lookback window (clamped to 500)")
	flag.Float64Var(&opt.params.ErrorMultiplier, "mult", defaults.ErrorMultiplier, "Band multiplier")
	flag.IntVar(&opt.workers, "workers", 1, "Parallel workers for repaint_full_history")
	flag.BoolVar(&opt.save, "save", true, "Persist the run to SQLite (nwe_runs, nwe_points, nwe_signals)")
	flag.IntVar(&opt.list, "list", 10, "Number of crossings to print")
	level := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log := logger.Init("backtest", lvl)

	opt.mode, err = envelope.ParseMode(*modeStr)
	if err != nil {
		log.Fatal().Err(err).Msg("mode")
	}
	if err := opt.params.Validate(); err != nil {
		log.Fatal().Err(err).Msg("params")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, opt, log); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}
}

func run(ctx context.Context, opt options, log zerolog.Logger) error {
	prices, bars, err := loadPrices(opt)
	if err != nil {
		return err
	}
	log.Info().Int("bars", len(prices)).Str("mode", opt.mode.String()).
		Float64("h", opt.params.Bandwidth).Int("window", opt.params.EffectiveWindow()).
		Float64("mult", opt.params.ErrorMultiplier).Msg("computing envelope")

	reg := prometheus.NewRegistry()
	prom := metrics.NewMetrics(reg)
	start := time.Now()
	var res envelope.Result
	if opt.mode == envelope.RepaintFullHistory && opt.workers > 1 {
		res, err = envelope.ReplayParallel(prices, opt.params, opt.workers)
	} else {
		res, err = envelope.Compute(prices, opt.params, opt.mode)
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	prom.ComputeDur.WithLabelValues(opt.mode.String()).Observe(elapsed.Seconds())
	prom.BacktestBarsLast.Set(float64(len(prices)))

	signals, err := envelope.DetectCrossings(prices, res)
	if err != nil {
		return err
	}
	bull, bear := signals.Count(envelope.BullishCross), signals.Count(envelope.BearishCross)
	prom.SignalsTotal.WithLabelValues(model.DirectionBullish).Add(float64(bull))
	prom.SignalsTotal.WithLabelValues(model.DirectionBearish).Add(float64(bear))

	undefined := 0
	for i := 0; i < res.Len(); i++ {
		if !res.Defined(i) {
			undefined++
		}
	}
	prom.UndefinedPoints.Add(float64(undefined))

	var runID int64
	if opt.save && opt.csvPath != "" {
		log.Warn().Str("csv", opt.csvPath).Msg("csv input has no instrument identity, run not persisted")
	}
	if opt.save && opt.csvPath == "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: opt.dbPath})
		if err != nil {
			return err
		}
		defer w.Close()
		runID, err = w.SaveRun(ctx, sqlitestore.Run{
			Exchange: opt.exchange,
			Token:    opt.token,
			TF:       opt.tf,
			Prices:   prices,
			Result:   res,
			Signals:  signals,
		})
		if err != nil {
			return err
		}
		log.Info().Int64("run_id", runID).Str("db", opt.dbPath).Msg("run saved")
	}

	printSummary(opt, prices, bars, res, signals, undefined, elapsed, runID)
	return printMetrics(os.Stdout, reg)
}

// printMetrics writes the run's collectors as "name{labels} value" lines.
// Histograms print their sample count and sum.
func printMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	fmt.Fprintln(w, "  metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "    %-44s %g\n", name, m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				fmt.Fprintf(w, "    %-44s %g\n", name, m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "    %-44s count=%d sum=%.6fs\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

// loadPrices returns closes in rupees and, for SQLite input, the candles
// they came from.
func loadPrices(opt options) ([]float64, []model.TFCandle, error) {
	if opt.csvPath != "" {
		prices, err := parity.LoadPricesFile(opt.csvPath)
		return prices, nil, err
	}
	var reader model.CandleReader
	reader, err := sqlitestore.NewReader(opt.dbPath)
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()
	candles, err := reader.ReadTFCandles(opt.exchange, opt.token, opt.tf, opt.fromTS)
	if err != nil {
		return nil, nil, err
	}
	if len(candles) == 0 {
		return nil, nil, errors.New("no candles in range")
	}
	return model.Closes(candles), candles, nil
}

func printSummary(opt options, prices []float64, bars []model.TFCandle, res envelope.Result,
	signals envelope.Signals, undefined int, elapsed time.Duration, runID int64) {
	source := opt.csvPath
	if source == "" {
		source = fmt.Sprintf("%s:%s %ds", opt.exchange, opt.token, opt.tf)
	}
	line := strings.Repeat("═", 46)
	fmt.Println()
	fmt.Println("╔" + line + "╗")
	fmt.Println("║            NW ENVELOPE BACKTEST              ║")
	fmt.Println("╠" + line + "╣")
	fmt.Printf("║  Source:      %-30s ║\n", source)
	fmt.Printf("║  Mode:        %-30s ║\n", res.Mode)
	fmt.Printf("║  Bars:        %-30d ║\n", len(prices))
	fmt.Printf("║  Window:      %-30d ║\n", res.Window)
	fmt.Printf("║  Undefined:   %-30d ║\n", undefined)
	fmt.Printf("║  Bullish:     %-30d ║\n", signals.Count(envelope.BullishCross))
	fmt.Printf("║  Bearish:     %-30d ║\n", signals.Count(envelope.BearishCross))
	fmt.Printf("║  Compute:     %-30s ║\n", elapsed.Round(time.Microsecond))
	if runID > 0 {
		fmt.Printf("║  Run ID:      %-30d ║\n", runID)
	}
	fmt.Println("╚" + line + "╝")

	events := signals.Events()
	if len(events) > opt.list {
		events = events[len(events)-opt.list:]
	}
	for _, ev := range events {
		when := fmt.Sprintf("#%d", ev.Index)
		if bars != nil {
			when = bars[ev.Index].TS.Format(time.RFC3339)
		}
		fmt.Printf("  %-25s %-8s price=%.2f\n", when, ev.Signal, prices[ev.Index])
	}
}
