package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/logger"
	"nwenvelope/internal/metrics"
)

func TestPrintMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.BacktestBarsLast.Set(250)
	m.SignalsTotal.WithLabelValues("bullish").Add(3)
	m.ComputeDur.WithLabelValues("non_repaint").Observe(0.5)

	var buf bytes.Buffer
	if err := printMetrics(&buf, reg); err != nil {
		t.Fatalf("printMetrics: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"nwe_backtest_bars",
		"250",
		"direction=bullish",
		"mode=non_repaint",
		"count=1 sum=0.500000s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_CSVInputIsNotPersisted(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "closes.csv")
	if err := os.WriteFile(csvPath, []byte("close\n1\n2\n3\n10\n3\n2\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "runs.db")

	var logs bytes.Buffer
	opt := options{
		dbPath:  dbPath,
		csvPath: csvPath,
		mode:    envelope.NonRepaint,
		params:  envelope.Params{Bandwidth: 1, Window: 3, ErrorMultiplier: 1},
		save:    true,
		list:    5,
	}
	if err := run(context.Background(), opt, logger.New(&logs, "backtest", zerolog.InfoLevel)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(logs.String(), "run not persisted") {
		t.Errorf("expected a warning that the run was not saved, got %s", logs.String())
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Errorf("csv run must not create the database, stat err = %v", err)
	}
}
