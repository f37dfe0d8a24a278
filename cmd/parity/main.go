// cmd/parity computes the envelope for a price CSV and compares it with
// values exported from a charting tool. It exits 1 when any bar disagrees.
//
// Usage:
//
//	go run ./cmd/parity --prices=closes.csv --reference=tv_export.csv --mode=repaint_on_last
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/logger"
	"nwenvelope/internal/parity"
)

func main() {
	defaults := envelope.DefaultParams()
	pricesPath := flag.String("prices", "", "CSV with one close per row or a close column")
	refPath := flag.String("reference", "", "Reference CSV with mid, upper, lower columns")
	modeStr := flag.String("mode", "repaint_on_last", "non_repaint | repaint_on_last | repaint_full_history")
	bandwidth := flag.Float64("h", defaults.Bandwidth, "Kernel bandwidth")
	window := flag.Int("window", defaults.Window, "Lookback window (clamped to 500)")
	mult := flag.Float64("mult", defaults.ErrorMultiplier, "Band multiplier")
	tol := flag.Float64("tolerance", 1e-6, "Absolute match tolerance")
	output := flag.String("output", "", "Optional per-bar diff CSV path")
	flag.Parse()

	log := logger.Init("parity", zerolog.InfoLevel)

	if *pricesPath == "" || *refPath == "" {
		log.Fatal().Msg("--prices and --reference are required")
	}
	mode, err := envelope.ParseMode(*modeStr)
	if err != nil {
		log.Fatal().Err(err).Msg("mode")
	}

	prices, err := parity.LoadPricesFile(*pricesPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load prices")
	}
	ref, err := parity.LoadReferenceFile(*refPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load reference")
	}

	params := envelope.Params{Bandwidth: *bandwidth, Window: *window, ErrorMultiplier: *mult}
	res, err := envelope.Compute(prices, params, mode)
	if err != nil {
		log.Fatal().Err(err).Msg("compute envelope")
	}

	rep, err := parity.Compare(res, ref, *tol)
	if err != nil {
		log.Fatal().Err(err).Msg("compare")
	}

	if *output != "" {
		if err := parity.WriteDiffFile(*output, prices, res, ref, *tol); err != nil {
			log.Error().Err(err).Msg("write diff csv")
		} else {
			log.Info().Str("path", *output).Msg("diff csv written")
		}
	}

	printReport(rep, mode)
	if !rep.OK() {
		os.Exit(1)
	}
}

func printReport(rep parity.Report, mode envelope.Mode) {
	fmt.Printf("parity: %d bars, mode=%s, tolerance=%g\n", rep.Rows, mode, rep.Tolerance)
	names := make([]string, 0, len(rep.Columns))
	for name := range rep.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := rep.Columns[name]
		fmt.Printf("  %-6s compared=%-6d max_diff=%.3e (bar %d) mismatches=%d presence=%d\n",
			name, c.Compared, c.MaxDiff, c.MaxDiffAt, c.Mismatches, c.Presence)
	}
	if rep.OK() {
		fmt.Println("  OK")
		return
	}
	fmt.Printf("  %d mismatched cells, first %d:\n", rep.Total(), len(rep.First))
	for _, m := range rep.First {
		if m.Presence {
			fmt.Printf("    bar %-6d %-6s got=%v want=%v (defined on one side only)\n", m.Index, m.Column, m.Got, m.Want)
			continue
		}
		fmt.Printf("    bar %-6d %-6s got=%.10f want=%.10f diff=%.3e\n", m.Index, m.Column, m.Got, m.Want, m.Diff)
	}
}
