// Package envelope computes the Nadaraya-Watson kernel envelope of a price
// series and detects band crossings against it.
//
// Three temporal-consistency modes are supported. NonRepaint is causal and
// cheap (O(n*W)). RepaintOnLast recomputes the trailing window from the
// vantage point of the last bar (O(W^2)). RepaintFullHistory replays the
// repainting computation for every historical bar (O(n*W^2)) and is meant for
// offline analysis only.
//
// Undefined positions are NaN. Use IsDefined to test them; never compare
// against zero.
package envelope

import (
	"fmt"
	"strings"
)

// Mode selects the temporal-consistency model of the envelope.
type Mode int

const (
	// NonRepaint computes one causal endpoint estimate per bar.
	NonRepaint Mode = iota
	// RepaintOnLast recomputes only the trailing window ending at the last bar.
	RepaintOnLast
	// RepaintFullHistory simulates RepaintOnLast as of every historical bar.
	RepaintFullHistory
)

// String returns the canonical config name of the mode.
func (m Mode) String() string {
	switch m {
	case NonRepaint:
		return "non_repaint"
	case RepaintOnLast:
		return "repaint_on_last"
	case RepaintFullHistory:
		return "repaint_full_history"
	default:
		return "unknown"
	}
}

// ParseMode maps a config string to a Mode. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "non_repaint", "nonrepaint", "non-repaint":
		return NonRepaint, nil
	case "repaint_on_last", "repaint", "repaint-on-last":
		return RepaintOnLast, nil
	case "repaint_full_history", "full_history", "repaint-full-history":
		return RepaintFullHistory, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
}

// Result holds the four index-aligned envelope series for one invocation.
type Result struct {
	Mode   Mode
	Params Params
	// Window is the effective lookback after clamping to MaxWindow.
	Window int

	Mid   []float64
	Upper []float64
	Lower []float64
	MAE   []float64
}

// Len returns the number of bars covered by the result.
func (r Result) Len() int { return len(r.Mid) }

// Defined reports whether mid and MAE are both defined at i.
func (r Result) Defined(i int) bool {
	return i >= 0 && i < len(r.Mid) && IsDefined(r.Mid[i]) && IsDefined(r.MAE[i])
}

// Compute validates the inputs and runs the regressor for mode.
// Validation failures are returned before any computation starts.
func Compute(prices []float64, p Params, mode Mode) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if len(prices) == 0 {
		return Result{}, ErrEmptyInput
	}

	switch mode {
	case NonRepaint:
		return nonRepaint(prices, p), nil
	case RepaintOnLast:
		return repaintOnLast(prices, p), nil
	case RepaintFullHistory:
		return replay(prices, p), nil
	}
	return Result{}, fmt.Errorf("%w: unknown mode %d", ErrInvalidParameter, int(mode))
}

// newResult allocates fully undefined output buffers of length n.
func newResult(n int, mode Mode, p Params) Result {
	return Result{
		Mode:   mode,
		Params: p,
		Window: p.EffectiveWindow(),
		Mid:    undefinedSeries(n),
		Upper:  undefinedSeries(n),
		Lower:  undefinedSeries(n),
		MAE:    undefinedSeries(n),
	}
}
