package envelope

import (
	"errors"
	"fmt"
	"math"
)

// MaxWindow is the hard cap on the lookback, equal to a 500-bar chart buffer.
const MaxWindow = 500

var (
	// ErrInvalidParameter is returned for a non-positive bandwidth, a window
	// below 1, a negative multiplier or an unknown mode.
	ErrInvalidParameter = errors.New("envelope: invalid parameter")

	// ErrEmptyInput is returned when the price series has no samples.
	ErrEmptyInput = errors.New("envelope: empty input")

	// ErrLengthMismatch is returned when an envelope does not line up with its prices.
	ErrLengthMismatch = errors.New("envelope: length mismatch")
)

// Params are the kernel regression parameters.
type Params struct {
	Bandwidth       float64 `json:"bandwidth" yaml:"bandwidth"`
	Window          int     `json:"window" yaml:"window"`
	ErrorMultiplier float64 `json:"mult" yaml:"mult"`
}

// DefaultParams returns h=8, mult=3 over 500 bars.
func DefaultParams() Params {
	return Params{Bandwidth: 8, Window: MaxWindow, ErrorMultiplier: 3}
}

// Validate checks the parameter domain.
func (p Params) Validate() error {
	if !(p.Bandwidth > 0) || math.IsInf(p.Bandwidth, 0) {
		return fmt.Errorf("%w: bandwidth must be > 0, got %v", ErrInvalidParameter, p.Bandwidth)
	}
	if p.Window < 1 {
		return fmt.Errorf("%w: window must be >= 1, got %d", ErrInvalidParameter, p.Window)
	}
	if !(p.ErrorMultiplier >= 0) || math.IsInf(p.ErrorMultiplier, 0) {
		return fmt.Errorf("%w: error multiplier must be >= 0, got %v", ErrInvalidParameter, p.ErrorMultiplier)
	}
	return nil
}

// EffectiveWindow returns min(Window, MaxWindow).
func (p Params) EffectiveWindow() int {
	if p.Window > MaxWindow {
		return MaxWindow
	}
	return p.Window
}

// MinHistory is the shortest rolling history that reproduces the full-series
// value at its newest bar. NonRepaint averages errors over W mids that each
// look back W bars, so it needs 2W-1; RepaintOnLast only reads one window.
func (p Params) MinHistory(mode Mode) int {
	w := p.EffectiveWindow()
	if mode == NonRepaint {
		return 2*w - 1
	}
	return w
}
