package envelope

import "fmt"

// Signal is a directional band crossing, encoded as +1 up and -1 down.
type Signal int8

const (
	BearishCross Signal = -1
	None         Signal = 0
	BullishCross Signal = 1
)

func (s Signal) String() string {
	switch s {
	case BullishCross:
		return "bullish"
	case BearishCross:
		return "bearish"
	default:
		return "none"
	}
}

// Signals is aligned with the price series it was detected on.
type Signals []Signal

// Event is a non-empty signal at an absolute bar index.
type Event struct {
	Index  int    `json:"index"`
	Signal Signal `json:"signal"`
}

// Events returns the non-None entries in index order.
func (s Signals) Events() []Event {
	var out []Event
	for i, sig := range s {
		if sig != None {
			out = append(out, Event{Index: i, Signal: sig})
		}
	}
	return out
}

// Count returns how many entries equal sig.
func (s Signals) Count(sig Signal) int {
	c := 0
	for _, v := range s {
		if v == sig {
			c++
		}
	}
	return c
}

// DetectCrossings scans every adjacent pair (k, k+1) and marks crossings at k+1.
func DetectCrossings(prices []float64, env Result) (Signals, error) {
	if len(prices) != env.Len() || len(env.MAE) != env.Len() {
		return nil, fmt.Errorf("%w: %d prices, %d envelope bars", ErrLengthMismatch, len(prices), env.Len())
	}
	sig := make(Signals, len(prices))
	for k := 1; k < len(prices); k++ {
		sig[k] = CrossingAt(prices, env, k)
	}
	return sig, nil
}

// CrossingAt evaluates the pair (k-1, k). Bands come from the older bar k-1.
// Pairs touching an undefined mid, MAE or price yield None.
func CrossingAt(prices []float64, env Result, k int) Signal {
	if k < 1 || k >= len(prices) || k >= env.Len() {
		return None
	}
	prev, cur := prices[k-1], prices[k]
	mid, mae := env.Mid[k-1], env.MAE[k-1]
	if !IsDefined(mid) || !IsDefined(env.Mid[k]) || !IsDefined(mae) ||
		!IsDefined(prev) || !IsDefined(cur) {
		return None
	}

	up := mid + mae
	lo := mid - mae

	out := None
	if prev > up && cur < up {
		out = BearishCross
	}
	// Checked independently; bullish wins if both fire.
	if prev < lo && cur > lo {
		out = BullishCross
	}
	return out
}

// LastSignal evaluates only the newest pair (n-2, n-1).
func LastSignal(prices []float64, env Result) Signal {
	return CrossingAt(prices, env, len(prices)-1)
}
