package envelope

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.12f, want %.12f (tol=%g, diff=%g)", label, got, want, tol, math.Abs(got-want))
	}
}

func mustCompute(t *testing.T, prices []float64, p Params, mode Mode) Result {
	t.Helper()
	res, err := Compute(prices, p, mode)
	if err != nil {
		t.Fatalf("Compute(%s): %v", mode, err)
	}
	return res
}

// sameBits treats two NaNs as equal so undefined positions compare cleanly.
func sameBits(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Float64bits(a) == math.Float64bits(b)
}

func assertSeriesIdentical(t *testing.T, label string, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, want %d", label, len(got), len(want))
	}
	for i := range got {
		if !sameBits(got[i], want[i]) {
			t.Fatalf("%s[%d]: got %v, want %v", label, i, got[i], want[i])
		}
	}
}

// walk is a deterministic pseudo-random walk around 100.
func walk(n int) []float64 {
	out := make([]float64, n)
	x := uint64(88172645463325252)
	price := 100.0
	for i := range out {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		step := float64(x%2001)/1000.0 - 1.0
		price += step
		out[i] = price
	}
	return out
}

var spike = []float64{1, 2, 3, 10, 3, 2, 1}

// ────────────────────────────────────────────────────────────
// NonRepaint
// ────────────────────────────────────────────────────────────

func TestNonRepaint_SpikeMid3(t *testing.T) {
	// mid[3] blends price[1..3] = [2,3,10] with weights exp(0), exp(-1/2), exp(-2):
	// (10*1 + 3*0.60653066 + 2*0.13533528) / 1.74186594 = 6.94098337162529
	p := Params{Bandwidth: 1, Window: 3, ErrorMultiplier: 1}
	res := mustCompute(t, spike, p, NonRepaint)

	w0, w1, w2 := 1.0, math.Exp(-0.5), math.Exp(-2)
	want := (10*w0 + 3*w1 + 2*w2) / (w0 + w1 + w2)
	assertClose(t, "mid[3]", res.Mid[3], want, 1e-9)
	assertClose(t, "mid[3] literal", res.Mid[3], 6.9409833716252916, 1e-9)

	extended := append(append([]float64{}, spike...), 50, -20, 7)
	ext := mustCompute(t, extended, p, NonRepaint)
	if !sameBits(ext.Mid[3], res.Mid[3]) {
		t.Errorf("mid[3] changed after extension: %v -> %v", res.Mid[3], ext.Mid[3])
	}
}

func TestNonRepaint_SpikeSeries(t *testing.T) {
	p := Params{Bandwidth: 1, Window: 3, ErrorMultiplier: 1}
	res := mustCompute(t, spike, p, NonRepaint)

	wantMid := []float64{1.0, 1.6224593312018545, 2.4964014138191235, 6.9409833716252916,
		5.437451995186144, 2.9697720610723, 1.503598586180876}
	wantMAE := []float64{0.0, 0.18877033439907276, 0.29371308499300736, 1.3133852944512434,
		2.000022403247243, 2.155413561544384, 1.3036075474797735}

	for i := range spike {
		assertClose(t, "mid", res.Mid[i], wantMid[i], 1e-9)
		assertClose(t, "mae", res.MAE[i], wantMAE[i], 1e-9)
		assertClose(t, "upper", res.Upper[i], wantMid[i]+wantMAE[i], 1e-9)
		assertClose(t, "lower", res.Lower[i], wantMid[i]-wantMAE[i], 1e-9)
	}
}

func TestNonRepaint_Causality(t *testing.T) {
	prices := walk(300)
	p := Params{Bandwidth: 8, Window: 50, ErrorMultiplier: 3}
	full := mustCompute(t, prices, p, NonRepaint)

	for _, n := range []int{1, 2, 10, 49, 50, 51, 120, 299} {
		part := mustCompute(t, prices[:n], p, NonRepaint)
		for i := 0; i < n; i++ {
			if !sameBits(part.Mid[i], full.Mid[i]) {
				t.Fatalf("n=%d: mid[%d] %v != %v", n, i, part.Mid[i], full.Mid[i])
			}
			if !sameBits(part.MAE[i], full.MAE[i]) {
				t.Fatalf("n=%d: mae[%d] %v != %v", n, i, part.MAE[i], full.MAE[i])
			}
		}
	}
}

func TestNonRepaint_AllDefined(t *testing.T) {
	res := mustCompute(t, walk(40), Params{Bandwidth: 3, Window: 10, ErrorMultiplier: 2}, NonRepaint)
	for i := 0; i < res.Len(); i++ {
		if !res.Defined(i) {
			t.Fatalf("position %d undefined in NonRepaint", i)
		}
	}
}

func TestNonRepaint_UndefinedPricePropagates(t *testing.T) {
	prices := []float64{1, 2, math.NaN(), 4, 5, 6}
	res := mustCompute(t, prices, Params{Bandwidth: 1, Window: 2, ErrorMultiplier: 1}, NonRepaint)

	// mid[2] and mid[3] see the NaN; mid[4] is past the 2-bar window.
	for _, i := range []int{2, 3} {
		if IsDefined(res.Mid[i]) {
			t.Errorf("mid[%d] should be undefined, got %v", i, res.Mid[i])
		}
	}
	if !IsDefined(res.Mid[4]) {
		t.Error("mid[4] should be defined")
	}
	// Both errors in MAE[3]'s window are undefined.
	if IsDefined(res.MAE[3]) {
		t.Errorf("mae[3] should be undefined, got %v", res.MAE[3])
	}
	// MAE[2] still has the defined error at 1.
	if !IsDefined(res.MAE[2]) {
		t.Error("mae[2] should fall back to the defined sample")
	}
}

// ────────────────────────────────────────────────────────────
// RepaintOnLast
// ────────────────────────────────────────────────────────────

func TestRepaintOnLast_Spike(t *testing.T) {
	p := Params{Bandwidth: 1, Window: 3, ErrorMultiplier: 1}
	res := mustCompute(t, spike, p, RepaintOnLast)

	for i := 0; i < 4; i++ {
		if IsDefined(res.Mid[i]) || IsDefined(res.MAE[i]) || IsDefined(res.Upper[i]) || IsDefined(res.Lower[i]) {
			t.Errorf("position %d should be undefined", i)
		}
	}

	// local offsets 0,1,2 map to absolute 6,5,4
	wantMid := map[int]float64{6: 1.503598586180876, 5: 2.0, 4: 2.4964014138191244}
	const wantMAE = 0.33573239078725053
	for idx, want := range wantMid {
		assertClose(t, "mid", res.Mid[idx], want, 1e-9)
		assertClose(t, "mae", res.MAE[idx], wantMAE, 1e-9)
	}
}

func TestRepaintOnLast_ScalarMAE(t *testing.T) {
	prices := walk(80)
	res := mustCompute(t, prices, Params{Bandwidth: 5, Window: 30, ErrorMultiplier: 2}, RepaintOnLast)

	first := res.MAE[79]
	for i := 50; i < 80; i++ {
		if !sameBits(res.MAE[i], first) {
			t.Fatalf("mae[%d] = %v, want uniform %v", i, res.MAE[i], first)
		}
	}
	for i := 0; i < 50; i++ {
		if res.Defined(i) {
			t.Fatalf("position %d should be undefined", i)
		}
	}
}

func TestRepaintOnLast_ShortSeries(t *testing.T) {
	res := mustCompute(t, []float64{3, 4}, Params{Bandwidth: 2, Window: 500, ErrorMultiplier: 1}, RepaintOnLast)
	if !res.Defined(0) || !res.Defined(1) {
		t.Fatal("both positions should be defined when n < window")
	}
}

// ────────────────────────────────────────────────────────────
// RepaintFullHistory
// ────────────────────────────────────────────────────────────

func TestReplay_LastWriterWins(t *testing.T) {
	prices := walk(60)
	p := Params{Bandwidth: 4, Window: 12, ErrorMultiplier: 2}
	res := mustCompute(t, prices, p, RepaintFullHistory)
	n := len(prices)

	for pos := 0; pos < n; pos++ {
		last := min(n-1, pos+p.Window-1)
		frame := mustCompute(t, prices[:last+1], p, RepaintOnLast)
		if !sameBits(res.Mid[pos], frame.Mid[pos]) {
			t.Fatalf("mid[%d]: got %v, want frame t=%d value %v", pos, res.Mid[pos], last, frame.Mid[pos])
		}
		if !sameBits(res.MAE[pos], frame.MAE[pos]) {
			t.Fatalf("mae[%d]: got %v, want frame t=%d value %v", pos, res.MAE[pos], last, frame.MAE[pos])
		}
	}
}

func TestReplay_TailMatchesRepaintOnLast(t *testing.T) {
	prices := walk(45)
	p := Params{Bandwidth: 6, Window: 20, ErrorMultiplier: 3}
	rh := mustCompute(t, prices, p, RepaintFullHistory)
	rl := mustCompute(t, prices, p, RepaintOnLast)

	for i := 25; i < 45; i++ {
		if !sameBits(rh.Mid[i], rl.Mid[i]) || !sameBits(rh.MAE[i], rl.MAE[i]) {
			t.Fatalf("tail position %d differs: replay=(%v,%v) last=(%v,%v)", i, rh.Mid[i], rh.MAE[i], rl.Mid[i], rl.MAE[i])
		}
	}
}

func TestReplay_AllDefined(t *testing.T) {
	res := mustCompute(t, walk(30), Params{Bandwidth: 2, Window: 8, ErrorMultiplier: 1}, RepaintFullHistory)
	for i := 0; i < res.Len(); i++ {
		if !res.Defined(i) {
			t.Fatalf("position %d undefined after full replay", i)
		}
	}
}

func TestReplayParallel_MatchesSequential(t *testing.T) {
	prices := walk(150)
	p := Params{Bandwidth: 8, Window: 40, ErrorMultiplier: 3}
	seq := mustCompute(t, prices, p, RepaintFullHistory)

	for _, workers := range []int{0, 1, 2, 4, 16} {
		par, err := ReplayParallel(prices, p, workers)
		if err != nil {
			t.Fatalf("workers=%d: %v", workers, err)
		}
		assertSeriesIdentical(t, "mid", par.Mid, seq.Mid)
		assertSeriesIdentical(t, "mae", par.MAE, seq.MAE)
		assertSeriesIdentical(t, "upper", par.Upper, seq.Upper)
		assertSeriesIdentical(t, "lower", par.Lower, seq.Lower)
	}
}

func TestReplayParallel_Validates(t *testing.T) {
	if _, err := ReplayParallel(nil, DefaultParams(), 4); err != ErrEmptyInput {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := ReplayParallel([]float64{1}, Params{Bandwidth: 0, Window: 1}, 4); err == nil {
		t.Error("expected validation error")
	}
}
