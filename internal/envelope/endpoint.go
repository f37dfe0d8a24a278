package envelope

import "math"

// nonRepaint is the causal endpoint regressor. mid[t] uses price[t-L+1..t]
// only, so appending bars never changes earlier output.
func nonRepaint(src []float64, p Params) Result {
	n := len(src)
	res := newResult(n, NonRepaint, p)
	w := kernelWeights(res.Window, p.Bandwidth)

	absErr := make([]float64, n)
	for t := 0; t < n; t++ {
		l := min(len(w), t+1)
		var sumV, sumW float64
		for i := 0; i < l; i++ {
			sumV += w[i] * src[t-i]
			sumW += w[i]
		}
		res.Mid[t] = ratio(sumV, sumW)
		absErr[t] = math.Abs(src[t] - res.Mid[t])
	}

	// Rolling mean over the same trailing length, min periods 1.
	// Undefined errors are skipped rather than counted as zero.
	for t := 0; t < n; t++ {
		l := min(len(w), t+1)
		var sum float64
		count := 0
		for s := t - l + 1; s <= t; s++ {
			if IsDefined(absErr[s]) {
				sum += absErr[s]
				count++
			}
		}
		if count > 0 {
			res.MAE[t] = sum / float64(count) * p.ErrorMultiplier
		}
	}

	res.Upper, res.Lower = Bands(res.Mid, res.MAE)
	return res
}
