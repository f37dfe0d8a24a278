package envelope

import "math"

// windowFrame runs the pairwise regression with src[last] as the newest bar
// over l bars. local[i] receives the estimate i bars before last. The
// returned MAE is the scalar (sum|err| / l) * mult shared by the frame.
// w must hold at least l weights.
func windowFrame(src []float64, last, l int, w []float64, mult float64, local []float64) float64 {
	var sae float64
	for i := 0; i < l; i++ {
		var sumV, sumW float64
		for j := 0; j < l; j++ {
			d := i - j
			if d < 0 {
				d = -d
			}
			wt := w[d]
			sumW += wt
			sumV += src[last-j] * wt
		}
		local[i] = ratio(sumV, sumW)
		sae += math.Abs(src[last-i] - local[i])
	}
	return (sae / float64(l)) * mult
}

// commitFrame writes a frame ending at last into absolute positions last-i.
func commitFrame(res *Result, last int, local []float64, mae float64) {
	for i, v := range local {
		res.Mid[last-i] = v
		res.MAE[last-i] = mae
	}
}

// repaintOnLast fills the trailing min(W, n) positions; earlier ones stay undefined.
func repaintOnLast(src []float64, p Params) Result {
	n := len(src)
	res := newResult(n, RepaintOnLast, p)
	l := min(res.Window, n)
	w := kernelWeights(l, p.Bandwidth)

	local := make([]float64, l)
	mae := windowFrame(src, n-1, l, w, p.ErrorMultiplier, local)
	commitFrame(&res, n-1, local, mae)

	res.Upper, res.Lower = Bands(res.Mid, res.MAE)
	return res
}
