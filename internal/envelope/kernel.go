package envelope

import "math"

// Gauss is the un-normalized Gaussian kernel exp(-d^2 / (2h^2)).
// There is no 1/(h*sqrt(2*pi)) factor. Callers guarantee h > 0.
func Gauss(d, h float64) float64 {
	return math.Exp(-(d * d) / (2.0 * h * h))
}

// kernelWeights returns w[i] = Gauss(i, h) for i in [0, n).
// The kernel is even, so w[|i-j|] also serves pairwise lookups.
func kernelWeights(n int, h float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = Gauss(float64(i), h)
	}
	return w
}
