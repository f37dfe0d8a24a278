package envelope

// Bands returns mid+mae and mid-mae. NaN in either input yields NaN, so the
// bands are defined exactly where both inputs are.
func Bands(mid, mae []float64) (upper, lower []float64) {
	n := len(mid)
	if len(mae) < n {
		n = len(mae)
	}
	upper = undefinedSeries(len(mid))
	lower = undefinedSeries(len(mid))
	for i := 0; i < n; i++ {
		upper[i] = mid[i] + mae[i]
		lower[i] = mid[i] - mae[i]
	}
	return upper, lower
}
