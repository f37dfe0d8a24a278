package envelope

import "math"

// Undefined returns the marker used for positions outside a regressor's domain.
func Undefined() float64 { return math.NaN() }

// IsDefined reports whether v holds a real value.
func IsDefined(v float64) bool { return !math.IsNaN(v) }

func undefinedSeries(n int) []float64 {
	s := make([]float64, n)
	nan := math.NaN()
	for i := range s {
		s[i] = nan
	}
	return s
}

// ratio divides num by den, yielding undefined for a zero denominator.
func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}
