package model

import "math"

// Itoa is a minimal int-to-string converter for hot-path usage.
// Avoids importing strconv to eliminate unnecessary overhead.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PaiseToRupees converts an integer paise amount to rupees.
func PaiseToRupees(p int64) float64 {
	return float64(p) / 100.0
}

// OptFloat maps NaN (undefined) to nil so JSON carries null instead of failing.
func OptFloat(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
