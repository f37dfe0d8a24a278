package parity

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"

	"nwenvelope/internal/envelope"
)

// WriteDiffFile writes the per-bar diff CSV to path.
func WriteDiffFile(path string, prices []float64, res envelope.Result, ref Reference, tol float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parity create %s: %w", path, err)
	}
	if err := WriteDiff(f, prices, res, ref, tol); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteDiff emits one row per bar with computed, reference, diff and match
// cells for every reference column. Undefined values are written blank.
// prices may be nil.
func WriteDiff(w io.Writer, prices []float64, res envelope.Result, ref Reference, tol float64) error {
	cw := csv.NewWriter(w)

	cols := []struct {
		name      string
		got, want []float64
	}{
		{"mid", res.Mid, ref.Mid},
		{"upper", res.Upper, ref.Upper},
		{"lower", res.Lower, ref.Lower},
	}
	header := []string{"index", "price"}
	for _, c := range cols {
		if c.want != nil {
			header = append(header, c.name, "ref_"+c.name, "diff_"+c.name, "match_"+c.name)
		}
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("parity write header: %w", err)
	}

	n := res.Len()
	for i := 0; i < n; i++ {
		price := ""
		if i < len(prices) {
			price = fmtFloat(prices[i])
		}
		rec := []string{fmt.Sprintf("%d", i), price}
		for _, c := range cols {
			if c.want == nil {
				continue
			}
			got := c.got[i]
			want := math.NaN()
			if i < len(c.want) {
				want = c.want[i]
			}
			diff, match := "", ""
			switch gd, wd := envelope.IsDefined(got), envelope.IsDefined(want); {
			case gd && wd:
				d := math.Abs(got - want)
				diff = fmtFloat(d)
				match = fmt.Sprintf("%t", d <= tol)
			case gd != wd:
				match = "false"
			}
			rec = append(rec, fmtFloat(got), fmtFloat(want), diff, match)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("parity write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string {
	if !envelope.IsDefined(v) {
		return ""
	}
	return fmt.Sprintf("%.10f", v)
}
