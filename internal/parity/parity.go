// Package parity compares a computed envelope against values exported from a
// charting tool.
package parity

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"nwenvelope/internal/envelope"
)

// ErrNoColumns is returned when a reference file has none of mid, upper or lower.
var ErrNoColumns = errors.New("parity: reference has no mid/upper/lower column")

// MaxRows bounds the bar index accepted from a reference file.
const MaxRows = 1 << 20

// Reference holds exported envelope values. A nil column was absent from the
// file; NaN entries are undefined bars.
type Reference struct {
	Mid   []float64
	Upper []float64
	Lower []float64
}

// Len returns the number of reference rows.
func (r Reference) Len() int {
	for _, col := range [][]float64{r.Mid, r.Upper, r.Lower} {
		if col != nil {
			return len(col)
		}
	}
	return 0
}

// LoadReferenceFile opens path and parses it with ReadReference.
func LoadReferenceFile(path string) (Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return Reference{}, fmt.Errorf("parity open %s: %w", path, err)
	}
	defer f.Close()
	return ReadReference(bufio.NewReader(f))
}

// ReadReference parses a headed CSV. Rows are placed by the optional index
// column, otherwise by row order. Blank or unparsable cells are undefined.
func ReadReference(r io.Reader) (Reference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Reference{}, fmt.Errorf("parity read header: %w", err)
	}
	cols := indexColumns(header)
	idxMid, idxUpper, idxLower := cols["mid"], cols["upper"], cols["lower"]
	if idxMid < 0 && idxUpper < 0 && idxLower < 0 {
		return Reference{}, ErrNoColumns
	}
	idxIndex := cols["index"]

	type row struct{ mid, upper, lower float64 }
	var rows []row
	at := map[int]row{}
	maxIdx := -1
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Reference{}, fmt.Errorf("parity read row %d: %w", line+1, err)
		}
		line++
		rw := row{cell(rec, idxMid), cell(rec, idxUpper), cell(rec, idxLower)}
		if idxIndex < 0 {
			rows = append(rows, rw)
			continue
		}
		i, err := strconv.Atoi(strings.TrimSpace(field(rec, idxIndex)))
		if err != nil || i < 0 {
			return Reference{}, fmt.Errorf("parity row %d: bad index %q", line, field(rec, idxIndex))
		}
		if i >= MaxRows {
			return Reference{}, fmt.Errorf("parity row %d: index %d exceeds %d rows", line, i, MaxRows)
		}
		at[i] = rw
		if i > maxIdx {
			maxIdx = i
		}
	}
	if idxIndex >= 0 {
		rows = make([]row, maxIdx+1)
		for i := range rows {
			rows[i] = row{math.NaN(), math.NaN(), math.NaN()}
		}
		for i, rw := range at {
			rows[i] = rw
		}
	}

	var ref Reference
	n := len(rows)
	if idxMid >= 0 {
		ref.Mid = make([]float64, n)
	}
	if idxUpper >= 0 {
		ref.Upper = make([]float64, n)
	}
	if idxLower >= 0 {
		ref.Lower = make([]float64, n)
	}
	for i, rw := range rows {
		if ref.Mid != nil {
			ref.Mid[i] = rw.mid
		}
		if ref.Upper != nil {
			ref.Upper[i] = rw.upper
		}
		if ref.Lower != nil {
			ref.Lower[i] = rw.lower
		}
	}
	return ref, nil
}

// indexColumns maps the known column names to their position, -1 if missing.
func indexColumns(header []string) map[string]int {
	cols := map[string]int{"index": -1, "mid": -1, "upper": -1, "lower": -1, "close": -1, "price": -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "idx", "bar", "bar_index":
			name = "index"
		case "middle", "estimate":
			name = "mid"
		}
		if pos, ok := cols[name]; ok && pos < 0 {
			cols[name] = i
		}
	}
	return cols
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func cell(rec []string, i int) float64 {
	s := strings.TrimSpace(field(rec, i))
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// Mismatch is one disagreeing cell.
type Mismatch struct {
	Index    int
	Column   string
	Got      float64
	Want     float64
	Diff     float64
	Presence bool // one side defined, the other not
}

// ColumnStats summarises one compared column.
type ColumnStats struct {
	Compared   int
	MaxDiff    float64
	MaxDiffAt  int
	Mismatches int
	Presence   int
}

// Report is the outcome of Compare.
type Report struct {
	Tolerance float64
	Rows      int
	Columns   map[string]*ColumnStats
	// First holds up to MaxListed mismatches in index order.
	First []Mismatch
}

// MaxListed bounds Report.First.
const MaxListed = 20

// OK reports whether every compared cell matched.
func (r Report) OK() bool {
	for _, c := range r.Columns {
		if c.Mismatches > 0 || c.Presence > 0 {
			return false
		}
	}
	return true
}

// Total returns the number of mismatched cells over all columns.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Columns {
		n += c.Mismatches + c.Presence
	}
	return n
}

// Compare checks res against ref bar by bar with absolute tolerance tol.
// Bars defined on only one side count as presence mismatches. The row
// counts must agree.
func Compare(res envelope.Result, ref Reference, tol float64) (Report, error) {
	if !(tol >= 0) {
		return Report{}, fmt.Errorf("parity: tolerance must be >= 0, got %v", tol)
	}
	if ref.Len() != res.Len() {
		return Report{}, fmt.Errorf("%w: %d reference rows, %d computed bars", envelope.ErrLengthMismatch, ref.Len(), res.Len())
	}
	rep := Report{Tolerance: tol, Rows: res.Len(), Columns: map[string]*ColumnStats{}}
	pairs := []struct {
		name      string
		got, want []float64
	}{
		{"mid", res.Mid, ref.Mid},
		{"upper", res.Upper, ref.Upper},
		{"lower", res.Lower, ref.Lower},
	}
	for i := 0; i < rep.Rows; i++ {
		for _, p := range pairs {
			if p.want == nil {
				continue
			}
			st := rep.Columns[p.name]
			if st == nil {
				st = &ColumnStats{MaxDiffAt: -1}
				rep.Columns[p.name] = st
			}
			got, want := p.got[i], p.want[i]
			gd, wd := envelope.IsDefined(got), envelope.IsDefined(want)
			switch {
			case !gd && !wd:
				continue
			case gd != wd:
				st.Presence++
				rep.add(Mismatch{Index: i, Column: p.name, Got: got, Want: want, Diff: math.NaN(), Presence: true})
				continue
			}
			st.Compared++
			d := math.Abs(got - want)
			if d > st.MaxDiff || st.MaxDiffAt < 0 {
				st.MaxDiff, st.MaxDiffAt = d, i
			}
			if d > tol {
				st.Mismatches++
				rep.add(Mismatch{Index: i, Column: p.name, Got: got, Want: want, Diff: d})
			}
		}
	}
	return rep, nil
}

func (r *Report) add(m Mismatch) {
	if len(r.First) < MaxListed {
		r.First = append(r.First, m)
	}
}
