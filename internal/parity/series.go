package parity

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoPrices is returned for a price file without a single usable row.
var ErrNoPrices = errors.New("parity: no prices")

// LoadPricesFile opens path and parses it with ReadPrices.
func LoadPricesFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parity open %s: %w", path, err)
	}
	defer f.Close()
	return ReadPrices(bufio.NewReader(f))
}

// ReadPrices reads closes either as one value per row with no header, or
// from the close (or price) column of a headed CSV. Blank rows are skipped
// and any other unparsable cell is an error.
func ReadPrices(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoPrices
	}
	if err != nil {
		return nil, fmt.Errorf("parity read prices: %w", err)
	}

	col := 0
	var out []float64
	if v, err := strconv.ParseFloat(strings.TrimSpace(field(first, 0)), 64); err == nil {
		out = append(out, v)
	} else {
		cols := indexColumns(first)
		col = cols["close"]
		if col < 0 {
			col = cols["price"]
		}
		if col < 0 {
			return nil, fmt.Errorf("parity read prices: header %v has no close column", first)
		}
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parity read prices line %d: %w", line+1, err)
		}
		line++
		s := strings.TrimSpace(field(rec, col))
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parity read prices line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, ErrNoPrices
	}
	return out, nil
}
