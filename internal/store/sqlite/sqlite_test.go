package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/model"
)

func openTemp(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nwe.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func TestTFCandles_RoundTrip(t *testing.T) {
	w, r := openTemp(t)
	t0 := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

	var batch []model.TFCandle
	for i := 0; i < 5; i++ {
		batch = append(batch, model.TFCandle{
			Token: "1", Exchange: "NSE", TF: 60,
			TS:    t0.Add(time.Duration(i) * time.Minute),
			Open:  int64(100 + i), High: int64(110 + i), Low: int64(90 + i),
			Close: int64(10000 + 100*i), Volume: 5, Count: 60,
		})
	}
	if err := w.InsertTFCandles(batch); err != nil {
		t.Fatalf("InsertTFCandles: %v", err)
	}

	got, err := r.ReadTFCandles("NSE", "1", 60, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[4].Close != 10400 || !got[0].TS.Equal(t0) {
		t.Fatalf("unexpected candles: %+v", got)
	}

	latest, err := r.ReadLatestTFCandles("NSE", "1", 60, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].Close != 10300 || latest[1].Close != 10400 {
		t.Fatalf("latest should be the newest two, oldest first: %+v", latest)
	}
}

func TestSaveRun_StoresUndefinedAsNull(t *testing.T) {
	w, r := openTemp(t)
	prices := []float64{1, 2, 3, 10, 3, 2, 1}
	p := envelope.Params{Bandwidth: 1, Window: 3, ErrorMultiplier: 1}

	res, err := envelope.Compute(prices, p, envelope.RepaintOnLast)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := envelope.DetectCrossings(prices, res)
	if err != nil {
		t.Fatal(err)
	}

	id, err := w.SaveRun(context.Background(), Run{Exchange: "NSE", Token: "1", TF: 60, Prices: prices, Result: res, Signals: sig})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	points, err := r.ReadRunPoints(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != len(prices) {
		t.Fatalf("points = %d", len(points))
	}
	if !math.IsNaN(points[0].Mid) || !math.IsNaN(points[0].MAE) {
		t.Errorf("position 0 should be undefined, got %+v", points[0])
	}
	if math.Abs(points[6].Mid-res.Mid[6]) > 1e-12 || math.Abs(points[6].Upper-res.Upper[6]) > 1e-12 {
		t.Errorf("position 6 mismatch: %+v vs mid %v", points[6], res.Mid[6])
	}
}

func TestSaveRun_LengthMismatch(t *testing.T) {
	w, _ := openTemp(t)
	res, err := envelope.Compute([]float64{1, 2, 3}, envelope.DefaultParams(), envelope.NonRepaint)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.SaveRun(context.Background(), Run{Prices: []float64{1, 2}, Result: res}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
