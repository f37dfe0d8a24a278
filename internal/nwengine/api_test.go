package nwengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/model"
)

func TestEnvelopeHandler(t *testing.T) {
	tr := mustTracker(t, envelope.Params{Bandwidth: 2, Window: 5, ErrorMultiplier: 1}, envelope.NonRepaint, 9)
	for _, c := range candles([]float64{100, 101, 102}) {
		tr.Apply(c)
	}
	h := envelopeHandler(tr)

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"found", "/envelope?key=NSE:99926000&tf=60", http.StatusOK},
		{"unknown tf", "/envelope?key=NSE:99926000&tf=300", http.StatusNotFound},
		{"missing tf", "/envelope?key=NSE:99926000", http.StatusBadRequest},
		{"missing exchange", "/envelope?key=99926000&tf=60", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (%s)", rec.Code, tt.code, rec.Body.String())
			}
			if tt.code != http.StatusOK {
				return
			}
			var pt model.EnvelopePoint
			if err := json.Unmarshal(rec.Body.Bytes(), &pt); err != nil {
				t.Fatal(err)
			}
			if pt.Price != 102 || pt.Bars != 3 || pt.Mid == nil {
				t.Errorf("unexpected point: %+v", pt)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/envelope?key=NSE:1&tf=60", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST code = %d", rec.Code)
	}
}

func TestSeriesHandler(t *testing.T) {
	tr := mustTracker(t, envelope.DefaultParams(), envelope.RepaintOnLast, 500)
	tr.Apply(candles([]float64{1})[0])

	rec := httptest.NewRecorder()
	seriesHandler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/series", nil))
	var body struct {
		Mode   string   `json:"mode"`
		Series []string `json:"series"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Mode != "repaint_on_last" || len(body.Series) != 1 || body.Series[0] != "NSE:99926000:60s" {
		t.Errorf("unexpected body: %+v", body)
	}
}
