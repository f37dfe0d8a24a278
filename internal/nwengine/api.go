package nwengine

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// envelopeHandler serves GET /envelope?key=NSE:123&tf=60 with the newest point.
func (svc *Service) envelopeHandler() http.Handler {
	return envelopeHandler(svc.tracker)
}

func (svc *Service) seriesHandler() http.Handler {
	return seriesHandler(svc.tracker)
}

func envelopeHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		tf, err := strconv.Atoi(r.URL.Query().Get("tf"))
		if key == "" || !strings.Contains(key, ":") || err != nil || tf <= 0 {
			http.Error(w, "key=exchange:token and tf=seconds are required", http.StatusBadRequest)
			return
		}
		pt, ok := t.Latest(key + ":" + strconv.Itoa(tf) + "s")
		if !ok {
			http.Error(w, "series not tracked", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pt)
	}
}

// seriesHandler lists tracked series keys.
func seriesHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mode":   t.Mode().String(),
			"series": t.Keys(),
		})
	}
}
