package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers the WebSocket and REST routes on mux.
func RegisterRoutes(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/api/latest", hub.handleLatest)
	mux.HandleFunc("/api/missed", hub.handleMissed)
}

// ServeWS upgrades the connection and starts the client pumps.
// ?last_ts=RFC3339Nano limits the initial state to newer messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	conn.EnableWriteCompression(true)

	var since time.Time
	if v := r.URL.Query().Get("last_ts"); v != "" {
		since, _ = time.Parse(time.RFC3339Nano, v)
	}

	c := newClient(h, conn)
	if sym, tf := r.URL.Query().Get("symbol"), r.URL.Query().Get("tf"); sym != "" {
		if n, err := strconv.Atoi(tf); err == nil && n > 0 {
			c.Subscribe(sym, n)
		}
	}
	h.register(c, since)
	go c.writePump()
	go c.readPump()
}

func (h *Hub) handleLatest(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.LatestAll())
}

// handleMissed serves GET /api/missed?channel=...&from=N&to=M for gap backfill.
func (h *Hub) handleMissed(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	q := r.URL.Query()
	channel := q.Get("channel")
	from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
	to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || errFrom != nil {
		http.Error(w, `{"error":"channel and from are required"}`, http.StatusBadRequest)
		return
	}
	if errTo != nil {
		to = h.ChannelSeq(channel)
	}

	raw := h.ReplayRange(channel, from, to)
	msgs := make([]json.RawMessage, len(raw))
	for i, b := range raw {
		msgs[i] = b
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"channel":  channel,
		"messages": msgs,
		"seq":      h.ChannelSeq(channel),
	})
}
