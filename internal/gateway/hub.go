package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nwenvelope/internal/metrics"
)

const (
	sendBuffer       = 256
	replayPerChannel = 500
)

// Hub manages WebSocket clients and fans out envelope channels to them.
// It keeps the newest message per channel for clients that join late, and a
// per-channel replay ring for gap backfill.
type Hub struct {
	log  zerolog.Logger
	prom *metrics.Metrics // optional

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub. prom may be nil.
func NewHub(log zerolog.Logger, prom *metrics.Metrics) *Hub {
	return &Hub{
		log:         log.With().Str("component", "gateway").Logger(),
		prom:        prom,
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// register adds a client and queues the current latest message of every
// channel it matches, newer than since when since is set.
func (h *Hub) register(c *Client, since time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.updateGauge()

	for channel, entry := range h.latest {
		if !since.IsZero() && !entry.TS.After(since) {
			continue
		}
		if !c.matchesChannel(channel) {
			continue
		}
		select {
		case c.send <- buildEnvelope(channel, entry.Data, entry.TS, entry.Seq, true):
		default:
		}
	}
	h.log.Info().Int("clients", len(h.clients)).Msg("ws client connected")
}

// RemoveClient removes a client from the hub and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.updateGauge()
}

func (h *Hub) updateGauge() {
	if h.prom != nil {
		h.prom.GatewayClients.Set(float64(len(h.clients)))
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LatestAll returns a snapshot of the newest payload per channel.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns buffered envelopes for a channel with channel seq in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}
