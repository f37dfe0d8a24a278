package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "exchange:token:tf"
	subMu sync.RWMutex
	subs  map[string]bool
}

// subscribeMsg is {"type":"SUBSCRIBE","symbol":"NSE:99926000","tf":60}.
type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	TF     int    `json:"tf"`
	Ping   int64  `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
		subs: make(map[string]bool),
	}
}

func subKey(symbol string, tf int) string {
	return symbol + ":" + strconv.Itoa(tf)
}

// Subscribe narrows delivery to a symbol and TF. With no subscriptions the
// client receives every channel.
func (c *Client) Subscribe(symbol string, tf int) {
	c.subMu.Lock()
	c.subs[subKey(symbol, tf)] = true
	c.subMu.Unlock()
}

// Unsubscribe removes a symbol/TF subscription.
func (c *Client) Unsubscribe(symbol string, tf int) {
	c.subMu.Lock()
	delete(c.subs, subKey(symbol, tf))
	c.subMu.Unlock()
}

// matchesChannel checks a pub:nwe:{kind}:{TF}s:{exchange}:{token} channel
// against this client's subscriptions.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	pc, ok := parseChannel(channel)
	if !ok {
		return true // non-series channel, always deliver
	}
	return c.subs[subKey(pc.exchange+":"+pc.token, pc.tf)]
}

// parsedChannel holds the components of an envelope Pub/Sub channel.
type parsedChannel struct {
	kind     string // "point" or "signal"
	tf       int
	exchange string
	token    string
}

// parseChannel parses "pub:nwe:point:60s:NSE:99926000".
func parseChannel(channel string) (parsedChannel, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 6 || parts[0] != "pub" || parts[1] != "nwe" {
		return parsedChannel{}, false
	}
	tf, err := strconv.Atoi(strings.TrimSuffix(parts[3], "s"))
	if err != nil || tf <= 0 {
		return parsedChannel{}, false
	}
	return parsedChannel{kind: parts[2], tf: tf, exchange: parts[4], token: parts[5]}, true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info().Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg subscribeMsg) {
	switch msg.Type {
	case "SUBSCRIBE":
		if msg.Symbol == "" || msg.TF <= 0 {
			c.sendJSON(map[string]interface{}{"type": "error", "message": "symbol and tf are required"})
			return
		}
		c.Subscribe(msg.Symbol, msg.TF)
		c.sendJSON(map[string]interface{}{"type": "subscribed", "symbol": msg.Symbol, "tf": msg.TF})
	case "UNSUBSCRIBE":
		c.Unsubscribe(msg.Symbol, msg.TF)
	default:
		if msg.Ping > 0 {
			c.sendJSON(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
		}
	}
}

func (c *Client) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
