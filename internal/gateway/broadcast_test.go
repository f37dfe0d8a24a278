package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"nwenvelope/internal/metrics"
)

// envelope is the parsed WS message structure.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
	Initial bool            `json:"initial"`
}

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewHub(zerolog.New(io.Discard), m), m
}

func recv(t *testing.T, c *Client) envelope {
	t.Helper()
	select {
	case raw := <-c.send:
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid envelope JSON: %v\nraw: %s", err, raw)
		}
		return env
	default:
		t.Fatal("expected a queued message")
	}
	return envelope{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected message: %s", raw)
	default:
	}
}

func TestBuildEnvelope(t *testing.T) {
	channel := "pub:nwe:point:60s:NSE:99926000"
	data := []byte(`{"mid":101.5,"upper":null}`)
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)

	var env envelope
	if err := json.Unmarshal(buildEnvelope(channel, data, now, 42, false), &env); err != nil {
		t.Fatal(err)
	}
	if env.Channel != channel || env.Seq != 42 || env.Initial {
		t.Errorf("unexpected envelope: %+v", env)
	}
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	if err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %q (%v)", env.TS, err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload["mid"] != 101.5 {
		t.Errorf("data = %s", env.Data)
	}
}

func TestBroadcast_FansOutToMatchingClients(t *testing.T) {
	hub, _ := newTestHub(t)
	all := newClient(hub, nil)
	nifty := newClient(hub, nil)
	nifty.Subscribe("NSE:99926000", 60)
	other := newClient(hub, nil)
	other.Subscribe("NSE:1", 300)

	for _, c := range []*Client{all, nifty, other} {
		hub.register(c, time.Time{})
	}

	hub.Broadcast("pub:nwe:signal:60s:NSE:99926000", []byte(`{"direction":"bullish"}`))

	if env := recv(t, all); env.Seq != 1 {
		t.Errorf("seq = %d", env.Seq)
	}
	if env := recv(t, nifty); env.Channel != "pub:nwe:signal:60s:NSE:99926000" {
		t.Errorf("channel = %s", env.Channel)
	}
	assertEmpty(t, other)

	hub.Broadcast("pub:nwe:signal:60s:NSE:99926000", []byte(`{"direction":"bearish"}`))
	if env := recv(t, all); env.Seq != 2 {
		t.Errorf("channel seq should increase, got %d", env.Seq)
	}
}

func TestRegister_SendsLatestPerChannel(t *testing.T) {
	hub, m := newTestHub(t)
	hub.Broadcast("pub:nwe:point:60s:NSE:1", []byte(`{"price":1}`))
	hub.Broadcast("pub:nwe:point:60s:NSE:1", []byte(`{"price":2}`))

	c := newClient(hub, nil)
	hub.register(c, time.Time{})

	env := recv(t, c)
	if !env.Initial || string(env.Data) != `{"price":2}` || env.Seq != 2 {
		t.Errorf("unexpected initial state: %+v data=%s", env, env.Data)
	}
	assertEmpty(t, c)

	if got := testutil.ToFloat64(m.GatewayClients); got != 1 {
		t.Errorf("clients gauge = %v", got)
	}
	hub.RemoveClient(c)
	hub.RemoveClient(c) // second removal is a no-op
	if hub.ClientCount() != 0 || testutil.ToFloat64(m.GatewayClients) != 0 {
		t.Error("client not removed")
	}
}

func TestRegister_SinceSkipsOlder(t *testing.T) {
	hub, _ := newTestHub(t)
	hub.Broadcast("pub:nwe:point:60s:NSE:1", []byte(`{}`))

	c := newClient(hub, nil)
	hub.register(c, time.Now().Add(time.Minute))
	assertEmpty(t, c)
}

func TestBroadcast_SlowClientDrops(t *testing.T) {
	hub, m := newTestHub(t)
	c := newClient(hub, nil)
	hub.register(c, time.Time{})

	for i := 0; i < sendBuffer+3; i++ {
		hub.Broadcast("pub:nwe:point:60s:NSE:1", []byte(`{}`))
	}
	if len(c.send) != sendBuffer {
		t.Errorf("queue = %d, want %d", len(c.send), sendBuffer)
	}
	if got := testutil.ToFloat64(m.GatewayDrops); got != 3 {
		t.Errorf("drops = %v, want 3", got)
	}
}

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		kind string
		tf   int
	}{
		{"pub:nwe:point:60s:NSE:99926000", true, "point", 60},
		{"pub:nwe:signal:300s:BSE:1", true, "signal", 300},
		{"pub:candle:60s:NSE:1", false, "", 0},
		{"pub:nwe:point:xs:NSE:1", false, "", 0},
	}
	for _, tt := range tests {
		pc, ok := parseChannel(tt.in)
		if ok != tt.ok || pc.kind != tt.kind || pc.tf != tt.tf {
			t.Errorf("parseChannel(%q) = %+v, %v", tt.in, pc, ok)
		}
	}
}

func TestHandleMissed(t *testing.T) {
	hub, _ := newTestHub(t)
	ch := "pub:nwe:signal:60s:NSE:1"
	for i := 0; i < 5; i++ {
		hub.Broadcast(ch, []byte(`{}`))
	}
	mux := http.NewServeMux()
	RegisterRoutes(mux, hub)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missed?channel="+ch+"&from=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var body struct {
		Messages []envelope `json:"messages"`
		Seq      int64      `json:"seq"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Messages) != 3 || body.Messages[0].Seq != 3 || body.Seq != 5 {
		t.Errorf("unexpected body: %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/missed?channel="+ch, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing from: code = %d", rec.Code)
	}
}

func TestClientHandle(t *testing.T) {
	hub, _ := newTestHub(t)
	c := newClient(hub, nil)

	c.handle(subscribeMsg{Type: "SUBSCRIBE", Symbol: "NSE:1", TF: 60})
	if !c.matchesChannel("pub:nwe:point:60s:NSE:1") || c.matchesChannel("pub:nwe:point:60s:NSE:2") {
		t.Error("subscription filter not applied")
	}
	<-c.send // subscribed ack

	c.handle(subscribeMsg{Type: "SUBSCRIBE"})
	var errMsg map[string]interface{}
	json.Unmarshal(<-c.send, &errMsg)
	if errMsg["type"] != "error" {
		t.Errorf("expected error reply, got %v", errMsg)
	}

	c.handle(subscribeMsg{Type: "UNSUBSCRIBE", Symbol: "NSE:1", TF: 60})
	if !c.matchesChannel("pub:nwe:point:60s:NSE:2") {
		t.Error("no subscriptions should match everything")
	}
}
