package model

import (
	"encoding/json"
	"time"
)

// EnvelopePoint is the newest envelope row for one instrument and TF.
// Nil band fields mean the position is undefined in the active mode.
type EnvelopePoint struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"`
	Mode     string    `json:"mode"`
	Bars     int       `json:"bars"` // history length the point was computed over
	Price    float64   `json:"price"`
	Mid      *float64  `json:"mid"`
	Upper    *float64  `json:"upper"`
	Lower    *float64  `json:"lower"`
	MAE      *float64  `json:"mae"`
}

// Defined reports whether both mid and MAE are set.
func (p *EnvelopePoint) Defined() bool {
	return p.Mid != nil && p.MAE != nil
}

// MarshalJSON adds a "defined" flag next to the point fields.
func (p EnvelopePoint) MarshalJSON() ([]byte, error) {
	type plain EnvelopePoint
	return json.Marshal(struct {
		plain
		Defined bool `json:"defined"`
	}{plain(p), p.Defined()})
}

// LatestKey returns "nwe:{mode}:{TF}s:latest:{exchange}:{token}".
func (p *EnvelopePoint) LatestKey() string {
	return "nwe:" + p.Mode + ":" + Itoa(p.TF) + "s:latest:" + p.Exchange + ":" + p.Token
}

// PubSubChannel returns "pub:nwe:point:{TF}s:{exchange}:{token}".
func (p *EnvelopePoint) PubSubChannel() string {
	return "pub:nwe:point:" + Itoa(p.TF) + "s:" + p.Exchange + ":" + p.Token
}

// JSON returns the JSON-encoded point.
func (p *EnvelopePoint) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}

// Crossing directions carried by SignalEvent.Direction.
const (
	DirectionBullish = "bullish"
	DirectionBearish = "bearish"
)

// SignalEvent is a band crossing detected on the newest bar of a series.
type SignalEvent struct {
	Token     string    `json:"token"`
	Exchange  string    `json:"exchange"`
	TF        int       `json:"tf"`
	TS        time.Time `json:"ts"`
	Index     int       `json:"index"` // bar index inside the history window
	Direction string    `json:"direction"`
	Price     float64   `json:"price"`
	Band      float64   `json:"band"` // band level of the older bar that was crossed
	Mode      string    `json:"mode"`
}

// StreamKey returns "nwe:signal:{TF}s:{exchange}:{token}".
func (e *SignalEvent) StreamKey() string {
	return "nwe:signal:" + Itoa(e.TF) + "s:" + e.Exchange + ":" + e.Token
}

// PubSubChannel returns "pub:nwe:signal:{TF}s:{exchange}:{token}".
func (e *SignalEvent) PubSubChannel() string {
	return "pub:nwe:signal:" + Itoa(e.TF) + "s:" + e.Exchange + ":" + e.Token
}

// JSON returns the JSON-encoded event.
func (e *SignalEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
