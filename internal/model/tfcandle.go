package model

import (
	"encoding/json"
	"time"
)

// TFCandle represents a resampled OHLC candle for a dynamic timeframe.
// TF is the timeframe duration in seconds (e.g., 60 = 1 minute).
// All prices are in paise (int64) to avoid floating-point drift.
type TFCandle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`      // timeframe in seconds
	TS       time.Time `json:"ts"`      // bucket start time (UTC, TF-aligned)
	Open     int64     `json:"open"`    // paise
	High     int64     `json:"high"`    // paise
	Low      int64     `json:"low"`     // paise
	Close    int64     `json:"close"`   // paise
	Volume   int64     `json:"volume"`  // cumulative quantity
	Count    int       `json:"count"`   // number of 1s candles merged
	Forming  bool      `json:"forming"` // true if bucket is still open
}

// Key returns "exchange:token".
func (c *TFCandle) Key() string {
	return c.Exchange + ":" + c.Token
}

// SeriesKey identifies one price series: "exchange:token:TFs".
func (c *TFCandle) SeriesKey() string {
	return c.Exchange + ":" + c.Token + ":" + Itoa(c.TF) + "s"
}

// ClosePrice returns the close in rupees, the unit the envelope runs on.
func (c *TFCandle) ClosePrice() float64 {
	return PaiseToRupees(c.Close)
}

// StreamKey returns the Redis stream key: "candle:{TF}s:{exchange}:{token}".
func (c *TFCandle) StreamKey() string {
	return CandleStreamKey(c.TF, c.Exchange, c.Token)
}

// JSON returns the JSON-encoded TF candle.
func (c *TFCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CandleStreamKey builds "candle:{TF}s:{exchange}:{token}".
func CandleStreamKey(tf int, exchange, token string) string {
	return "candle:" + Itoa(tf) + "s:" + exchange + ":" + token
}

// Closes extracts close prices in rupees, preserving order.
func Closes(candles []TFCandle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].ClosePrice()
	}
	return out
}
