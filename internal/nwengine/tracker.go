package nwengine

import (
	"fmt"
	"sort"
	"sync"

	"nwenvelope/internal/envelope"
	"nwenvelope/internal/model"
	"nwenvelope/internal/ringbuf"
)

// series is the rolling state of one exchange:token:TF price series.
type series struct {
	window  *ringbuf.Window
	scratch []float64
	latest  model.EnvelopePoint
	hasHead bool
}

// Update is the outcome of feeding one completed candle to a series.
type Update struct {
	Point  model.EnvelopePoint
	Signal *model.SignalEvent // nil when the newest pair does not cross
	Stale  bool               // candle not newer than the series head; nothing else is set
}

// Tracker keeps a bounded close-price history per series and recomputes
// the envelope over it on every completed candle. Safe for concurrent use.
type Tracker struct {
	params      envelope.Params
	mode        envelope.Mode
	historyBars int

	mu     sync.RWMutex
	series map[string]*series
}

// NewTracker validates the live parameters. Full-history replay is an
// offline mode only: its past values change on every bar. historyBars must
// cover Params.MinHistory so the bounded window matches the full series.
func NewTracker(p envelope.Params, mode envelope.Mode, historyBars int) (*Tracker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if mode != envelope.NonRepaint && mode != envelope.RepaintOnLast {
		return nil, fmt.Errorf("%w: mode %s is not supported live", envelope.ErrInvalidParameter, mode)
	}
	if need := p.MinHistory(mode); historyBars < need {
		return nil, fmt.Errorf("%w: history %d shorter than %d bars needed by %s",
			envelope.ErrInvalidParameter, historyBars, need, mode)
	}
	return &Tracker{
		params:      p,
		mode:        mode,
		historyBars: historyBars,
		series:      make(map[string]*series),
	}, nil
}

// Mode returns the live envelope mode.
func (t *Tracker) Mode() envelope.Mode { return t.mode }

// Apply feeds a completed candle into its series. Forming candles must be
// filtered by the caller.
func (t *Tracker) Apply(c model.TFCandle) (Update, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := c.SeriesKey()
	s, ok := t.series[key]
	if !ok {
		s = &series{window: ringbuf.New(t.historyBars)}
		t.series[key] = s
	}
	if ts, _, ok := s.window.Last(); ok && !c.TS.After(ts) {
		return Update{Stale: true}, nil
	}

	s.window.Push(c.TS, c.ClosePrice())
	s.scratch = s.window.Values(s.scratch)

	res, err := envelope.Compute(s.scratch, t.params, t.mode)
	if err != nil {
		return Update{}, fmt.Errorf("compute %s: %w", key, err)
	}

	last := len(s.scratch) - 1
	pt := model.EnvelopePoint{
		Token:    c.Token,
		Exchange: c.Exchange,
		TF:       c.TF,
		TS:       c.TS,
		Mode:     t.mode.String(),
		Bars:     len(s.scratch),
		Price:    s.scratch[last],
		Mid:      model.OptFloat(res.Mid[last]),
		Upper:    model.OptFloat(res.Upper[last]),
		Lower:    model.OptFloat(res.Lower[last]),
		MAE:      model.OptFloat(res.MAE[last]),
	}
	s.latest = pt
	s.hasHead = true

	up := Update{Point: pt}
	if sig := envelope.LastSignal(s.scratch, res); sig != envelope.None {
		band := res.Upper[last-1]
		dir := model.DirectionBearish
		if sig == envelope.BullishCross {
			band = res.Lower[last-1]
			dir = model.DirectionBullish
		}
		up.Signal = &model.SignalEvent{
			Token:     c.Token,
			Exchange:  c.Exchange,
			TF:        c.TF,
			TS:        c.TS,
			Index:     last,
			Direction: dir,
			Price:     s.scratch[last],
			Band:      band,
			Mode:      t.mode.String(),
		}
	}
	return up, nil
}

// Latest returns the newest point for a series key ("exchange:token:TFs").
func (t *Tracker) Latest(key string) (model.EnvelopePoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[key]
	if !ok || !s.hasHead {
		return model.EnvelopePoint{}, false
	}
	return s.latest, true
}

// Len returns the number of tracked series.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.series)
}

// Keys returns the tracked series keys in sorted order.
func (t *Tracker) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.series))
	for k := range t.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
