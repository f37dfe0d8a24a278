package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"nwenvelope/internal/model"
)

// State represents the breaker state.
type State int

const (
	StateClosed   State = 0 // writes pass through
	StateOpen     State = 1 // writes rejected until the cool-down elapses
	StateHalfOpen State = 2 // one trial write allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a write.
var ErrCircuitOpen = errors.New("redis: circuit breaker is open")

// Breaker trips after maxFailures consecutive errors and rejects calls
// for cooldown, then lets a single trial write decide whether to close again.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	// OnStateChange is called with the lock held; it must not call back in.
	OnStateChange func(from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
		}
		return nil
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(from, to)
	}
}

// GuardedPublisher puts a Breaker in front of an EnvelopePublisher.
// While the breaker is open, points are dropped (the next bar supersedes
// them) and signals are queued up to maxBacklog, oldest evicted first.
// Queued signals are flushed ahead of the next signal that gets through.
type GuardedPublisher struct {
	next       model.EnvelopePublisher
	breaker    *Breaker
	maxBacklog int

	mu      sync.Mutex
	backlog []model.SignalEvent

	// OnDrop is called for each point or signal that could not be kept.
	OnDrop func()
}

// NewGuardedPublisher wraps next.
func NewGuardedPublisher(next model.EnvelopePublisher, b *Breaker, maxBacklog int) *GuardedPublisher {
	if maxBacklog <= 0 {
		maxBacklog = 1000
	}
	return &GuardedPublisher{next: next, breaker: b, maxBacklog: maxBacklog}
}

// PublishPoint forwards p unless the breaker is open.
func (g *GuardedPublisher) PublishPoint(ctx context.Context, p model.EnvelopePoint) error {
	err := g.breaker.Do(func() error { return g.next.PublishPoint(ctx, p) })
	if errors.Is(err, ErrCircuitOpen) {
		g.drop()
		return nil
	}
	return err
}

// PublishSignal flushes any backlog, then forwards e. On failure e joins
// the backlog.
func (g *GuardedPublisher) PublishSignal(ctx context.Context, e model.SignalEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending := append(g.backlog, e)
	g.backlog = nil
	for i, ev := range pending {
		err := g.breaker.Do(func() error { return g.next.PublishSignal(ctx, ev) })
		if err != nil {
			g.enqueueLocked(pending[i:])
			if errors.Is(err, ErrCircuitOpen) {
				return nil
			}
			return err
		}
	}
	if len(pending) > 1 {
		log.Info().Str("component", "redis-guard").Int("count", len(pending)-1).Msg("flushed queued signals")
	}
	return nil
}

func (g *GuardedPublisher) enqueueLocked(evs []model.SignalEvent) {
	for _, ev := range evs {
		if len(g.backlog) >= g.maxBacklog {
			g.backlog = g.backlog[1:]
			g.drop()
		}
		g.backlog = append(g.backlog, ev)
	}
}

func (g *GuardedPublisher) drop() {
	if g.OnDrop != nil {
		g.OnDrop()
	}
}

// Pending returns the number of queued signals.
func (g *GuardedPublisher) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.backlog)
}

// Close closes the wrapped publisher.
func (g *GuardedPublisher) Close() error {
	return g.next.Close()
}
