package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"nwenvelope/internal/model"
)

var errFail = errors.New("fail")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(max int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)}
	b := NewBreaker(max, cooldown)
	b.now = clk.now
	return b, clk
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errFail }); err != errFail {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}
	called := false
	if err := b.Do(func() error { called = true; return nil }); err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_TrialWriteCloses(t *testing.T) {
	b, clk := newTestBreaker(1, time.Second)
	var transitions []State
	b.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	b.Do(func() error { return errFail })
	clk.t = clk.t.Add(2 * time.Second)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("trial write: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %v", b.State())
	}
	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clk := newTestBreaker(5, time.Second)
	for i := 0; i < 5; i++ {
		b.Do(func() error { return errFail })
	}
	clk.t = clk.t.Add(2 * time.Second)
	b.Do(func() error { return errFail })
	if b.State() != StateOpen {
		t.Errorf("failed trial write should reopen, got %v", b.State())
	}
}

// ── GuardedPublisher ──

type fakePublisher struct {
	fail    bool
	points  []model.EnvelopePoint
	signals []model.SignalEvent
}

func (f *fakePublisher) PublishPoint(_ context.Context, p model.EnvelopePoint) error {
	if f.fail {
		return errFail
	}
	f.points = append(f.points, p)
	return nil
}

func (f *fakePublisher) PublishSignal(_ context.Context, e model.SignalEvent) error {
	if f.fail {
		return errFail
	}
	f.signals = append(f.signals, e)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestGuardedPublisher_QueuesSignalsWhileOpen(t *testing.T) {
	ctx := context.Background()
	next := &fakePublisher{fail: true}
	b, clk := newTestBreaker(1, time.Second)
	drops := 0
	g := NewGuardedPublisher(next, b, 2)
	g.OnDrop = func() { drops++ }

	// First failure trips the breaker and is reported.
	if err := g.PublishSignal(ctx, model.SignalEvent{Index: 1}); err != errFail {
		t.Fatalf("expected errFail, got %v", err)
	}
	// Open: queued silently, and the oldest is evicted past the cap.
	g.PublishSignal(ctx, model.SignalEvent{Index: 2})
	g.PublishSignal(ctx, model.SignalEvent{Index: 3})
	if g.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", g.Pending())
	}
	if err := g.PublishPoint(ctx, model.EnvelopePoint{}); err != nil {
		t.Fatalf("point while open should be dropped quietly: %v", err)
	}
	if drops != 2 {
		t.Errorf("drops = %d, want 2", drops)
	}

	next.fail = false
	clk.t = clk.t.Add(2 * time.Second)
	if err := g.PublishSignal(ctx, model.SignalEvent{Index: 4}); err != nil {
		t.Fatal(err)
	}
	if g.Pending() != 0 {
		t.Errorf("backlog not flushed: %d", g.Pending())
	}
	got := []int{}
	for _, s := range next.signals {
		got = append(got, s.Index)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivered %v, want %v", got, want)
		}
	}
}
