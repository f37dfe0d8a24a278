package ringbuf

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)

func bar(i int) time.Time { return t0.Add(time.Duration(i) * time.Minute) }

func TestWindow_Empty(t *testing.T) {
	w := New(3)
	if w.Len() != 0 || w.Cap() != 3 {
		t.Fatalf("len=%d cap=%d", w.Len(), w.Cap())
	}
	if _, _, ok := w.Last(); ok {
		t.Fatal("Last on empty window should report !ok")
	}
	if got := w.Values(nil); len(got) != 0 {
		t.Fatalf("expected no values, got %v", got)
	}
}

func TestWindow_OrderBeforeAndAfterWrap(t *testing.T) {
	w := New(3)
	w.Push(bar(0), 1)
	w.Push(bar(1), 2)

	assertValues(t, w.Values(nil), []float64{1, 2})

	w.Push(bar(2), 3)
	w.Push(bar(3), 4) // evicts 1
	w.Push(bar(4), 5) // evicts 2

	assertValues(t, w.Values(nil), []float64{3, 4, 5})
	if w.Len() != 3 {
		t.Errorf("len = %d", w.Len())
	}
	if w.Overwrites() != 2 {
		t.Errorf("overwrites = %d, want 2", w.Overwrites())
	}

	ts, p, ok := w.Last()
	if !ok || p != 5 || !ts.Equal(bar(4)) {
		t.Errorf("Last = %v %v %v", ts, p, ok)
	}
}

func TestWindow_ValuesReusesBuffer(t *testing.T) {
	w := New(4)
	for i := 0; i < 10; i++ {
		w.Push(bar(i), float64(i))
	}
	buf := make([]float64, 0, 8)
	got := w.Values(buf)
	assertValues(t, got, []float64{6, 7, 8, 9})
	if &got[0] != &buf[:1][0] {
		t.Error("Values should reuse dst capacity")
	}
}

func TestWindow_MinimumCapacity(t *testing.T) {
	w := New(0)
	if w.Cap() != 1 {
		t.Fatalf("cap = %d, want 1", w.Cap())
	}
	w.Push(bar(0), 7)
	w.Push(bar(1), 8)
	assertValues(t, w.Values(nil), []float64{8})
}

func assertValues(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("values = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("values = %v, want %v", got, want)
		}
	}
}
