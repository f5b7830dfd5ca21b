package urlqueue

import (
	"testing"
	"time"
)

func TestOrderingByEarliestFetch(t *testing.T) {
	q := New()
	now := time.Now()

	q.Push(Entry{NormalizedURL: "c", EarliestFetch: now.Add(2 * time.Second)})
	q.Push(Entry{NormalizedURL: "a", EarliestFetch: now.Add(-1 * time.Second)})
	q.Push(Entry{NormalizedURL: "b", EarliestFetch: now})

	e, ok := q.TryPop(now.Add(3 * time.Second))
	if !ok || e.NormalizedURL != "a" {
		t.Fatalf("expected a first, got %+v ok=%v", e, ok)
	}
	e, ok = q.TryPop(now.Add(3 * time.Second))
	if !ok || e.NormalizedURL != "b" {
		t.Fatalf("expected b second, got %+v ok=%v", e, ok)
	}
	e, ok = q.TryPop(now.Add(3 * time.Second))
	if !ok || e.NormalizedURL != "c" {
		t.Fatalf("expected c third, got %+v ok=%v", e, ok)
	}
}

func TestFIFOTieBreakOnEqualEarliestFetch(t *testing.T) {
	q := New()
	at := time.Now()

	q.Push(Entry{NormalizedURL: "first", EarliestFetch: at})
	q.Push(Entry{NormalizedURL: "second", EarliestFetch: at})
	q.Push(Entry{NormalizedURL: "third", EarliestFetch: at})

	for _, want := range []string{"first", "second", "third"} {
		e, ok := q.TryPop(at)
		if !ok || e.NormalizedURL != want {
			t.Fatalf("expected %s, got %+v ok=%v", want, e, ok)
		}
	}
}

func TestTryPopWithheldUntilDue(t *testing.T) {
	q := New()
	now := time.Now()
	q.Push(Entry{NormalizedURL: "future", EarliestFetch: now.Add(time.Hour)})

	if _, ok := q.TryPop(now); ok {
		t.Fatalf("expected TryPop to withhold a not-yet-due entry")
	}
	if _, ok := q.TryPop(now.Add(2 * time.Hour)); !ok {
		t.Fatalf("expected TryPop to return the entry once due")
	}
}

func TestTryPopEmpty(t *testing.T) {
	q := New()
	if _, ok := q.TryPop(time.Now()); ok {
		t.Fatalf("expected empty queue to report ok=false")
	}
}

func TestWaitAndPopWakesOnPush(t *testing.T) {
	q := New()
	done := make(chan Entry, 1)

	go func() {
		e, ok := q.WaitAndPop(2 * time.Second)
		if ok {
			done <- e
		} else {
			close(done)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Entry{NormalizedURL: "woken", EarliestFetch: time.Now()})

	select {
	case e, ok := <-done:
		if !ok || e.NormalizedURL != "woken" {
			t.Fatalf("expected woken entry, got %+v ok=%v", e, ok)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("WaitAndPop did not wake on Push")
	}
}

func TestWaitAndPopWakesWhenEntryBecomesDue(t *testing.T) {
	q := New()
	q.Push(Entry{NormalizedURL: "soon", EarliestFetch: time.Now().Add(60 * time.Millisecond)})

	start := time.Now()
	e, ok := q.WaitAndPop(2 * time.Second)
	elapsed := time.Since(start)

	if !ok || e.NormalizedURL != "soon" {
		t.Fatalf("expected soon entry, got %+v ok=%v", e, ok)
	}
	if elapsed > 1*time.Second {
		t.Fatalf("expected WaitAndPop to return promptly once due, took %v", elapsed)
	}
}

func TestWaitAndPopTimesOut(t *testing.T) {
	q := New()
	start := time.Now()
	_, ok := q.WaitAndPop(50 * time.Millisecond)
	if ok {
		t.Fatalf("expected timeout on empty queue")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatalf("returned before the timeout elapsed")
	}
}

func TestShutdownWakesAllWaiters(t *testing.T) {
	q := New()
	const waiters = 5
	results := make(chan bool, waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			_, ok := q.WaitAndPop(2 * time.Second)
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	for i := 0; i < waiters; i++ {
		select {
		case ok := <-results:
			if ok {
				t.Fatalf("expected ok=false after shutdown with empty queue")
			}
		case <-time.After(1 * time.Second):
			t.Fatalf("not all waiters woke on Shutdown")
		}
	}
}

func TestShutdownDrainsRemainingBeforeRefusing(t *testing.T) {
	q := New()
	q.Push(Entry{NormalizedURL: "leftover", EarliestFetch: time.Now()})
	q.Shutdown()

	e, ok := q.TryPop(time.Now())
	if !ok || e.NormalizedURL != "leftover" {
		t.Fatalf("expected shutdown queue to still drain existing entries")
	}
	if _, ok := q.TryPop(time.Now()); ok {
		t.Fatalf("expected empty drained queue to report ok=false")
	}
}

func TestPushAfterShutdownIsNoOp(t *testing.T) {
	q := New()
	q.Shutdown()
	q.Push(Entry{NormalizedURL: "dropped", EarliestFetch: time.Now()})

	if !q.Empty() {
		t.Fatalf("expected Push after Shutdown to be dropped")
	}
}

func TestLenAndEmpty(t *testing.T) {
	q := New()
	if !q.Empty() || q.Len() != 0 {
		t.Fatalf("expected new queue to be empty")
	}
	q.Push(Entry{NormalizedURL: "x", EarliestFetch: time.Now()})
	if q.Empty() || q.Len() != 1 {
		t.Fatalf("expected queue to report one entry")
	}
}
