package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// TestOpContext_FiresExactlyOnce delivers a fan-in actor's messages from many
// goroutines and checks that exactly one delivery reports readiness.
func TestOpContext_FiresExactlyOnce(t *testing.T) {
	const inputs = 16
	a := &Actor{Name: "join", threshold: inputs + 1}

	for trial := 0; trial < 50; trial++ {
		oc := newOpContext(context.Background(), "run", 1, 0)
		var fired atomic.Int32
		var got map[string]*Tensor

		var wg sync.WaitGroup
		for i := 0; i < inputs; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				name := string(rune('a' + i))
				if data, ok := oc.Deliver(a, name, &Tensor{Name: name}); ok {
					fired.Add(1)
					got = data
				}
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if data, ok := oc.Signal(a); ok {
				fired.Add(1)
				got = data
			}
		}()
		wg.Wait()

		if fired.Load() != 1 {
			t.Fatalf("trial %d: actor fired %d times", trial, fired.Load())
		}
		if len(got) != inputs {
			t.Fatalf("trial %d: fired with %d data inputs, want %d", trial, len(got), inputs)
		}
		if _, ok := oc.Deliver(a, "late", &Tensor{}); ok {
			t.Fatalf("trial %d: actor fired again after threshold", trial)
		}
	}
}

func TestOpContext_FirstFailureWins(t *testing.T) {
	oc := newOpContext(context.Background(), "run", 7, 1)
	first := errors.New("first")
	if !oc.SetFailed("a", first) {
		t.Fatal("first failure should be recorded")
	}

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if oc.SetFailed("b", errors.New("later")) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 0 || oc.Err() != first {
		t.Fatalf("later failures replaced the first: winners=%d err=%v", winners.Load(), oc.Err())
	}
	if oc.Suppressed() != 9 {
		t.Errorf("expected 9 suppressed failures, got %d", oc.Suppressed())
	}
	if !oc.Failed() || oc.State("a") != StateFailed {
		t.Error("run and actor should be failed")
	}

	// Deliveries into a failed run are dropped.
	if _, ok := oc.Deliver(&Actor{Name: "b", threshold: 1}, "t", &Tensor{}); ok {
		t.Error("failed run must not fire further actors")
	}
}

func TestOpContext_StateNeverLeavesFailed(t *testing.T) {
	oc := newOpContext(context.Background(), "run", 1, 0)
	oc.setState("a", StateRunning)
	oc.SetFailed("a", errors.New("boom"))
	oc.setState("a", StateCompleted)
	if oc.State("a") != StateFailed {
		t.Errorf("state = %v, want failed", oc.State("a"))
	}
	if oc.State("never") != StateIdle {
		t.Errorf("unknown actor state = %v, want idle", oc.State("never"))
	}
}

func TestOpContext_DrainAndResult(t *testing.T) {
	t.Run("all outputs collected", func(t *testing.T) {
		oc := newOpContext(context.Background(), "run", 1, 1)
		var drained atomic.Int32
		oc.onDrain = func(*OpContext) { drained.Add(1) }

		oc.acquire(2)
		oc.collect("y", &Tensor{Name: "y"})
		oc.release()
		select {
		case <-oc.Done():
			t.Fatal("done closed while work was pending")
		default:
		}
		oc.release()

		out, err := oc.Wait(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out["y"] == nil || drained.Load() != 1 {
			t.Errorf("out=%v drained=%d", out, drained.Load())
		}
	})

	t.Run("missing output is no progress", func(t *testing.T) {
		oc := newOpContext(context.Background(), "run", 3, 2)
		oc.acquire(1)
		oc.collect("y", &Tensor{})
		oc.release()
		_, err := oc.Wait(context.Background())
		if !errors.Is(err, ErrNoProgress) {
			t.Fatalf("expected ErrNoProgress, got %v", err)
		}
	})

	t.Run("failure discards partial outputs", func(t *testing.T) {
		oc := newOpContext(context.Background(), "run", 1, 1)
		oc.acquire(1)
		oc.collect("y", &Tensor{})
		oc.SetFailed("a", ErrBackendExecution)
		oc.release()
		out, err := oc.Wait(context.Background())
		if out != nil || !errors.Is(err, ErrBackendExecution) {
			t.Fatalf("out=%v err=%v", out, err)
		}
	})

	t.Run("final error after success", func(t *testing.T) {
		oc := newOpContext(context.Background(), "run", 1, 0)
		oc.acquire(1)
		oc.setFinalErr(errors.New("store down"))
		oc.release()
		if _, err := oc.Wait(context.Background()); err == nil || err.Error() != "store down" {
			t.Fatalf("expected final error, got %v", err)
		}
	})

	t.Run("cancelled wait does not fail the run", func(t *testing.T) {
		oc := newOpContext(context.Background(), "run", 5, 1)
		oc.acquire(1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := oc.Wait(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if oc.Failed() {
			t.Errorf("abandoned wait should leave the run open, got %v", oc.Err())
		}
		oc.release()
		if _, err := oc.Wait(context.Background()); !errors.Is(err, ErrNoProgress) {
			t.Errorf("expected ErrNoProgress once drained without outputs, got %v", err)
		}
	})
}
