package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestComputeOrderKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		if ComputeOrderKey(3, 7) != ComputeOrderKey(3, 7) {
			t.Error("same inputs produced different keys")
		}
	})

	t.Run("older runs sort first", func(t *testing.T) {
		if ComputeOrderKey(1, 1000) >= ComputeOrderKey(2, 0) {
			t.Error("every actor of run 1 must precede run 2")
		}
	})

	t.Run("topological order within a run", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			if ComputeOrderKey(5, i) >= ComputeOrderKey(5, i+1) {
				t.Fatalf("key(%d) >= key(%d)", i, i+1)
			}
		}
	})
}

func TestFrontier_Ordering(t *testing.T) {
	f := NewFrontier()
	keys := []uint64{
		ComputeOrderKey(2, 0),
		ComputeOrderKey(1, 3),
		ComputeOrderKey(1, 1),
		ComputeOrderKey(3, 0),
		ComputeOrderKey(1, 2),
	}
	for _, k := range keys {
		if err := f.Enqueue(WorkItem{OrderKey: k}); err != nil {
			t.Fatal(err)
		}
	}
	if f.Len() != len(keys) {
		t.Fatalf("Len = %d", f.Len())
	}

	want := []uint64{
		ComputeOrderKey(1, 1),
		ComputeOrderKey(1, 2),
		ComputeOrderKey(1, 3),
		ComputeOrderKey(2, 0),
		ComputeOrderKey(3, 0),
	}
	ctx := context.Background()
	for i, w := range want {
		item, err := f.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if item.OrderKey != w {
			t.Errorf("dequeue %d: key %d, want %d", i, item.OrderKey, w)
		}
	}
}

func TestFrontier_DequeueBlocksUntilEnqueue(t *testing.T) {
	f := NewFrontier()
	got := make(chan WorkItem, 1)
	go func() {
		item, err := f.Dequeue(context.Background())
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := f.Enqueue(WorkItem{OrderKey: 42}); err != nil {
		t.Fatal(err)
	}
	select {
	case item := <-got:
		if item.OrderKey != 42 {
			t.Errorf("got key %d", item.OrderKey)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Dequeue was not woken")
	}
}

func TestFrontier_ManyWorkersDrainEverything(t *testing.T) {
	f := NewFrontier()
	const items = 500
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	var done sync.WaitGroup
	done.Add(items)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := f.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.OrderKey] = true
				mu.Unlock()
				done.Done()
			}
		}()
	}
	for i := 0; i < items; i++ {
		if err := f.Enqueue(WorkItem{OrderKey: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	done.Wait()
	cancel()
	wg.Wait()

	if len(seen) != items {
		t.Errorf("drained %d distinct items, want %d", len(seen), items)
	}
}

func TestFrontier_Close(t *testing.T) {
	f := NewFrontier()
	_ = f.Enqueue(WorkItem{OrderKey: 1})
	_ = f.Enqueue(WorkItem{OrderKey: 2})

	rest := f.Close()
	if len(rest) != 2 {
		t.Fatalf("expected 2 leftover items, got %d", len(rest))
	}
	if f.Len() != 0 {
		t.Error("frontier should be empty after Close")
	}
	if err := f.Enqueue(WorkItem{}); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("Enqueue after Close: %v", err)
	}
	if _, err := f.Dequeue(context.Background()); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("Dequeue after Close: %v", err)
	}
	if again := f.Close(); len(again) != 0 {
		t.Error("second Close should return nothing")
	}
}

func TestFrontier_DequeueContextCancelled(t *testing.T) {
	f := NewFrontier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
