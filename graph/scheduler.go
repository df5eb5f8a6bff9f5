package graph

import (
	"container/heap"
	"context"
	"sync"
)

// WorkItem is one actor firing for one run, queued in the Frontier once the
// actor's accumulated inputs reached its threshold.
type WorkItem struct {
	// OrderKey orders queued firings: earlier runs first, then topological
	// position within the run.
	OrderKey uint64

	Actor *Actor
	Run   *OpContext

	// Inputs are the accumulated data messages keyed by tensor name.
	Inputs map[string]*Tensor
}

// ComputeOrderKey packs a run sequence number and an actor's topological
// index into a sort key. Older runs drain first so a burst of new runs cannot
// starve one already in flight.
func ComputeOrderKey(seq uint64, actorIndex int) uint64 {
	return seq<<24 | uint64(actorIndex)&0xFFFFFF
}

// workHeap implements heap.Interface as a min-heap on OrderKey.
type workHeap []WorkItem

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool { return h[i].OrderKey < h[j].OrderKey }

func (h workHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *workHeap) Push(x any) { *h = append(*h, x.(WorkItem)) }

func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = WorkItem{}
	*h = old[:n-1]
	return item
}

// Frontier is the runtime's shared ready queue. It is unbounded: workers
// enqueue successors while holding no other resource, so a bound could only
// deadlock the pool.
//
// Thread-safety: all methods are safe for concurrent use.
type Frontier struct {
	mu       sync.Mutex
	heap     workHeap
	isClosed bool
	wake     chan struct{}
	closed   chan struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	f := &Frontier{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	heap.Init(&f.heap)
	return f
}

// Enqueue adds a work item. It never blocks.
func (f *Frontier) Enqueue(item WorkItem) error {
	f.mu.Lock()
	if f.isClosed {
		f.mu.Unlock()
		return ErrRuntimeClosed
	}
	heap.Push(&f.heap, item)
	f.mu.Unlock()
	f.notify()
	return nil
}

func (f *Frontier) notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes the item with the smallest OrderKey, blocking until one is
// available, ctx is done, or the frontier is closed.
func (f *Frontier) Dequeue(ctx context.Context) (WorkItem, error) {
	for {
		f.mu.Lock()
		if f.heap.Len() > 0 {
			item := heap.Pop(&f.heap).(WorkItem)
			more := f.heap.Len() > 0
			f.mu.Unlock()
			if more {
				// Pass the wakeup on so another idle worker picks up the rest.
				f.notify()
			}
			return item, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, ctx.Err()
		case <-f.closed:
			return WorkItem{}, ErrRuntimeClosed
		case <-f.wake:
		}
	}
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// Close wakes every blocked Dequeue and rejects further Enqueues. Items still
// queued are returned so the caller can retire them.
func (f *Frontier) Close() []WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isClosed {
		f.isClosed = true
		close(f.closed)
	}
	rest := make([]WorkItem, len(f.heap))
	copy(rest, f.heap)
	f.heap = f.heap[:0]
	return rest
}
