package emit

import "sync"

// BufferedEmitter stores events in memory, grouped by run ID, and answers
// history queries. It is meant for tests and debugging; every event is kept
// until Clear is called.
//
// Example:
//
//	buf := emit.NewBufferedEmitter()
//	rt, _ := graph.NewRuntime(ag, executors, graph.WithEmitter(buf))
//	oc, _ := rt.Start(ctx, inputs)
//	_, _ = oc.Wait(ctx)
//	failures := buf.GetHistoryWithFilter(oc.RunID, emit.HistoryFilter{Msg: emit.MsgActorFailed})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []string
}

// HistoryFilter selects events. Set fields are combined with AND.
type HistoryFilter struct {
	ActorID    string // exact actor name (empty = any)
	Msg        string // exact message (empty = any)
	ErrorsOnly bool   // only events carrying Meta["error"]
}

func (f HistoryFilter) empty() bool {
	return f.ActorID == "" && f.Msg == "" && !f.ErrorsOnly
}

func (f HistoryFilter) match(e Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Msg != "" && e.Msg != f.Msg {
		return false
	}
	if f.ErrorsOnly && !e.IsError() {
		return false
	}
	return true
}

// NewBufferedEmitter returns an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.events[event.RunID]; !ok {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of the run's events in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the run's events matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if filter.empty() {
		out := make([]Event, len(events))
		copy(out, events)
		return out
	}
	out := []Event{}
	for _, e := range events {
		if filter.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Runs returns the run IDs seen so far, in first-event order.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Clear removes the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}
	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
