package graph

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

// OpContext is the per-run state shared by every actor taking part in one
// run: the run's sequence number, its first failure, and the input
// accumulation slots keyed by actor. Nothing in an OpContext is shared with
// any other run.
type OpContext struct {
	// RunID is a globally unique identifier for the run.
	RunID string

	// Seq is the run sequence number, unique per Runtime.
	Seq uint64

	// Started is when the run was admitted.
	Started time.Time

	ctx context.Context

	mu         sync.Mutex
	err        error
	suppressed int
	finalErr   error
	slots      map[string]*inputSlot
	states     map[string]ActorState
	outputs    map[string]*Tensor
	expected   int
	pending    int
	onDrain    func(*OpContext)
	stopCancel func() bool
	done       chan struct{}
}

type inputSlot struct {
	data     map[string]*Tensor
	controls int
	received int
	fired    bool
}

func newOpContext(ctx context.Context, runID string, seq uint64, expected int) *OpContext {
	return &OpContext{
		RunID:    runID,
		Seq:      seq,
		Started:  time.Now(),
		ctx:      ctx,
		slots:    make(map[string]*inputSlot),
		states:   make(map[string]ActorState),
		outputs:  make(map[string]*Tensor, expected),
		expected: expected,
		done:     make(chan struct{}),
	}
}

// Context returns the context the run was started with.
func (oc *OpContext) Context() context.Context { return oc.ctx }

// Deliver posts a data message for tensor into a's slot. It returns the
// accumulated inputs and true exactly once: for the message that brings the
// slot to a's threshold. Messages for a failed run are dropped.
func (oc *OpContext) Deliver(a *Actor, tensor string, t *Tensor) (map[string]*Tensor, bool) {
	return oc.accept(a, tensor, t, false)
}

// Signal posts a control message into a's slot. See Deliver.
func (oc *OpContext) Signal(a *Actor) (map[string]*Tensor, bool) {
	return oc.accept(a, "", nil, true)
}

func (oc *OpContext) accept(a *Actor, tensor string, t *Tensor, control bool) (map[string]*Tensor, bool) {
	oc.mu.Lock()
	defer oc.mu.Unlock()

	if oc.err != nil {
		return nil, false
	}
	slot, ok := oc.slots[a.Name]
	if !ok {
		slot = &inputSlot{data: make(map[string]*Tensor, len(a.InputData))}
		oc.slots[a.Name] = slot
	}
	if slot.fired {
		return nil, false
	}
	if control {
		slot.controls++
	} else {
		slot.data[tensor] = t
	}
	slot.received++
	oc.states[a.Name] = StateAccumulating

	if slot.received < a.threshold {
		return nil, false
	}
	slot.fired = true
	data := slot.data
	slot.data = nil
	return data, true
}

// SetFailed records err as the run's failure if none is recorded yet and
// marks actor Failed. It reports whether err became the run's error.
func (oc *OpContext) SetFailed(actor string, err error) bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if actor != "" {
		oc.states[actor] = StateFailed
	}
	if oc.err != nil {
		oc.suppressed++
		return false
	}
	oc.err = err
	return true
}

// Err returns the first recorded failure, or nil.
func (oc *OpContext) Err() error {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.err
}

// Failed reports whether a failure has been recorded.
func (oc *OpContext) Failed() bool { return oc.Err() != nil }

// Suppressed returns how many failures arrived after the first one.
func (oc *OpContext) Suppressed() int {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.suppressed
}

// State returns the actor's state in this run.
func (oc *OpContext) State(actor string) ActorState {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.states[actor]
}

func (oc *OpContext) setState(actor string, s ActorState) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.states[actor] == StateFailed {
		return
	}
	oc.states[actor] = s
}

func (oc *OpContext) collect(name string, t *Tensor) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.outputs[name] = t
}

// setFinalErr records a failure discovered after every actor finished.
func (oc *OpContext) setFinalErr(err error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.finalErr == nil {
		oc.finalErr = err
	}
}

// acquire registers n units of outstanding work.
func (oc *OpContext) acquire(n int) {
	oc.mu.Lock()
	oc.pending += n
	oc.mu.Unlock()
}

// release retires one unit of work. The last release runs the drain hook and
// closes Done.
func (oc *OpContext) release() {
	oc.mu.Lock()
	oc.pending--
	drained := oc.pending == 0
	oc.mu.Unlock()
	if !drained {
		return
	}
	if oc.stopCancel != nil {
		oc.stopCancel()
	}
	if oc.onDrain != nil {
		oc.onDrain(oc)
	}
	close(oc.done)
}

// Done is closed once no work remains scheduled for the run.
func (oc *OpContext) Done() <-chan struct{} { return oc.done }

// result is valid once Done is closed.
func (oc *OpContext) result() (map[string]*Tensor, error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.err != nil {
		return nil, oc.err
	}
	if len(oc.outputs) != oc.expected {
		return nil, fmt.Errorf("run %d collected %d of %d outputs: %w", oc.Seq, len(oc.outputs), oc.expected, ErrNoProgress)
	}
	if oc.finalErr != nil {
		return nil, oc.finalErr
	}
	return maps.Clone(oc.outputs), nil
}

// Wait blocks until the run finishes or ctx is done. Partial outputs are
// never returned: a failed run yields only its recorded error. A done ctx only
// stops the wait; the run itself is bounded by the context given to Start.
func (oc *OpContext) Wait(ctx context.Context) (map[string]*Tensor, error) {
	select {
	case <-oc.done:
		return oc.result()
	case <-ctx.Done():
		return nil, fmt.Errorf("run %d: %w", oc.Seq, ctx.Err())
	}
}
