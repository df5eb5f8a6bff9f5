package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/hetgraph/graph/emit"
	"github.com/dshills/hetgraph/graph/store"
)

// Runtime executes a compiled ActorGraph. It owns a shared worker pool fed by
// a Frontier; any number of runs may be in flight at once, each isolated in
// its own OpContext.
//
// Lifecycle:
//
//	rt, err := graph.NewRuntime(ag, executors, graph.WithWorkers(4))
//	if err != nil { ... }
//	defer rt.Close()
//	outputs, err := rt.Run(ctx, map[string]*graph.Tensor{"x": x})
type Runtime struct {
	ag        *ActorGraph
	executors map[Backend]Executor
	cfg       runtimeConfig
	frontier  *Frontier
	planID    string

	seq      atomic.Uint64
	inflight atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRuntime validates that every backend used by ag has an Executor,
// prepares delegated subgraphs, persists the plan when a store is
// configured, and starts the worker pool.
func NewRuntime(ag *ActorGraph, executors map[Backend]Executor, opts ...Option) (*Runtime, error) {
	if ag == nil {
		return nil, configError("actor graph is nil")
	}
	cfg := defaultRuntimeConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	for _, b := range ag.Backends() {
		if executors[b] == nil {
			return nil, configError("no executor registered for backend %q", b)
		}
	}
	for _, s := range ag.Subgraphs {
		if !s.Delegated {
			continue
		}
		if p, ok := executors[s.Backend].(Preparer); ok {
			if err := p.Prepare(s); err != nil {
				return nil, &EngineError{Message: "failed to prepare " + s.Name(), Code: CodeConfiguration, Cause: err}
			}
		}
	}

	rt := &Runtime{
		ag:        ag,
		executors: executors,
		cfg:       cfg,
		frontier:  NewFrontier(),
		planID:    ag.Fingerprint(),
	}

	if cfg.store != nil {
		snap, err := json.Marshal(ag.Snapshot())
		if err != nil {
			return nil, &EngineError{Message: "failed to encode plan", Code: CodeStore, Cause: err}
		}
		plan := store.PlanRecord{PlanID: rt.planID, Graph: ag.Name, Snapshot: snap}
		if err := cfg.store.SavePlan(context.Background(), plan); err != nil {
			return nil, &EngineError{Message: "failed to save plan", Code: CodeStore, Cause: err}
		}
	}
	cfg.metrics.AddAdapters(ag.Adapters)

	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	for i := 0; i < cfg.workers; i++ {
		rt.wg.Add(1)
		go rt.worker()
	}
	return rt, nil
}

// Graph returns the compiled graph the runtime executes.
func (rt *Runtime) Graph() *ActorGraph { return rt.ag }

// PlanID returns the plan fingerprint used as the store key.
func (rt *Runtime) PlanID() string { return rt.planID }

// Run executes one run and waits for its outputs. On failure only the first
// recorded error is returned; outputs already produced are discarded.
func (rt *Runtime) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	oc, err := rt.Start(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return oc.Wait(ctx)
}

// Run builds a runtime for ag, executes a single run, and shuts the runtime
// down. Callers running a graph more than once should
// keep a Runtime instead.
func Run(ctx context.Context, ag *ActorGraph, executors map[Backend]Executor, inputs map[string]*Tensor, opts ...Option) (map[string]*Tensor, error) {
	rt, err := NewRuntime(ag, executors, opts...)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.Run(ctx, inputs)
}

// Start admits a run and returns its OpContext without waiting. Missing,
// nil or unknown inputs are rejected before any actor fires. Cancelling ctx
// records the cancellation as the run's failure.
func (rt *Runtime) Start(ctx context.Context, inputs map[string]*Tensor) (*OpContext, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.closed {
		return nil, ErrRuntimeClosed
	}

	seeded := make(map[string]*Tensor, len(rt.ag.Seeds))
	for _, seed := range rt.ag.Seeds {
		t := inputs[seed.Tensor]
		if t == nil {
			return nil, &ActorError{Actor: seed.Name, Kind: ErrInputValidation, Cause: fmt.Errorf("graph input %q not supplied", seed.Tensor)}
		}
		c := *t
		c.Name = seed.Tensor
		if c.Device == "" {
			c.Device = HostDevice
		}
		seeded[seed.Tensor] = &c
	}
	for name := range inputs {
		if _, ok := seeded[name]; !ok {
			return nil, &ActorError{Actor: "input:" + name, Kind: ErrInputValidation, Cause: fmt.Errorf("unknown graph input %q", name)}
		}
	}

	seq := rt.seq.Add(1)
	oc := newOpContext(ctx, uuid.NewString(), seq, len(rt.ag.Collectors))
	oc.onDrain = rt.finish
	oc.stopCancel = context.AfterFunc(ctx, func() {
		oc.SetFailed("", fmt.Errorf("run %d: %w", seq, context.Cause(ctx)))
	})

	rt.emit(oc, "", emit.MsgRunStart, map[string]any{"graph": rt.ag.Name, "plan_id": rt.planID})
	rt.saveRun(oc, store.StatusRunning, "", time.Time{})

	// The admission token keeps the run open until every root is queued.
	oc.acquire(1)
	for _, seed := range rt.ag.Seeds {
		rt.schedule(oc, seed, map[string]*Tensor{seed.Tensor: seeded[seed.Tensor]})
	}
	for _, s := range rt.ag.Subgraphs {
		if a, ok := rt.ag.Actor(s.Name()); ok && a.threshold == 0 {
			rt.schedule(oc, a, nil)
		}
	}
	oc.release()
	return oc, nil
}

// Close stops the worker pool. In-flight launches finish; runs with work
// still queued fail with ErrRuntimeClosed. Close is idempotent.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	rest := rt.frontier.Close()
	rt.cancel()
	rt.wg.Wait()
	for _, item := range rest {
		item.Run.SetFailed("", ErrRuntimeClosed)
		item.Run.release()
	}
	rt.cfg.metrics.UpdateQueueDepth(0)
	return nil
}

func (rt *Runtime) schedule(oc *OpContext, a *Actor, inputs map[string]*Tensor) {
	oc.acquire(1)
	item := WorkItem{OrderKey: ComputeOrderKey(oc.Seq, a.Index), Actor: a, Run: oc, Inputs: inputs}
	if err := rt.frontier.Enqueue(item); err != nil {
		oc.SetFailed("", err)
		oc.release()
		return
	}
	rt.cfg.metrics.UpdateQueueDepth(rt.frontier.Len())
}

func (rt *Runtime) worker() {
	defer rt.wg.Done()
	for {
		item, err := rt.frontier.Dequeue(rt.ctx)
		if err != nil {
			return
		}
		rt.cfg.metrics.UpdateQueueDepth(rt.frontier.Len())
		rt.fire(item)
	}
}

// fire runs one actor for one run. It is the only place actor state for a
// run advances past Accumulating.
func (rt *Runtime) fire(item WorkItem) {
	oc, a := item.Run, item.Actor
	defer oc.release()

	if oc.Failed() {
		rt.emit(oc, a.Name, emit.MsgActorSkipped, nil)
		return
	}

	switch a.Kind {
	case KindInputSeed:
		oc.setState(a.Name, StateCompleted)
		rt.emit(oc, a.Name, emit.MsgActorComplete, nil)
		rt.propagate(oc, a, item.Inputs)
	case KindOutputCollector:
		t := item.Inputs[a.Tensor]
		if want, ok := rt.producedDevice(a); ok && t != nil && t.Device != want {
			rt.fail(oc, a, ErrInputValidation, fmt.Errorf("output %q is on device %q, producer declares %q", a.Tensor, t.Device, want), 0)
			return
		}
		if t != nil && t.Name != a.Tensor {
			c := *t
			c.Name = a.Tensor
			t = &c
		}
		oc.collect(a.Tensor, t)
		oc.setState(a.Name, StateCompleted)
		rt.emit(oc, a.Name, emit.MsgActorComplete, nil)
	default:
		rt.launch(oc, a, item.Inputs)
	}
}

func (rt *Runtime) launch(oc *OpContext, a *Actor, accumulated map[string]*Tensor) {
	s := a.Subgraph
	inputs := make([]*Tensor, len(s.Inputs))
	for i, p := range s.Inputs {
		t := accumulated[p.Tensor]
		if t == nil {
			rt.fail(oc, a, ErrInputValidation, fmt.Errorf("input %q was not delivered", p.Tensor), 0)
			return
		}
		if t.Device != p.Device {
			rt.fail(oc, a, ErrInputValidation, fmt.Errorf("input %q is on device %q, port expects %q", p.Tensor, t.Device, p.Device), 0)
			return
		}
		inputs[i] = t
	}

	oc.setState(a.Name, StateRunning)
	rt.emit(oc, a.Name, emit.MsgActorFire, map[string]any{"backend": string(s.Backend), "nodes": len(s.Nodes)})
	rt.cfg.metrics.UpdateInflightActors(int(rt.inflight.Add(1)))

	start := time.Now()
	outs, err := launchWithTimeout(oc.ctx, rt.executors[s.Backend], s, inputs, rt.cfg.launchTimeout(s.Backend))
	elapsed := time.Since(start)
	rt.cfg.metrics.UpdateInflightActors(int(rt.inflight.Add(-1)))

	if err == nil {
		err = checkOutputs(s, outs)
	}
	if err != nil {
		rt.fail(oc, a, ErrBackendExecution, err, elapsed)
		return
	}

	if oc.Failed() {
		rt.emit(oc, a.Name, emit.MsgActorDiscard, map[string]any{"backend": string(s.Backend), "latency_ms": ms(elapsed)})
		rt.cfg.metrics.RecordActorLatency(a.Name, s.Backend, elapsed, "discarded")
		rt.saveActor(oc, a, "discarded", nil, elapsed)
		return
	}

	produced := make(map[string]*Tensor, len(outs))
	for i, p := range s.Outputs {
		produced[p.Tensor] = outs[i]
	}
	oc.setState(a.Name, StateCompleted)
	rt.emit(oc, a.Name, emit.MsgActorComplete, map[string]any{"backend": string(s.Backend), "latency_ms": ms(elapsed)})
	rt.cfg.metrics.RecordActorLatency(a.Name, s.Backend, elapsed, "success")
	rt.saveActor(oc, a, "success", nil, elapsed)
	rt.propagate(oc, a, produced)
}

func checkOutputs(s *Subgraph, outs []*Tensor) error {
	if len(outs) != len(s.Outputs) {
		return fmt.Errorf("executor returned %d outputs, %s declares %d", len(outs), s.Name(), len(s.Outputs))
	}
	for i, t := range outs {
		if t == nil {
			return fmt.Errorf("executor returned nil for output %q", s.Outputs[i].Tensor)
		}
	}
	return nil
}

// producedDevice returns the device the producing subgraph declares for the
// tensor arriving at collector a. Graph inputs wired straight to an output
// have no declared device.
func (rt *Runtime) producedDevice(a *Actor) (string, bool) {
	if len(a.InputData) == 0 {
		return "", false
	}
	arrow := a.InputData[0]
	src, ok := rt.ag.Actor(arrow.From)
	if !ok || src.Subgraph == nil {
		return "", false
	}
	i, ok := src.Subgraph.outputPort(arrow.FromTensor)
	if !ok {
		return "", false
	}
	return src.Subgraph.Outputs[i].Device, true
}

// propagate delivers a's outputs along its arrows and queues every successor
// whose threshold this completes.
func (rt *Runtime) propagate(oc *OpContext, a *Actor, produced map[string]*Tensor) {
	for _, arrow := range a.OutputData {
		dst, ok := rt.ag.Actor(arrow.To)
		if !ok {
			continue
		}
		if inputs, ready := oc.Deliver(dst, arrow.ToTensor, produced[arrow.FromTensor]); ready {
			rt.schedule(oc, dst, inputs)
		}
	}
	for _, arrow := range a.OutputControl {
		dst, ok := rt.ag.Actor(arrow.To)
		if !ok {
			continue
		}
		if inputs, ready := oc.Signal(dst); ready {
			rt.schedule(oc, dst, inputs)
		}
	}
}

func (rt *Runtime) fail(oc *OpContext, a *Actor, kind, cause error, elapsed time.Duration) {
	err := &ActorError{Actor: a.Name, RunID: oc.RunID, Seq: oc.Seq, Kind: kind, Cause: cause}
	first := oc.SetFailed(a.Name, err)

	label := kindLabel(kind)
	rt.cfg.metrics.IncrementFailures(label)
	rt.cfg.metrics.RecordActorLatency(a.Name, a.Backend(), elapsed, "error")

	var pe *panicError
	if errors.As(cause, &pe) {
		rt.cfg.logger.Error("executor panicked", "actor", a.Name, "run_id", oc.RunID, "panic", fmt.Sprint(pe.value), "stack", string(pe.stack))
	}

	meta := map[string]any{"error": err.Error(), "kind": label, "backend": string(a.Backend())}
	if !first {
		meta["suppressed"] = true
	}
	rt.emit(oc, a.Name, emit.MsgActorFailed, meta)
	rt.saveActor(oc, a, "failed", err, elapsed)
}

// finish runs once per run, after its last unit of work retires.
func (rt *Runtime) finish(oc *OpContext) {
	_, err := oc.result()
	elapsed := time.Since(oc.Started)
	if err != nil {
		rt.cfg.metrics.IncrementRuns("failed")
		rt.emit(oc, "", emit.MsgRunFailed, map[string]any{"error": err.Error(), "latency_ms": ms(elapsed)})
		rt.saveRun(oc, store.StatusFailed, err.Error(), time.Now())
		return
	}
	rt.cfg.metrics.IncrementRuns("success")
	rt.emit(oc, "", emit.MsgRunComplete, map[string]any{"latency_ms": ms(elapsed)})
	if serr := rt.saveRun(oc, store.StatusSucceeded, "", time.Now()); serr != nil {
		oc.setFinalErr(&EngineError{Message: "failed to record run " + oc.RunID, Code: CodeStore, Cause: serr})
	}
}

func (rt *Runtime) emit(oc *OpContext, actor, msg string, meta map[string]any) {
	rt.cfg.emitter.Emit(emit.Event{RunID: oc.RunID, Seq: oc.Seq, ActorID: actor, Msg: msg, Meta: meta})
}

func (rt *Runtime) saveRun(oc *OpContext, status, errText string, finished time.Time) error {
	if rt.cfg.store == nil {
		return nil
	}
	rec := store.RunRecord{
		RunID:      oc.RunID,
		Seq:        oc.Seq,
		PlanID:     rt.planID,
		Status:     status,
		Error:      errText,
		StartedAt:  oc.Started,
		FinishedAt: finished,
	}
	err := rt.cfg.store.SaveRun(context.WithoutCancel(oc.ctx), rec)
	if err != nil {
		rt.cfg.logger.Warn("failed to save run record", "run_id", oc.RunID, "status", status, "error", err)
	}
	return err
}

func (rt *Runtime) saveActor(oc *OpContext, a *Actor, status string, failure error, elapsed time.Duration) {
	if rt.cfg.store == nil {
		return
	}
	rec := store.ActorRecord{
		RunID:      oc.RunID,
		Actor:      a.Name,
		Backend:    string(a.Backend()),
		Status:     status,
		DurationMs: ms(elapsed),
	}
	if failure != nil {
		rec.Error = failure.Error()
	}
	if err := rt.cfg.store.SaveActorRecord(context.WithoutCancel(oc.ctx), rec); err != nil {
		rt.cfg.logger.Warn("failed to save actor record", "run_id", oc.RunID, "actor", a.Name, "error", err)
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
