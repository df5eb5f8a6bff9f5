// Package emit provides event emission and observability for hetgraph runs.
package emit

// Event messages emitted by the runtime.
const (
	MsgRunStart      = "run_start"
	MsgRunComplete   = "run_complete"
	MsgRunFailed     = "run_failed"
	MsgActorFire     = "actor_fire"
	MsgActorComplete = "actor_complete"
	MsgActorFailed   = "actor_failed"
	MsgActorSkipped  = "actor_skipped"
	MsgActorDiscard  = "actor_discarded"
)

// Event is an observability event emitted while a run executes.
//
// Run-level events (run_start, run_complete, run_failed) leave ActorID
// empty. Actor events carry the actor name and, in Meta, details such as
// the backend and latency.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Seq is the run's sequence number within its runtime.
	Seq uint64

	// ActorID names the actor, or is empty for run-level events.
	ActorID string

	// Msg is the event type, one of the Msg* constants.
	Msg string

	// Meta contains additional structured data. Common keys:
	//   - "backend": backend tag of a kernel or delegate actor
	//   - "latency_ms": firing duration in milliseconds
	//   - "error": error text for failures
	//   - "kind": failure kind (input_validation, backend_execution, cancelled)
	//   - "suppressed": true when a later failure lost the first-writer race
	Meta map[string]any
}

// IsError reports whether the event carries an error.
func (e Event) IsError() bool {
	_, ok := e.Meta["error"]
	return ok
}
