package emit

// Emitter receives observability events from the runtime.
//
// Implementations should be:
//   - Non-blocking: Emit is called from worker goroutines between launches
//   - Thread-safe: events from many actors and runs arrive concurrently
//   - Resilient: failures are handled internally, never by panicking
type Emitter interface {
	// Emit sends an event to the configured backend.
	Emit(event Event)
}

// MultiEmitter fans every event out to several emitters in order.
type MultiEmitter []Emitter

// NewMultiEmitter drops nil entries and returns the remaining emitters.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Emit implements Emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
