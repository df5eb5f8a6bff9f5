package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes one line per event to a writer.
//
// Text mode:
//
//	[actor_complete] runID=3f1c... seq=1 actor=subgraph-0/gpu meta={"backend":"gpu","latency_ms":0.41}
//
// JSON mode (JSONL):
//
//	{"runID":"3f1c...","seq":1,"actor":"subgraph-0/gpu","msg":"actor_complete","meta":{"backend":"gpu"}}
//
// Writes are serialized so lines from concurrent workers never interleave.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID string         `json:"runID"`
		Seq   uint64         `json:"seq"`
		Actor string         `json:"actor,omitempty"`
		Msg   string         `json:"msg"`
		Meta  map[string]any `json:"meta,omitempty"`
	}{
		RunID: event.RunID,
		Seq:   event.Seq,
		Actor: event.ActorID,
		Msg:   event.Msg,
		Meta:  event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] runID=%s seq=%d", event.Msg, event.RunID, event.Seq)
	if event.ActorID != "" {
		fmt.Fprintf(l.writer, " actor=%s", event.ActorID)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
