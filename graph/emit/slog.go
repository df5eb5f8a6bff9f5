package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured logger. Failures log at Warn,
// run lifecycle events at Info, and per-actor progress at Debug.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter returns a SlogEmitter writing to logger (slog.Default if nil).
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Msg {
	case MsgRunStart, MsgRunComplete:
		level = slog.LevelInfo
	case MsgRunFailed, MsgActorFailed:
		level = slog.LevelWarn
	}

	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs, slog.String("run_id", event.RunID), slog.Uint64("seq", event.Seq))
	if event.ActorID != "" {
		attrs = append(attrs, slog.String("actor", event.ActorID))
	}
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}
	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
