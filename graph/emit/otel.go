package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans.
//
// Each event becomes one span named after event.Msg with attributes
// hetgraph.run_id, hetgraph.seq and hetgraph.actor plus every Meta entry.
// Events carrying "latency_ms" get a span that starts that long before it
// ends, so actor_complete spans show the firing's real duration. Events with
// Meta["error"] get error status.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("hetgraph"))
//	rt, _ := graph.NewRuntime(ag, executors, graph.WithEmitter(emitter))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records one span per event under ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	end := time.Now()
	start := end
	if ms, ok := event.Meta["latency_ms"].(float64); ok && ms > 0 {
		start = end.Add(-time.Duration(ms * float64(time.Millisecond)))
	}

	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("hetgraph.run_id", event.RunID),
		attribute.Int64("hetgraph.seq", int64(event.Seq)),
		attribute.String("hetgraph.actor", event.ActorID),
	)
	addMetadataAttributes(span, event.Meta)

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End(trace.WithTimestamp(end))
}

// Flush forces export of buffered spans when the global provider supports it.
// Call it before shutdown.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addMetadataAttributes maps well-known keys into the hetgraph namespace and
// passes others through with their type preserved where possible.
func addMetadataAttributes(span trace.Span, meta map[string]any) {
	for key, value := range meta {
		attrKey := key
		switch key {
		case "backend":
			attrKey = "hetgraph.backend"
		case "latency_ms":
			attrKey = "hetgraph.actor.latency_ms"
		case "kind":
			attrKey = "hetgraph.error_kind"
		case "error":
			continue
		}

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case uint64:
			span.SetAttributes(attribute.Int64(attrKey, int64(v)))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, v.Milliseconds()))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
