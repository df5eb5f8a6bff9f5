// Package graph provides the heterogeneous partitioner and actor runtime for hetgraph.
package graph

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperator indicates that no backend in the priority list can
// execute an operator node. It is fatal to compilation.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// ErrConfiguration indicates an invalid registry, runtime option, or executor
// set, for example an empty backend priority list.
var ErrConfiguration = errors.New("configuration error")

// ErrInvalidGraph indicates a malformed computation graph: duplicate names,
// tensors consumed before they are produced, or dangling ordering references.
var ErrInvalidGraph = errors.New("invalid graph")

// ErrInputValidation indicates that an actor received a tensor handle that does
// not match what its input ports expect (missing, or on the wrong device).
// It is fatal to the run that observed it only.
var ErrInputValidation = errors.New("input validation failure")

// ErrBackendExecution wraps any error or panic surfaced by an Executor while an
// actor was firing. It is fatal to the run that observed it only.
var ErrBackendExecution = errors.New("backend execution failure")

// ErrNoProgress indicates a run drained all scheduled work without every output
// collector completing. This signals a compiler bug rather than a user error.
var ErrNoProgress = errors.New("no progress: run drained before all outputs were collected")

// ErrRuntimeClosed is returned by Run and Start after Close.
var ErrRuntimeClosed = errors.New("runtime is closed")

// Error codes carried by EngineError.
const (
	CodeUnsupportedOperator = "UNSUPPORTED_OPERATOR"
	CodeConfiguration       = "CONFIGURATION_ERROR"
	CodeInvalidGraph        = "INVALID_GRAPH"
	CodeDuplicateActor      = "DUPLICATE_ACTOR"
	CodeStore               = "STORE_ERROR"
)

// EngineError is a compile-time or setup error with a machine-readable code.
//
// errors.Is matches the sentinel selected by Code, so callers can test
// errors.Is(err, ErrUnsupportedOperator) without inspecting the struct.
type EngineError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Node names the operator node involved, if any.
	Node string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Node != "" {
		msg = "node " + e.Node + ": " + msg
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel for Code and the underlying cause.
func (e *EngineError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinelFor(e.Code); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func sentinelFor(code string) error {
	switch code {
	case CodeUnsupportedOperator:
		return ErrUnsupportedOperator
	case CodeConfiguration, CodeDuplicateActor:
		return ErrConfiguration
	case CodeInvalidGraph:
		return ErrInvalidGraph
	}
	return nil
}

func configError(format string, args ...any) *EngineError {
	return &EngineError{Message: fmt.Sprintf(format, args...), Code: CodeConfiguration}
}

func invalidGraph(node, format string, args ...any) *EngineError {
	return &EngineError{Message: fmt.Sprintf(format, args...), Code: CodeInvalidGraph, Node: node}
}

// ActorError is a run-time failure recorded in a run's OpContext.
//
// Kind is ErrInputValidation or ErrBackendExecution (or the context error when
// a run is cancelled). Both Kind and Cause participate in errors.Is.
type ActorError struct {
	Actor string
	RunID string
	Seq   uint64
	Kind  error
	Cause error
}

func (e *ActorError) Error() string {
	msg := fmt.Sprintf("actor %s (run %d): %v", e.Actor, e.Seq, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ActorError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// kindLabel maps an ActorError kind to the metrics/event label.
func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrInputValidation):
		return "input_validation"
	case errors.Is(kind, ErrBackendExecution):
		return "backend_execution"
	case errors.Is(kind, ErrNoProgress):
		return "no_progress"
	}
	return "cancelled"
}
