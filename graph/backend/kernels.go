// Package backend provides reference executors for the hetgraph runtime.
//
// Simulated runs each unit as a batch of host-side float32 kernels.
// Delegate compiles a unit into a step program once, at runtime construction,
// and replays it on every launch. Faulty wraps another executor and injects
// errors, panics or latency for tests and demos.
//
// None of these talk to real accelerators; they stamp the device and layout
// tags a real backend would, so placement and adapter insertion can be
// exercised end to end.
package backend

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Kernel computes one operator's output from its inputs.
//
// Inputs arrive in the node's declared input order. Kernels must not modify
// their arguments.
type Kernel func(inputs [][]float32) ([]float32, error)

// ErrUnknownKernel is returned when a node's kind has no registered kernel.
var ErrUnknownKernel = errors.New("unknown kernel")

// ErrShapeMismatch is returned by binary kernels whose operands differ in length.
var ErrShapeMismatch = errors.New("operand length mismatch")

// DefaultKernels returns a fresh map of the built-in kernels:
// cos, exp, elu, relu, neg, abs, sigmoid, identity, to_format, add and mul.
func DefaultKernels() map[string]Kernel {
	return map[string]Kernel{
		"cos":      unary(math.Cos),
		"exp":      unary(math.Exp),
		"elu":      unary(elu),
		"relu":     unary(func(x float64) float64 { return math.Max(0, x) }),
		"neg":      unary(func(x float64) float64 { return -x }),
		"abs":      unary(math.Abs),
		"sigmoid":  unary(func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }),
		"identity": unary(func(x float64) float64 { return x }),

		// Layout conversion only retags the tensor; element values are unchanged.
		"to_format": unary(func(x float64) float64 { return x }),

		"add": binary(func(a, b float64) float64 { return a + b }),
		"mul": binary(func(a, b float64) float64 { return a * b }),
	}
}

// KernelNames returns the sorted kind names of kernels.
func KernelNames(kernels map[string]Kernel) []string {
	names := make([]string, 0, len(kernels))
	for k := range kernels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func elu(x float64) float64 {
	if x > 0 {
		return x
	}
	return math.Exp(x) - 1
}

func unary(f func(float64) float64) Kernel {
	return func(inputs [][]float32) ([]float32, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
		}
		out := make([]float32, len(inputs[0]))
		for i, v := range inputs[0] {
			out[i] = float32(f(float64(v)))
		}
		return out, nil
	}
}

func binary(f func(a, b float64) float64) Kernel {
	return func(inputs [][]float32) ([]float32, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
		}
		a, b := inputs[0], inputs[1]
		if len(a) != len(b) {
			return nil, fmt.Errorf("%w: %d vs %d", ErrShapeMismatch, len(a), len(b))
		}
		out := make([]float32, len(a))
		for i := range a {
			out[i] = float32(f(float64(a[i]), float64(b[i])))
		}
		return out, nil
	}
}
