package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dshills/hetgraph/graph"
)

// Remote launches units on a device server over HTTP.
//
// Each launch is one POST of a JSON LaunchRequest; the server replies with a
// LaunchResponse. Serve a local executor with NewRemoteHandler:
//
//	http.Handle("/launch", backend.NewRemoteHandler(backend.NewSimulated(nil)))
//
//	gpu := backend.NewRemote("http://gpu-host:9090/launch")
//	executors := map[graph.Backend]graph.Executor{"gpu": gpu}
type Remote struct {
	url    string
	client *http.Client
}

// NewRemote returns an executor posting launches to url. Timeouts are taken
// from the launch context.
func NewRemote(url string) *Remote {
	return &Remote{url: url, client: &http.Client{}}
}

// WireTensor is the JSON form of a tensor handle.
type WireTensor struct {
	Name   string    `json:"name"`
	Layout string    `json:"layout,omitempty"`
	Device string    `json:"device,omitempty"`
	Shape  []int     `json:"shape,omitempty"`
	Data   []float32 `json:"data"`
}

// WireUnit is the JSON form of a subgraph.
type WireUnit struct {
	ID        int                   `json:"id"`
	Backend   string                `json:"backend"`
	Device    string                `json:"device"`
	Layout    string                `json:"layout,omitempty"`
	Delegated bool                  `json:"delegated,omitempty"`
	Nodes     []*graph.OperatorNode `json:"nodes"`
	Inputs    []graph.Port          `json:"inputs"`
	Outputs   []graph.Port          `json:"outputs"`
}

// LaunchRequest is the body of a launch POST.
type LaunchRequest struct {
	Unit    WireUnit     `json:"unit"`
	Tensors []WireTensor `json:"tensors"`
}

// LaunchResponse carries either outputs or an error message.
type LaunchResponse struct {
	Tensors []WireTensor `json:"tensors,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ErrRemote wraps failures reported by a device server.
var ErrRemote = errors.New("remote launch failed")

func toWire(t *graph.Tensor) WireTensor {
	return WireTensor{Name: t.Name, Layout: string(t.Layout), Device: t.Device, Shape: t.Shape, Data: t.Data}
}

func fromWire(w WireTensor) *graph.Tensor {
	return &graph.Tensor{Name: w.Name, Layout: graph.Layout(w.Layout), Device: w.Device, Shape: w.Shape, Data: w.Data}
}

func unitToWire(s *graph.Subgraph) WireUnit {
	return WireUnit{
		ID:        s.ID,
		Backend:   string(s.Backend),
		Device:    s.Device,
		Layout:    string(s.Layout),
		Delegated: s.Delegated,
		Nodes:     s.Nodes,
		Inputs:    s.Inputs,
		Outputs:   s.Outputs,
	}
}

func unitFromWire(w WireUnit) *graph.Subgraph {
	return &graph.Subgraph{
		ID:        w.ID,
		Backend:   graph.Backend(w.Backend),
		Device:    w.Device,
		Layout:    graph.Layout(w.Layout),
		Delegated: w.Delegated,
		Nodes:     w.Nodes,
		Inputs:    w.Inputs,
		Outputs:   w.Outputs,
	}
}

// Launch implements graph.Executor.
func (r *Remote) Launch(ctx context.Context, unit *graph.Subgraph, inputs []*graph.Tensor) ([]*graph.Tensor, error) {
	req := LaunchRequest{Unit: unitToWire(unit), Tensors: make([]WireTensor, len(inputs))}
	for i, t := range inputs {
		req.Tensors[i] = toWire(t)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode launch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var out LaunchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: status %d: undecodable response: %v", ErrRemote, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode, out.Error)
	}

	outs := make([]*graph.Tensor, len(out.Tensors))
	for i, w := range out.Tensors {
		outs[i] = fromWire(w)
	}
	return outs, nil
}

// releaser is implemented by executors that hold per-unit state.
type releaser interface {
	Release(unit *graph.Subgraph)
}

// NewRemoteHandler serves launches for exec. Executors that implement
// graph.Preparer are prepared with each received unit before launching it,
// and the unit is released again once the launch returns.
func NewRemoteHandler(exec graph.Executor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeLaunch(w, http.StatusMethodNotAllowed, LaunchResponse{Error: "launch requires POST"})
			return
		}
		var req LaunchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeLaunch(w, http.StatusBadRequest, LaunchResponse{Error: "invalid launch request: " + err.Error()})
			return
		}

		unit := unitFromWire(req.Unit)
		if p, ok := exec.(graph.Preparer); ok {
			if err := p.Prepare(unit); err != nil {
				writeLaunch(w, http.StatusUnprocessableEntity, LaunchResponse{Error: err.Error()})
				return
			}
			if rel, ok := exec.(releaser); ok {
				defer rel.Release(unit)
			}
		}
		inputs := make([]*graph.Tensor, len(req.Tensors))
		for i, t := range req.Tensors {
			inputs[i] = fromWire(t)
		}

		outs, err := exec.Launch(r.Context(), unit, inputs)
		if err != nil {
			writeLaunch(w, http.StatusInternalServerError, LaunchResponse{Error: err.Error()})
			return
		}
		resp := LaunchResponse{Tensors: make([]WireTensor, len(outs))}
		for i, t := range outs {
			resp.Tensors[i] = toWire(t)
		}
		writeLaunch(w, http.StatusOK, resp)
	})
}

func writeLaunch(w http.ResponseWriter, status int, resp LaunchResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
