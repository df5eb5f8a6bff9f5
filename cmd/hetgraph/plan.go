package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dshills/hetgraph/graph"
	"github.com/dshills/hetgraph/graph/store"
	"github.com/dshills/hetgraph/internal/config"
	"github.com/dshills/hetgraph/internal/graphfile"
)

// compileFile loads a graph file and compiles it against its declared
// backends, reordered by priority when given.
func compileFile(path string, priority []string) (*graphfile.File, *graph.ActorGraph, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("a graph file is required (-f)")
	}
	f, err := graphfile.Load(path)
	if err != nil {
		return nil, nil, err
	}
	reg, err := f.Registry(priority...)
	if err != nil {
		return nil, nil, fmt.Errorf("backend registry: %w", err)
	}
	ag, err := graph.Compile(f.Graph(), reg, graph.WithCompileLogger(slog.Default()))
	if err != nil {
		return nil, nil, fmt.Errorf("compile %s: %w", path, err)
	}
	return f, ag, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMySQL:
		s, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return store.NewMemStore(), nil
}

// parseInput parses a --input flag of the form name=v1,v2,...
func parseInput(s string) (string, []float32, error) {
	name, list, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid input %q: want name=v1,v2,...", s)
	}
	var values []float32
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return "", nil, fmt.Errorf("input %s: %w", name, err)
		}
		values = append(values, float32(v))
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("input %s has no values", name)
	}
	return name, values, nil
}

// inputTensors merges the file's declared input values with --input flags.
// Flag values replace file values and take the declared layout.
func inputTensors(f *graphfile.File, flags []string) (map[string]*graph.Tensor, error) {
	tensors := f.Tensors()
	layouts := make(map[string]graph.Layout, len(f.Inputs))
	for _, in := range f.Inputs {
		layouts[in.Name] = graph.Layout(in.Layout)
	}
	for _, raw := range flags {
		name, values, err := parseInput(raw)
		if err != nil {
			return nil, err
		}
		tensors[name] = &graph.Tensor{
			Name:   name,
			Layout: layouts[name],
			Shape:  []int{len(values)},
			Data:   values,
		}
	}
	return tensors, nil
}
