package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/hetgraph/graph"
	"github.com/dshills/hetgraph/graph/emit"
)

func newRunCmd() *cobra.Command {
	var file string
	var inputs []string
	var repeat int
	var events string
	var trace bool
	var linger time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile a graph and run it on the reference backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if repeat < 1 {
				return fmt.Errorf("--repeat must be at least 1")
			}

			f, ag, err := compileFile(file, cfg.Runtime.Priority)
			if err != nil {
				return err
			}
			defer ag.Release()

			executors, err := f.Executors()
			if err != nil {
				return err
			}
			tensors, err := inputTensors(f, inputs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := []graph.Option{
				graph.WithWorkers(cfg.Runtime.Workers),
				graph.WithLogger(slog.Default()),
			}
			if cfg.Runtime.LaunchTimeout > 0 {
				opts = append(opts, graph.WithLaunchTimeout(cfg.Runtime.LaunchTimeout))
			}

			var emitters []emit.Emitter
			if events != "" {
				e, err := newEventEmitter(events, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				emitters = append(emitters, e)
			}
			if trace {
				otelEmitter, shutdown, err := newTraceEmitter(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.Background()) }()
				emitters = append(emitters, otelEmitter)
			}
			if len(emitters) > 0 {
				opts = append(opts, graph.WithEmitter(emit.NewMultiEmitter(emitters...)))
			}

			if cfg.Metrics.ListenAddr != "" {
				registry := prometheus.NewRegistry()
				opts = append(opts, graph.WithMetrics(graph.NewPrometheusMetrics(registry)))
				srv := serveMetrics(cfg.Metrics.ListenAddr, registry)
				defer func() { _ = srv.Close() }()
				if linger > 0 {
					defer waitLinger(ctx, linger)
				}
			}

			st, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			opts = append(opts, graph.WithStore(st))

			rt, err := graph.NewRuntime(ag, executors, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan %s\n", rt.PlanID())
			for i := 0; i < repeat; i++ {
				oc, err := rt.Start(ctx, tensors)
				if err != nil {
					return err
				}
				results, err := oc.Wait(ctx)
				if err != nil {
					fmt.Fprintf(out, "run %s seq=%d failed\n", oc.RunID, oc.Seq)
					return err
				}
				fmt.Fprintf(out, "run %s seq=%d succeeded\n", oc.RunID, oc.Seq)
				printTensors(out, results)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Graph description file (YAML)")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "Graph input as name=v1,v2,... (repeatable)")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Number of runs")
	cmd.Flags().StringVar(&events, "events", "", "Write run and actor events: log, text or jsonl")
	cmd.Flags().BoolVar(&trace, "trace", false, "Write OpenTelemetry spans to stderr")
	cmd.Flags().DurationVar(&linger, "linger", 0, "Keep /metrics up this long after the last run")

	return cmd
}

func printTensors(w io.Writer, tensors map[string]*graph.Tensor) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := tensors[name]
		values := make([]string, len(t.Data))
		for i, v := range t.Data {
			values[i] = fmt.Sprintf("%.6g", v)
		}
		layout := string(t.Layout)
		if layout == "" {
			layout = "-"
		}
		fmt.Fprintf(w, "  %s %v %s@%s: %s\n", name, t.Shape, layout, t.Device, strings.Join(values, " "))
	}
}

// newEventEmitter selects an event sink: "log" goes through slog, "text" and
// "jsonl" write one line per event to w.
func newEventEmitter(format string, w io.Writer) (emit.Emitter, error) {
	switch format {
	case "log":
		return emit.NewSlogEmitter(slog.Default()), nil
	case "text":
		return emit.NewLogEmitter(w, false), nil
	case "jsonl":
		return emit.NewLogEmitter(w, true), nil
	}
	return nil, fmt.Errorf("unknown event format %q (want log, text or jsonl)", format)
}

func newTraceEmitter(w io.Writer) (*emit.OTelEmitter, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "hetgraph"))),
	)
	return emit.NewOTelEmitter(tp.Tracer("github.com/dshills/hetgraph")), tp.Shutdown, nil
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func waitLinger(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
