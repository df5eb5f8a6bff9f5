package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/hetgraph/graph"
	"github.com/dshills/hetgraph/graph/backend"
)

func newServeCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a reference backend as a remote device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			handler, err := newDeviceMux(kind)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				slog.Info("serving device", "addr", cfg.Server.ListenAddr, "kind", kind)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "simulated", "Executor to serve: simulated or delegate")

	return cmd
}

// newDeviceMux serves launches on /launch and liveness on /healthz.
func newDeviceMux(kind string) (http.Handler, error) {
	var exec graph.Executor
	switch kind {
	case "simulated":
		exec = backend.NewSimulated(nil)
	case "delegate":
		exec = backend.NewDelegate(nil)
	default:
		return nil, fmt.Errorf("unknown executor kind %q (want simulated or delegate)", kind)
	}

	mux := http.NewServeMux()
	mux.Handle("/launch", backend.NewRemoteHandler(exec))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux, nil
}
