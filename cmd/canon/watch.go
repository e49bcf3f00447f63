package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jward/canon"
	"github.com/jward/canon/internal/metrics"
	"github.com/jward/canon/internal/watch"
)

var flagMetricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest the workspace, then re-ingest files as they change",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	w, err := loadWorkspace()
	if err != nil {
		return outputError(cmd, "watch", err)
	}

	reg := prometheus.NewRegistry()
	engine, err := w.openEngine(canon.WithMetrics(metrics.New(reg)))
	if err != nil {
		return outputError(cmd, "watch", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := w.config.Metrics.Addr
	if flagMetricsAddr != "" {
		addr = flagMetricsAddr
	}
	if addr != "" {
		srv, err := serveMetrics(addr, reg)
		if err != nil {
			return outputError(cmd, "watch", err)
		}
		w.logger.Info("Serving metrics", "addr", addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	results, err := engine.IngestDirectory(ctx, w.root)
	if err != nil {
		// A bad file must not stop the loop; it is picked up again on its
		// next write.
		w.logger.Warn("Initial ingestion incomplete", "error", err)
	}
	w.logger.Info("Initial ingestion finished", "files", len(results))

	watcher, err := watch.New(watch.Config{
		Root:     w.root,
		Debounce: w.config.Watch.Debounce,
		Filter:   w.config.Ingest,
		Logger:   w.logger,
		Handler: func(ctx context.Context, rel string, src []byte) error {
			res, err := engine.Ingest(ctx, rel, src)
			if err != nil {
				return err
			}
			w.logger.Info("Re-ingested file",
				"path", res.Path,
				"version", res.Version,
				"changes", res.ChangeSummary,
				"drift_events", len(res.DriftEvents),
				"gate", res.Gate)
			return nil
		},
	})
	if err != nil {
		return outputError(cmd, "watch", fmt.Errorf("creating watcher: %w", err))
	}

	files, err := engine.Store().AllFiles()
	if err != nil {
		return outputError(cmd, "watch", fmt.Errorf("listing stored files: %w", err))
	}
	for _, f := range files {
		watcher.Seed(f.Path, f.ContentHash)
	}

	w.logger.Info("Watching for changes", "root", w.root)
	if err := watcher.Run(ctx); err != nil {
		return outputError(cmd, "watch", err)
	}
	w.logger.Info("Stopped watching")
	return nil
}

// serveMetrics starts the /metrics endpoint in the background. The listener
// is bound before returning so address errors surface immediately.
func serveMetrics(addr string, g prometheus.Gatherer) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %s\n", err)
		}
	}()
	return srv, nil
}
