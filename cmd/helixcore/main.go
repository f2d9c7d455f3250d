// Command helixcore runs the sample-tracking core as a long-lived process:
// it opens the configured persistent store, starts the plate sheet export
// worker, and serves health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helixcore/internal/blob"
	"helixcore/internal/core"
	"helixcore/internal/export"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return err
	}

	svc := core.NewService(store,
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
	)
	logger.Info("store opened", "specimens", len(svc.Store().ListSpecimens()), "batches", len(svc.Store().ListBatches()))

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	worker := export.NewWorker(store, blobStore, &export.MemoryAuditLog{})
	worker.Start()

	addr := os.Getenv("HELIXCORE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "blob_driver", blobStore.Driver())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Warn("export worker shutdown", "error", err)
	}
	logger.Info("stopped")
	return nil
}
