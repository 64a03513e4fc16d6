// Package main implements the halomesh coordinator service. Workers register
// with it; a POST /run seeds and splits the domain, hands one tile to each
// worker slot and gathers the refined tiles back into a single mesh.
//
// Configuration comes from the YAML file named by MESH_CONFIG (optional) and
// MESH_* overrides, for example:
//
//	MESH_WORKERS=4 \
//	MESH_COORDINATOR_LISTEN=:8080 \
//	MESH_COORDINATOR_ADDR=http://localhost:8080 \
//	MESH_OUTPUT=/var/lib/halomesh/mesh.ply \
//	./coordinator
//
//	# once the workers registered
//	curl -X POST localhost:8080/run
//	curl localhost:8080/status
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/coordinator"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/storage"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load(getenv("MESH_CONFIG", ""))
	if err != nil {
		logFatal("%v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logFatal("%v", err)
	}

	ln, err := net.Listen("tcp", cfg.Coordinator.Listen)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, ln, logger); err != nil {
		logFatal("coordinator: %v", err)
	}
}

// run serves the coordinator on ln until ctx is done.
func run(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := coordinator.NewService(cfg, store,
		coordinator.WithServiceLogger(logger),
		coordinator.WithServiceMetrics(metrics.New()),
	)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.Start(ctx)

	s := &http.Server{
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()
	logger.Info("coordinator listening", "addr", ln.Addr().String(), "workers", cfg.Workers, "store", cfg.Store.Driver)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("coordinator stopped")
	return nil
}

// getenv returns the value of k, or def when k is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
