// Package main implements the halomesh worker node. It registers with the
// coordinator and runs the halo exchange for every tile it is assigned.
//
// Configuration comes from the YAML file named by MESH_CONFIG (optional) and
// MESH_* overrides. MESH_NODE_ID and MESH_NODE_COORDINATOR are required:
//
//	MESH_NODE_ID=worker-1 \
//	MESH_NODE_LISTEN=:8081 \
//	MESH_NODE_ADDR=http://localhost:8081 \
//	MESH_NODE_COORDINATOR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load(getenv("MESH_CONFIG", ""))
	if err != nil {
		logFatal("%v", err)
	}
	if err := checkNode(cfg.Node); err != nil {
		logFatal("%v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logFatal("%v", err)
	}

	ln, err := net.Listen("tcp", cfg.Node.Listen)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, ln, logger); err != nil {
		logFatal("node: %v", err)
	}
}

func checkNode(n config.Node) error {
	if n.ID == "" {
		return fmt.Errorf("missing env %s", config.EnvName("node.id"))
	}
	if n.Coordinator == "" {
		return fmt.Errorf("missing env %s", config.EnvName("node.coordinator"))
	}
	return nil
}

// run serves the node on ln, registers it and blocks until ctx is done. The
// public address defaults to the listener's when cfg.Node.Addr is empty.
func run(ctx context.Context, cfg *config.Config, ln net.Listener, logger *slog.Logger) error {
	public := cfg.Node.Addr
	if public == "" {
		public = "http://" + ln.Addr().String()
	}
	n := worker.New(cfg.Node.ID, public,
		worker.WithLogger(logger),
		worker.WithMetrics(metrics.New()),
	)
	defer n.Close()

	s := &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()
	logger.Info("node listening", "id", cfg.Node.ID, "addr", ln.Addr().String(), "public", public)

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}

	if err := n.Register(ctx, cfg.Node.Coordinator); err != nil {
		_ = shutdown()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	if err := shutdown(); err != nil {
		return err
	}
	logger.Info("node stopped")
	return nil
}

// getenv returns the value of k, or def when k is unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
