package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/halomesh/internal/cluster"
	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/ply"
	"github.com/dreamware/halomesh/internal/storage"
	"github.com/dreamware/halomesh/internal/timing"
	"github.com/dreamware/halomesh/internal/transport"
	"github.com/dreamware/halomesh/internal/wire"
)

// Run states.
const (
	RunIdle    = "idle"
	RunRunning = "running"
	RunDone    = "done"
	RunFailed  = "failed"
)

var (
	// ErrRunInProgress is returned when a run is started while another one
	// has not finished.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrNoWorkers is returned when a run is started before any worker
	// registered.
	ErrNoWorkers = errors.New("no workers registered")
)

// RunStatus is the externally visible state of the current run.
type RunStatus struct {
	RunID      string    `json:"run_id,omitempty"`
	State      string    `json:"state"`
	Tiles      int       `json:"tiles"`
	Received   int       `json:"received"`
	Points     int       `json:"points,omitempty"`
	Triangles  int       `json:"triangles,omitempty"`
	BytesSent  int       `json:"bytes_sent,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type run struct {
	status   RunStatus
	domain   *GlobalDomain
	registry *TileRegistry
	received map[int]bool
	done     chan struct{}
}

// Service is the coordinator's HTTP control plane. Workers register with it;
// a run splits the domain, scatters one Assignment per tile, gathers each
// tile's Result into the store and merges them once every tile reported.
//
// Only one run is active at a time. Any failed tile or unhealthy worker fails
// the whole run and every worker is told to cancel it.
type Service struct {
	cfg     *config.Config
	store   storage.Store
	codec   *wire.Binary
	metrics *metrics.Metrics
	health  *HealthMonitor
	timer   *timing.Timer
	redis   redis.UniversalClient
	logger  *slog.Logger
	prepare func(*config.Config, *slog.Logger) (*GlobalDomain, error)

	mu      sync.RWMutex
	workers []cluster.WorkerInfo
	run     *run
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithServiceMetrics records run outcomes in m.
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithPrepare replaces the function building a run's domain. The default is
// Prepare.
func WithPrepare(f func(*config.Config, *slog.Logger) (*GlobalDomain, error)) ServiceOption {
	return func(s *Service) { s.prepare = f }
}

// NewService creates a coordinator over store. The caller keeps ownership of
// the store.
func NewService(cfg *config.Config, store storage.Store, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		store:   store,
		prepare: Prepare,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDefault(s.logger).With("component", "coordinator")

	codec, err := wire.NewBinary(wire.WithCompression(cfg.Compress))
	if err != nil {
		return nil, err
	}
	s.codec = codec
	s.timer = timing.New(nil, s.logger)
	s.health = NewHealthMonitor(cfg.Coordinator.HealthInterval, s.logger)
	s.health.SetOnUnhealthy(s.workerUnhealthy)
	if cfg.Transport == config.TransportRedis {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	return s, nil
}

// Health returns the worker health monitor.
func (s *Service) Health() *HealthMonitor { return s.health }

// Start runs the health monitor until ctx is done. A non-positive health
// interval disables it.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.Coordinator.HealthInterval <= 0 {
		return
	}
	go s.health.Start(ctx, s.Workers)
}

// Close stops the health monitor and releases the codec and Redis client.
func (s *Service) Close() error {
	s.health.Stop()
	s.codec.Close()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Handler returns the service routes.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/register", s.handleRegister)
	r.Get("/workers", s.handleWorkers)
	r.Get("/tiles", s.handleTiles)
	r.Post("/run", s.handleRun)
	r.Post("/results/{tile}", s.handleResult)
	r.Get("/status", s.handleStatus)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Workers returns a snapshot of the registered workers in registration order.
func (s *Service) Workers() []cluster.WorkerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.workers)
}

// Register adds a worker or updates the address of a known one.
func (s *Service) Register(w cluster.WorkerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.workers, func(n cluster.WorkerInfo) bool { return n.ID == w.ID })
	if idx >= 0 {
		s.workers[idx] = w
		return
	}
	s.workers = append(s.workers, w)
	s.logger.Info("worker registered", "worker", w.ID, "addr", w.Addr, "workers", len(s.workers))
}

// Status returns the state of the current or last run.
func (s *Service) Status() RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.run == nil {
		return RunStatus{State: RunIdle}
	}
	return s.run.status
}

// Wait blocks until the current run finished or ctx is done.
func (s *Service) Wait(ctx context.Context) (RunStatus, error) {
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil {
		return RunStatus{State: RunIdle}, nil
	}
	select {
	case <-r.done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// StartRun prepares the domain, splits it over cfg.Workers tiles, distributes
// the tiles round-robin over the registered workers and sends every worker
// its assignments. It returns once every assignment was accepted; the results
// arrive on /results.
func (s *Service) StartRun(ctx context.Context) (RunStatus, error) {
	s.mu.Lock()
	if s.run != nil && s.run.status.State == RunRunning {
		s.mu.Unlock()
		return RunStatus{}, ErrRunInProgress
	}
	if len(s.workers) == 0 {
		s.mu.Unlock()
		return RunStatus{}, ErrNoWorkers
	}
	workers := slices.Clone(s.workers)
	r := &run{
		status: RunStatus{
			RunID:     uuid.NewString(),
			State:     RunRunning,
			Tiles:     s.cfg.Workers,
			StartedAt: time.Now(),
		},
		received: make(map[int]bool),
		done:     make(chan struct{}),
	}
	s.run = r
	s.mu.Unlock()

	id := r.status.RunID
	logger := s.logger.With("run", id)
	s.timer.Start(id)
	logger.Info("run starting", "tiles", s.cfg.Workers, "workers", len(workers))

	d, err := s.prepare(s.cfg, logger)
	if err != nil {
		return s.fail(id, err), err
	}
	tiles, err := d.SplitPartitions(s.cfg.Workers)
	if err != nil {
		return s.fail(id, err), err
	}
	registry := NewTileRegistry(len(tiles))
	if err := registry.Distribute(workers); err != nil {
		return s.fail(id, err), err
	}

	assignments := make([]cluster.Assignment, len(tiles))
	for i, t := range tiles {
		peers, err := registry.Peers(t.Spec().Neighbors)
		if err != nil {
			return s.fail(id, err), err
		}
		for tid, addr := range peers {
			peers[tid] = cluster.TileURL(addr, id, tid)
		}
		points, err := s.codec.Encode(wire.Fragment{Region: t.Core(), Points: t.Points()})
		if err != nil {
			return s.fail(id, err), err
		}
		assignments[i] = cluster.Assignment{
			RunID:        id,
			Tile:         t.Spec(),
			Peers:        peers,
			Points:       points,
			PollInterval: s.cfg.PollInterval,
			Compress:     s.cfg.Compress,
			Tiles:        len(tiles),
			Transport:    s.cfg.Transport,
			RedisAddr:    s.cfg.RedisAddr,
			Coordinator:  s.cfg.Coordinator.Addr,
		}
	}

	s.mu.Lock()
	r.domain, r.registry = d, registry
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range assignments {
		host := registry.Get(a.Tile.ID)
		g.Go(func() error {
			if err := cluster.PostJSON(gctx, host.Addr+"/assign", a, nil); err != nil {
				return fmt.Errorf("assign tile %d to %s: %w", a.Tile.ID, host.WorkerID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.fail(id, err), err
	}
	logger.Info("run dispatched", "tiles", len(tiles))
	return s.Status(), nil
}

// Accept records a tile's result. A tile is claimed before its result is
// stored, so only the first of concurrent duplicates is accepted and the last
// tile triggers the merge in the background exactly once.
func (s *Service) Accept(res cluster.Result) error {
	s.mu.Lock()
	r := s.run
	if r == nil || r.status.RunID != res.RunID {
		s.mu.Unlock()
		return fmt.Errorf("result for unknown run %q", res.RunID)
	}
	if r.status.State != RunRunning {
		s.mu.Unlock()
		return fmt.Errorf("run %s is %s", res.RunID, r.status.State)
	}
	if res.TileID < 0 || res.TileID >= r.status.Tiles {
		s.mu.Unlock()
		return fmt.Errorf("result for unknown tile %d", res.TileID)
	}
	if r.received[res.TileID] {
		s.mu.Unlock()
		return fmt.Errorf("tile %d reported twice", res.TileID)
	}
	r.received[res.TileID] = true
	s.mu.Unlock()

	if res.Failed() {
		s.fail(res.RunID, fmt.Errorf("tile %d on %s: %s", res.TileID, res.Worker, res.Error))
		return nil
	}
	if err := s.store.Put(storage.ResultKey(res.RunID, res.TileID), res.Points); err != nil {
		s.fail(res.RunID, fmt.Errorf("store tile %d: %w", res.TileID, err))
		return err
	}

	sent := 0
	for _, rep := range res.Reports {
		sent += rep.BytesSent
	}
	s.mu.Lock()
	r.status.Received++
	r.status.BytesSent += sent
	complete := r.status.Received == r.status.Tiles
	s.mu.Unlock()

	s.logger.Info("tile result received",
		"run", res.RunID, "tile", res.TileID, "worker", res.Worker, "phases", len(res.Reports), "bytes_sent", sent)
	if complete {
		go s.finish(res.RunID)
	}
	return nil
}

// finish merges the stored results of run id and writes the output mesh.
func (s *Service) finish(id string) {
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil || r.status.RunID != id {
		return
	}

	stored, err := storage.Results(s.store, id)
	if err != nil {
		s.fail(id, err)
		return
	}
	results := make([]Result, 0, len(stored))
	for tid := 0; tid < r.status.Tiles; tid++ {
		data, ok := stored[tid]
		if !ok {
			continue
		}
		f, err := s.codec.Decode(data)
		if err != nil {
			s.fail(id, fmt.Errorf("tile %d result: %w", tid, err))
			return
		}
		results = append(results, Result{TileID: tid, Points: f.Points})
	}
	merged, err := r.domain.MergePartitions(results)
	if err != nil {
		s.fail(id, err)
		return
	}
	tris := merged.Triangles()
	if s.cfg.Output != "" {
		if err := ply.WriteFile(s.cfg.Output, tris); err != nil {
			s.fail(id, err)
			return
		}
	}
	s.cleanupRedis(id)

	s.mu.Lock()
	if r.status.State != RunRunning {
		s.mu.Unlock()
		return
	}
	r.status.State = RunDone
	r.status.Points = merged.Len()
	r.status.Triangles = len(tris)
	r.status.Output = s.cfg.Output
	r.status.FinishedAt = time.Now()
	s.metrics.RunFinished(nil)
	close(r.done)
	s.mu.Unlock()

	s.timer.Stop(id, "points", merged.Len(), "triangles", len(tris))
}

// fail marks run id failed, tells every worker to cancel it and drops its
// partial results. Failing a run that is no longer running does nothing.
func (s *Service) fail(id string, cause error) RunStatus {
	s.mu.Lock()
	r := s.run
	if r == nil || r.status.RunID != id || r.status.State != RunRunning {
		s.mu.Unlock()
		return s.Status()
	}
	r.status.State = RunFailed
	r.status.Error = cause.Error()
	r.status.FinishedAt = time.Now()
	s.metrics.RunFinished(cause)
	close(r.done)
	status := r.status
	workers := slices.Clone(s.workers)
	s.mu.Unlock()

	s.logger.Error("run failed", "run", id, "error", cause)
	s.timer.Stop(id, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	for _, w := range workers {
		if err := cluster.PostJSON(ctx, w.Addr+"/cancel", cluster.CancelRequest{RunID: id}, nil); err != nil {
			s.logger.Warn("cancel not delivered", "worker", w.ID, "error", err)
		}
	}
	if err := storage.DeleteRun(s.store, id); err != nil {
		s.logger.Warn("partial results not deleted", "run", id, "error", err)
	}
	s.cleanupRedis(id)
	return status
}

func (s *Service) cleanupRedis(id string) {
	if s.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	if err := transport.Cleanup(ctx, s.redis, id); err != nil {
		s.logger.Warn("redis cleanup failed", "run", id, "error", err)
	}
}

// workerUnhealthy fails the current run when the worker hosts one of its
// tiles.
func (s *Service) workerUnhealthy(workerID string) {
	s.mu.RLock()
	var id string
	var hosted []int
	if r := s.run; r != nil && r.status.State == RunRunning && r.registry != nil {
		id, hosted = r.status.RunID, r.registry.WorkerTiles(workerID)
	}
	s.mu.RUnlock()
	if len(hosted) == 0 {
		return
	}
	s.fail(id, fmt.Errorf("worker %s hosting tiles %v is unhealthy", workerID, hosted))
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Worker.ID == "" || req.Worker.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.Register(req.Worker)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Workers []cluster.WorkerInfo     `json:"workers"`
		Health  map[string]*WorkerHealth `json:"health"`
	}{Workers: s.Workers(), Health: s.health.GetAllWorkerHealth()})
}

func (s *Service) handleTiles(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	var tiles []*TileAssignment
	if s.run != nil && s.run.registry != nil {
		tiles = s.run.registry.All()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, struct {
		Tiles []*TileAssignment `json:"tiles"`
	}{Tiles: tiles})
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	status, err := s.StartRun(r.Context())
	switch {
	case errors.Is(err, ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNoWorkers):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrConfig):
		writeJSON(w, http.StatusUnprocessableEntity, status)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, status)
	default:
		writeJSON(w, http.StatusAccepted, status)
	}
}

func (s *Service) handleResult(w http.ResponseWriter, r *http.Request) {
	tileID, err := strconv.Atoi(chi.URLParam(r, "tile"))
	if err != nil {
		http.Error(w, "bad tile id", http.StatusBadRequest)
		return
	}
	var res cluster.Result
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if res.TileID != tileID {
		http.Error(w, "tile id mismatch", http.StatusBadRequest)
		return
	}
	if err := s.Accept(res); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
