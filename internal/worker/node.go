// Package worker implements a worker node: it registers with the
// coordinator, accepts tile assignments, runs the halo exchange for each tile
// and reports the tile's final points back.
//
// Routes:
//
//	GET  /health                                   liveness for the coordinator's monitor
//	POST /assign                                   start a tile (cluster.Assignment)
//	POST /cancel                                   abandon every tile of a run
//	POST /runs/{run}/tiles/{tile}/halo/{from}/{tag} inbound halo payloads
//	GET  /info                                     tiles hosted by this node
//	GET  /metrics                                  Prometheus collectors
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/dreamware/halomesh/internal/cluster"
	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/exchange"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/tile"
	"github.com/dreamware/halomesh/internal/transport"
	"github.com/dreamware/halomesh/internal/wire"
)

// Registration retry policy.
const (
	RegisterAttempts = 10
	RegisterDelay    = 400 * time.Millisecond
)

// FinishedHistory is how many finished tiles the node keeps reporting on
// /info.
const FinishedHistory = 64

var (
	// ErrRunCancelled is returned for work on a run the node was told to cancel.
	ErrRunCancelled = errors.New("run cancelled")
	// ErrTileFinished is returned for halo traffic to a tile that already
	// reported.
	ErrTileFinished = errors.New("tile finished")
)

type tileKey struct {
	run  string
	tile int
}

func (k tileKey) less(o tileKey) bool {
	if k.run != o.run {
		return k.run < o.run
	}
	return k.tile < o.tile
}

// runTiles tracks the live tiles of one run on this node.
type runTiles struct {
	cancel context.CancelFunc
	live   int
}

// Node hosts any number of tiles, possibly from several runs.
type Node struct {
	ID   string
	Addr string

	factory kernel.Factory
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	inboxes   map[tileKey]*transport.Mailbox
	tiles     map[tileKey]*tile.Tile
	runs      map[string]*runTiles
	finished  map[tileKey]tile.Info
	history   []tileKey
	cancelled map[string]bool
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the node logger.
func WithLogger(l *slog.Logger) Option { return func(n *Node) { n.logger = l } }

// WithMetrics shares m with every tile the node runs.
func WithMetrics(m *metrics.Metrics) Option { return func(n *Node) { n.metrics = m } }

// WithEngine sets the factory building each tile's engine.
func WithEngine(f kernel.Factory) Option { return func(n *Node) { n.factory = f } }

// New creates a node called id reachable by its peers at addr.
func New(id, addr string, opts ...Option) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		ID:        id,
		Addr:      addr,
		factory:   kernel.NewDelaunayEngine,
		ctx:       ctx,
		cancel:    cancel,
		inboxes:   make(map[tileKey]*transport.Mailbox),
		tiles:     make(map[tileKey]*tile.Tile),
		runs:      make(map[string]*runTiles),
		finished:  make(map[tileKey]tile.Info),
		cancelled: make(map[string]bool),
	}
	for _, o := range opts {
		o(n)
	}
	n.logger = logging.OrDefault(n.logger).With("worker", id)
	return n
}

// Handler returns the node's routes.
func (n *Node) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/assign", n.handleAssign)
	r.Post("/cancel", n.handleCancel)
	r.Route("/runs/{run}/tiles/{tile}", func(r chi.Router) {
		r.Post(transport.HaloPath, n.handleHalo)
	})
	r.Get("/info", n.handleInfo)
	r.Method(http.MethodGet, "/metrics", n.metrics.Handler())
	return r
}

// Register announces the node to the coordinator, retrying while the
// coordinator is unreachable.
func (n *Node) Register(ctx context.Context, coordinator string) error {
	body := cluster.RegisterRequest{Worker: cluster.WorkerInfo{ID: n.ID, Addr: n.Addr}}
	var lastErr error
	for i := 0; i < RegisterAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, coordinator+"/register", body, nil)
		if lastErr == nil {
			n.logger.Info("registered with coordinator", "coordinator", coordinator)
			return nil
		}
		n.logger.Warn("register retry", "attempt", i+1, "error", lastErr)
		select {
		case <-time.After(RegisterDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("register with %s: %w", coordinator, lastErr)
}

// inbox returns the mailbox of a tile, creating it on first use. Halo
// payloads may arrive before the tile's own assignment does.
func (n *Node) inbox(k tileKey) (*transport.Mailbox, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancelled[k.run] {
		return nil, fmt.Errorf("%w: %s", ErrRunCancelled, k.run)
	}
	if _, done := n.finished[k]; done {
		return nil, fmt.Errorf("%w: run %s tile %d", ErrTileFinished, k.run, k.tile)
	}
	box, ok := n.inboxes[k]
	if !ok {
		box = transport.NewMailbox()
		n.inboxes[k] = box
	}
	return box, nil
}

func (n *Node) runContext(run string) (context.Context, context.CancelFunc, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancelled[run] {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunCancelled, run)
	}
	ctx, cancel := context.WithCancel(n.ctx)
	rt := n.runs[run]
	if rt == nil {
		rt = &runTiles{}
		n.runs[run] = rt
	}
	prev := rt.cancel
	rt.cancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	rt.live++
	return ctx, cancel, nil
}

// release forgets a tile once it finished, keeping only its Info. The run's
// entry goes with its last live tile.
func (n *Node) release(k tileKey, t *tile.Tile) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tiles, k)
	if box, ok := n.inboxes[k]; ok {
		box.Close()
		delete(n.inboxes, k)
	}
	if rt := n.runs[k.run]; rt != nil {
		if rt.live--; rt.live <= 0 {
			delete(n.runs, k.run)
		}
	}
	n.finished[k] = t.Info()
	n.history = append(n.history, k)
	if len(n.history) > FinishedHistory {
		delete(n.finished, n.history[0])
		n.history = n.history[1:]
	}
}

// Assign starts the exchange for one tile in the background. The result is
// posted to a.Coordinator once the tile is done or failed.
func (n *Node) Assign(a cluster.Assignment) error {
	if err := a.Tile.Validate(); err != nil {
		return err
	}
	codec, err := wire.NewBinary(wire.WithCompression(a.Compress))
	if err != nil {
		return err
	}
	frag, err := codec.Decode(a.Points)
	if err != nil {
		codec.Close()
		return fmt.Errorf("tile %d points: %w", a.Tile.ID, err)
	}

	key := tileKey{run: a.RunID, tile: a.Tile.ID}
	var box *transport.Mailbox
	if a.Transport != config.TransportRedis {
		if box, err = n.inbox(key); err != nil {
			codec.Close()
			return err
		}
	}
	ctx, cancel, err := n.runContext(a.RunID)
	if err != nil {
		codec.Close()
		return err
	}

	var (
		tr     transport.Transport
		client *redis.Client
	)
	if box != nil {
		tr = transport.NewHTTP(a.Tile.ID, a.Peers, box)
	} else {
		client = redis.NewClient(&redis.Options{Addr: a.RedisAddr})
		tr = transport.NewRedis(client, a.RunID, a.Tile.ID, a.Tiles)
	}

	t := tile.New(a.Tile, n.factory(), tile.WithLogger(n.logger.With("run", a.RunID)))
	t.Insert(frag.Points...)
	n.mu.Lock()
	n.tiles[key] = t
	n.mu.Unlock()

	w := exchange.New(t, tr, codec,
		exchange.WithMetrics(n.metrics),
		exchange.WithLogger(t.Logger()),
		exchange.WithPollInterval(a.PollInterval),
	)
	n.logger.Info("tile assigned", "run", a.RunID, "tile", a.Tile.ID, "points", len(frag.Points))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		defer codec.Close()
		defer tr.Close()
		if client != nil {
			defer client.Close()
		}
		reports, err := w.Run(ctx)
		res := n.result(a, t, codec, reports, err)
		n.release(key, t)
		n.report(a, res)
	}()
	return nil
}

func (n *Node) result(a cluster.Assignment, t *tile.Tile, codec wire.Codec, reports []exchange.PhaseReport, runErr error) cluster.Result {
	res := cluster.Result{RunID: a.RunID, TileID: a.Tile.ID, Worker: n.ID, Reports: reports}
	if runErr != nil {
		res.Error = runErr.Error()
		n.logger.Error("tile failed", "run", a.RunID, "tile", a.Tile.ID, "error", runErr)
	} else {
		points, err := codec.Encode(wire.Fragment{Region: t.Extended(), Points: t.Points()})
		if err != nil {
			res.Error = err.Error()
		}
		res.Points = points
		n.logger.Info("tile done", "run", a.RunID, "tile", a.Tile.ID, "points", len(t.Points()))
	}
	return res
}

// report posts res to the coordinator of a.
func (n *Node) report(a cluster.Assignment, res cluster.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/results/%d", a.Coordinator, a.Tile.ID)
	if err := cluster.PostJSON(ctx, url, res, nil); err != nil {
		n.logger.Warn("result not delivered", "run", a.RunID, "tile", a.Tile.ID, "error", err)
	}
}

// Cancel aborts every tile of run and refuses later work on it.
func (n *Node) Cancel(run string) {
	n.mu.Lock()
	n.cancelled[run] = true
	var cancel context.CancelFunc
	if rt := n.runs[run]; rt != nil {
		cancel = rt.cancel
	}
	delete(n.runs, run)
	for k, box := range n.inboxes {
		if k.run == run {
			box.Close()
			delete(n.inboxes, k)
		}
	}
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.logger.Info("run cancelled", "run", run)
	}
}

// Tiles returns the info of every running tile and of the last
// FinishedHistory finished ones, ordered by run and tile.
func (n *Node) Tiles() []tile.Info {
	n.mu.RLock()
	defer n.mu.RUnlock()
	keys := make([]tileKey, 0, len(n.tiles)+len(n.finished))
	for k := range n.tiles {
		keys = append(keys, k)
	}
	for k := range n.finished {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	out := make([]tile.Info, 0, len(keys))
	for _, k := range keys {
		if t, ok := n.tiles[k]; ok {
			out = append(out, t.Info())
			continue
		}
		out = append(out, n.finished[k])
	}
	return out
}

// Close cancels every running tile and waits for their reports.
func (n *Node) Close() {
	n.cancel()
	n.wg.Wait()
}

func (n *Node) handleAssign(w http.ResponseWriter, r *http.Request) {
	var a cluster.Assignment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if a.RunID == "" || a.Coordinator == "" {
		http.Error(w, "missing run_id/coordinator", http.StatusBadRequest)
		return
	}
	if err := n.Assign(a); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ErrRunCancelled) || errors.Is(err, ErrTileFinished) {
			code = http.StatusGone
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (n *Node) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cluster.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == "" {
		http.Error(w, "bad cancel request", http.StatusBadRequest)
		return
	}
	n.Cancel(req.RunID)
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleHalo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "tile"))
	if err != nil {
		http.Error(w, "bad tile id", http.StatusBadRequest)
		return
	}
	box, err := n.inbox(tileKey{run: chi.URLParam(r, "run"), tile: id})
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	transport.HaloHandler(box)(w, r)
}

func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	tiles := n.Tiles()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		WorkerID string      `json:"worker_id"`
		Tiles    []tile.Info `json:"tiles"`
		Count    int         `json:"tile_count"`
	}{WorkerID: n.ID, Tiles: tiles, Count: len(tiles)})
}
