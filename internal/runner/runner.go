// Package runner drives a whole mesh job inside one process: every tile gets
// its own goroutine and the tiles exchange halos through an in-process hub or
// through Redis.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/coordinator"
	"github.com/dreamware/halomesh/internal/exchange"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/ply"
	"github.com/dreamware/halomesh/internal/storage"
	"github.com/dreamware/halomesh/internal/tile"
	"github.com/dreamware/halomesh/internal/timing"
	"github.com/dreamware/halomesh/internal/transport"
	"github.com/dreamware/halomesh/internal/wire"
)

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Tiles     int
	Rows      int
	Cols      int
	Margin    float64
	Points    int
	Triangles int
	Output    string
	Reports   map[int][]exchange.PhaseReport
	Durations map[string]time.Duration
}

// Runner runs jobs described by a config.
type Runner struct {
	cfg     *config.Config
	store   storage.Store
	redis   redis.UniversalClient
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithMetrics records exchange metrics in m.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithClock sets the clock used for the run timings.
func WithClock(c clock.Clock) Option { return func(r *Runner) { r.clock = c } }

// WithStore keeps tile results in s instead of a store opened from the
// config. The runner does not close it.
func WithStore(s storage.Store) Option { return func(r *Runner) { r.store = s } }

// WithRedis uses client for the Redis transport instead of dialing
// cfg.RedisAddr. The runner does not close it.
func WithRedis(client redis.UniversalClient) Option { return func(r *Runner) { r.redis = client } }

// New creates a runner for cfg.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, clock: clock.New()}
	for _, o := range opts {
		o(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Run seeds, refines and splits the domain, runs the exchange on every tile
// concurrently, merges the tiles and writes the output mesh. A failing tile
// cancels the others; the returned error combines every tile's failure.
func (r *Runner) Run(ctx context.Context) (sum *Summary, err error) {
	id := uuid.NewString()
	logger := r.logger.With("run", id)
	timer := timing.New(r.clock, logger)
	timer.Start("total")
	defer func() {
		r.metrics.RunFinished(err)
		d := timer.Stop("total", "error", err)
		if sum != nil {
			sum.Durations["total"] = d
		}
	}()

	sum = &Summary{RunID: id, Output: r.cfg.Output, Durations: make(map[string]time.Duration)}

	timer.Start("prepare")
	d, err := coordinator.Prepare(r.cfg, logger)
	if err != nil {
		return nil, err
	}
	sum.Durations["prepare"] = timer.Stop("prepare", "points", d.Engine().Len())

	timer.Start("split")
	tiles, err := d.SplitPartitions(r.cfg.Workers)
	if err != nil {
		return nil, err
	}
	sum.Durations["split"] = timer.Stop("split", "tiles", len(tiles))
	sum.Tiles, sum.Rows, sum.Cols, sum.Margin = len(tiles), d.Grid().Rows(), d.Grid().Cols(), d.Margin()

	codec, err := wire.NewBinary(wire.WithCompression(r.cfg.Compress))
	if err != nil {
		return nil, err
	}
	defer codec.Close()

	endpoints, cleanup, err := r.transports(id, len(tiles))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	timer.Start("exchange")
	var (
		mu   sync.Mutex
		errs error
	)
	sum.Reports = make(map[int][]exchange.PhaseReport, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tiles {
		w := exchange.New(t, endpoints[i], codec,
			exchange.WithClock(r.clock),
			exchange.WithMetrics(r.metrics),
			exchange.WithLogger(logger),
			exchange.WithPollInterval(r.cfg.PollInterval),
		)
		g.Go(func() error {
			reports, err := w.Run(gctx)
			mu.Lock()
			defer mu.Unlock()
			sum.Reports[t.ID()] = reports
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("tile %d: %w", t.ID(), err))
			}
			return err
		})
	}
	_ = g.Wait()
	if errs != nil {
		return nil, errs
	}
	sum.Durations["exchange"] = timer.Stop("exchange")

	timer.Start("merge")
	results, err := r.gather(id, codec, tiles)
	if err != nil {
		return nil, err
	}
	merged, err := d.MergePartitions(results)
	if err != nil {
		return nil, err
	}
	tris := merged.Triangles()
	sum.Points, sum.Triangles = merged.Len(), len(tris)
	sum.Durations["merge"] = timer.Stop("merge", "points", sum.Points, "triangles", sum.Triangles)

	if r.cfg.Output != "" {
		if err := ply.WriteFile(r.cfg.Output, tris); err != nil {
			return nil, err
		}
		logger.Info("mesh written", "output", r.cfg.Output)
	}
	return sum, nil
}

// transports returns one endpoint per tile and a function releasing them.
func (r *Runner) transports(id string, n int) ([]transport.Transport, func(), error) {
	endpoints := make([]transport.Transport, n)
	switch r.cfg.Transport {
	case config.TransportRedis:
		client, owned := r.redis, false
		if client == nil {
			client, owned = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr}), true
		}
		for i := range endpoints {
			endpoints[i] = transport.NewRedis(client, id, i, n)
		}
		return endpoints, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := transport.Cleanup(ctx, client, id); err != nil {
				r.logger.Warn("redis cleanup failed", "run", id, "error", err)
			}
			if owned {
				_ = client.Close()
			}
		}, nil
	case config.TransportLocal, "":
		hub := transport.NewHub(n)
		for i := range endpoints {
			endpoints[i] = hub.Endpoint(i)
		}
		return endpoints, hub.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown transport %q", config.ErrConfig, r.cfg.Transport)
	}
}

// gather passes every tile's points through the result store, the same path
// the distributed coordinator takes, and reads them back for the merge.
func (r *Runner) gather(id string, codec *wire.Binary, tiles []*tile.Tile) ([]coordinator.Result, error) {
	store := r.store
	if store == nil {
		s, err := storage.Open(r.cfg.Store.Driver, r.cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		store = s
	}

	for _, t := range tiles {
		data, err := codec.Encode(wire.Fragment{Region: t.Extended(), Points: t.Points()})
		if err != nil {
			return nil, err
		}
		if err := store.Put(storage.ResultKey(id, t.ID()), data); err != nil {
			return nil, err
		}
	}
	stored, err := storage.Results(store, id)
	if err != nil {
		return nil, err
	}
	results := make([]coordinator.Result, 0, len(stored))
	for i := range tiles {
		data, ok := stored[i]
		if !ok {
			continue
		}
		f, err := codec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("tile %d result: %w", i, err)
		}
		results = append(results, coordinator.Result{TileID: i, Points: f.Points})
	}
	return results, nil
}
