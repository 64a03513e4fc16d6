package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/plan"
	"github.com/dreamware/halomesh/internal/tile"
	"github.com/dreamware/halomesh/internal/transport"
	"github.com/dreamware/halomesh/internal/wire"
)

// DefaultPollInterval is how long Drain waits after a pass that completed
// nothing.
const DefaultPollInterval = time.Millisecond

// Kind tells sends from receives.
type Kind int

const (
	Send Kind = iota
	Receive
)

func (k Kind) String() string {
	if k == Send {
		return "send"
	}
	return "recv"
}

// MeshUpdate is one in-flight exchange with a neighbor.
type MeshUpdate struct {
	Phase     int
	Kind      Kind
	Direction grid.Direction
	Peer      int
	Target    geom.BBox

	req transport.Request
	buf []byte
}

// PhaseReport summarises one phase on one tile.
type PhaseReport struct {
	Phase          int           `json:"phase"`
	Name           string        `json:"name"`
	Sends          int           `json:"sends"`
	Receives       int           `json:"receives"`
	BytesSent      int           `json:"bytes_sent"`
	BytesReceived  int           `json:"bytes_received"`
	PointsSent     int           `json:"points_sent"`
	PointsReceived int           `json:"points_received"`
	Refined        int           `json:"refined"`
	Duration       time.Duration `json:"duration"`
}

// Worker runs the phase plan for one tile.
type Worker struct {
	tile      *tile.Tile
	transport transport.Transport
	codec     wire.Codec

	plan         *plan.Plan
	clock        clock.Clock
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	pending []*MeshUpdate
}

// Option configures a Worker.
type Option func(*Worker)

// WithPlan replaces the default five-phase plan.
func WithPlan(p *plan.Plan) Option { return func(w *Worker) { w.plan = p } }

// WithClock sets the clock used to time phases.
func WithClock(c clock.Clock) Option { return func(w *Worker) { w.clock = c } }

// WithMetrics records phase durations and refine outcomes in m.
func WithMetrics(m *metrics.Metrics) Option { return func(w *Worker) { w.metrics = m } }

// WithLogger sets the logger; the tile id is added to every record.
func WithLogger(l *slog.Logger) Option { return func(w *Worker) { w.logger = l } }

// WithPollInterval sets how long drain waits between rounds without progress.
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollInterval = d } }

// New creates a worker for t exchanging through tr.
func New(t *tile.Tile, tr transport.Transport, codec wire.Codec, opts ...Option) *Worker {
	w := &Worker{
		tile:         t,
		transport:    tr,
		codec:        codec,
		plan:         plan.Default(),
		clock:        clock.New(),
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(w)
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	w.logger = logging.OrDefault(w.logger).With("tile", t.ID())
	return w
}

// Tile returns the tile the worker drives.
func (w *Worker) Tile() *tile.Tile { return w.tile }

// Pending returns the number of in-flight updates.
func (w *Worker) Pending() int { return len(w.pending) }

// Run executes every phase in order. Any failure is fatal: the tile is marked
// failed and the error returned together with the reports of the phases that
// completed.
func (w *Worker) Run(ctx context.Context) ([]PhaseReport, error) {
	w.tile.SetState(tile.StateExchanging)
	reports := make([]PhaseReport, 0, w.plan.Len())
	for i := 0; i < w.plan.Len(); i++ {
		rep, err := w.RunPhase(ctx, i)
		if err != nil {
			w.tile.SetState(tile.StateFailed)
			w.pending = nil
			return reports, err
		}
		reports = append(reports, rep)
	}
	w.tile.SetState(tile.StateDone)
	return reports, nil
}

// RunPhase drives phase i through PostReceives, LocalRefine, PostSends and
// Drain.
func (w *Worker) RunPhase(ctx context.Context, i int) (PhaseReport, error) {
	ph := w.plan.Phase(i)
	rep := PhaseReport{Phase: i, Name: ph.Name}
	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("tile %d phase %d: %w", w.tile.ID(), i, err)
	}
	start := w.clock.Now()

	if err := w.postReceives(ctx, i, ph); err != nil {
		return rep, err
	}
	if err := w.localRefine(ph, &rep); err != nil {
		return rep, err
	}
	if err := w.postSends(ctx, i, ph, &rep); err != nil {
		return rep, err
	}
	if err := w.drain(ctx, &rep); err != nil {
		return rep, err
	}

	rep.Duration = w.clock.Since(start)
	w.metrics.ObservePhase(i, rep.Duration)
	w.logger.Debug("phase complete",
		"phase", i, "name", ph.Name,
		"sends", rep.Sends, "receives", rep.Receives,
		"refined", rep.Refined, "duration", rep.Duration)
	return rep, nil
}

func (w *Worker) postReceives(ctx context.Context, i int, ph plan.Phase) error {
	core, r := w.tile.Core(), w.tile.Margin()
	for _, task := range ph.Receives {
		peer, peerCore, ok := w.tile.Neighbor(task.Direction)
		if !ok {
			continue
		}
		req, err := w.transport.Irecv(ctx, peer, w.plan.Tag(i))
		if err != nil {
			return w.fail(i, Receive, task.Direction, peer, err)
		}
		w.pending = append(w.pending, &MeshUpdate{
			Phase:     i,
			Kind:      Receive,
			Direction: task.Direction,
			Peer:      peer,
			Target:    task.Region(core, peerCore, r),
			req:       req,
		})
	}
	return nil
}

func (w *Worker) localRefine(ph plan.Phase, rep *PhaseReport) error {
	if ph.Refine == nil {
		return nil
	}
	sub := ph.Refine(w.tile.Core(), w.tile.Margin())
	before := w.tile.GetStats().EmptyRefines
	n, err := w.tile.RefineRegion(sub)
	switch {
	case err != nil:
		w.metrics.Refined(metrics.OutcomeFailed, n)
		return err
	case w.tile.GetStats().EmptyRefines > before:
		w.metrics.Refined(metrics.OutcomeEmpty, 0)
	default:
		w.metrics.Refined(metrics.OutcomeRefined, n)
	}
	rep.Refined = n
	return nil
}

func (w *Worker) postSends(ctx context.Context, i int, ph plan.Phase, rep *PhaseReport) error {
	core, r := w.tile.Core(), w.tile.Margin()
	for _, task := range ph.Sends {
		peer, peerCore, ok := w.tile.Neighbor(task.Direction)
		if !ok {
			continue
		}
		region := task.Region(core, peerCore, r)
		pts := w.tile.PointsIn(region)
		buf, err := w.codec.Encode(wire.Fragment{Region: region, Points: pts})
		if err != nil {
			return w.fail(i, Send, task.Direction, peer, err)
		}
		req, err := w.transport.Isend(ctx, peer, w.plan.Tag(i), buf)
		if err != nil {
			return w.fail(i, Send, task.Direction, peer, err)
		}
		rep.PointsSent += len(pts)
		w.pending = append(w.pending, &MeshUpdate{
			Phase:     i,
			Kind:      Send,
			Direction: task.Direction,
			Peer:      peer,
			Target:    region,
			req:       req,
			buf:       buf,
		})
	}
	return nil
}

// drain polls every pending update until all completed. Completed sends are
// released; completed receives are decoded and applied to the tile first.
func (w *Worker) drain(ctx context.Context, rep *PhaseReport) error {
	for len(w.pending) > 0 {
		progress := false
		remaining := w.pending[:0]
		for idx, u := range w.pending {
			done, err := u.req.Test()
			if err == nil && done {
				err = w.complete(u, rep)
			}
			if err != nil {
				w.pending = append(remaining, w.pending[idx:]...)
				return w.fail(u.Phase, u.Kind, u.Direction, u.Peer, err)
			}
			if done {
				progress = true
				continue
			}
			remaining = append(remaining, u)
		}
		w.pending = remaining
		if progress || len(w.pending) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("tile %d: drain with %d pending: %w", w.tile.ID(), len(w.pending), ctx.Err())
		case <-w.clock.After(w.pollInterval):
		}
	}
	return nil
}

func (w *Worker) complete(u *MeshUpdate, rep *PhaseReport) error {
	if u.Kind == Send {
		rep.Sends++
		rep.BytesSent += len(u.buf)
		w.metrics.Sent(len(u.buf))
		u.buf = nil
		return nil
	}
	payload := u.req.Payload()
	frag, err := w.codec.Decode(payload)
	if err != nil {
		return err
	}
	if frag.Region != u.Target {
		return fmt.Errorf("%w: advertised region %v, expected %v", tile.ErrConsistencyViolation, frag.Region, u.Target)
	}
	if err := w.tile.UpdateRegion(u.Target, frag.Points); err != nil {
		return err
	}
	rep.Receives++
	rep.BytesReceived += len(payload)
	rep.PointsReceived += len(frag.Points)
	w.metrics.Received(len(payload))
	return nil
}

func (w *Worker) fail(phase int, k Kind, d grid.Direction, peer int, err error) error {
	w.logger.Error("exchange failed", "phase", phase, "op", k.String(), "direction", d.String(), "peer", peer, "error", err)
	return fmt.Errorf("tile %d phase %d %s %s peer %d: %w", w.tile.ID(), phase, k, d, peer, err)
}
