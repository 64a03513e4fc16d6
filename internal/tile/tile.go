package tile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
)

// ErrConsistencyViolation means a neighbor sent a point outside the region it
// was supposed to cover. It is fatal for the worker.
var ErrConsistencyViolation = errors.New("tile: consistency violation")

// State represents the lifecycle of a tile within a run
type State string

const (
	// StatePending means the tile is built but the exchange has not started
	StatePending State = "pending"
	// StateExchanging means the tile is running the phase plan
	StateExchanging State = "exchanging"
	// StateDone means every phase completed
	StateDone State = "done"
	// StateFailed means the exchange aborted
	StateFailed State = "failed"
)

// Spec is the serialisable description of a tile: everything a worker needs
// to rebuild it apart from the points.
type Spec struct {
	ID            int                           `json:"id"`
	Row           int                           `json:"row"`
	Col           int                           `json:"col"`
	Core          geom.BBox                     `json:"core"`
	Margin        float64                       `json:"margin"`
	Neighbors     grid.Neighbors                `json:"neighbors"`
	NeighborCores [grid.NumDirections]geom.BBox `json:"neighbor_cores"`
	Quality       kernel.Quality                `json:"quality"`
	// Domain is the whole decomposed box. Regions reaching its max edges
	// are treated as closed there.
	Domain geom.BBox `json:"domain"`
}

// Validate checks the structural invariants of a spec.
func (s Spec) Validate() error {
	if s.Core.Empty() {
		return fmt.Errorf("tile %d: empty core %v", s.ID, s.Core)
	}
	if !(s.Margin > 0) {
		return fmt.Errorf("tile %d: margin %g must be positive", s.ID, s.Margin)
	}
	for _, d := range grid.Directions {
		if _, ok := s.Neighbors.Get(d); ok && s.NeighborCores[d].Empty() {
			return fmt.Errorf("tile %d: neighbor %s has no core", s.ID, d)
		}
	}
	return nil
}

// Stats tracks operation counts for a tile
type Stats struct {
	Updates      uint64 `json:"updates"`       // UpdateRegion calls
	Removed      uint64 `json:"removed"`       // points dropped by updates
	Received     uint64 `json:"received"`      // points inserted by updates
	Refines      uint64 `json:"refines"`       // RefineRegion calls
	Inserted     uint64 `json:"inserted"`      // points created by refinement
	EmptyRefines uint64 `json:"empty_refines"` // refines skipped for lack of triangles
}

// Info contains metadata about a tile
type Info struct {
	ID     int       `json:"id"`
	Core   geom.BBox `json:"core"`
	Margin float64   `json:"margin"`
	State  State     `json:"state"`
	Points int       `json:"points"`
	Stats  Stats     `json:"stats"`
}

// Tile is one worker's slice of the mesh: a core box, the halo around it and
// an engine holding every point the tile knows about.
//
// The engine is driven by a single goroutine (the exchange). Info, State and
// GetStats may be called concurrently from elsewhere.
type Tile struct {
	spec   Spec
	engine kernel.Engine
	logger *slog.Logger

	stats  Stats
	points atomic.Int64

	mu    sync.RWMutex // protects state
	state State
}

// Option configures a Tile.
type Option func(*Tile)

// WithLogger sets the tile's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tile) { t.logger = l }
}

// New creates a pending tile over engine.
func New(spec Spec, engine kernel.Engine, opts ...Option) *Tile {
	t := &Tile{
		spec:   spec,
		engine: engine,
		state:  StatePending,
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = logging.OrDefault(t.logger).With("tile", spec.ID)
	t.points.Store(int64(engine.Len()))
	return t
}

// ID returns the tile's index in the grid.
func (t *Tile) ID() int { return t.spec.ID }

// Spec returns the description the tile was built from.
func (t *Tile) Spec() Spec { return t.spec }

// Core returns the box the tile owns.
func (t *Tile) Core() geom.BBox { return t.spec.Core }

// Margin returns the halo margin r.
func (t *Tile) Margin() float64 { return t.spec.Margin }

// Logger returns the tile's logger, already tagged with its id.
func (t *Tile) Logger() *slog.Logger { return t.logger }

// closed extends b over the domain's max edges so boundary points count as
// inside it.
func (t *Tile) closed(b geom.BBox) geom.BBox { return b.ClosedWithin(t.spec.Domain) }

// Extended returns the core grown by twice the margin: the region the tile
// keeps copies of.
func (t *Tile) Extended() geom.BBox {
	return t.spec.Core.Expand(2 * t.spec.Margin)
}

// Neighbor returns the index and core of the neighbor in direction d.
func (t *Tile) Neighbor(d grid.Direction) (int, geom.BBox, bool) {
	id, ok := t.spec.Neighbors.Get(d)
	if !ok {
		return grid.NoNeighbor, geom.BBox{}, false
	}
	return id, t.spec.NeighborCores[d], true
}

// Insert adds points without any region checks. Used to seed a tile.
func (t *Tile) Insert(pts ...geom.Point) int {
	n := t.engine.Insert(pts...)
	t.points.Store(int64(t.engine.Len()))
	return n
}

// UpdateRegion replaces the tile's view of sub with incoming: every local
// point inside sub is removed and every incoming point inserted.
//
// All incoming points must lie inside sub. If any does not, nothing is
// modified and the error wraps ErrConsistencyViolation.
func (t *Tile) UpdateRegion(sub geom.BBox, incoming []geom.Point) error {
	in := t.closed(sub)
	for _, p := range incoming {
		if !in.Contains(p) {
			return fmt.Errorf("%w: tile %d: point %v outside %v", ErrConsistencyViolation, t.spec.ID, p, sub)
		}
	}
	atomic.AddUint64(&t.stats.Updates, 1)
	removed := t.engine.RemoveIn(in)
	inserted := t.engine.Insert(incoming...)
	atomic.AddUint64(&t.stats.Removed, uint64(removed))
	atomic.AddUint64(&t.stats.Received, uint64(inserted))
	t.points.Store(int64(t.engine.Len()))
	return nil
}

// RefineRegion refines sub with the tile's quality. A region holding no
// triangles is logged and skipped.
func (t *Tile) RefineRegion(sub geom.BBox) (int, error) {
	atomic.AddUint64(&t.stats.Refines, 1)
	n, err := t.engine.Refine(sub, t.spec.Quality)
	if errors.Is(err, kernel.ErrEmptyRegion) {
		atomic.AddUint64(&t.stats.EmptyRefines, 1)
		t.logger.Debug("refine skipped: no triangles", "region", sub.String())
		return 0, nil
	}
	atomic.AddUint64(&t.stats.Inserted, uint64(n))
	t.points.Store(int64(t.engine.Len()))
	if err != nil {
		return n, fmt.Errorf("tile %d: refine %v: %w", t.spec.ID, sub, err)
	}
	return n, nil
}

// PointsIn returns the points inside b, including those on the domain's max
// edges when b reaches them.
func (t *Tile) PointsIn(b geom.BBox) []geom.Point {
	return t.engine.PointsIn(t.closed(b))
}

// Points returns every point the tile holds, halo copies included.
func (t *Tile) Points() []geom.Point {
	return t.engine.Points()
}

// OwnedPoints returns the points inside the core.
func (t *Tile) OwnedPoints() []geom.Point {
	return t.PointsIn(t.spec.Core)
}

// Triangles returns the tile's current triangulation.
func (t *Tile) Triangles() []geom.Triangle {
	return t.engine.Triangles()
}

// State returns the lifecycle state.
func (t *Tile) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState updates the lifecycle state
func (t *Tile) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// GetStats returns a snapshot of the counters
func (t *Tile) GetStats() Stats {
	return Stats{
		Updates:      atomic.LoadUint64(&t.stats.Updates),
		Removed:      atomic.LoadUint64(&t.stats.Removed),
		Received:     atomic.LoadUint64(&t.stats.Received),
		Refines:      atomic.LoadUint64(&t.stats.Refines),
		Inserted:     atomic.LoadUint64(&t.stats.Inserted),
		EmptyRefines: atomic.LoadUint64(&t.stats.EmptyRefines),
	}
}

// Info returns metadata about the tile
func (t *Tile) Info() Info {
	return Info{
		ID:     t.spec.ID,
		Core:   t.spec.Core,
		Margin: t.spec.Margin,
		State:  t.State(),
		Points: int(t.points.Load()),
		Stats:  t.GetStats(),
	}
}
