// Package plan holds the fixed schedule of halo exchanges every tile runs.
//
// A plan is an ordered list of phases. Each phase names the regions a tile
// sends to and receives from its neighbors, and optionally a region it refines
// locally before sending. Region functions are pure: they see only the tile's
// core box, the neighbor's core box and the halo margin, so two tiles compute
// matching regions without talking to each other.
//
// The default plan has five phases. Phase 0 primes every halo from the eight
// neighbors. Phases 1 to 4 sweep the quadrants TopLeft, TopRight, BottomRight
// and BottomLeft: the tile refines the quadrant grown by one margin, then
// pushes the result to the three neighbors on that corner while pulling the
// matching updates from the three neighbors on the opposite corner.
package plan

import (
	"errors"
	"fmt"

	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
)

// MinExtentFactor is the smallest tile width or height, in margins, for which
// the default plan keeps concurrently refined regions apart and every refined
// region inside the halos of the neighbors it is sent to.
const MinExtentFactor = 8

// ErrInvalidPlan is returned by Validate.
var ErrInvalidPlan = errors.New("plan: invalid")

// RegionFunc computes the exchange region between a tile (self) and one of its
// neighbors (peer) for halo margin r.
type RegionFunc func(self, peer geom.BBox, r float64) geom.BBox

// RefineFunc computes the region a tile refines for halo margin r.
type RefineFunc func(self geom.BBox, r float64) geom.BBox

// Task is one send or receive of a phase.
type Task struct {
	Direction grid.Direction
	Region    RegionFunc
}

// Phase is one step of the schedule. Refine is nil when the phase does not
// refine.
type Phase struct {
	Name     string
	Sends    []Task
	Receives []Task
	Refine   RefineFunc
}

// Plan is an immutable phase table.
type Plan struct {
	phases []Phase
}

// New builds a plan from phases.
func New(phases ...Phase) *Plan {
	return &Plan{phases: append([]Phase(nil), phases...)}
}

// Len returns the number of phases.
func (p *Plan) Len() int { return len(p.phases) }

// Phase returns phase i.
func (p *Plan) Phase(i int) Phase { return p.phases[i] }

// Phases returns a copy of the phase table.
func (p *Plan) Phases() []Phase { return append([]Phase(nil), p.phases...) }

// Tag is the transport tag used for messages of phase i.
func (p *Plan) Tag(i int) int { return i }

func extended(b geom.BBox, r float64) geom.BBox { return b.Expand(2 * r) }

// Default returns the five-phase plan.
func Default() *Plan {
	phases := []Phase{prime()}
	for _, q := range []geom.Quadrant{geom.TopLeft, geom.TopRight, geom.BottomRight, geom.BottomLeft} {
		phases = append(phases, sweep(q))
	}
	return New(phases...)
}

func prime() Phase {
	ph := Phase{Name: "prime"}
	for _, d := range grid.Directions {
		ph.Sends = append(ph.Sends, Task{Direction: d, Region: func(self, peer geom.BBox, r float64) geom.BBox {
			return self.Intersect(extended(peer, r))
		}})
		ph.Receives = append(ph.Receives, Task{Direction: d, Region: func(self, peer geom.BBox, r float64) geom.BBox {
			return peer.Intersect(extended(self, r))
		}})
	}
	return ph
}

func sweep(q geom.Quadrant) Phase {
	refine := func(self geom.BBox, r float64) geom.BBox {
		return self.Quadrant(q).Expand(r)
	}
	corner := cornerOf(q)
	ph := Phase{Name: q.String(), Refine: refine}
	for _, d := range around(corner) {
		ph.Sends = append(ph.Sends, Task{Direction: d, Region: func(self, peer geom.BBox, r float64) geom.BBox {
			return refine(self, r).Intersect(extended(peer, r))
		}})
	}
	for _, d := range around(corner.Opposite()) {
		ph.Receives = append(ph.Receives, Task{Direction: d, Region: func(self, peer geom.BBox, r float64) geom.BBox {
			return refine(peer, r).Intersect(extended(self, r))
		}})
	}
	return ph
}

func cornerOf(q geom.Quadrant) grid.Direction {
	switch q {
	case geom.TopLeft:
		return grid.TopLeft
	case geom.TopRight:
		return grid.TopRight
	case geom.BottomRight:
		return grid.BottomRight
	default:
		return grid.BottomLeft
	}
}

// around returns the two sides composing a corner, then the corner itself.
func around(corner grid.Direction) []grid.Direction {
	switch corner {
	case grid.TopLeft:
		return []grid.Direction{grid.Top, grid.Left, grid.TopLeft}
	case grid.TopRight:
		return []grid.Direction{grid.Top, grid.Right, grid.TopRight}
	case grid.BottomRight:
		return []grid.Direction{grid.Bottom, grid.Right, grid.BottomRight}
	default:
		return []grid.Direction{grid.Bottom, grid.Left, grid.BottomLeft}
	}
}

// CheckExtent verifies every cell of g is at least MinExtentFactor margins
// wide and tall.
func CheckExtent(g *grid.Grid, r float64) error {
	if !(r > 0) {
		return fmt.Errorf("%w: margin %g must be positive", ErrInvalidPlan, r)
	}
	if m := g.MinCellExtent(); m < MinExtentFactor*r {
		return fmt.Errorf("%w: tile extent %g below %d x margin %g", ErrInvalidPlan, m, MinExtentFactor, r)
	}
	return nil
}

// Validate checks the plan against a concrete grid and margin: tiles are large
// enough, every region stays within the halo, and every send has exactly one
// matching receive on the neighbor with an identical region.
func (p *Plan) Validate(g *grid.Grid, r float64) error {
	if err := CheckExtent(g, r); err != nil {
		return err
	}
	for i := 0; i < g.Len(); i++ {
		self := g.Cell(i)
		nbrs := g.Neighbors(i)
		for k, ph := range p.phases {
			if ph.Refine != nil {
				if rb := ph.Refine(self, r); !self.Expand(r).ContainsBox(rb) {
					return fmt.Errorf("%w: phase %d refine %v escapes tile %d", ErrInvalidPlan, k, rb, i)
				}
			}
			for _, s := range ph.Sends {
				j, ok := nbrs.Get(s.Direction)
				if !ok {
					continue
				}
				peer := g.Cell(j)
				sent := s.Region(self, peer, r)
				if !extended(self, r).ContainsBox(sent) && !sent.Empty() {
					return fmt.Errorf("%w: phase %d send %s from tile %d escapes halo", ErrInvalidPlan, k, s.Direction, i)
				}
				recv, n := ph.receive(s.Direction.Opposite())
				if n != 1 {
					return fmt.Errorf("%w: phase %d: %d receives match send %s", ErrInvalidPlan, k, n, s.Direction)
				}
				if got := recv.Region(peer, self, r); got != sent {
					return fmt.Errorf("%w: phase %d: tile %d sends %v to %d which expects %v",
						ErrInvalidPlan, k, i, sent, j, got)
				}
			}
			for _, rc := range ph.Receives {
				if _, ok := nbrs.Get(rc.Direction); !ok {
					continue
				}
				if _, n := ph.send(rc.Direction.Opposite()); n != 1 {
					return fmt.Errorf("%w: phase %d: %d sends match receive %s", ErrInvalidPlan, k, n, rc.Direction)
				}
			}
		}
	}
	return nil
}

func (ph Phase) receive(d grid.Direction) (Task, int) { return find(ph.Receives, d) }
func (ph Phase) send(d grid.Direction) (Task, int)    { return find(ph.Sends, d) }

func find(tasks []Task, d grid.Direction) (Task, int) {
	var out Task
	n := 0
	for _, t := range tasks {
		if t.Direction == d {
			out = t
			n++
		}
	}
	return out, n
}
