// Package kernel defines the geometry engine the mesher drives and ships a
// small reference implementation of it.
//
// The mesher itself never triangulates anything: tiles and the coordinator hand
// points to an Engine and ask it to refine regions. Any engine satisfying the
// interface can be plugged in through a Factory; Delaunay is the default.
package kernel

import (
	"errors"
	"fmt"

	"github.com/dreamware/halomesh/internal/geom"
)

var (
	// ErrGeometryInexact reports a circumradius that could not be computed
	// exactly (degenerate, overflowing or non-finite input).
	ErrGeometryInexact = errors.New("kernel: inexact geometry")

	// ErrEmptyRegion is returned by Refine when the region holds no triangles.
	ErrEmptyRegion = errors.New("kernel: region has no triangles")
)

// DefaultMaxIterations caps point insertions per Refine call when the quality
// leaves MaxIterations unset.
const DefaultMaxIterations = 10000

// Quality holds the refinement thresholds. Zero disables a criterion.
type Quality struct {
	// MinAngle is the smallest acceptable interior angle, in degrees.
	MinAngle float64 `json:"min_angle" yaml:"min_angle" mapstructure:"min_angle"`
	// MinEdge is the shortest edge refinement may create.
	MinEdge float64 `json:"min_edge" yaml:"min_edge" mapstructure:"min_edge"`
	// MaxEdge is the longest edge a refined triangle may keep.
	MaxEdge float64 `json:"max_edge" yaml:"max_edge" mapstructure:"max_edge"`
	// MaxIterations caps the number of inserted points per call.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
}

// Active reports whether q asks for any refinement. MinEdge alone only
// bounds refinement and never triggers it.
func (q Quality) Active() bool { return q.MinAngle > 0 || q.MaxEdge > 0 }

// Validate rejects negative thresholds.
func (q Quality) Validate() error {
	switch {
	case q.MinAngle < 0 || q.MinAngle >= 60:
		return fmt.Errorf("min_angle %g out of range [0, 60)", q.MinAngle)
	case q.MinEdge < 0:
		return fmt.Errorf("min_edge %g is negative", q.MinEdge)
	case q.MaxEdge < 0:
		return fmt.Errorf("max_edge %g is negative", q.MaxEdge)
	case q.MaxEdge > 0 && q.MaxEdge < 2*q.MinEdge:
		return fmt.Errorf("max_edge %g is below twice min_edge %g", q.MaxEdge, q.MinEdge)
	case q.MaxIterations < 0:
		return fmt.Errorf("max_iterations %d is negative", q.MaxIterations)
	}
	return nil
}

// Engine is a mutable point set with a triangulation over it.
//
// Region queries use half-open box membership. Engines are not safe for
// concurrent use; every tile owns its own.
type Engine interface {
	// Insert adds points, ignoring exact duplicates and non-finite values,
	// and returns how many were new.
	Insert(pts ...geom.Point) int
	// RemoveIn deletes every point inside b and returns how many went.
	RemoveIn(b geom.BBox) int
	// PointsIn returns the points inside b.
	PointsIn(b geom.BBox) []geom.Point
	// Points returns every point in insertion order.
	Points() []geom.Point
	Len() int
	// Triangles returns the non-degenerate triangles of the current point set.
	Triangles() []geom.Triangle
	// TrianglesIn returns the triangles whose barycenter lies inside b.
	TrianglesIn(b geom.BBox) []geom.Triangle
	// Refine inserts points inside b until every triangle of b meets q or the
	// iteration cap is hit. It returns the number of inserted points.
	Refine(b geom.BBox, q Quality) (int, error)
}

// Factory creates an empty engine.
type Factory func() Engine

// Circumradius returns t's circumradius or ErrGeometryInexact.
func Circumradius(t geom.Triangle) (float64, error) {
	r, ok := t.Circumradius()
	if !ok {
		return 0, fmt.Errorf("%w: circumradius of %v", ErrGeometryInexact, t)
	}
	return r, nil
}
