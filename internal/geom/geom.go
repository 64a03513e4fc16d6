// Package geom holds the plain value types shared by every layer of the mesher:
// points, axis-aligned boxes and triangles.
//
// Coordinates are y-down: the "top" of a box is its MinY edge and the "bottom"
// its MaxY edge. Point membership in a box is half-open, [Min, Max), so boxes
// that share an edge never both claim a point lying on it.
package geom

import (
	"fmt"
	"math"
)

// Point is a 2D vertex. Points are compared by value.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// BBox is an axis-aligned rectangle [MinX, MaxX) x [MinY, MaxY).
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Box builds a BBox from its corner coordinates.
func Box(minX, minY, maxX, maxY float64) BBox {
	return BBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// BoundsOf returns the smallest box holding every point (closed on the max side,
// so callers wanting membership of the extreme points should Expand it).
// An empty input yields the zero box.
func BoundsOf(pts []Point) BBox {
	if len(pts) == 0 {
		return BBox{}
	}
	b := BBox{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		b.MinX = math.Min(b.MinX, p.X)
		b.MinY = math.Min(b.MinY, p.Y)
		b.MaxX = math.Max(b.MaxX, p.X)
		b.MaxY = math.Max(b.MaxY, p.Y)
	}
	return b
}

func (b BBox) Width() float64  { return b.MaxX - b.MinX }
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Area is zero for empty boxes.
func (b BBox) Area() float64 {
	if b.Empty() {
		return 0
	}
	return b.Width() * b.Height()
}

// Empty reports whether the box has no interior.
func (b BBox) Empty() bool {
	return !(b.MinX < b.MaxX && b.MinY < b.MaxY)
}

// Center returns the midpoint of the box.
func (b BBox) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Contains reports half-open membership of p.
func (b BBox) Contains(p Point) bool {
	return p.X >= b.MinX && p.X < b.MaxX && p.Y >= b.MinY && p.Y < b.MaxY
}

// ContainsClosed reports membership of p including the max edges.
func (b BBox) ContainsClosed(p Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// ContainsBox reports whether o lies entirely inside b.
func (b BBox) ContainsBox(o BBox) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// Expand grows the box by d on every side. A negative d shrinks it.
func (b BBox) Expand(d float64) BBox {
	return BBox{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

// Shift translates the box by (dx, dy).
func (b BBox) Shift(dx, dy float64) BBox {
	return BBox{MinX: b.MinX + dx, MinY: b.MinY + dy, MaxX: b.MaxX + dx, MaxY: b.MaxY + dy}
}

// Intersect returns the overlap of b and o. The result is Empty when they do
// not overlap with positive area.
func (b BBox) Intersect(o BBox) BBox {
	return BBox{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Union returns the smallest box holding both b and o. An empty box adds
// nothing.
func (b BBox) Union(o BBox) BBox {
	switch {
	case b.Empty():
		return o
	case o.Empty():
		return b
	}
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// ClosedWithin returns b with every max edge that reaches the max edge of
// outer moved one ulp past it, so half-open membership in the result also
// covers points lying on outer's max boundary. An empty outer leaves b as is.
func (b BBox) ClosedWithin(outer BBox) BBox {
	if outer.Empty() {
		return b
	}
	if b.MaxX >= outer.MaxX {
		b.MaxX = math.Max(b.MaxX, math.Nextafter(outer.MaxX, math.Inf(1)))
	}
	if b.MaxY >= outer.MaxY {
		b.MaxY = math.Max(b.MaxY, math.Nextafter(outer.MaxY, math.Inf(1)))
	}
	return b
}

// Overlaps reports whether b and o share positive area.
func (b BBox) Overlaps(o BBox) bool {
	return !b.Intersect(o).Empty()
}

// Quadrant returns one quarter of the box. q follows the y-down convention.
func (b BBox) Quadrant(q Quadrant) BBox {
	c := b.Center()
	switch q {
	case TopLeft:
		return BBox{MinX: b.MinX, MinY: b.MinY, MaxX: c.X, MaxY: c.Y}
	case TopRight:
		return BBox{MinX: c.X, MinY: b.MinY, MaxX: b.MaxX, MaxY: c.Y}
	case BottomRight:
		return BBox{MinX: c.X, MinY: c.Y, MaxX: b.MaxX, MaxY: b.MaxY}
	default:
		return BBox{MinX: b.MinX, MinY: c.Y, MaxX: c.X, MaxY: b.MaxY}
	}
}

// Corners returns the four box corners, top-left first, clockwise.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MaxX, Y: b.MaxY},
		{X: b.MinX, Y: b.MaxY},
	}
}

func (b BBox) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]", b.MinX, b.MaxX, b.MinY, b.MaxY)
}

// Quadrant names one quarter of a box.
type Quadrant int

const (
	TopLeft Quadrant = iota
	TopRight
	BottomRight
	BottomLeft
)

func (q Quadrant) String() string {
	switch q {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomRight:
		return "bottom-right"
	case BottomLeft:
		return "bottom-left"
	}
	return fmt.Sprintf("quadrant(%d)", int(q))
}
