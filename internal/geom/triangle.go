package geom

import "math"

// degenerateEps bounds the relative size of the orientation determinant below
// which a triangle is treated as collinear.
const degenerateEps = 1e-12

// Triangle is three vertices in any winding.
type Triangle struct {
	A Point `json:"a"`
	B Point `json:"b"`
	C Point `json:"c"`
}

// Barycenter returns the centroid.
func (t Triangle) Barycenter() Point {
	return Point{X: (t.A.X + t.B.X + t.C.X) / 3, Y: (t.A.Y + t.B.Y + t.C.Y) / 3}
}

// Area returns the unsigned area.
func (t Triangle) Area() float64 {
	return math.Abs(orient(t.A, t.B, t.C)) / 2
}

// Degenerate reports whether the vertices are (numerically) collinear.
func (t Triangle) Degenerate() bool {
	scale := t.LongestEdge()
	return scale == 0 || math.Abs(orient(t.A, t.B, t.C)) <= degenerateEps*scale*scale
}

// Circumcenter returns the center of the circumscribed circle. ok is false for
// degenerate triangles or when the computation overflows.
func (t Triangle) Circumcenter() (c Point, ok bool) {
	if t.Degenerate() {
		return Point{}, false
	}
	ax, ay := t.A.X, t.A.Y
	bx, by := t.B.X-ax, t.B.Y-ay
	cx, cy := t.C.X-ax, t.C.Y-ay
	d := 2 * (bx*cy - by*cx)
	b2 := bx*bx + by*by
	c2 := cx*cx + cy*cy
	ux := (cy*b2 - by*c2) / d
	uy := (bx*c2 - cx*b2) / d
	c = Point{X: ax + ux, Y: ay + uy}
	if !finite(c.X) || !finite(c.Y) {
		return Point{}, false
	}
	return c, true
}

// Circumradius returns the radius of the circumscribed circle. ok is false
// whenever the circumcenter is not well defined.
func (t Triangle) Circumradius() (float64, bool) {
	c, ok := t.Circumcenter()
	if !ok {
		return 0, false
	}
	r := c.Dist(t.A)
	if !finite(r) {
		return 0, false
	}
	return r, true
}

// Edges returns the three edge lengths |AB|, |BC|, |CA|.
func (t Triangle) Edges() [3]float64 {
	return [3]float64{t.A.Dist(t.B), t.B.Dist(t.C), t.C.Dist(t.A)}
}

func (t Triangle) LongestEdge() float64 {
	e := t.Edges()
	return math.Max(e[0], math.Max(e[1], e[2]))
}

func (t Triangle) ShortestEdge() float64 {
	e := t.Edges()
	return math.Min(e[0], math.Min(e[1], e[2]))
}

// MinAngle returns the smallest interior angle in degrees. Degenerate
// triangles report 0.
func (t Triangle) MinAngle() float64 {
	if t.Degenerate() {
		return 0
	}
	e := t.Edges()
	a, b, c := e[1], e[2], e[0] // opposite A, B, C
	angA := lawOfCosines(b, c, a)
	angB := lawOfCosines(a, c, b)
	angC := 180 - angA - angB
	return math.Min(angA, math.Min(angB, angC))
}

// LongestEdgeMidpoint returns the midpoint of the longest edge.
func (t Triangle) LongestEdgeMidpoint() Point {
	e := t.Edges()
	switch {
	case e[0] >= e[1] && e[0] >= e[2]:
		return midpoint(t.A, t.B)
	case e[1] >= e[2]:
		return midpoint(t.B, t.C)
	default:
		return midpoint(t.C, t.A)
	}
}

// InCircumcircle reports whether p lies strictly inside the circumcircle.
func (t Triangle) InCircumcircle(p Point) bool {
	c, ok := t.Circumcenter()
	if !ok {
		return false
	}
	r := c.Dist(t.A)
	return c.Dist(p) < r*(1-1e-12)
}

func orient(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// lawOfCosines returns the angle (degrees) opposite side c.
func lawOfCosines(a, b, c float64) float64 {
	cos := (a*a + b*b - c*c) / (2 * a * b)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos) * 180 / math.Pi
}

func midpoint(p, q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
