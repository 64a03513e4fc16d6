package kernel

import (
	"math"

	"github.com/dreamware/halomesh/internal/geom"
)

// superScale sizes the enclosing super-triangle relative to the point bounds.
const superScale = 20

// triangulation is a Bowyer-Watson Delaunay triangulation. The first three
// vertices belong to the super-triangle; triangles touching them are never
// reported.
type triangulation struct {
	verts []geom.Point
	tris  []face
	// safe is the region in which insertions stay well inside the
	// super-triangle.
	safe geom.BBox
}

// face holds counter-clockwise vertex indices.
type face [3]int

type edge struct{ a, b int }

func newTriangulation(bounds geom.BBox) *triangulation {
	w := math.Max(bounds.Width(), bounds.Height())
	if w == 0 {
		w = 1
	}
	c := bounds.Center()
	d := superScale * w
	t := &triangulation{
		verts: []geom.Point{
			{X: c.X - d, Y: c.Y - d},
			{X: c.X + d, Y: c.Y - d},
			{X: c.X, Y: c.Y + d},
		},
		tris: []face{{0, 1, 2}},
		safe: bounds.Expand(w),
	}
	return t
}

// insert adds p and re-triangulates its cavity. It reports false, leaving the
// triangulation untouched, when no circumcircle strictly holds p.
func (t *triangulation) insert(p geom.Point) bool {
	bad := make([]bool, len(t.tris))
	nbad := 0
	for i, f := range t.tris {
		if inCircle(t.verts[f[0]], t.verts[f[1]], t.verts[f[2]], p) {
			bad[i] = true
			nbad++
		}
	}
	if nbad == 0 {
		return false
	}

	// Cavity boundary: directed edges of bad faces whose reverse is not
	// also an edge of a bad face.
	edges := make(map[edge]struct{}, 3*nbad)
	for i, f := range t.tris {
		if !bad[i] {
			continue
		}
		for k := 0; k < 3; k++ {
			edges[edge{f[k], f[(k+1)%3]}] = struct{}{}
		}
	}

	idx := len(t.verts)
	t.verts = append(t.verts, p)

	kept := t.tris[:0]
	var boundary []edge
	for i, f := range t.tris {
		if !bad[i] {
			kept = append(kept, f)
			continue
		}
		for k := 0; k < 3; k++ {
			e := edge{f[k], f[(k+1)%3]}
			if _, shared := edges[edge{e.b, e.a}]; !shared {
				boundary = append(boundary, e)
			}
		}
	}
	t.tris = kept
	for _, e := range boundary {
		t.tris = append(t.tris, face{e.a, e.b, idx})
	}
	return true
}

// triangles materialises the real, non-degenerate faces accepted by keep
// (nil keeps all).
func (t *triangulation) triangles(keep func(geom.Triangle) bool) []geom.Triangle {
	var out []geom.Triangle
	for _, f := range t.tris {
		if f[0] < 3 || f[1] < 3 || f[2] < 3 {
			continue
		}
		tr := geom.Triangle{A: t.verts[f[0]], B: t.verts[f[1]], C: t.verts[f[2]]}
		if tr.Degenerate() {
			continue
		}
		if keep == nil || keep(tr) {
			out = append(out, tr)
		}
	}
	return out
}

// inCircle reports whether p is strictly inside the circumcircle of the
// counter-clockwise triangle abc.
func inCircle(a, b, c, p geom.Point) bool {
	adx, ady := a.X-p.X, a.Y-p.Y
	bdx, bdy := b.X-p.X, b.Y-p.Y
	cdx, cdy := c.X-p.X, c.Y-p.Y
	ad := adx*adx + ady*ady
	bd := bdx*bdx + bdy*bdy
	cd := cdx*cdx + cdy*cdy
	det := ad*(bdx*cdy-cdx*bdy) - bd*(adx*cdy-cdx*ady) + cd*(adx*bdy-bdx*ady)
	return det > 0
}
