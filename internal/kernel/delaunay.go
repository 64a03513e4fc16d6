package kernel

import (
	"math"

	"github.com/dreamware/halomesh/internal/geom"
)

// Delaunay is the reference Engine: an incremental Bowyer-Watson
// triangulation with circumcenter insertion for refinement.
//
// The triangulation is built lazily and kept up to date across insertions.
// Removing points, or inserting far outside the current bounds, drops it and
// the next query rebuilds from scratch.
type Delaunay struct {
	pts  []geom.Point
	seen map[geom.Point]struct{}
	tri  *triangulation
}

// NewDelaunay returns an empty engine.
func NewDelaunay() *Delaunay {
	return &Delaunay{seen: make(map[geom.Point]struct{})}
}

// NewDelaunayEngine is a Factory for Delaunay engines.
func NewDelaunayEngine() Engine { return NewDelaunay() }

var _ Engine = (*Delaunay)(nil)

func (m *Delaunay) Insert(pts ...geom.Point) int {
	added := 0
	for _, p := range pts {
		if !finite(p) {
			continue
		}
		if _, dup := m.seen[p]; dup {
			continue
		}
		m.seen[p] = struct{}{}
		m.pts = append(m.pts, p)
		added++
		if m.tri == nil {
			continue
		}
		if !m.tri.safe.ContainsClosed(p) || !m.tri.insert(p) {
			m.tri = nil
		}
	}
	return added
}

func (m *Delaunay) RemoveIn(b geom.BBox) int {
	kept := m.pts[:0]
	removed := 0
	for _, p := range m.pts {
		if b.Contains(p) {
			delete(m.seen, p)
			removed++
			continue
		}
		kept = append(kept, p)
	}
	m.pts = kept
	if removed > 0 {
		m.tri = nil
	}
	return removed
}

func (m *Delaunay) PointsIn(b geom.BBox) []geom.Point {
	var out []geom.Point
	for _, p := range m.pts {
		if b.Contains(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Delaunay) Points() []geom.Point {
	out := make([]geom.Point, len(m.pts))
	copy(out, m.pts)
	return out
}

func (m *Delaunay) Len() int { return len(m.pts) }

func (m *Delaunay) Triangles() []geom.Triangle {
	if len(m.pts) < 3 {
		return nil
	}
	return m.triangulate().triangles(nil)
}

func (m *Delaunay) TrianglesIn(b geom.BBox) []geom.Triangle {
	if len(m.pts) < 3 {
		return nil
	}
	return m.triangulate().triangles(func(t geom.Triangle) bool {
		return b.Contains(t.Barycenter())
	})
}

// Refine splits triangles of b that are too long or too skinny. A split
// inserts the circumcenter when it falls inside b and the current point
// bounds, otherwise the midpoint of the longest edge when that falls inside b.
// Candidates closer than MinEdge to an existing point are dropped, which keeps
// the loop finite even without an iteration cap.
func (m *Delaunay) Refine(b geom.BBox, q Quality) (int, error) {
	if len(m.TrianglesIn(b)) == 0 {
		return 0, ErrEmptyRegion
	}
	limit := q.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	hull := geom.BoundsOf(m.pts)

	inserted := 0
	for inserted < limit {
		cands, err := m.candidates(b, q, hull)
		if err != nil {
			return inserted, err
		}
		if len(cands) == 0 {
			break
		}
		for _, c := range cands {
			if inserted >= limit {
				break
			}
			inserted += m.Insert(c)
		}
	}
	return inserted, nil
}

func (m *Delaunay) candidates(b geom.BBox, q Quality, hull geom.BBox) ([]geom.Point, error) {
	var sp *spacing
	if q.MinEdge > 0 {
		sp = newSpacing(q.MinEdge, m.pts)
	}
	taken := make(map[geom.Point]struct{})

	var out []geom.Point
	for _, t := range m.TrianglesIn(b) {
		if !needsSplit(t, q) {
			continue
		}
		p, ok, err := splitPoint(t, b, hull)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, dup := m.seen[p]; dup {
			continue
		}
		if _, dup := taken[p]; dup {
			continue
		}
		if sp != nil {
			if sp.near(p) {
				continue
			}
			sp.add(p)
		}
		taken[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func needsSplit(t geom.Triangle, q Quality) bool {
	longest := t.LongestEdge()
	if q.MaxEdge > 0 && longest > q.MaxEdge {
		return true
	}
	return q.MinAngle > 0 && longest >= 2*q.MinEdge && t.MinAngle() < q.MinAngle
}

func splitPoint(t geom.Triangle, b, hull geom.BBox) (geom.Point, bool, error) {
	cc, ok := t.Circumcenter()
	if !ok {
		return geom.Point{}, false, ErrGeometryInexact
	}
	if b.Contains(cc) && hull.ContainsClosed(cc) {
		return cc, true, nil
	}
	mid := t.LongestEdgeMidpoint()
	if b.Contains(mid) {
		return mid, true, nil
	}
	return geom.Point{}, false, nil
}

func (m *Delaunay) triangulate() *triangulation {
	if m.tri != nil {
		return m.tri
	}
	t := newTriangulation(geom.BoundsOf(m.pts))
	for _, p := range m.pts {
		t.insert(p)
	}
	m.tri = t
	return t
}

func finite(p geom.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// spacing is a uniform hash grid answering "is any point closer than d".
type spacing struct {
	d     float64
	cells map[[2]int64][]geom.Point
}

func newSpacing(d float64, pts []geom.Point) *spacing {
	s := &spacing{d: d, cells: make(map[[2]int64][]geom.Point, len(pts))}
	for _, p := range pts {
		s.add(p)
	}
	return s
}

func (s *spacing) key(p geom.Point) [2]int64 {
	return [2]int64{int64(math.Floor(p.X / s.d)), int64(math.Floor(p.Y / s.d))}
}

func (s *spacing) add(p geom.Point) {
	k := s.key(p)
	s.cells[k] = append(s.cells[k], p)
}

func (s *spacing) near(p geom.Point) bool {
	k := s.key(p)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, q := range s.cells[[2]int64{k[0] + dx, k[1] + dy}] {
				if p.Dist(q) < s.d {
					return true
				}
			}
		}
	}
	return false
}
