package kernel

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/halomesh/internal/geom"
)

func square(size float64) []geom.Point {
	return []geom.Point{{X: 0, Y: 0}, {X: size, Y: 0}, {X: size, Y: size}, {X: 0, Y: size}}
}

func randomPoints(n int, size float64, seed int64) []geom.Point {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]geom.Point, n)
	for i := range pts {
		pts[i] = geom.Point{X: rng.Float64() * size, Y: rng.Float64() * size}
	}
	return pts
}

func totalArea(tris []geom.Triangle) float64 {
	var a float64
	for _, t := range tris {
		a += t.Area()
	}
	return a
}

func TestDelaunaySmall(t *testing.T) {
	m := NewDelaunay()
	assert.Nil(t, m.Triangles())

	require.Equal(t, 4, m.Insert(square(10)...))
	assert.Len(t, m.Triangles(), 2)

	require.Equal(t, 1, m.Insert(geom.Point{X: 5, Y: 5}))
	assert.Len(t, m.Triangles(), 4)
	assert.InDelta(t, 100, totalArea(m.Triangles()), 1e-9)
}

func TestDelaunayInsertFilters(t *testing.T) {
	m := NewDelaunay()
	n := m.Insert(
		geom.Point{X: 1, Y: 1},
		geom.Point{X: 1, Y: 1},
		geom.Point{X: math.NaN(), Y: 0},
		geom.Point{X: math.Inf(1), Y: 0},
		geom.Point{X: 2, Y: 1},
	)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []geom.Point{{X: 1, Y: 1}, {X: 2, Y: 1}}, m.Points())
}

func TestDelaunayEmptyCircumcircle(t *testing.T) {
	m := NewDelaunay()
	pts := append(square(100), randomPoints(300, 100, 1)...)
	m.Insert(pts...)

	tris := m.Triangles()
	require.NotEmpty(t, tris)
	// Hull slivers may be lost to the super-triangle; the bulk must be covered.
	assert.InEpsilon(t, 100*100, totalArea(tris), 0.01)

	for _, tr := range tris {
		c, ok := tr.Circumcenter()
		require.True(t, ok)
		r := c.Dist(tr.A)
		for _, p := range pts {
			if p == tr.A || p == tr.B || p == tr.C {
				continue
			}
			if c.Dist(p) < r*(1-1e-9) {
				t.Fatalf("point %v inside circumcircle of %v", p, tr)
			}
		}
	}
}

func TestDelaunayRemoveRebuilds(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(100)...)
	m.Insert(randomPoints(100, 100, 2)...)
	before := m.Len()

	removed := m.RemoveIn(geom.Box(0, 0, 50, 50))
	assert.Greater(t, removed, 0)
	assert.Equal(t, before-removed, m.Len())
	assert.Empty(t, m.PointsIn(geom.Box(0, 0, 50, 50)))

	// Corners outside the removed box keep the hull intact.
	hullArea := totalArea(m.Triangles())
	assert.Greater(t, hullArea, 0.0)
	assert.LessOrEqual(t, hullArea, 100*100+1e-6)
}

func TestDelaunayIncrementalMatchesRebuild(t *testing.T) {
	pts := append(square(50), randomPoints(80, 50, 3)...)

	inc := NewDelaunay()
	inc.Insert(pts[:10]...)
	_ = inc.Triangles()
	inc.Insert(pts[10:]...)

	full := NewDelaunay()
	full.Insert(pts...)

	assert.Len(t, inc.Triangles(), len(full.Triangles()))
	assert.InDelta(t, totalArea(full.Triangles()), totalArea(inc.Triangles()), 1e-6)
}

func TestRefineMaxEdge(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(100)...)

	region := geom.Box(0, 0, 100, 100).Expand(1)
	n, err := m.Refine(region, Quality{MaxEdge: 20})
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Equal(t, 4+n, m.Len())

	for _, tr := range m.Triangles() {
		assert.LessOrEqual(t, tr.LongestEdge(), 20+1e-9)
	}
}

func TestRefineStaysInRegion(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(100)...)
	m.Insert(randomPoints(50, 100, 4)...)
	before := make(map[geom.Point]bool)
	for _, p := range m.Points() {
		before[p] = true
	}

	region := geom.Box(0, 0, 50, 50)
	n, err := m.Refine(region, Quality{MinAngle: 25, MinEdge: 1, MaxEdge: 10})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	for _, p := range m.Points() {
		if !before[p] {
			assert.True(t, region.Contains(p), "inserted %v outside %v", p, region)
		}
	}
}

func TestRefineIterationCap(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(100)...)
	n, err := m.Refine(geom.Box(0, 0, 100, 100).Expand(1), Quality{MaxEdge: 1, MaxIterations: 25})
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}

func TestRefineEmptyRegion(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(10)...)
	_, err := m.Refine(geom.Box(50, 50, 60, 60), Quality{MaxEdge: 1})
	assert.ErrorIs(t, err, ErrEmptyRegion)

	_, err = NewDelaunay().Refine(geom.Box(0, 0, 1, 1), Quality{})
	assert.ErrorIs(t, err, ErrEmptyRegion)
}

func TestRefineNoCriteria(t *testing.T) {
	m := NewDelaunay()
	m.Insert(square(10)...)
	n, err := m.Refine(geom.Box(0, 0, 10, 10), Quality{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCircumradius(t *testing.T) {
	r, err := Circumradius(geom.Triangle{A: geom.Point{X: 0, Y: 0}, B: geom.Point{X: 4, Y: 0}, C: geom.Point{X: 0, Y: 3}})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, r, 1e-12)

	_, err = Circumradius(geom.Triangle{A: geom.Point{X: 0, Y: 0}, B: geom.Point{X: 1, Y: 0}, C: geom.Point{X: 2, Y: 0}})
	assert.ErrorIs(t, err, ErrGeometryInexact)
}

func TestQualityValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Quality
		wantErr bool
	}{
		{"zero", Quality{}, false},
		{"typical", Quality{MinAngle: 20, MinEdge: 0.5, MaxEdge: 5, MaxIterations: 100}, false},
		{"angle too large", Quality{MinAngle: 60}, true},
		{"negative edge", Quality{MinEdge: -1}, true},
		{"max below min", Quality{MinEdge: 2, MaxEdge: 3}, true},
		{"negative iterations", Quality{MaxIterations: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
