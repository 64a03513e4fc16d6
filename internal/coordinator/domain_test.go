package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/halomesh/internal/exchange"
	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/tile"
	"github.com/dreamware/halomesh/internal/transport"
	"github.com/dreamware/halomesh/internal/wire"
)

// lattice returns the points x0+i*step, y0+j*step for i, j < n.
func lattice(x0, y0, step float64, n int) []geom.Point {
	pts := make([]geom.Point, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			pts = append(pts, geom.Point{X: x0 + float64(i)*step, Y: y0 + float64(j)*step})
		}
	}
	return pts
}

func newDomain(t *testing.T, bbox geom.BBox, opts ...DomainOption) *GlobalDomain {
	t.Helper()
	opts = append([]DomainOption{WithDomainLogger(logging.NewNop())}, opts...)
	d, err := NewGlobalDomain(kernel.NewDelaunayEngine, bbox, opts...)
	require.NoError(t, err)
	return d
}

func TestScenarioTwoByTwo(t *testing.T) {
	d := newDomain(t, geom.Box(0, 0, 100, 100), WithRefine(false), WithHaloFactor(1))
	d.Seed(lattice(0, 0, 5, 21))

	tiles, err := d.SplitPartitions(4)
	require.NoError(t, err)
	require.Len(t, tiles, 4)
	assert.Equal(t, 2, d.Grid().Rows())
	assert.Equal(t, 2, d.Grid().Cols())

	t0 := tiles[0].Spec()
	assert.Equal(t, geom.Box(0, 0, 50, 50), t0.Core)
	assert.Equal(t, 0, t0.Row)
	assert.Equal(t, 0, t0.Col)

	want := map[grid.Direction]int{grid.Right: 1, grid.Bottom: 2, grid.BottomRight: 3}
	for _, dir := range grid.Directions {
		id, ok := t0.Neighbors.Get(dir)
		if w, present := want[dir]; present {
			assert.True(t, ok, "neighbor %s", dir)
			assert.Equal(t, w, id, "neighbor %s", dir)
		} else {
			assert.False(t, ok, "neighbor %s should be absent", dir)
		}
	}

	// Every point went to exactly one tile.
	total := 0
	for _, tl := range tiles {
		total += len(tl.Points())
		for _, p := range tl.Points() {
			assert.Equal(t, tl.ID(), d.Grid().Locate(p))
		}
	}
	assert.Equal(t, 21*21, total)
	assert.InDelta(t, 5/1.4142135623730951, d.Margin(), 1e-9)
}

func TestMergeCorrectness(t *testing.T) {
	tests := []struct {
		name   string
		bbox   geom.BBox
		points []geom.Point
		halo   int
	}{
		{"interior cluster", geom.Box(0, 0, 100, 100), lattice(47, 47, 2, 4), 2},
		{"lattice spanning the domain, halo 1", geom.Box(0, 0, 3, 3), lattice(0, 0, 1, 4), 1},
		{"lattice spanning the domain, halo 2", geom.Box(0, 0, 3, 3), lattice(0, 0, 1, 4), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDomain(t, tt.bbox, WithRefine(false), WithHaloFactor(tt.halo))
			require.Equal(t, 16, d.Seed(tt.points))

			n, err := d.Refine()
			require.NoError(t, err)
			assert.Zero(t, n)

			tiles, err := d.SplitPartitions(4)
			require.NoError(t, err)
			for _, tl := range tiles {
				assert.Len(t, tl.Points(), 4)
			}

			// Run the exchange so every tile also holds halo copies.
			hub := transport.NewHub(len(tiles))
			defer hub.Close()
			codec, err := wire.NewBinary()
			require.NoError(t, err)
			defer codec.Close()

			g, ctx := errgroup.WithContext(context.Background())
			for _, tl := range tiles {
				w := exchange.New(tl, hub.Endpoint(tl.ID()), codec, exchange.WithLogger(logging.NewNop()))
				g.Go(func() error {
					_, err := w.Run(ctx)
					return err
				})
			}
			require.NoError(t, g.Wait())

			results := make([]Result, len(tiles))
			for i, tl := range tiles {
				assert.Len(t, tl.OwnedPoints(), 4, "tile %d keeps its own points", i)
				assert.Greater(t, len(tl.Points()), 4, "tile %d holds halo copies", i)
				results[i] = Result{TileID: tl.ID(), Points: tl.Points()}
			}

			merged, err := d.MergePartitions(results)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.points, merged.Points())
			assert.Same(t, merged, d.Engine())
		})
	}
}

func TestMergeErrors(t *testing.T) {
	d := newDomain(t, geom.Box(0, 0, 100, 100), WithRefine(false))
	_, err := d.MergePartitions(nil)
	assert.Error(t, err, "merge before split")

	d.Seed(lattice(47, 47, 2, 4))
	_, err = d.SplitPartitions(4)
	require.NoError(t, err)

	tests := []struct {
		name    string
		results []Result
	}{
		{"missing tile", []Result{{TileID: 0}, {TileID: 1}, {TileID: 2}}},
		{"duplicate tile", []Result{{TileID: 0}, {TileID: 1}, {TileID: 2}, {TileID: 2}}},
		{"unknown tile", []Result{{TileID: 0}, {TileID: 1}, {TileID: 2}, {TileID: 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.MergePartitions(tt.results)
			assert.Error(t, err)
		})
	}
}

func TestSplitDeterministic(t *testing.T) {
	split := func() []tile.Spec {
		d := newDomain(t, geom.Box(0, 0, 400, 400), WithRefine(false))
		d.Seed(lattice(0, 0, 10, 41))
		tiles, err := d.SplitPartitions(4)
		require.NoError(t, err)
		specs := make([]tile.Spec, len(tiles))
		for i, tl := range tiles {
			specs[i] = tl.Spec()
			assert.NotEmpty(t, tl.Points())
		}
		return specs
	}
	assert.Equal(t, split(), split())
}

func TestSplitErrors(t *testing.T) {
	refining := WithQuality(kernel.Quality{MaxEdge: 5})
	tests := []struct {
		name    string
		opts    []DomainOption
		nproc   int
		wantErr bool
	}{
		{"zero tiles", nil, 0, true},
		{"layout mismatch", []DomainOption{WithLayout(2, 3)}, 4, true},
		{"refining tiles narrower than the halo", []DomainOption{WithHaloFactor(4), refining}, 4, true},
		{"narrow tiles without refinement", []DomainOption{WithHaloFactor(4)}, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDomain(t, geom.Box(0, 0, 100, 100), append(tt.opts, WithRefine(false))...)
			d.Seed(lattice(0, 0, 10, 11))
			tiles, err := d.SplitPartitions(tt.nproc)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Len(t, tiles, tt.nproc)
		})
	}
}

func TestExplicitLayout(t *testing.T) {
	d := newDomain(t, geom.Box(0, 0, 400, 100), WithRefine(false), WithLayout(1, 4), WithHaloFactor(1))
	for x := 0; x <= 400; x += 10 {
		for y := 0; y <= 100; y += 10 {
			d.Seed([]geom.Point{{X: float64(x), Y: float64(y)}})
		}
	}
	tiles, err := d.SplitPartitions(4)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Grid().Rows())
	assert.Equal(t, 4, d.Grid().Cols())
	assert.Equal(t, 0.0, tiles[0].Core().MinX)
	assert.Equal(t, 100.0, tiles[0].Core().MaxX)
	_, ok := tiles[0].Spec().Neighbors.Get(grid.Bottom)
	assert.False(t, ok)
}

// skinny wraps an engine and reports a collinear triangle.
type skinny struct{ kernel.Engine }

func (skinny) Triangles() []geom.Triangle {
	return []geom.Triangle{
		{A: geom.Point{X: 0, Y: 0}, B: geom.Point{X: 1, Y: 1}, C: geom.Point{X: 2, Y: 2}},
	}
}

func TestMaxCircumradius(t *testing.T) {
	t.Run("largest wins", func(t *testing.T) {
		d := newDomain(t, geom.Box(0, 0, 10, 10), WithRefine(false))
		d.Seed([]geom.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 4}, {X: 10, Y: 10}})
		r, err := d.MaxCircumradius()
		require.NoError(t, err)
		for _, tri := range d.Engine().Triangles() {
			cr, err := kernel.Circumradius(tri)
			require.NoError(t, err)
			assert.LessOrEqual(t, cr, r)
		}
		assert.Greater(t, r, 2*1.4142)
	})

	t.Run("inexact is fatal", func(t *testing.T) {
		d, err := NewGlobalDomain(func() kernel.Engine { return skinny{kernel.NewDelaunay()} },
			geom.Box(0, 0, 10, 10), WithDomainLogger(logging.NewNop()))
		require.NoError(t, err)
		_, err = d.MaxCircumradius()
		assert.ErrorIs(t, err, kernel.ErrGeometryInexact)
		_, err = d.SplitPartitions(1)
		assert.ErrorIs(t, err, kernel.ErrGeometryInexact)
	})

	t.Run("no triangles", func(t *testing.T) {
		d := newDomain(t, geom.Box(0, 0, 10, 10))
		_, err := d.MaxCircumradius()
		assert.ErrorIs(t, err, kernel.ErrGeometryInexact)
	})
}

func TestSeed(t *testing.T) {
	d := newDomain(t, geom.Box(0, 0, 10, 10))
	n := d.Seed([]geom.Point{{X: 10, Y: 10}, {X: 11, Y: 5}, {X: 5, Y: -1}, {X: 3, Y: 3}})
	assert.Equal(t, 2, n)

	r := newDomain(t, geom.Box(0, 0, 10, 10))
	assert.Equal(t, 104, r.SeedRandom(100, 7))
	for _, c := range r.BBox().Corners() {
		assert.Contains(t, r.Engine().Points(), c)
	}
}

func TestRefineDomain(t *testing.T) {
	q := kernel.Quality{MinAngle: 20, MinEdge: 0.5, MaxEdge: 5, MaxIterations: 5000}
	d := newDomain(t, geom.Box(0, 0, 40, 40), WithQuality(q))
	d.SeedRandom(20, 3)

	n, err := d.Refine()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	for _, p := range d.Engine().Points() {
		assert.True(t, d.BBox().ContainsClosed(p), "refined point %v left the domain", p)
	}

	empty := newDomain(t, geom.Box(0, 0, 40, 40), WithQuality(q))
	n, err = empty.Refine()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewGlobalDomainErrors(t *testing.T) {
	_, err := NewGlobalDomain(kernel.NewDelaunayEngine, geom.Box(0, 0, 0, 10))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewGlobalDomain(kernel.NewDelaunayEngine, geom.Box(0, 0, 10, 10), WithHaloFactor(0))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewGlobalDomain(kernel.NewDelaunayEngine, geom.Box(0, 0, 10, 10), WithQuality(kernel.Quality{MinEdge: -1}))
	assert.ErrorIs(t, err, ErrConfig)
}
