// Package grid decomposes a rectangular domain into a rows x cols grid of tiles
// and answers the topology questions the rest of the mesher asks: which cell a
// tile covers, which tiles surround it and which tile owns a point.
//
// Tiles are indexed row-major, index = row*cols + col, with row 0 along the
// domain's MinY edge. Cell edges are computed once so adjacent cells share
// bit-identical boundaries and the last edges equal the domain's max exactly.
// Cells are half-open, but Locate treats the domain's max edges as closed so
// points lying on them still have an owner.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dreamware/halomesh/internal/geom"
)

// ErrInvalidGrid is returned for decompositions that cannot tile the domain.
var ErrInvalidGrid = errors.New("grid: invalid decomposition")

// Grid is an immutable partition of a domain into equal cells.
type Grid struct {
	domain geom.BBox
	rows   int
	cols   int
	xs     []float64 // cols+1 column edges
	ys     []float64 // rows+1 row edges
}

// Factor splits n into rows x cols with rows <= cols and the two as close as
// possible. A prime n degenerates to a single row.
func Factor(n int) (rows, cols int, err error) {
	if n < 1 {
		return 0, 0, fmt.Errorf("%w: cannot factor %d tiles", ErrInvalidGrid, n)
	}
	rows = 1
	for r := int(math.Sqrt(float64(n))); r >= 1; r-- {
		if n%r == 0 {
			rows = r
			break
		}
	}
	return rows, n / rows, nil
}

// New builds a rows x cols grid over domain.
func New(domain geom.BBox, rows, cols int) (*Grid, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidGrid, rows, cols)
	}
	if domain.Empty() {
		return nil, fmt.Errorf("%w: empty domain %v", ErrInvalidGrid, domain)
	}
	g := &Grid{
		domain: domain,
		rows:   rows,
		cols:   cols,
		xs:     edges(domain.MinX, domain.MaxX, cols),
		ys:     edges(domain.MinY, domain.MaxY, rows),
	}
	return g, nil
}

func edges(lo, hi float64, n int) []float64 {
	out := make([]float64, n+1)
	for i := 0; i < n; i++ {
		out[i] = lo + (hi-lo)*float64(i)/float64(n)
	}
	out[n] = hi
	return out
}

// Rows returns the number of tile rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of tile columns.
func (g *Grid) Cols() int { return g.cols }

// Len returns the number of tiles.
func (g *Grid) Len() int { return g.rows * g.cols }

// Domain returns the decomposed box. The cells cover it exactly.
func (g *Grid) Domain() geom.BBox { return g.domain }

// Index returns the tile index at (row, col), or NoNeighbor when out of range.
func (g *Grid) Index(row, col int) int {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return NoNeighbor
	}
	return row*g.cols + col
}

// Coords is the inverse of Index.
func (g *Grid) Coords(i int) (row, col int) {
	return i / g.cols, i % g.cols
}

// Cell returns the core box of tile i.
func (g *Grid) Cell(i int) geom.BBox {
	r, c := g.Coords(i)
	return geom.Box(g.xs[c], g.ys[r], g.xs[c+1], g.ys[r+1])
}

// MinCellExtent returns the smallest width or height over all cells.
func (g *Grid) MinCellExtent() float64 {
	m := math.Inf(1)
	for c := 0; c < g.cols; c++ {
		m = math.Min(m, g.xs[c+1]-g.xs[c])
	}
	for r := 0; r < g.rows; r++ {
		m = math.Min(m, g.ys[r+1]-g.ys[r])
	}
	return m
}

// Neighbors returns the 8-entry neighbor table of tile i.
func (g *Grid) Neighbors(i int) Neighbors {
	r, c := g.Coords(i)
	var n Neighbors
	for _, d := range Directions {
		dc, dr := d.Offset()
		n[d] = g.Index(r+dr, c+dc)
	}
	return n
}

// Locate returns the tile whose cell holds p, or NoNeighbor if p lies outside
// the closed domain. Every point of the closed domain has exactly one owner.
func (g *Grid) Locate(p geom.Point) int {
	if !g.domain.ContainsClosed(p) {
		return NoNeighbor
	}
	c := locate(g.xs, p.X)
	r := locate(g.ys, p.Y)
	return r*g.cols + c
}

func locate(edges []float64, v float64) int {
	n := len(edges) - 1
	if v >= edges[n] {
		return n - 1
	}
	return sort.Search(n, func(i int) bool { return edges[i+1] > v })
}
