package coordinator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/grid"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/plan"
	"github.com/dreamware/halomesh/internal/tile"
)

// ErrConfig reports a decomposition the mesher cannot run: a worker count
// that does not form the requested grid, or tiles too narrow for the halo
// when the tiles refine.
var ErrConfig = config.ErrConfig

// DefaultHaloFactor is the margin in units of the largest circumradius.
const DefaultHaloFactor = 2

// Result is one tile's final point set as returned by its worker.
type Result struct {
	TileID int
	Points []geom.Point
}

// GlobalDomain is the whole mesh as the coordinator sees it before the split
// and after the merge.
type GlobalDomain struct {
	factory    kernel.Factory
	engine     kernel.Engine
	bbox       geom.BBox
	quality    kernel.Quality
	refine     bool
	haloFactor int
	rows, cols int
	logger     *slog.Logger

	grid   *grid.Grid
	margin float64
}

// DomainOption configures a GlobalDomain.
type DomainOption func(*GlobalDomain)

// WithQuality sets the thresholds used by Refine and handed to every tile.
func WithQuality(q kernel.Quality) DomainOption {
	return func(d *GlobalDomain) { d.quality = q }
}

// WithRefine turns the whole-domain refinement on or off.
func WithRefine(on bool) DomainOption {
	return func(d *GlobalDomain) { d.refine = on }
}

// WithHaloFactor sets the margin multiplier.
func WithHaloFactor(k int) DomainOption {
	return func(d *GlobalDomain) { d.haloFactor = k }
}

// WithLayout fixes the grid shape instead of factoring the tile count.
func WithLayout(rows, cols int) DomainOption {
	return func(d *GlobalDomain) { d.rows, d.cols = rows, cols }
}

// WithDomainLogger sets the logger for the domain and its tiles.
func WithDomainLogger(l *slog.Logger) DomainOption {
	return func(d *GlobalDomain) { d.logger = l }
}

// NewGlobalDomain creates an empty domain over bbox. Engines for the domain
// and for every tile come from factory.
func NewGlobalDomain(factory kernel.Factory, bbox geom.BBox, opts ...DomainOption) (*GlobalDomain, error) {
	d := &GlobalDomain{
		factory:    factory,
		engine:     factory(),
		bbox:       bbox,
		refine:     true,
		haloFactor: DefaultHaloFactor,
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrDefault(d.logger).With("component", "domain")

	if bbox.Empty() {
		return nil, fmt.Errorf("%w: empty domain %v", ErrConfig, bbox)
	}
	if d.haloFactor < 1 {
		return nil, fmt.Errorf("%w: halo factor %d", ErrConfig, d.haloFactor)
	}
	if err := d.quality.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return d, nil
}

// BBox returns the domain box.
func (d *GlobalDomain) BBox() geom.BBox { return d.bbox }

// Engine returns the domain's engine. After MergePartitions it holds the
// merged mesh.
func (d *GlobalDomain) Engine() kernel.Engine { return d.engine }

// Quality returns the thresholds handed to every tile.
func (d *GlobalDomain) Quality() kernel.Quality { return d.quality }

// Grid returns the decomposition of the last SplitPartitions, or nil.
func (d *GlobalDomain) Grid() *grid.Grid { return d.grid }

// Margin returns the halo margin of the last SplitPartitions.
func (d *GlobalDomain) Margin() float64 { return d.margin }

// Seed inserts the points lying in the closed domain and returns how many
// were new. Points outside are dropped.
func (d *GlobalDomain) Seed(pts []geom.Point) int {
	in := make([]geom.Point, 0, len(pts))
	for _, p := range pts {
		if d.bbox.ContainsClosed(p) {
			in = append(in, p)
		}
	}
	if dropped := len(pts) - len(in); dropped > 0 {
		d.logger.Warn("points outside the domain dropped", "dropped", dropped, "domain", d.bbox.String())
	}
	return d.engine.Insert(in...)
}

// SeedRandom inserts the domain corners and n uniformly distributed points
// drawn from seed.
func (d *GlobalDomain) SeedRandom(n int, seed int64) int {
	rng := rand.New(rand.NewSource(seed))
	corners := d.bbox.Corners()
	pts := append(make([]geom.Point, 0, n+4), corners[:]...)
	for i := 0; i < n; i++ {
		pts = append(pts, geom.Point{
			X: d.bbox.MinX + rng.Float64()*d.bbox.Width(),
			Y: d.bbox.MinY + rng.Float64()*d.bbox.Height(),
		})
	}
	return d.Seed(pts)
}

// Refine refines the whole domain with the configured quality and returns
// the number of inserted points. It does nothing when refinement is off.
func (d *GlobalDomain) Refine() (int, error) {
	if !d.refine {
		return 0, nil
	}
	n, err := d.engine.Refine(d.bbox.ClosedWithin(d.bbox), d.quality)
	if errors.Is(err, kernel.ErrEmptyRegion) {
		d.logger.Warn("refine skipped: domain has no triangles", "points", d.engine.Len())
		return 0, nil
	}
	if err != nil {
		return n, fmt.Errorf("refine domain: %w", err)
	}
	d.logger.Info("domain refined", "inserted", n, "points", d.engine.Len())
	return n, nil
}

// MaxCircumradius returns the largest circumradius over every triangle. A
// triangle whose circumradius cannot be computed exactly fails the whole
// scan with kernel.ErrGeometryInexact, as does a domain without triangles.
func (d *GlobalDomain) MaxCircumradius() (float64, error) {
	tris := d.engine.Triangles()
	if len(tris) == 0 {
		return 0, fmt.Errorf("%w: no triangles to size the halo from", kernel.ErrGeometryInexact)
	}
	maxR := 0.0
	for _, t := range tris {
		r, err := kernel.Circumradius(t)
		if err != nil {
			return 0, err
		}
		maxR = math.Max(maxR, r)
	}
	return maxR, nil
}

func (d *GlobalDomain) layout(nproc int) (rows, cols int, err error) {
	if d.rows > 0 || d.cols > 0 {
		if d.rows*d.cols != nproc {
			return 0, 0, fmt.Errorf("%w: %d tiles do not form a %dx%d grid", ErrConfig, nproc, d.rows, d.cols)
		}
		return d.rows, d.cols, nil
	}
	rows, cols, err = grid.Factor(nproc)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return rows, cols, nil
}

// SplitPartitions cuts the domain into nproc tiles, each holding the points
// it owns. The margin is HaloFactor times MaxCircumradius. When the tile
// quality asks for refinement, tiles narrower than plan.MinExtentFactor
// margins are rejected with ErrConfig, since neighbouring refines could then
// overlap; without refinement the exchange only copies points and narrow
// tiles are logged and accepted. The result depends only on the domain's
// points and the grid shape.
func (d *GlobalDomain) SplitPartitions(nproc int) ([]*tile.Tile, error) {
	rows, cols, err := d.layout(nproc)
	if err != nil {
		return nil, err
	}
	maxR, err := d.MaxCircumradius()
	if err != nil {
		return nil, err
	}
	margin := float64(d.haloFactor) * maxR

	g, err := grid.New(d.bbox, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := plan.CheckExtent(g, margin); err != nil {
		if d.quality.Active() {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		d.logger.Warn("tiles narrower than the halo, accepted without tile refinement", "error", err)
	}

	owned := make([][]geom.Point, g.Len())
	for _, p := range d.engine.Points() {
		if i := g.Locate(p); i != grid.NoNeighbor {
			owned[i] = append(owned[i], p)
		}
	}

	tiles := make([]*tile.Tile, g.Len())
	for i := range tiles {
		spec := SpecFor(g, i, margin, d.quality)
		t := tile.New(spec, d.factory(), tile.WithLogger(d.logger))
		t.Insert(owned[i]...)
		tiles[i] = t
	}

	d.grid, d.margin = g, margin
	d.logger.Info("domain split",
		"rows", rows, "cols", cols, "max_circumradius", maxR, "margin", margin, "points", d.engine.Len())
	return tiles, nil
}

// SpecFor describes tile i of g.
func SpecFor(g *grid.Grid, i int, margin float64, q kernel.Quality) tile.Spec {
	row, col := g.Coords(i)
	spec := tile.Spec{
		ID:        i,
		Row:       row,
		Col:       col,
		Core:      g.Cell(i),
		Margin:    margin,
		Neighbors: g.Neighbors(i),
		Quality:   q,
		Domain:    g.Domain(),
	}
	for _, dir := range grid.Directions {
		if j, ok := spec.Neighbors.Get(dir); ok {
			spec.NeighborCores[dir] = g.Cell(j)
		}
	}
	return spec
}

// MergePartitions rebuilds the domain from the tiles' results. Only the
// points a tile owns are taken from it, so halo copies never duplicate.
// Every tile of the last split must report exactly once.
func (d *GlobalDomain) MergePartitions(results []Result) (kernel.Engine, error) {
	if d.grid == nil {
		return nil, errors.New("merge before split")
	}
	seen := make([]bool, d.grid.Len())
	merged := d.factory()
	for _, res := range results {
		if res.TileID < 0 || res.TileID >= len(seen) {
			return nil, fmt.Errorf("merge: unknown tile %d", res.TileID)
		}
		if seen[res.TileID] {
			return nil, fmt.Errorf("merge: tile %d reported twice", res.TileID)
		}
		seen[res.TileID] = true

		own := make([]geom.Point, 0, len(res.Points))
		for _, p := range res.Points {
			if d.grid.Locate(p) == res.TileID {
				own = append(own, p)
			}
		}
		merged.Insert(own...)
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("merge: tile %d missing", i)
		}
	}
	d.engine = merged
	d.logger.Info("partitions merged", "tiles", len(results), "points", merged.Len())
	return merged, nil
}
