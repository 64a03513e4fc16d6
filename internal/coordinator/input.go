package coordinator

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/geom"
	"github.com/dreamware/halomesh/internal/kernel"
)

// ReadPoints parses one "x y" pair per line. Blank lines and lines starting
// with '#' are skipped; extra fields after y are ignored.
func ReadPoints(r io.Reader) ([]geom.Point, error) {
	var pts []geom.Point
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want \"x y\", got %q", n, line)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: x: %w", n, err)
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: y: %w", n, err)
		}
		pts = append(pts, geom.Point{X: x, Y: y})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pts, nil
}

// ReadPointsFile reads the point file at path.
func ReadPointsFile(path string) ([]geom.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	defer f.Close()
	pts, err := ReadPoints(f)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	return pts, nil
}

// Prepare builds the domain cfg describes, seeds it from cfg.Input (or with
// cfg.RandomPoints random points when no input is set) and refines it. The
// result is ready for SplitPartitions(cfg.Workers).
func Prepare(cfg *config.Config, logger *slog.Logger) (*GlobalDomain, error) {
	rows, cols, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	d, err := NewGlobalDomain(kernel.NewDelaunayEngine, cfg.Domain.BBox(),
		WithQuality(cfg.Quality),
		WithRefine(cfg.Refine),
		WithHaloFactor(cfg.HaloFactor),
		WithLayout(rows, cols),
		WithDomainLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Input != "" {
		pts, err := ReadPointsFile(cfg.Input)
		if err != nil {
			return nil, err
		}
		n := d.Seed(pts)
		d.logger.Info("domain seeded", "input", cfg.Input, "points", n)
	} else {
		n := d.SeedRandom(cfg.RandomPoints, cfg.Seed)
		d.logger.Info("domain seeded", "random", cfg.RandomPoints, "seed", cfg.Seed, "points", n)
	}

	if _, err := d.Refine(); err != nil {
		return nil, err
	}
	return d, nil
}
