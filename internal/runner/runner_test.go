package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/halomesh/internal/config"
	"github.com/dreamware/halomesh/internal/kernel"
	"github.com/dreamware/halomesh/internal/logging"
	"github.com/dreamware/halomesh/internal/metrics"
	"github.com/dreamware/halomesh/internal/storage"
)

// latticeConfig writes a 41x41 lattice with spacing 10 and returns a config
// meshing it on a 2x2 grid without whole-domain refinement.
func latticeConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("# 41x41 lattice\n")
	for j := 0; j <= 400; j += 10 {
		for i := 0; i <= 400; i += 10 {
			fmt.Fprintf(&b, "%d %d\n", i, j)
		}
	}
	input := filepath.Join(dir, "points.txt")
	require.NoError(t, os.WriteFile(input, []byte(b.String()), 0o600))

	cfg := config.Default()
	cfg.Workers = 4
	cfg.Domain = config.Domain{MaxX: 400, MaxY: 400}
	cfg.Input = input
	cfg.Refine = false
	cfg.Quality = kernel.Quality{}
	cfg.Output = filepath.Join(dir, "mesh.ply")
	return cfg
}

func TestRunLattice(t *testing.T) {
	cfg := latticeConfig(t)
	m := metrics.New()
	sum, err := New(cfg, WithLogger(logging.NewNop()), WithMetrics(m)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Tiles)
	assert.Equal(t, 2, sum.Rows)
	assert.Equal(t, 2, sum.Cols)
	assert.InDelta(t, 2*10/1.4142135623730951, sum.Margin, 1e-9)
	assert.Equal(t, 41*41, sum.Points)
	assert.Positive(t, sum.Triangles)
	require.Len(t, sum.Reports, 4)
	for id, reps := range sum.Reports {
		assert.Len(t, reps, 5, "tile %d runs every phase", id)
	}
	for _, name := range []string{"prepare", "split", "exchange", "merge", "total"} {
		assert.Contains(t, sum.Durations, name)
	}

	out, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "ply\n"))
	assert.Contains(t, string(out), "element vertex 1681\n")
}

func TestRunRefinesTiles(t *testing.T) {
	cfg := latticeConfig(t)
	cfg.Quality = kernel.Quality{MinAngle: 20, MinEdge: 0.5, MaxEdge: 8, MaxIterations: kernel.DefaultMaxIterations}

	sum, err := New(cfg, WithLogger(logging.NewNop())).Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, sum.Points, 41*41)

	refined := 0
	for _, reps := range sum.Reports {
		for _, r := range reps {
			refined += r.Refined
		}
	}
	assert.Positive(t, refined)
}

func TestRunNarrowTilesWithoutRefinement(t *testing.T) {
	cfg := latticeConfig(t)
	cfg.Workers = 5

	sum, err := New(cfg, WithLogger(logging.NewNop())).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Rows)
	assert.Equal(t, 5, sum.Cols)
	assert.Equal(t, 41*41, sum.Points)
}

func TestRunOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := latticeConfig(t)
	cfg.Transport = config.TransportRedis
	cfg.RedisAddr = mr.Addr()

	sum, err := New(cfg, WithLogger(logging.NewNop()), WithRedis(client)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41*41, sum.Points)
	assert.Empty(t, mr.Keys())
}

func TestRunKeepsResultsInStore(t *testing.T) {
	cfg := latticeConfig(t)
	cfg.Store = config.Store{Driver: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "results.db")}

	sum, err := New(cfg, WithLogger(logging.NewNop())).Run(context.Background())
	require.NoError(t, err)

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.Path)
	require.NoError(t, err)
	defer store.Close()
	results, err := storage.Results(store, sum.RunID)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestRunErrors(t *testing.T) {
	refining := kernel.Quality{MaxEdge: 50, MaxIterations: kernel.DefaultMaxIterations}
	tests := []struct {
		name   string
		mutate func(*config.Config)
		is     error
	}{
		{"tiles too narrow", func(c *config.Config) {
			c.Input = ""
			c.RandomPoints = 0
			c.Quality = refining
		}, config.ErrConfig},
		{"layout", func(c *config.Config) {
			c.Workers = 5
			c.Quality = refining
		}, config.ErrConfig},
		{"unknown transport", func(c *config.Config) { c.Transport = "carrier-pigeon" }, config.ErrConfig},
		{"missing input", func(c *config.Config) { c.Input = filepath.Join(t.TempDir(), "none.txt") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := latticeConfig(t)
			tt.mutate(cfg)
			_, err := New(cfg, WithLogger(logging.NewNop())).Run(context.Background())
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			_, statErr := os.Stat(cfg.Output)
			assert.True(t, errors.Is(statErr, os.ErrNotExist), "no mesh written on failure")
		})
	}
}

func TestRunCancelled(t *testing.T) {
	cfg := latticeConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(cfg, WithLogger(logging.NewNop())).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
