package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/halomesh/internal/coordinator"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) (cfgPath, output string) {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	for j := 0; j <= 400; j += 10 {
		for i := 0; i <= 400; i += 10 {
			fmt.Fprintf(&b, "%d %d\n", i, j)
		}
	}
	input := filepath.Join(dir, "points.txt")
	require.NoError(t, os.WriteFile(input, []byte(b.String()), 0o600))

	output = filepath.Join(dir, "mesh.ply")
	yaml := fmt.Sprintf(`workers: 4
refine: false
domain:
  max_x: 400
  max_y: 400
input: %q
output: %q
log:
  level: error
`, input, output)
	cfgPath = filepath.Join(dir, "mesh.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return cfgPath, output
}

func TestRunCommand(t *testing.T) {
	cfgPath, output := writeConfig(t)

	out, err := execute(t, "run", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "4 tiles (2x2)")
	assert.Contains(t, out, "mesh: 1681 points")
	assert.Contains(t, out, "TILE")
	assert.Contains(t, out, "exchange")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ply\n"))
}

func TestRunCommandFlags(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	other := filepath.Join(t.TempDir(), "other.ply")

	_, err := execute(t, "run", "-c", cfgPath, "-o", other)
	require.NoError(t, err)
	_, err = os.Stat(other)
	assert.NoError(t, err)

	_, err = execute(t, "run", "-c", cfgPath, "--workers", "7")
	assert.Error(t, err)
}

func TestPlanCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains []string
		wantErr  bool
	}{
		{
			name:     "default layout",
			args:     []string{"plan"},
			contains: []string{"grid 2x2", "PHASE", "right:1", "bottom-right:3"},
		},
		{
			name:     "six tiles",
			args:     []string{"plan", "--workers", "6"},
			contains: []string{"grid 2x3", "\n5 "},
		},
		{
			name:    "margin too wide",
			args:    []string{"plan", "--margin", "400"},
			wantErr: true,
		},
		{
			name:    "zero workers",
			args:    []string{"plan", "--workers", "0"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func fakeCoordinator(t *testing.T, final coordinator.RunStatus) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := coordinator.RunStatus{RunID: final.RunID, State: coordinator.RunRunning, Tiles: final.Tiles}
		switch r.URL.Path {
		case "/run":
			w.WriteHeader(http.StatusAccepted)
		case "/status":
			if polls.Add(1) >= 2 {
				st = final
			}
		default:
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(st)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmit(t *testing.T) {
	done := coordinator.RunStatus{RunID: "r1", State: coordinator.RunDone, Tiles: 4, Received: 4, Points: 10, Triangles: 12, Output: "mesh.ply"}
	failed := coordinator.RunStatus{RunID: "r2", State: coordinator.RunFailed, Tiles: 4, Error: "tile 2 failed"}

	t.Run("no wait", func(t *testing.T) {
		srv := fakeCoordinator(t, done)
		st, err := submit(context.Background(), srv.URL, false, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, coordinator.RunRunning, st.State)
	})

	t.Run("wait until done", func(t *testing.T) {
		srv := fakeCoordinator(t, done)
		out, err := execute(t, "submit", "--coordinator", srv.URL+"/", "--wait", "--poll", "1ms")
		require.NoError(t, err)
		assert.Contains(t, out, "run r1: done (4/4 tiles)")
		assert.Contains(t, out, "10 points, 12 triangles -> mesh.ply")
	})

	t.Run("failed run", func(t *testing.T) {
		srv := fakeCoordinator(t, failed)
		_, err := submit(context.Background(), srv.URL, true, time.Millisecond)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tile 2 failed")
	})

	t.Run("timeout", func(t *testing.T) {
		srv := fakeCoordinator(t, coordinator.RunStatus{RunID: "r3", State: coordinator.RunRunning})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := submit(ctx, srv.URL, true, time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
