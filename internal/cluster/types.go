package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/halomesh/internal/exchange"
	"github.com/dreamware/halomesh/internal/tile"
)

// WorkerInfo identifies a worker node and the base URL it serves on.
type WorkerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Worker WorkerInfo `json:"worker"`
}

// Assignment hands one tile of a run to a worker.
type Assignment struct {
	RunID string    `json:"run_id"`
	Tile  tile.Spec `json:"tile"`
	// Peers maps every neighbor tile id to the base URL of its worker.
	Peers map[int]string `json:"peers"`
	// Points is the wire-encoded fragment of the tile's owned points.
	Points       []byte        `json:"points"`
	PollInterval time.Duration `json:"poll_interval"`
	Compress     bool          `json:"compress"`
	// Tiles is the number of tiles in the run.
	Tiles int `json:"tiles"`
	// Transport selects the halo transport: "local" posts to Peers over
	// HTTP, "redis" uses the lists on RedisAddr.
	Transport string `json:"transport"`
	RedisAddr string `json:"redis_addr,omitempty"`
	// Coordinator is where the worker posts its Result.
	Coordinator string `json:"coordinator"`
}

// CancelRequest asks a worker to abandon every tile of a run.
type CancelRequest struct {
	RunID string `json:"run_id"`
}

// TileURL is the base URL neighbors use to reach a tile of a run hosted at
// addr. Halo payloads are posted below it.
func TileURL(addr, run string, tile int) string {
	return fmt.Sprintf("%s/runs/%s/tiles/%d", strings.TrimRight(addr, "/"), run, tile)
}

// Result is a worker's report for one tile. Points holds the wire-encoded
// fragment of every point the tile ended with; the coordinator keeps only the
// core ones.
type Result struct {
	RunID   string                 `json:"run_id"`
	TileID  int                    `json:"tile_id"`
	Worker  string                 `json:"worker"`
	Points  []byte                 `json:"points,omitempty"`
	Reports []exchange.PhaseReport `json:"reports,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Failed reports whether the worker gave up on the tile.
func (r Result) Failed() bool { return r.Error != "" }

var httpClient = &http.Client{Timeout: 30 * time.Second}

// PostJSON posts body as JSON to url and decodes the reply into out when out
// is not nil.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(url, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(url string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if s := strings.TrimSpace(string(msg)); s != "" {
		return fmt.Errorf("http %s: %d: %s", url, resp.StatusCode, s)
	}
	return fmt.Errorf("http %s: %d", url, resp.StatusCode)
}
