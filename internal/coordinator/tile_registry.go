package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dreamware/halomesh/internal/cluster"
	"github.com/dreamware/halomesh/internal/grid"
)

// TileAssignment records which worker hosts a tile for the current run.
//
// Thread Safety:
// TileAssignment structs are immutable once created. The registry returns
// copies to prevent external modification.
type TileAssignment struct {
	// TileID is the row-major tile index, in [0, numTiles).
	TileID int `json:"tile_id"`

	// WorkerID identifies the worker hosting the tile.
	// Must match a registered worker's ID.
	WorkerID string `json:"worker_id"`

	// Addr is the worker's base URL, used by neighbors for halo traffic.
	Addr string `json:"addr"`
}

// TileRegistry manages tile-to-worker assignments for a run, serving as the
// authoritative source for where each tile lives and how its neighbors reach
// it.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│          TileRegistry               │
//	├─────────────────────────────────────┤
//	│  assignments: map[tileID]→worker    │
//	│  numTiles: rows*cols of the grid    │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  tile → worker → base URL           │
//	│  5 → "worker-2" → http://10.0.0.2   │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
type TileRegistry struct {
	// assignments maps tile IDs to their current assignments.
	// A tile is unassigned (not in map) until Distribute runs.
	assignments map[int]*TileAssignment

	mu sync.RWMutex

	// numTiles is fixed at registry creation.
	numTiles int
}

// NewTileRegistry creates a registry for numTiles tiles.
//
// Example:
//
//	registry := NewTileRegistry(4)
//	registry.Distribute(workers)
func NewTileRegistry(numTiles int) *TileRegistry {
	return &TileRegistry{
		assignments: make(map[int]*TileAssignment),
		numTiles:    numTiles,
	}
}

// Assign places tileID on worker, overwriting any previous assignment.
//
// Returns:
//   - nil on success
//   - Error if the tile ID is out of range or the worker has no ID
func (r *TileRegistry) Assign(tileID int, worker cluster.WorkerInfo) error {
	if tileID < 0 || tileID >= r.numTiles {
		return fmt.Errorf("invalid tile ID %d, must be in range [0, %d)", tileID, r.numTiles)
	}
	if worker.ID == "" {
		return errors.New("worker ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.assignments[tileID] = &TileAssignment{TileID: tileID, WorkerID: worker.ID, Addr: worker.Addr}
	return nil
}

// Remove drops the assignment of tileID.
func (r *TileRegistry) Remove(tileID int) error {
	if tileID < 0 || tileID >= r.numTiles {
		return fmt.Errorf("invalid tile ID %d, must be in range [0, %d)", tileID, r.numTiles)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.assignments, tileID)
	return nil
}

// Get returns a copy of the assignment for tileID, or nil.
func (r *TileRegistry) Get(tileID int) *TileAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a := r.assignments[tileID]
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// All returns copies of every assignment ordered by tile ID.
func (r *TileRegistry) All() []*TileAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*TileAssignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TileID < out[j].TileID })
	return out
}

// WorkerTiles returns the sorted tiles hosted by workerID.
func (r *TileRegistry) WorkerTiles(workerID string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tiles []int
	for id, a := range r.assignments {
		if a.WorkerID == workerID {
			tiles = append(tiles, id)
		}
	}
	sort.Ints(tiles)
	return tiles
}

// NumTiles returns the number of tiles the registry was built for.
func (r *TileRegistry) NumTiles() int {
	return r.numTiles
}

// Complete reports whether every tile has a worker.
func (r *TileRegistry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assignments) == r.numTiles
}

// Distribute assigns tiles round-robin over workers, in the given order.
// Tile i goes to workers[i % len(workers)].
func (r *TileRegistry) Distribute(workers []cluster.WorkerInfo) error {
	if len(workers) == 0 {
		return errors.New("cannot distribute tiles with no workers")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := 0; id < r.numTiles; id++ {
		w := workers[id%len(workers)]
		r.assignments[id] = &TileAssignment{TileID: id, WorkerID: w.ID, Addr: w.Addr}
	}
	return nil
}

// Peers returns the base URL of the worker hosting each neighbor in n.
func (r *TileRegistry) Peers(n grid.Neighbors) (map[int]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make(map[int]string)
	for _, id := range n.Present() {
		a := r.assignments[id]
		if a == nil {
			return nil, fmt.Errorf("neighbor tile %d is not assigned to any worker", id)
		}
		peers[id] = a.Addr
	}
	return peers, nil
}
