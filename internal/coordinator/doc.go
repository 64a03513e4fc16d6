// Package coordinator owns the global mesh: it seeds and refines the whole
// domain, cuts it into tiles, hands the tiles to workers and merges what they
// send back.
//
// # Overview
//
// A run goes through four steps:
//
//	seed ──► refine ──► SplitPartitions ──► (workers exchange halos) ──► MergePartitions
//	                         │                                                 ▲
//	                         └── one tile.Tile per grid cell ──────────────────┘
//
// SplitPartitions sizes the halo margin from the largest circumradius of the
// refined mesh (HaloFactor times that radius) and rejects grids whose cells
// are narrower than plan.MinExtentFactor margins. MergePartitions keeps from
// every tile only the points it owns, so halo copies never show up twice.
//
// # Distributed runs
//
// Service exposes the same pipeline over HTTP for worker nodes:
//
//	┌──────────────┐  POST /register            ┌──────────────┐
//	│              │◄───────────────────────────│              │
//	│              │  POST /assign (per tile)   │              │
//	│ coordinator  │───────────────────────────►│   worker     │
//	│              │  POST /results/{tile}      │              │
//	│              │◄───────────────────────────│              │
//	│              │  GET /health (monitor)     │              │
//	│              │───────────────────────────►│              │
//	└──────────────┘                            └──────────────┘
//
// TileRegistry spreads tiles round-robin over the registered workers and
// tells every tile where its neighbors live. Results are kept in a
// storage.Store under storage.ResultKey until the last tile reports.
//
// HealthMonitor probes every worker. A worker marked unhealthy while it hosts
// a tile of the running job fails the run; there is no reassignment.
package coordinator
