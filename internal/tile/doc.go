// Package tile implements the unit of work of a halomesh run: one rectangular
// partition of the domain together with its halo.
//
// # Overview
//
// The coordinator splits the domain into a grid of tiles and hands each one to
// a worker. A tile owns the points inside its core box and keeps copies of the
// points its neighbors own within two halo margins of the core:
//
//	┌───────────────────────────────┐  Extended = Core.Expand(2r)
//	│   copies from neighbors       │
//	│   ┌───────────────────────┐   │
//	│   │                       │   │
//	│   │   Core (owned)        │   │
//	│   │                       │   │
//	│   └───────────────────────┘   │
//	│                               │
//	└───────────────────────────────┘
//
// # Operations
//
// UpdateRegion is how halo data arrives: all local points inside a sub-box are
// replaced by the points a neighbor sent for that box. A point outside the
// advertised box means the two tiles disagree about the plan, which is
// reported as ErrConsistencyViolation before anything is touched.
//
// RefineRegion asks the geometry engine to refine a sub-box with the tile's
// quality thresholds. Regions with no triangles are skipped.
//
// # Concurrency
//
// A tile is driven by exactly one goroutine. State, Info and GetStats are safe
// to call from HTTP handlers while the exchange runs.
package tile
