// Package cluster defines the messages exchanged between the coordinator and
// the worker nodes, and the small JSON-over-HTTP helpers both sides use to
// send them.
//
// # Overview
//
// The distributed deployment is coordinator-based: one coordinator owns the
// global domain and a fleet of worker nodes each hosts one tile per run.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │ - Registry   │
//	              │ - Health Mon │
//	              │ - Split/Merge│
//	              └──────┬───────┘
//	                     │ Assignment / Result
//	      ┌──────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  Worker 0 │◄─►  Worker 1 │◄─►  Worker 2 │
//	└───────────┘  └───────────┘  └───────────┘
//	        halo payloads go worker to worker
//
// # Messages
//
// RegisterRequest: a worker announcing itself (POST /register)
//
// Assignment: the coordinator handing a worker its tile (POST /assign). It
// carries the tile spec, the addresses of the neighbor workers and the tile's
// owned points as a wire fragment.
//
// Result: a worker reporting back (POST /results/{tile}), either the final
// tile points or the error that stopped its exchange.
//
// # Protocol
//
// 1. Workers register with the coordinator.
// 2. A run splits the domain into one tile per registered worker and posts
// an Assignment to each.
// 3. Workers exchange halos directly with each other through the transport
// package, then post a Result.
// 4. When every tile reported, the coordinator merges the results.
//
// Any failed Result, or a worker that stops answering health probes, fails
// the whole run; there is no repair.
//
// # HTTP helpers
//
// PostJSON and GetJSON wrap net/http with JSON encoding, a shared client with
// a 30s timeout and context cancellation. Non-2xx replies become errors that
// include the start of the response body.
package cluster
