// Package exchange runs the halo exchange protocol for one tile.
//
// # State machine
//
// Every phase of the plan goes through the same four steps:
//
//	PostReceives ──> LocalRefine ──> PostSends ──> Drain ──> next phase | done
//
// PostReceives posts a non-blocking receive for each neighbor the phase reads
// from, remembering the region the incoming points must replace.
//
// LocalRefine refines the phase's region of the tile, if it has one.
//
// PostSends gathers the tile's points for each outgoing region, encodes them
// and posts a non-blocking send.
//
// Drain polls all pending requests. A finished send is released; a finished
// receive is decoded and applied with Tile.UpdateRegion. Passes that complete
// nothing wait one poll interval on the worker's clock. Drain returns when no
// request is left, which is the implicit barrier between phases: a tile cannot
// leave phase k before each neighbor has sent it phase k data.
//
// # Failure
//
// There is no retry. Transport errors, undecodable payloads, consistency
// violations and unknown peers abort the run and mark the tile failed.
// Cancelling the context is the only way out of a Drain that waits forever on
// a dead neighbor.
package exchange
