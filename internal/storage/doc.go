// Package storage keeps the tile results gathered at the end of a run until
// the coordinator merges them.
//
// # Overview
//
// Workers hand back their tile as an encoded fragment. The coordinator (or
// the in-process runner) stores each payload under ResultKey(run, tile) and,
// once every tile of the run has reported, loads them back with Results and
// merges them into the final mesh. Keeping the payloads in a Store rather
// than in memory lets a coordinator restart between gather and merge when
// the SQLite backend is used.
//
// # Core Interface
//
// Store: Basic key-value storage operations
//   - Get(key) - Retrieve a value by key
//   - Put(key, value) - Store or update a key-value pair
//   - Delete(key) - Remove a key-value pair
//   - List(prefix) - Sorted keys under a prefix
//   - Stats() - Key count and payload bytes
//
// # Implementations
//
// MemoryStore: In-memory storage with sync.RWMutex
//   - No persistence (data lost on restart)
//   - Values are copied on the way in and out
//
// SQLiteStore: a single kv table in a SQLite database (modernc.org/sqlite,
// no cgo)
//   - WAL journal, NORMAL synchronous, 5s busy timeout
//   - Schema created on open
//
// # Usage
//
//	store, err := storage.Open("sqlite", "results.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	_ = store.Put(storage.ResultKey(runID, tileID), payload)
//	results, err := storage.Results(store, runID)
//
// # Thread Safety
//
// Both implementations are safe for concurrent use. MemoryStore uses a
// read-write mutex; SQLiteStore serialises statements over one connection.
package storage
