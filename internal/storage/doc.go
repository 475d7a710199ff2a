// Package storage holds file content for development storage nodes and for
// the in-process test cluster.
//
// # Overview
//
// A real storage node is a plain HTTP/WebDAV server: the tracker hands out
// URLs on it, clients PUT and GET content there directly. This package
// provides that server side in memory so the client can be exercised without
// external daemons.
//
//	┌──────────┐   PUT/GET/HEAD/MOVE   ┌──────────────┐
//	│  client  │ ────────────────────▶ │   Handler    │
//	└──────────┘                       ├──────────────┤
//	                                   │ MemoryStore  │
//	                                   │ path → bytes │
//	                                   └──────────────┘
//
// # Core Types
//
// Store: content keyed by URL path
//   - Get / Put for whole files
//   - WriteAt for Content-Range partial writes, zero-filling gaps
//   - Size for HEAD
//   - Rename for MOVE
//
// MemoryStore: Store over a map guarded by sync.RWMutex
//   - All returned slices are copies
//   - No persistence
//
// Handler: net/http handler over a Store
//   - Range reads via http.ServeContent (206, 416 past the end)
//   - 201 when a PUT creates a path, 204 when it replaces one
//
// # Concurrency Model
//
// MemoryStore is safe for concurrent use. WriteAt calls on disjoint ranges of
// one path from many goroutines produce the union of the writes.
//
// # Limitations
//
//   - Content lives in memory only
//   - No authentication; never expose a development node publicly
package storage
