// Package mogtest provides in-process stand-ins for a tracker and its
// storage nodes.
//
// Tracker speaks the line protocol over a real TCP listener and dispatches to
// per-command handlers. StorageNode is an httptest.Server over a
// storage.MemoryStore with fault injection. Cluster wires both together into
// a small working tracker:
//
//	cluster := mogtest.NewCluster(t, 2)
//	cluster.AddDomain("test", map[string]int{"photos": 2})
//	// dial cluster.Tracker.Addr() with a tracker.Conn
package mogtest
