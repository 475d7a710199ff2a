// Package tracker manages client connections to a pool of trackers, the
// metadata servers that map keys to storage locations.
//
// # Overview
//
// A deployment runs several interchangeable trackers. Clients are configured
// with all of them and talk to whichever answers. This package provides the
// two pieces that make that work:
//
//   - HostPool: the configured addresses, a per-host "dead until" window, and
//     an optional preferred-IP table for multi-homed trackers
//   - Conn: a single cached socket that sends line-protocol requests and
//     transparently reconnects through the pool when the socket dies
//
// # Host Selection
//
// Every connect draws a random starting host and walks the list in order,
// wrapping around, for at most min(N, 15) hosts:
//
//	hosts:   [ A ][ B ][ C ][ D ]
//	start:              ^
//	order:   C, D, A, B
//
// A host that failed to accept a connection is skipped for five seconds.
// When every candidate is inside that window the request fails with an
// *UnavailableError without dialing anything.
//
// # Preferred IPs
//
// A host may map to an alternate address on the same port. The alternate is
// dialed first with a short timeout (100ms) and the configured address second
// (250ms). Only when both fail is the host marked dead.
//
// # Socket Reuse
//
// Requests go out on the cached socket without probing it first. If the write
// fails the socket is replaced. If the tracker closed an idle socket the
// request is sent once more on a fresh one. Requests that time out waiting for
// an answer are never resent, since the tracker may already have acted on them.
//
// # Concurrency
//
// HostPool is safe for concurrent use and is meant to be shared. Conn is not:
// give each goroutine its own Conn over the shared pool.
package tracker
