// Package store provides SQLite-backed durable storage for the timelock
// registry.
//
// The store keeps three tables:
//   - settings: initialized flag, delay and the request id counter
//   - requests: execution requests (append-only, executed flag set once)
//   - events: the append-only event log
//
// # Critical Patterns
//
// Identifier allocation: request ids come only from the next_request_id
// counter in settings, incremented inside the creating transaction. A rolled
// back transaction leaves no gap.
//
// Guarded execution claim: ClaimExecution flips executed from 0 to 1 with a
// conditional UPDATE and reports whether this caller won. A request can be
// claimed at most once per committed history.
//
// Nested transitions: Tx supports SQLite savepoints so a reentrant operation
// can be undone without discarding the enclosing one.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single connection: one writer, transactions own the connection
//
// Event payloads and action batches are stored as RFC 8785 canonical JSON
// produced by internal/ir.
package store
