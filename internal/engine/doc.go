// Package engine implements the timelock registry: the permission gate,
// the execution engine and the delay configuration.
//
// The engine is the only writer of the store. Every mutating operation is
// a transition that runs inside one store transaction and either commits
// entirely or leaves nothing behind.
//
// TRANSITIONS:
//
// An outermost call takes the engine mutex and opens a store transaction.
// The context handed to the Executor carries that transaction, so calls
// the executor makes back into the engine with the same context join it
// as SQLite savepoints instead of blocking on the mutex. A nested call
// that fails rolls back only its own savepoint. When the outermost call
// fails everything is rolled back, nested work included.
//
// Events are appended to the log inside the transaction. Observers and
// metrics only see them after the outermost transaction has committed.
//
// EXECUTION ORDER:
//
//  1. load the request (NotFound)
//  2. reject executed requests (AlreadyExecuted)
//  3. normal path only: require createdAt + delay <= now (DelayNotElapsed)
//  4. claim the request with a guarded update (executed 0 -> 1)
//  5. hand the batch to the Executor
//  6. record the outcome and append request_executed
//
// Because the claim happens before the executor runs, a reentrant attempt
// to execute the same request sees it executed and fails with
// AlreadyExecuted. If the executor fails, the claim is rolled back with the
// rest of the transition and the request is pending again.
//
// Reentrant calls must use the context passed to Executor.Execute and must
// run on the executor's goroutine. A call made with an unrelated context
// while a transition is open waits for that transition to finish.
package engine
