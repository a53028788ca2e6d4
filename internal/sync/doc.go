// Package sync reconciles a local, possibly-divergent replica against one
// authoritative remote store.
//
// The manager buffers local changes in a FIFO pending queue, pushes them to
// the remote endpoint, pulls remote changes since the last sync point,
// resolves conflicts record-by-record, and applies the winners to the local
// store.
//
// Delivery semantics are at-least-once, never exactly-once: a failed push
// leaves the queue untouched so the next attempt re-sends, and a success
// response lost in transit means already-accepted records go out again. The
// server is expected to upsert idempotently.
//
// A cycle is Idle -> Syncing -> Idle under a single-flight guard: a Sync call
// arriving while another is in flight returns a skipped result immediately
// rather than queueing behind it. Within one cycle push always precedes
// pull, which biases conflict checks toward exposing the latest local write
// as the "local" side. It does not guarantee the local write reaches the
// server before an interleaved write from another replica; cross-replica
// races are settled purely by comparing UpdatedAt.
package sync
