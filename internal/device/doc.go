// Package device holds the bridge's Device Directory: the in-process,
// authoritative view of every known device and its last-known properties.
//
// The Directory is written by the cloud poller (full inventories), the push
// listener (real-time property changes) and the command dispatcher
// (optimistic state implied by a successful command). All writes go through
// the same per-property merge rules:
//
//   - a newer timestamp wins
//   - on equal timestamps push beats poll
//   - any authoritative (poll/push) value replaces an optimistic one
//
// Readers take deep-copied snapshots or subscribe to change events. Each
// subscriber has its own unbounded queue so a slow consumer never blocks a
// merge.
//
// Records are persisted through a Store. Two implementations are provided:
// SQLiteStore on the bridge database and BoltStore on a bbolt file with
// CBOR-encoded records.
package device
