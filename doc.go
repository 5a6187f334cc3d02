// Package surrealtodo keeps a todo client usable offline against a remote
// document database.
//
// Edits made through [Client] are queued locally, one per task field, and
// shown immediately on top of the cached server copy. The queue is drained
// against the server when the device comes back online or when the user
// asks for a sync. An edit whose field was changed on the server since the
// edit was made is not written; it becomes a conflict that the user settles
// with [Client.ResolveConflict], either keeping the server value or writing
// the local one over it.
//
// # Components
//
// The facade wires these packages together; each can be used on its own:
//
//   - [github.com/surrealdb/surrealtodo/pkg/kv]: durable blobs (memory, sqlite, postgres, S3)
//   - [github.com/surrealdb/surrealtodo/pkg/queue]: the mutation queue
//   - [github.com/surrealdb/surrealtodo/pkg/conflict]: detection, storage and resolution of conflicts
//   - [github.com/surrealdb/surrealtodo/pkg/remote]: reads and writes against the server
//   - [github.com/surrealdb/surrealtodo/pkg/syncmgr]: drains, triggers and status
//   - [github.com/surrealdb/surrealtodo/pkg/taskcache]: the cached task snapshot
//   - [github.com/surrealdb/surrealtodo/pkg/netstate]: reachability
//
// # Status
//
// [Client.Status] is derived on every call from the queue length, the
// number of pending conflicts, whether a drain is running and whether the
// last drain failed. Pending conflicts always report hasConflicts.
package surrealtodo
