// Package syncmgr drains the mutation queue against the remote database.
//
// A drain walks the queue once, in order, one mutation at a time. For each
// mutation it fetches the server copy of the task and runs conflict
// detection on the touched field. A conflicting mutation leaves the queue
// and becomes a pending conflict; a clean one is written and removed once
// the write succeeds. A transient failure keeps the mutation queued with a
// backoff delay and the drain moves on. A mutation that exhausts its retry
// budget, or fails permanently, is parked as needing attention and stays
// queued until it is retried explicitly.
//
// Drains are triggered manually through SyncNow and automatically by Run on
// every transition to online. At most one drain runs at a time.
package syncmgr
