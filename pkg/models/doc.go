// Package models defines the records that flow through the offline sync core.
//
// # Tasks
//
// A [Task] is the local mirror of one row of the remote document database.
// Typed fields cover everything a queued edit can touch: title, status,
// checkbox, the three dates, the task-type and project properties (either a
// single-select option or a relation to other pages) and the URL.
//
// # Mutations
//
// A [PendingMutation] is a field-level edit that has not been confirmed by the
// remote database yet. The [Kind] of a mutation is a closed set and every kind
// carries its own [Payload] type:
//
//	| Kind           | Payload                |
//	|----------------|------------------------|
//	| status         | StatusPayload          |
//	| checkbox       | CheckboxPayload        |
//	| title          | TitlePayload           |
//	| do_date        | DoDatePayload          |
//	| due_date       | DueDatePayload         |
//	| completed_date | CompletedDatePayload   |
//	| task_type      | TaskTypePayload        |
//	| project        | ProjectPayload         |
//	| url            | URLPayload             |
//
// Payload is a sealed interface, so a switch over the payload types is the
// tagged union the rest of the module dispatches on. On the wire and on disk a
// mutation is encoded as {"kind": ..., "payload": {...}} in both JSON and CBOR.
//
// # Conflicts and status
//
// A [SyncConflict] holds a mutation that could not be applied because the
// server moved under it. [DeriveStatus] computes the process-wide
// [SyncStatus] from counters instead of storing it.
package models
