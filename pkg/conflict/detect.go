// Package conflict decides whether a queued edit still applies cleanly to
// the server's copy of a task, keeps the conflicts it finds, and resolves
// them.
//
// Detection is field-level: only the field a mutation touches is compared
// between the mutation's baseline and the server record, so unrelated
// server-side edits never raise a conflict.
package conflict

import "github.com/surrealdb/surrealtodo/pkg/models"

// Result is the outcome of Detect.
type Result struct {
	Conflict bool
	Reason   models.ConflictReason

	LocalChange  string
	ServerChange string
}

// Detect compares the touched field of m's baseline with server.
// A nil server means the task no longer exists server-side.
func Detect(m models.PendingMutation, server *models.Task) Result {
	if server == nil {
		local, remote := Describe(m, nil)
		return Result{Conflict: true, Reason: models.ReasonDeleted, LocalChange: local, ServerChange: remote}
	}
	if m.OriginalRecord == nil || models.FieldEqual(m.Kind, m.OriginalRecord, server) {
		return Result{}
	}
	local, remote := Describe(m, server)
	return Result{Conflict: true, Reason: models.ReasonDiverged, LocalChange: local, ServerChange: remote}
}
