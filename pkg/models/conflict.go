package models

import "time"

type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution is the winner picked for a conflict.
type Resolution string

const (
	// KeepLocal re-applies the local edit over the server value.
	KeepLocal Resolution = "keepLocal"
	// KeepServer discards the local edit.
	KeepServer Resolution = "keepServer"
	// AutoResolved is set by an automatic policy, never by a user action.
	AutoResolved Resolution = "autoResolved"
)

func (r Resolution) Valid() bool {
	switch r {
	case KeepLocal, KeepServer, AutoResolved:
		return true
	}
	return false
}

// ConflictReason tells why a mutation could not be applied.
type ConflictReason string

const (
	// ReasonDiverged means the server changed the touched field.
	ReasonDiverged ConflictReason = "diverged"
	// ReasonDeleted means the record no longer exists on the server.
	ReasonDeleted ConflictReason = "deleted"
)

// SyncConflict is a mutation whose target field was modified server-side
// after the local edit was made.
type SyncConflict struct {
	ID       string          `json:"id"`
	Mutation PendingMutation `json:"mutation"`
	// ServerRecord is nil when the record was deleted server-side.
	ServerRecord *Task          `json:"server_record,omitempty"`
	DetectedAt   time.Time      `json:"detected_at"`
	Status       ConflictStatus `json:"status"`
	Reason       ConflictReason `json:"reason"`

	// LocalChange and ServerChange are the rendered descriptions shown to the user.
	LocalChange  string `json:"local_change"`
	ServerChange string `json:"server_change"`

	Resolution *Resolution `json:"resolution,omitempty"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}

func (c SyncConflict) IsPending() bool {
	return c.Status == ConflictPending
}

// Clone returns a deep copy of the conflict.
func (c SyncConflict) Clone() SyncConflict {
	out := c
	out.Mutation = c.Mutation.Clone()
	out.ServerRecord = c.ServerRecord.Clone()
	if c.Resolution != nil {
		r := *c.Resolution
		out.Resolution = &r
	}
	out.ResolvedAt = cloneTime(c.ResolvedAt)
	return out
}
