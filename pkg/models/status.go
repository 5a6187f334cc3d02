package models

// SyncStatus is the process-wide activity hint shown by the UI.
type SyncStatus string

const (
	StatusIdle         SyncStatus = "idle"
	StatusSyncing      SyncStatus = "syncing"
	StatusError        SyncStatus = "error"
	StatusHasConflicts SyncStatus = "hasConflicts"
)

// StatusInputs are the counters the status is derived from.
type StatusInputs struct {
	QueueLength      int
	PendingConflicts int
	InFlight         bool
	// LastDrainFailed is true when the most recent drain aborted with an error.
	LastDrainFailed bool
}

// DeriveStatus computes the sync status from its inputs.
// Pending conflicts always win; a non-empty queue is reported through
// StatusReport.PendingWork rather than by bending idle.
func DeriveStatus(in StatusInputs) SyncStatus {
	switch {
	case in.PendingConflicts > 0:
		return StatusHasConflicts
	case in.InFlight:
		return StatusSyncing
	case in.LastDrainFailed:
		return StatusError
	default:
		return StatusIdle
	}
}

// StatusReport is the snapshot exposed to the UI layer.
type StatusReport struct {
	Status           SyncStatus `json:"status"`
	QueueLength      int        `json:"queue_length"`
	PendingConflicts int        `json:"pending_conflicts"`
	NeedsAttention   int        `json:"needs_attention"`
	PendingWork      bool       `json:"pending_work"`
	LastError        string     `json:"last_error,omitempty"`
}
