package model

import "time"

// Audit action types emitted by the resolution executor and cleanup pass.
const (
	AuditDeleteTrack = "delete_track"
	AuditBulkDelete  = "bulk_delete"
	AuditSmartDelete = "smart_delete"
	AuditCleanup     = "cleanup"
)

// AuditEntry is one append-only record of a mutating operation.
type AuditEntry struct {
	ID         int64     `json:"id"`
	ActionType string    `json:"actionType"`
	Actor      string    `json:"actor"`
	TargetIDs  string    `json:"targetIds"` // comma-separated track/run ids
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
