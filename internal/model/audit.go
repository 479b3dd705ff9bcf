package model

import "time"

// AuditAction identifies the kind of mutation an audit entry records
type AuditAction string

const (
	AuditActionCreated       AuditAction = "created"
	AuditActionStatusChanged AuditAction = "status-changed"
	AuditActionReassigned    AuditAction = "reassigned"
	AuditActionEscalated     AuditAction = "escalated"
	AuditActionEdited        AuditAction = "edited"
)

// AuditEntry is the immutable record of a single state-changing action
// taken against a task. Entries are append-only: once written they are
// never edited or removed, and the trail length never decreases.
type AuditEntry struct {
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	ActorID       string      `json:"actor_id"`
	ActorName     string      `json:"actor_name,omitempty"`
	ActorRole     string      `json:"actor_role"`
	Action        AuditAction `json:"action"`
	PreviousValue string      `json:"previous_value,omitempty"`
	NewValue      string      `json:"new_value,omitempty"`
	Detail        string      `json:"detail,omitempty"`
}
