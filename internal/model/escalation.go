package model

import "time"

// EscalationRule defines the SLA grace and notification routing for a
// task type. A rule with an empty TaskType is the global default.
type EscalationRule struct {
	TaskType     TaskType `json:"task_type,omitempty" mapstructure:"task_type"`
	GraceMinutes int      `json:"grace_minutes" mapstructure:"grace_minutes"`
	NotifyRoles  []string `json:"notify_roles" mapstructure:"notify_roles"`
}

// EscalationNotice is the outbound payload published when a task is
// driven into the escalated state
type EscalationNotice struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	TaskTitle string    `json:"task_title"`
	Role      string    `json:"role"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
