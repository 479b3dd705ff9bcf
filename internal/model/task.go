package model

import (
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPlanned    TaskStatus = "planned"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusEscalated  TaskStatus = "escalated"
)

// IsActive reports whether the status is eligible for SLA evaluation
func (s TaskStatus) IsActive() bool {
	switch s {
	case TaskStatusPlanned, TaskStatusAssigned, TaskStatusInProgress:
		return true
	}
	return false
}

// TaskType classifies a task by its operational origin
type TaskType string

const (
	TaskTypeDailyRoutine       TaskType = "daily-routine"
	TaskTypeRitualSeva         TaskType = "ritual-seva"
	TaskTypeEventFestival      TaskType = "event-festival"
	TaskTypeFacilitySafety     TaskType = "facility-safety"
	TaskTypeExceptionEmergency TaskType = "exception-emergency"
)

// TaskFunction identifies the operational function responsible for a task
type TaskFunction string

const (
	FunctionRitual   TaskFunction = "ritual"
	FunctionKitchen  TaskFunction = "kitchen"
	FunctionFacility TaskFunction = "facility"
	FunctionCrowd    TaskFunction = "crowd"
	FunctionSafety   TaskFunction = "safety"
	FunctionGeneral  TaskFunction = "general"
)

// Functions lists all task functions in canonical order
func Functions() []TaskFunction {
	return []TaskFunction{
		FunctionRitual,
		FunctionKitchen,
		FunctionFacility,
		FunctionCrowd,
		FunctionSafety,
		FunctionGeneral,
	}
}

// TimeBlock is one of the four fixed daily windows tasks are grouped by
type TimeBlock string

const (
	TimeBlockMorning   TimeBlock = "morning"
	TimeBlockAfternoon TimeBlock = "afternoon"
	TimeBlockEvening   TimeBlock = "evening"
	TimeBlockNight     TimeBlock = "night"
)

// TimeBlocks lists all time blocks in canonical order
func TimeBlocks() []TimeBlock {
	return []TimeBlock{
		TimeBlockMorning,
		TimeBlockAfternoon,
		TimeBlockEvening,
		TimeBlockNight,
	}
}

// TaskPriority represents the priority level of a task
type TaskPriority string

const (
	TaskPriorityLow      TaskPriority = "low"
	TaskPriorityMedium   TaskPriority = "medium"
	TaskPriorityHigh     TaskPriority = "high"
	TaskPriorityCritical TaskPriority = "critical"
)

// Actor identifies who is performing a mutation
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Assignee identifies who a task is assigned to
type Assignee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

const (
	// DateLayout is the calendar-date format used on tasks
	DateLayout = "2006-01-02"

	// ClockLayout is the wall-clock format used for scheduled/due times
	ClockLayout = "15:04"
)

// Task represents a single unit of temple operational work
type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Type        TaskType     `json:"type"`
	Function    TaskFunction `json:"function"`
	TimeBlock   TimeBlock    `json:"time_block"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`

	// Scheduling fields
	ScheduledDate     string `json:"scheduled_date"`           // YYYY-MM-DD
	ScheduledTime     string `json:"scheduled_time,omitempty"` // HH:MM
	DueTime           string `json:"due_time,omitempty"`       // HH:MM
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	SLAMinutes        *int   `json:"sla_minutes,omitempty"` // nil means no per-task SLA
	ActualDuration    int    `json:"actual_duration,omitempty"`

	// Relationships
	Dependencies []string `json:"dependencies,omitempty"`
	BlockedBy    []string `json:"blocked_by,omitempty"`

	// Assignment
	Assignee *Assignee `json:"assignee,omitempty"`

	// Provenance
	CreatedBy     string    `json:"created_by"`
	CreatedByRole string    `json:"created_by_role"`
	CreatedDate   time.Time `json:"created_date"`
	UpdatedBy     string    `json:"updated_by,omitempty"`
	UpdatedDate   time.Time `json:"updated_date"`
	Version       int64     `json:"version"`

	// Escalation details
	EscalationReason string     `json:"escalation_reason,omitempty"`
	EscalatedAt      *time.Time `json:"escalated_at,omitempty"`

	// Completion details
	CompletedDate string `json:"completed_date,omitempty"`
	CompletedTime string `json:"completed_time,omitempty"`

	// Links back to the booking subsystem that generated the task
	LinkedSevaID  string `json:"linked_seva_id,omitempty"`
	LinkedEventID string `json:"linked_event_id,omitempty"`

	Tags     []string     `json:"tags,omitempty"`
	AuditLog []AuditEntry `json:"audit_log,omitempty"`
}

// DueDeadline returns the instant after which the task is considered
// breached: scheduled date + due time + graceMinutes. The second return
// is false when the task carries no due time.
func (t *Task) DueDeadline(graceMinutes int, loc *time.Location) (time.Time, bool) {
	if t.DueTime == "" || t.ScheduledDate == "" {
		return time.Time{}, false
	}
	due, err := time.ParseInLocation(DateLayout+" "+ClockLayout, t.ScheduledDate+" "+t.DueTime, loc)
	if err != nil {
		return time.Time{}, false
	}
	return due.Add(time.Duration(graceMinutes) * time.Minute), true
}

// HasTag reports whether the task carries the given tag
func (t *Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the task. Readers always receive clones so
// aggregation can never mutate store state.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.BlockedBy = append([]string(nil), t.BlockedBy...)
	c.Tags = append([]string(nil), t.Tags...)
	c.AuditLog = append([]AuditEntry(nil), t.AuditLog...)
	if t.Assignee != nil {
		a := *t.Assignee
		c.Assignee = &a
	}
	if t.EscalatedAt != nil {
		at := *t.EscalatedAt
		c.EscalatedAt = &at
	}
	if t.SLAMinutes != nil {
		m := *t.SLAMinutes
		c.SLAMinutes = &m
	}
	return &c
}

// BlockForTime maps a wall-clock time to its operational time block.
// Unparseable or empty input maps to morning.
func BlockForTime(clock string) TimeBlock {
	t, err := time.Parse(ClockLayout, clock)
	if err != nil {
		return TimeBlockMorning
	}
	switch h := t.Hour(); {
	case h < 12:
		return TimeBlockMorning
	case h < 17:
		return TimeBlockAfternoon
	case h < 21:
		return TimeBlockEvening
	default:
		return TimeBlockNight
	}
}
