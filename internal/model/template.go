package model

// TriggerKind determines when a template generates tasks
type TriggerKind string

const (
	TriggerDaily TriggerKind = "daily"
	TriggerSeva  TriggerKind = "seva"
	TriggerEvent TriggerKind = "event"
)

// TaskTemplate is the blueprint the auto-generator instantiates tasks from
type TaskTemplate struct {
	ID                string       `json:"id" mapstructure:"id"`
	Name              string       `json:"name" mapstructure:"name"`
	Description       string       `json:"description,omitempty" mapstructure:"description"`
	Type              TaskType     `json:"type" mapstructure:"type"`
	Function          TaskFunction `json:"function" mapstructure:"function"`
	TimeBlock         TimeBlock    `json:"time_block" mapstructure:"time_block"`
	Priority          TaskPriority `json:"priority" mapstructure:"priority"`
	ScheduledTime     string       `json:"scheduled_time,omitempty" mapstructure:"scheduled_time"`
	DueTime           string       `json:"due_time,omitempty" mapstructure:"due_time"`
	EstimatedDuration int          `json:"estimated_duration,omitempty" mapstructure:"estimated_duration"`
	SLAMinutes        *int         `json:"sla_minutes,omitempty" mapstructure:"sla_minutes"`
	Trigger           TriggerKind  `json:"trigger" mapstructure:"trigger"`
	Tags              []string     `json:"tags,omitempty" mapstructure:"tags"`
}
