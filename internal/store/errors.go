package store

import "errors"

var (
	// ErrTaskNotFound is returned when a task id is unknown
	ErrTaskNotFound = errors.New("task not found")

	// ErrForbidden is returned when the acting role may not create the task type
	ErrForbidden = errors.New("role is not permitted to create this task type")

	// ErrVersionConflict is returned when a write carries a stale version
	ErrVersionConflict = errors.New("task version conflict")

	// ErrBlockedTask is returned when a blocked task is moved to in-progress
	ErrBlockedTask = errors.New("task is blocked")

	// ErrUnmetDependency is returned when a dependency has not completed
	ErrUnmetDependency = errors.New("task has unmet dependencies")

	// ErrTerminalState is returned when a completed task is mutated
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrInvalidTransition is returned for transitions outside the state machine
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingAssignee is returned when a task enters assigned without an assignee
	ErrMissingAssignee = errors.New("assignee required to enter assigned state")
)
