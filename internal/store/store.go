package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/policy"
)

// AuditArchiver receives a durable copy of every accepted audit entry.
// The in-memory trail stays authoritative; archive failures are logged
// and never fail the originating write.
type AuditArchiver interface {
	Append(ctx context.Context, taskID string, entry *model.AuditEntry) error
}

// Filters narrows a ListByDate result
type Filters struct {
	TimeBlock model.TimeBlock
	Function  model.TaskFunction
	Statuses  []model.TaskStatus
	Types     []model.TaskType
	Tag       string
}

// ScheduleUpdate carries the delta fields the auto-generator propagates
// when an upstream seva or event changes. Nil means leave unchanged.
type ScheduleUpdate struct {
	ScheduledDate *string
	ScheduledTime *string
	DueTime       *string
}

// TaskStore owns the authoritative task collection. All mutation passes
// through its version-checked writes; readers always receive deep copies
// so a dashboard refresh can never disturb store state. The mutex is the
// sole serialization point: no lock is held across a periodic scan, only
// across a single task's read or write.
type TaskStore struct {
	logger  *zap.Logger
	policy  *policy.RolePolicy
	archive AuditArchiver

	mu         sync.RWMutex
	tasks      map[string]*model.Task
	byDate     map[string]map[string]struct{}
	byBlock    map[model.TimeBlock]map[string]struct{}
	byFunction map[model.TaskFunction]map[string]struct{}
}

// NewTaskStore creates a task store. The archiver is optional.
func NewTaskStore(rolePolicy *policy.RolePolicy, archive AuditArchiver, logger *zap.Logger) *TaskStore {
	return &TaskStore{
		logger:     logger.Named("task-store"),
		policy:     rolePolicy,
		archive:    archive,
		tasks:      make(map[string]*model.Task),
		byDate:     make(map[string]map[string]struct{}),
		byBlock:    make(map[model.TimeBlock]map[string]struct{}),
		byFunction: make(map[model.TaskFunction]map[string]struct{}),
	}
}

// Create validates the acting role against the role policy, initializes
// lifecycle fields and stores the task. The draft's status is always
// forced to planned.
func (s *TaskStore) Create(ctx context.Context, draft *model.Task, actor model.Actor) (*model.Task, error) {
	if draft.Type == "" || draft.ScheduledDate == "" {
		return nil, fmt.Errorf("task type and scheduled date are required")
	}

	perms := s.policy.PermissionsForOrDefault(actor.Role)
	if !perms.CanCreate(draft.Type) {
		return nil, fmt.Errorf("%w: role %s, type %s", ErrForbidden, actor.Role, draft.Type)
	}

	task := draft.Clone()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Function == "" {
		task.Function = model.FunctionGeneral
	}
	if task.TimeBlock == "" {
		task.TimeBlock = model.BlockForTime(task.ScheduledTime)
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityMedium
	}
	now := time.Now()
	task.Status = model.TaskStatusPlanned
	task.Version = 1
	task.CreatedBy = actor.ID
	task.CreatedByRole = actor.Role
	task.CreatedDate = now
	task.UpdatedBy = actor.ID
	task.UpdatedDate = now
	task.AuditLog = nil

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s already exists", task.ID)
	}
	s.appendAudit(ctx, task, actor, model.AuditActionCreated, "", string(task.Status), "")
	s.tasks[task.ID] = task
	s.index(task)
	s.mu.Unlock()

	s.logger.Info("Task created",
		zap.String("task_id", task.ID),
		zap.String("type", string(task.Type)),
		zap.String("created_by", actor.ID),
		zap.String("role", actor.Role))

	return task.Clone(), nil
}

// Get returns a deep copy of a task
func (s *TaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task.Clone(), nil
}

// ListByDate returns copies of all tasks scheduled on the given date that
// match the filters, ordered by scheduled time then id
func (s *TaskStore) ListByDate(ctx context.Context, date string, filters Filters) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*model.Task
	for id := range s.byDate[date] {
		task := s.tasks[id]
		if s.matchesFilters(task, filters) {
			tasks = append(tasks, task.Clone())
		}
	}

	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].ScheduledTime != tasks[j].ScheduledTime {
			return tasks[i].ScheduledTime < tasks[j].ScheduledTime
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

// ListActive returns copies of every task whose status is still eligible
// for SLA evaluation (planned, assigned or in-progress)
func (s *TaskStore) ListActive(ctx context.Context) []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*model.Task
	for _, task := range s.tasks {
		if task.Status.IsActive() {
			tasks = append(tasks, task.Clone())
		}
	}
	return tasks
}

// FindByLinkedSeva returns the task generated for a seva id, or nil
func (s *TaskStore) FindByLinkedSeva(ctx context.Context, sevaID string) *model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, task := range s.tasks {
		if task.LinkedSevaID == sevaID {
			return task.Clone()
		}
	}
	return nil
}

// FindByLinkedEvent returns the task generated for an event id, or nil
func (s *TaskStore) FindByLinkedEvent(ctx context.Context, eventID string) *model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, task := range s.tasks {
		if task.LinkedEventID == eventID {
			return task.Clone()
		}
	}
	return nil
}

// Transition moves a task through the status state machine. The caller
// supplies the version it last read; a stale version fails with
// ErrVersionConflict so concurrent UI edits cannot silently overwrite
// each other. Every accepted transition appends exactly one audit entry
// and increments the version.
func (s *TaskStore) Transition(ctx context.Context, id string, expectedVersion int64, newStatus model.TaskStatus, actor model.Actor, reason string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Version != expectedVersion {
		return nil, fmt.Errorf("%w: task %s at version %d, caller expected %d",
			ErrVersionConflict, id, task.Version, expectedVersion)
	}
	if task.Status == model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s is completed", ErrTerminalState, id)
	}

	now := time.Now()
	action := model.AuditActionStatusChanged

	switch {
	case task.Status == model.TaskStatusPlanned && newStatus == model.TaskStatusAssigned:
		if task.Assignee == nil {
			return nil, fmt.Errorf("%w: task %s", ErrMissingAssignee, id)
		}

	case task.Status == model.TaskStatusAssigned && newStatus == model.TaskStatusInProgress:
		if err := s.progressGuard(task); err != nil {
			return nil, err
		}

	case task.Status == model.TaskStatusInProgress && newStatus == model.TaskStatusCompleted:
		// actualDuration is caller-supplied elsewhere, never inferred here
		task.CompletedDate = now.Format(model.DateLayout)
		task.CompletedTime = now.Format(model.ClockLayout)

	case task.Status.IsActive() && newStatus == model.TaskStatusEscalated:
		if reason == "" {
			reason = "escalated manually"
		}
		task.EscalationReason = reason
		task.EscalatedAt = &now
		action = model.AuditActionEscalated

	case task.Status == model.TaskStatusEscalated && newStatus == model.TaskStatusAssigned:
		if task.Assignee == nil {
			return nil, fmt.Errorf("%w: task %s", ErrMissingAssignee, id)
		}
		task.EscalationReason = ""
		task.EscalatedAt = nil

	case task.Status == model.TaskStatusEscalated && newStatus == model.TaskStatusInProgress:
		if err := s.progressGuard(task); err != nil {
			return nil, err
		}
		task.EscalationReason = ""
		task.EscalatedAt = nil

	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, newStatus)
	}

	previous := task.Status
	task.Status = newStatus
	task.Version++
	task.UpdatedBy = actor.ID
	task.UpdatedDate = now
	s.appendAudit(ctx, task, actor, action, string(previous), string(newStatus), reason)

	s.logger.Info("Task transitioned",
		zap.String("task_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
		zap.Int64("version", task.Version),
		zap.String("actor", actor.ID))

	return task.Clone(), nil
}

// Assign sets or replaces a task's assignee. A planned task moves to
// assigned in the same operation, recorded as a single audit entry.
func (s *TaskStore) Assign(ctx context.Context, id string, expectedVersion int64, assignee model.Assignee, actor model.Actor) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Version != expectedVersion {
		return nil, fmt.Errorf("%w: task %s at version %d, caller expected %d",
			ErrVersionConflict, id, task.Version, expectedVersion)
	}
	if task.Status == model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s is completed", ErrTerminalState, id)
	}

	var previous string
	if task.Assignee != nil {
		previous = task.Assignee.ID
	}
	a := assignee
	task.Assignee = &a

	detail := ""
	if task.Status == model.TaskStatusPlanned {
		detail = fmt.Sprintf("status %s -> %s", model.TaskStatusPlanned, model.TaskStatusAssigned)
		task.Status = model.TaskStatusAssigned
	}

	task.Version++
	task.UpdatedBy = actor.ID
	task.UpdatedDate = time.Now()
	s.appendAudit(ctx, task, actor, model.AuditActionReassigned, previous, assignee.ID, detail)

	s.logger.Info("Task assigned",
		zap.String("task_id", id),
		zap.String("assignee", assignee.ID),
		zap.Int64("version", task.Version))

	return task.Clone(), nil
}

// AddBlocker records an active obstruction on a task
func (s *TaskStore) AddBlocker(ctx context.Context, id string, expectedVersion int64, blockerID string, actor model.Actor) (*model.Task, error) {
	return s.editBlockers(ctx, id, expectedVersion, blockerID, actor, true)
}

// RemoveBlocker clears a previously recorded obstruction
func (s *TaskStore) RemoveBlocker(ctx context.Context, id string, expectedVersion int64, blockerID string, actor model.Actor) (*model.Task, error) {
	return s.editBlockers(ctx, id, expectedVersion, blockerID, actor, false)
}

func (s *TaskStore) editBlockers(ctx context.Context, id string, expectedVersion int64, blockerID string, actor model.Actor, add bool) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Version != expectedVersion {
		return nil, fmt.Errorf("%w: task %s at version %d, caller expected %d",
			ErrVersionConflict, id, task.Version, expectedVersion)
	}
	if task.Status == model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s is completed", ErrTerminalState, id)
	}

	detail := "blocker added: " + blockerID
	if add {
		for _, b := range task.BlockedBy {
			if b == blockerID {
				return task.Clone(), nil
			}
		}
		task.BlockedBy = append(task.BlockedBy, blockerID)
	} else {
		detail = "blocker removed: " + blockerID
		kept := task.BlockedBy[:0]
		for _, b := range task.BlockedBy {
			if b != blockerID {
				kept = append(kept, b)
			}
		}
		task.BlockedBy = kept
	}

	task.Version++
	task.UpdatedBy = actor.ID
	task.UpdatedDate = time.Now()
	s.appendAudit(ctx, task, actor, model.AuditActionEdited, "", "", detail)

	return task.Clone(), nil
}

// UpdateSchedule applies a generator delta (time change on the upstream
// seva or event) to a task, appending an edited audit entry
func (s *TaskStore) UpdateSchedule(ctx context.Context, id string, expectedVersion int64, upd ScheduleUpdate, actor model.Actor) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Version != expectedVersion {
		return nil, fmt.Errorf("%w: task %s at version %d, caller expected %d",
			ErrVersionConflict, id, task.Version, expectedVersion)
	}
	if task.Status == model.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s is completed", ErrTerminalState, id)
	}

	var detail string
	if upd.ScheduledDate != nil && *upd.ScheduledDate != task.ScheduledDate {
		detail = fmt.Sprintf("scheduled date %s -> %s", task.ScheduledDate, *upd.ScheduledDate)
		delete(s.byDate[task.ScheduledDate], task.ID)
		task.ScheduledDate = *upd.ScheduledDate
		if s.byDate[task.ScheduledDate] == nil {
			s.byDate[task.ScheduledDate] = make(map[string]struct{})
		}
		s.byDate[task.ScheduledDate][task.ID] = struct{}{}
	}
	if upd.ScheduledTime != nil && *upd.ScheduledTime != task.ScheduledTime {
		if detail != "" {
			detail += "; "
		}
		detail += fmt.Sprintf("scheduled time %s -> %s", task.ScheduledTime, *upd.ScheduledTime)
		task.ScheduledTime = *upd.ScheduledTime
	}
	if upd.DueTime != nil && *upd.DueTime != task.DueTime {
		if detail != "" {
			detail += "; "
		}
		detail += fmt.Sprintf("due time %s -> %s", task.DueTime, *upd.DueTime)
		task.DueTime = *upd.DueTime
	}
	if detail == "" {
		// Nothing changed; no audit entry, no version bump
		return task.Clone(), nil
	}

	task.Version++
	task.UpdatedBy = actor.ID
	task.UpdatedDate = time.Now()
	s.appendAudit(ctx, task, actor, model.AuditActionEdited, "", "", detail)

	s.logger.Info("Task schedule updated",
		zap.String("task_id", id),
		zap.String("detail", detail))

	return task.Clone(), nil
}

// AuditTrail returns a copy of a task's audit trail. The acting role must
// hold audit visibility per the role policy.
func (s *TaskStore) AuditTrail(ctx context.Context, id string, actor model.Actor) ([]model.AuditEntry, error) {
	perms := s.policy.PermissionsForOrDefault(actor.Role)
	if !perms.CanViewAuditLogs {
		return nil, fmt.Errorf("%w: role %s may not view audit trails", ErrForbidden, actor.Role)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return append([]model.AuditEntry(nil), task.AuditLog...), nil
}

// progressGuard enforces the structural gates on entering in-progress:
// no active blockers, all dependencies completed
func (s *TaskStore) progressGuard(task *model.Task) error {
	if len(task.BlockedBy) > 0 {
		return fmt.Errorf("%w: task %s blocked by %v", ErrBlockedTask, task.ID, task.BlockedBy)
	}
	for _, depID := range task.Dependencies {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != model.TaskStatusCompleted {
			return fmt.Errorf("%w: task %s depends on %s", ErrUnmetDependency, task.ID, depID)
		}
	}
	return nil
}

// appendAudit appends one immutable entry to the task's trail and mirrors
// it to the archive. Callers must hold the write lock.
func (s *TaskStore) appendAudit(ctx context.Context, task *model.Task, actor model.Actor, action model.AuditAction, previous, next, detail string) {
	entry := model.AuditEntry{
		ID:            uuid.New().String(),
		Timestamp:     time.Now(),
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		ActorRole:     actor.Role,
		Action:        action,
		PreviousValue: previous,
		NewValue:      next,
		Detail:        detail,
	}
	task.AuditLog = append(task.AuditLog, entry)

	if s.archive != nil {
		if err := s.archive.Append(ctx, task.ID, &entry); err != nil {
			s.logger.Error("Failed to archive audit entry",
				zap.String("task_id", task.ID),
				zap.String("entry_id", entry.ID),
				zap.Error(err))
		}
	}
}

func (s *TaskStore) index(task *model.Task) {
	if s.byDate[task.ScheduledDate] == nil {
		s.byDate[task.ScheduledDate] = make(map[string]struct{})
	}
	s.byDate[task.ScheduledDate][task.ID] = struct{}{}

	if s.byBlock[task.TimeBlock] == nil {
		s.byBlock[task.TimeBlock] = make(map[string]struct{})
	}
	s.byBlock[task.TimeBlock][task.ID] = struct{}{}

	if s.byFunction[task.Function] == nil {
		s.byFunction[task.Function] = make(map[string]struct{})
	}
	s.byFunction[task.Function][task.ID] = struct{}{}
}

func (s *TaskStore) matchesFilters(task *model.Task, filters Filters) bool {
	if filters.TimeBlock != "" && task.TimeBlock != filters.TimeBlock {
		return false
	}
	if filters.Function != "" && task.Function != filters.Function {
		return false
	}
	if filters.Tag != "" && !task.HasTag(filters.Tag) {
		return false
	}
	if len(filters.Statuses) > 0 {
		match := false
		for _, status := range filters.Statuses {
			if task.Status == status {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(filters.Types) > 0 {
		match := false
		for _, t := range filters.Types {
			if task.Type == t {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
