package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/notify"
	"github.com/templeops/temple-tasks/internal/policy"
	"github.com/templeops/temple-tasks/internal/store"
)

// monitorActor is the system identity escalation transitions are recorded under
var monitorActor = model.Actor{
	ID:   "escalation-monitor",
	Name: "Escalation Monitor",
	Role: policy.SystemRole,
}

// EscalationMonitor periodically scans active tasks for SLA breaches and
// drives them into the escalated state. The scan period is a tunable, not
// a correctness requirement.
type EscalationMonitor struct {
	logger      *zap.Logger
	store       *store.TaskStore
	notifier    notify.Notifier
	rules       map[model.TaskType]model.EscalationRule
	defaultRule model.EscalationRule
	interval    time.Duration
	loc         *time.Location
	stop        chan struct{}
}

// NewEscalationMonitor creates an escalation monitor. Rules route breach
// notifications per task type; the rule with an empty task type is the
// global default.
func NewEscalationMonitor(taskStore *store.TaskStore, notifier notify.Notifier, rules []model.EscalationRule, interval time.Duration, logger *zap.Logger) *EscalationMonitor {
	m := &EscalationMonitor{
		logger:   logger.Named("escalation-monitor"),
		store:    taskStore,
		notifier: notifier,
		rules:    make(map[model.TaskType]model.EscalationRule),
		interval: interval,
		loc:      time.Local,
		stop:     make(chan struct{}),
	}

	m.defaultRule = model.EscalationRule{NotifyRoles: []string{"temple-manager"}}
	for _, rule := range rules {
		if rule.TaskType == "" {
			m.defaultRule = rule
			continue
		}
		m.rules[rule.TaskType] = rule
	}

	return m
}

// Start starts the periodic scan loop
func (m *EscalationMonitor) Start(ctx context.Context) {
	m.logger.Info("Starting escalation monitor",
		zap.Duration("interval", m.interval))
	go m.scanLoop(ctx)
}

// Stop stops the scan loop
func (m *EscalationMonitor) Stop() {
	m.logger.Info("Stopping escalation monitor")
	close(m.stop)
}

func (m *EscalationMonitor) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.Scan(ctx, time.Now())
		}
	}
}

// Scan evaluates every active task against its SLA deadline at the given
// instant and escalates the breached ones. Escalated tasks are excluded
// from selection, so repeated scans are idempotent. One task's failure
// never aborts the rest of the batch. Returns the number of tasks escalated.
func (m *EscalationMonitor) Scan(ctx context.Context, now time.Time) int {
	escalated := 0
	for _, task := range m.store.ListActive(ctx) {
		// Cooperative cancellation between per-task iterations
		if ctx.Err() != nil {
			return escalated
		}

		deadline, ok := m.deadlineFor(task)
		if !ok || !deadline.Before(now) {
			continue
		}

		reason := fmt.Sprintf("SLA breached: due %s, now %s",
			deadline.Format(time.RFC3339), now.Format(time.RFC3339))

		updated, err := m.store.Transition(ctx, task.ID, task.Version, model.TaskStatusEscalated, monitorActor, reason)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// A human edited the task mid-scan; re-evaluated next cycle
				m.logger.Warn("Skipping task after concurrent edit",
					zap.String("task_id", task.ID),
					zap.Error(err))
				continue
			}
			m.logger.Error("Failed to escalate task",
				zap.String("task_id", task.ID),
				zap.Error(err))
			continue
		}
		escalated++

		m.logger.Info("Task escalated",
			zap.String("task_id", task.ID),
			zap.String("reason", reason),
			zap.Int64("version", updated.Version))

		m.notifyBreach(ctx, updated, reason)
	}
	return escalated
}

// deadlineFor computes the breach instant for a task: due time plus the
// task's own SLA if set, otherwise the grace from its type's rule. An
// explicit zero-minute SLA means the due time itself is the deadline.
// Tasks without a due time are never selected.
func (m *EscalationMonitor) deadlineFor(task *model.Task) (time.Time, bool) {
	grace := m.ruleFor(task.Type).GraceMinutes
	if task.SLAMinutes != nil {
		grace = *task.SLAMinutes
	}
	return task.DueDeadline(grace, m.loc)
}

func (m *EscalationMonitor) ruleFor(taskType model.TaskType) model.EscalationRule {
	if rule, ok := m.rules[taskType]; ok {
		return rule
	}
	return m.defaultRule
}

// notifyBreach routes the notice to the rule's roles. Delivery failure is
// logged and never propagated: the escalation transition already happened
// and stays durable.
func (m *EscalationMonitor) notifyBreach(ctx context.Context, task *model.Task, reason string) {
	if m.notifier == nil {
		return
	}
	for _, role := range m.ruleFor(task.Type).NotifyRoles {
		if err := m.notifier.NotifyRole(ctx, role, task, reason); err != nil {
			m.logger.Error("Failed to deliver escalation notice",
				zap.String("task_id", task.ID),
				zap.String("role", role),
				zap.Error(err))
		}
	}
}
