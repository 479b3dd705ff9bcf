package aggregator

import (
	"context"
	"math"
	"time"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/store"
)

// GroupBy selects the grouping dimension for readiness metrics
type GroupBy string

const (
	GroupByTimeBlock GroupBy = "time-block"
	GroupByFunction  GroupBy = "function"
)

// inProgressWeight is the partial completion credit an in-progress task
// contributes. Policy tunable, not a fixed law.
const inProgressWeight = 0.5

// ReadinessMetric summarizes how on-track one group of tasks is for a date
type ReadinessMetric struct {
	Group               string `json:"group"`
	Date                string `json:"date"`
	TotalTasks          int    `json:"total_tasks"`
	CompletedTasks      int    `json:"completed_tasks"`
	InProgressTasks     int    `json:"in_progress_tasks"`
	DelayedTasks        int    `json:"delayed_tasks"`
	EscalatedTasks      int    `json:"escalated_tasks"`
	CriticalBlockers    int    `json:"critical_blockers"`
	ReadinessPercentage int    `json:"readiness_percentage"`
}

// Aggregator computes readiness metrics from the task store. Pure
// read-side: it never mutates store state and is safe to call on every
// dashboard refresh.
type Aggregator struct {
	store *store.TaskStore
}

// New creates a readiness aggregator over a task store
func New(taskStore *store.TaskStore) *Aggregator {
	return &Aggregator{store: taskStore}
}

// ComputeReadiness returns one metric per group for all tasks scheduled
// on the given date
func (a *Aggregator) ComputeReadiness(ctx context.Context, date string, groupBy GroupBy) []ReadinessMetric {
	tasks := a.store.ListByDate(ctx, date, store.Filters{})
	return Rollup(tasks, date, groupBy, time.Now())
}

// Rollup is the pure readiness computation over a task snapshot. Every
// group of the chosen dimension is always emitted; an empty group is
// vacuously ready at 100 percent.
func Rollup(tasks []*model.Task, date string, groupBy GroupBy, now time.Time) []ReadinessMetric {
	groups := groupKeys(groupBy)
	byGroup := make(map[string]*ReadinessMetric, len(groups))
	metrics := make([]ReadinessMetric, len(groups))
	for i, g := range groups {
		metrics[i] = ReadinessMetric{Group: g, Date: date}
		byGroup[g] = &metrics[i]
	}

	for _, task := range tasks {
		key := string(task.TimeBlock)
		if groupBy == GroupByFunction {
			key = string(task.Function)
		}
		metric, ok := byGroup[key]
		if !ok {
			continue
		}

		metric.TotalTasks++
		switch task.Status {
		case model.TaskStatusCompleted:
			metric.CompletedTasks++
		case model.TaskStatusInProgress:
			metric.InProgressTasks++
		case model.TaskStatusEscalated:
			metric.EscalatedTasks++
		}
		if isDelayed(task, now) {
			metric.DelayedTasks++
		}
		if len(task.BlockedBy) > 0 {
			metric.CriticalBlockers++
		}
	}

	for i := range metrics {
		metrics[i].ReadinessPercentage = readinessPercentage(&metrics[i])
	}
	return metrics
}

// isDelayed reports whether a task is past its due time without having
// completed or escalated
func isDelayed(task *model.Task, now time.Time) bool {
	if task.Status == model.TaskStatusCompleted || task.Status == model.TaskStatusEscalated {
		return false
	}
	due, ok := task.DueDeadline(0, now.Location())
	return ok && due.Before(now)
}

func readinessPercentage(m *ReadinessMetric) int {
	if m.TotalTasks == 0 {
		return 100
	}
	score := float64(m.CompletedTasks) + inProgressWeight*float64(m.InProgressTasks)
	pct := int(math.Round(100 * score / float64(m.TotalTasks)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func groupKeys(groupBy GroupBy) []string {
	if groupBy == GroupByFunction {
		functions := model.Functions()
		keys := make([]string, len(functions))
		for i, f := range functions {
			keys[i] = string(f)
		}
		return keys
	}

	blocks := model.TimeBlocks()
	keys := make([]string, len(blocks))
	for i, b := range blocks {
		keys[i] = string(b)
	}
	return keys
}
