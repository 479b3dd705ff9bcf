package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/policy"
	"github.com/templeops/temple-tasks/internal/store"
)

const testDate = "2025-03-10"

func task(block model.TimeBlock, fn model.TaskFunction, status model.TaskStatus) *model.Task {
	return &model.Task{
		TimeBlock:     block,
		Function:      fn,
		Status:        status,
		ScheduledDate: testDate,
	}
}

func metricFor(t *testing.T, metrics []ReadinessMetric, group string) ReadinessMetric {
	t.Helper()
	for _, m := range metrics {
		if m.Group == group {
			return m
		}
	}
	t.Fatalf("no metric for group %s", group)
	return ReadinessMetric{}
}

func TestRollupEmptySetIsVacuouslyReady(t *testing.T) {
	now := time.Now()

	metrics := Rollup(nil, testDate, GroupByTimeBlock, now)
	require.Len(t, metrics, 4)
	for _, m := range metrics {
		assert.Zero(t, m.TotalTasks)
		assert.Equal(t, 100, m.ReadinessPercentage, "group %s", m.Group)
	}

	metrics = Rollup(nil, testDate, GroupByFunction, now)
	require.Len(t, metrics, 6)
	for _, m := range metrics {
		assert.Equal(t, 100, m.ReadinessPercentage, "group %s", m.Group)
	}
}

func TestRollupWeightedPercentage(t *testing.T) {
	// 2 completed + 1 in-progress + 1 escalated in the morning block:
	// round(100 * (2 + 0.5) / 4) = 63
	tasks := []*model.Task{
		task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusCompleted),
		task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusCompleted),
		task(model.TimeBlockMorning, model.FunctionRitual, model.TaskStatusInProgress),
		task(model.TimeBlockMorning, model.FunctionRitual, model.TaskStatusEscalated),
	}

	metrics := Rollup(tasks, testDate, GroupByTimeBlock, time.Now())
	morning := metricFor(t, metrics, string(model.TimeBlockMorning))

	assert.Equal(t, 4, morning.TotalTasks)
	assert.Equal(t, 2, morning.CompletedTasks)
	assert.Equal(t, 1, morning.InProgressTasks)
	assert.Equal(t, 1, morning.EscalatedTasks)
	assert.Equal(t, 63, morning.ReadinessPercentage)

	// Untouched blocks remain vacuously ready
	evening := metricFor(t, metrics, string(model.TimeBlockEvening))
	assert.Zero(t, evening.TotalTasks)
	assert.Equal(t, 100, evening.ReadinessPercentage)
}

func TestRollupGroupsByFunction(t *testing.T) {
	tasks := []*model.Task{
		task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusCompleted),
		task(model.TimeBlockEvening, model.FunctionKitchen, model.TaskStatusPlanned),
		task(model.TimeBlockMorning, model.FunctionSafety, model.TaskStatusInProgress),
	}

	metrics := Rollup(tasks, testDate, GroupByFunction, time.Now())

	kitchen := metricFor(t, metrics, string(model.FunctionKitchen))
	assert.Equal(t, 2, kitchen.TotalTasks)
	assert.Equal(t, 50, kitchen.ReadinessPercentage)

	safety := metricFor(t, metrics, string(model.FunctionSafety))
	assert.Equal(t, 1, safety.TotalTasks)
	assert.Equal(t, 50, safety.ReadinessPercentage)
}

func TestRollupCountsDelayedAndBlocked(t *testing.T) {
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, time.Local)

	overdue := task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusAssigned)
	overdue.DueTime = "10:00"

	onTime := task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusAssigned)
	onTime.DueTime = "12:00"

	// Completed and escalated tasks are never counted as delayed
	donePastDue := task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusCompleted)
	donePastDue.DueTime = "09:00"

	blocked := task(model.TimeBlockMorning, model.FunctionKitchen, model.TaskStatusAssigned)
	blocked.BlockedBy = []string{"missing-supplies"}

	metrics := Rollup([]*model.Task{overdue, onTime, donePastDue, blocked}, testDate, GroupByTimeBlock, now)
	morning := metricFor(t, metrics, string(model.TimeBlockMorning))

	assert.Equal(t, 4, morning.TotalTasks)
	assert.Equal(t, 1, morning.DelayedTasks)
	assert.Equal(t, 1, morning.CriticalBlockers)
}

func TestComputeReadinessFromStore(t *testing.T) {
	s := store.NewTaskStore(policy.New(policy.DefaultRoles(), zap.NewNop()), nil, zap.NewNop())
	agg := New(s)
	ctx := context.Background()
	actor := model.Actor{ID: "usr-1", Role: "temple-manager"}

	for i := 0; i < 2; i++ {
		_, err := s.Create(ctx, &model.Task{
			Title:         "Morning duty",
			Type:          model.TaskTypeDailyRoutine,
			Function:      model.FunctionKitchen,
			TimeBlock:     model.TimeBlockMorning,
			ScheduledDate: testDate,
		}, actor)
		require.NoError(t, err)
	}

	metrics := agg.ComputeReadiness(ctx, testDate, GroupByTimeBlock)
	morning := metricFor(t, metrics, string(model.TimeBlockMorning))
	assert.Equal(t, 2, morning.TotalTasks)
	assert.Zero(t, morning.ReadinessPercentage)

	// Repeated computation observes identical results and mutates nothing
	again := agg.ComputeReadiness(ctx, testDate, GroupByTimeBlock)
	assert.Equal(t, metrics, again)
}
