package generator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/policy"
	"github.com/templeops/temple-tasks/internal/store"
	"github.com/templeops/temple-tasks/internal/testutil"
)

func newStore(t *testing.T) *store.TaskStore {
	t.Helper()
	return store.NewTaskStore(policy.New(policy.DefaultRoles(), zap.NewNop()), nil, zap.NewNop())
}

func TestRunDailyIsIdempotent(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	created := g.RunDaily(ctx, "2025-03-10")
	require.Equal(t, 3, created)

	tasks := s.ListByDate(ctx, "2025-03-10", store.Filters{})
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.Equal(t, model.TaskStatusPlanned, task.Status)
		assert.Equal(t, SystemActor.ID, task.CreatedBy)
		assert.Equal(t, policy.SystemRole, task.CreatedByRole)
	}

	// Re-running the job for an already-generated date is a no-op
	created = g.RunDaily(ctx, "2025-03-10")
	assert.Zero(t, created)
	assert.Len(t, s.ListByDate(ctx, "2025-03-10", store.Filters{}), 3)

	// A different date generates a fresh set
	created = g.RunDaily(ctx, "2025-03-11")
	assert.Equal(t, 3, created)
}

func TestHandleSevaScheduledCreatesOnce(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	evt := BookingEvent{
		ID:        "seva-42",
		Name:      "Abhishekam for Sharma family",
		Date:      "2025-03-15",
		StartTime: "10:00",
	}

	require.NoError(t, g.HandleSevaScheduled(ctx, evt))

	task := s.FindByLinkedSeva(ctx, "seva-42")
	require.NotNil(t, task)
	assert.Equal(t, model.TaskTypeRitualSeva, task.Type)
	assert.Equal(t, "Abhishekam for Sharma family", task.Title)
	assert.Equal(t, "10:00", task.ScheduledTime)
	assert.Equal(t, model.TimeBlockMorning, task.TimeBlock)

	// Repeated trigger with unchanged fields neither duplicates nor edits
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))
	again := s.FindByLinkedSeva(ctx, "seva-42")
	assert.Equal(t, task.Version, again.Version)
	assert.Len(t, s.ListByDate(ctx, "2025-03-15", store.Filters{}), 1)
}

func TestHandleSevaScheduledPropagatesTimeChange(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	evt := BookingEvent{ID: "seva-7", Name: "Satyanarayana puja", Date: "2025-03-20", StartTime: "10:00"}
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))
	before := s.FindByLinkedSeva(ctx, "seva-7")
	require.NotNil(t, before)

	// The booking moves; the generated task follows with an audit entry
	evt.StartTime = "11:30"
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))

	after := s.FindByLinkedSeva(ctx, "seva-7")
	assert.Equal(t, "11:30", after.ScheduledTime)
	assert.Equal(t, "11:30", after.DueTime)
	assert.Equal(t, before.Version+1, after.Version)
	require.Len(t, after.AuditLog, len(before.AuditLog)+1)
	assert.Equal(t, model.AuditActionEdited, after.AuditLog[len(after.AuditLog)-1].Action)
}

func TestHandleSevaScheduledPropagatesDateChange(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	evt := BookingEvent{ID: "seva-12", Name: "Rudrabhishekam", Date: "2025-03-20", StartTime: "08:00"}
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))

	// The booking moves to another day; the generated task follows
	evt.Date = "2025-03-22"
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))

	after := s.FindByLinkedSeva(ctx, "seva-12")
	assert.Equal(t, "2025-03-22", after.ScheduledDate)
	assert.Empty(t, s.ListByDate(ctx, "2025-03-20", store.Filters{}))
	assert.Len(t, s.ListByDate(ctx, "2025-03-22", store.Filters{}), 1)
}

func TestHandleSevaScheduledWithoutStartTime(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	evt := BookingEvent{ID: "seva-51", Name: "Archana", Date: "2025-03-18"}
	require.NoError(t, g.HandleSevaScheduled(ctx, evt))

	// A booking without a start time still lands in a valid time block
	task := s.FindByLinkedSeva(ctx, "seva-51")
	require.NotNil(t, task)
	assert.Equal(t, model.TimeBlockMorning, task.TimeBlock)
}

func TestHandleEventScheduled(t *testing.T) {
	s := newStore(t)
	g := NewAutoGenerator(nil, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())
	ctx := context.Background()

	evt := BookingEvent{ID: "evt-1", Name: "Ram Navami celebration", Date: "2025-04-06", StartTime: "18:00"}
	require.NoError(t, g.HandleEventScheduled(ctx, evt))

	task := s.FindByLinkedEvent(ctx, "evt-1")
	require.NotNil(t, task)
	assert.Equal(t, model.TaskTypeEventFestival, task.Type)
	assert.Equal(t, model.TimeBlockEvening, task.TimeBlock)
}

func TestBookingSubscription(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	s := newStore(t)
	g := NewAutoGenerator(js, s, DefaultTemplates(), "0 5 0 * * *", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, g.Start(ctx))
	defer g.Stop()

	evt := BookingEvent{ID: "seva-99", Name: "Ganapati homam", Date: "2025-05-01", StartTime: "07:30"}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	_, err = js.Publish("booking.seva.scheduled", data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.FindByLinkedSeva(ctx, "seva-99") != nil
	}, 5*time.Second, 50*time.Millisecond)
}
