package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/aggregator"
	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/testutil"
)

func TestPublishSnapshot(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	s := newStore(t)
	ctx := context.Background()
	today := time.Now().Format(model.DateLayout)

	for _, title := range []string{"Open shrine and light lamps", "Prepare prasadam"} {
		_, err := s.Create(ctx, &model.Task{
			Title:         title,
			Type:          model.TaskTypeDailyRoutine,
			Function:      model.FunctionKitchen,
			TimeBlock:     model.TimeBlockMorning,
			ScheduledDate: today,
		}, manager)
		require.NoError(t, err)
	}

	p := NewReadinessPublisher(js, aggregator.New(s), time.Hour, zap.NewNop())
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	received := make(chan ReadinessSnapshot, 1)
	sub, err := js.Subscribe(readinessMetricsSubject, func(msg *nats.Msg) {
		var snapshot ReadinessSnapshot
		if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
			t.Errorf("failed to unmarshal snapshot: %v", err)
			return
		}
		received <- snapshot
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p.publishSnapshot(ctx)

	select {
	case snapshot := <-received:
		assert.Equal(t, today, snapshot.Date)
		assert.False(t, snapshot.Timestamp.IsZero())
		require.Len(t, snapshot.ByTimeBlock, 4)
		require.Len(t, snapshot.ByFunction, 6)

		var morning aggregator.ReadinessMetric
		for _, metric := range snapshot.ByTimeBlock {
			if metric.Group == string(model.TimeBlockMorning) {
				morning = metric
			}
		}
		assert.Equal(t, 2, morning.TotalTasks)
		assert.Zero(t, morning.ReadinessPercentage)

		// Host metrics are best-effort but never negative
		assert.GreaterOrEqual(t, snapshot.CPUUsage, 0.0)
		assert.GreaterOrEqual(t, snapshot.MemoryUsage, 0.0)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for readiness snapshot")
	}
}
