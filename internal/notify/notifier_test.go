package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
	"github.com/templeops/temple-tasks/internal/testutil"
)

func TestNotifyRolePublishesNotice(t *testing.T) {
	js, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	notifier, err := NewJetStreamNotifier(js, zap.NewNop())
	require.NoError(t, err)

	received := make(chan model.EscalationNotice, 1)
	sub, err := js.Subscribe("notify.temple-manager", func(msg *nats.Msg) {
		var notice model.EscalationNotice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			t.Errorf("failed to unmarshal notice: %v", err)
			return
		}
		received <- notice
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	task := &model.Task{ID: "task-1", Title: "Open shrine and light lamps"}
	err = notifier.NotifyRole(context.Background(), "temple-manager", task, "SLA breached")
	require.NoError(t, err)

	select {
	case notice := <-received:
		assert.Equal(t, "task-1", notice.TaskID)
		assert.Equal(t, "Open shrine and light lamps", notice.TaskTitle)
		assert.Equal(t, "temple-manager", notice.Role)
		assert.Equal(t, "SLA breached", notice.Reason)
		assert.NotEmpty(t, notice.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notice")
	}
}
