package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/templeops/temple-tasks/internal/model"
)

const (
	noticeStreamName    = "NOTICES"
	noticeSubjectPrefix = "notify."
)

// Notifier delivers escalation notices to a role's notification channel.
// Delivery is a side effect decoupled from task state: callers log a
// returned error and move on, they never fail a transition over it.
type Notifier interface {
	NotifyRole(ctx context.Context, role string, task *model.Task, reason string) error
}

// JetStreamNotifier publishes notices to the notify.<role> subject
type JetStreamNotifier struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewJetStreamNotifier creates the notifier and ensures the notice stream exists
func NewJetStreamNotifier(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamNotifier, error) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     noticeStreamName,
		Subjects: []string{noticeSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("failed to create notice stream: %w", err)
	}

	return &JetStreamNotifier{
		js:     js,
		logger: logger.Named("notifier"),
	}, nil
}

// NotifyRole implements Notifier.NotifyRole
func (n *JetStreamNotifier) NotifyRole(ctx context.Context, role string, task *model.Task, reason string) error {
	notice := model.EscalationNotice{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Role:      role,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	if _, err := n.js.Publish(noticeSubjectPrefix+role, data); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}

	n.logger.Info("Role notified",
		zap.String("role", role),
		zap.String("task_id", task.ID),
		zap.String("reason", reason))

	return nil
}
