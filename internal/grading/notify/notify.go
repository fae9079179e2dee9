// Package notify sends operational alerts. Delivery is best effort and never
// fails the caller.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"autograde/internal/common/mq"
	appErr "autograde/pkg/errors"
	"autograde/pkg/utils/logger"
)

// AlertKind classifies an alert.
type AlertKind string

const (
	// AlertSandboxNotStopped is urgent: a container may still be running.
	AlertSandboxNotStopped   AlertKind = "sandbox_not_stopped"
	AlertSandboxNotDestroyed AlertKind = "sandbox_not_destroyed"
)

// Alert is one operational page.
type Alert struct {
	Kind         AlertKind `json:"kind"`
	Subject      string    `json:"subject"`
	Message      string    `json:"message"`
	Sandbox      string    `json:"sandbox,omitempty"`
	SubmissionID int64     `json:"submission_id,omitempty"`
	SuiteID      int64     `json:"suite_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    int64     `json:"created_at"`
}

// Notifier is fire and forget.
type Notifier interface {
	Notify(ctx context.Context, alert Alert)
}

// LogNotifier writes alerts to the error log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, alert Alert) {
	logger.Error(ctx, "operational alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("subject", alert.Subject),
		zap.String("message", alert.Message),
		zap.String("sandbox", alert.Sandbox),
		zap.Int64("submission_id", alert.SubmissionID),
		zap.Int64("suite_id", alert.SuiteID),
		zap.String("error", alert.Error),
	)
}

// QueueNotifier publishes alerts to an ops topic and falls back to the log
// when publishing fails.
type QueueNotifier struct {
	queue    mq.Producer
	topic    string
	timeout  time.Duration
	fallback Notifier
}

func NewQueueNotifier(queue mq.Producer, topic string, timeout time.Duration) *QueueNotifier {
	return &QueueNotifier{queue: queue, topic: topic, timeout: timeout, fallback: LogNotifier{}}
}

func (n *QueueNotifier) Notify(ctx context.Context, alert Alert) {
	if alert.CreatedAt == 0 {
		alert.CreatedAt = time.Now().Unix()
	}
	if err := n.publish(ctx, alert); err != nil {
		logger.Warn(ctx, "publish alert failed", zap.String("topic", n.topic), zap.Error(err))
		n.fallback.Notify(ctx, alert)
	}
}

func (n *QueueNotifier) publish(ctx context.Context, alert Alert) error {
	if n.queue == nil || n.topic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("alert topic is not configured")
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "marshal alert failed")
	}
	// The grading call may already be winding down.
	ctx = context.WithoutCancel(ctx)
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	message := mq.NewMessage(payload)
	message.ID = alert.Sandbox
	message.SetHeader("kind", string(alert.Kind))
	if err := n.queue.Publish(ctx, n.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.QueuePublishErr, "publish alert failed")
	}
	return nil
}
