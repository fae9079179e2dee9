package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"autograde/internal/common/mq"
)

type fakeProducer struct {
	err       error
	published []*mq.Message
	topics    []string
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.topics = append(f.topics, topic)
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, message)
	return nil
}

func (f *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	for _, m := range messages {
		if err := f.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

type recordingNotifier struct {
	alerts []Alert
}

func (r *recordingNotifier) Notify(ctx context.Context, alert Alert) {
	r.alerts = append(r.alerts, alert)
}

func TestQueueNotifierPublishes(t *testing.T) {
	producer := &fakeProducer{}
	n := NewQueueNotifier(producer, "grading.alerts", 0)

	n.Notify(context.Background(), Alert{Kind: AlertSandboxNotStopped, Sandbox: "submission1-suite2-abc"})

	if len(producer.published) != 1 || producer.topics[0] != "grading.alerts" {
		t.Fatalf("expected one message on grading.alerts, got %d", len(producer.published))
	}
	msg := producer.published[0]
	if msg.ID != "submission1-suite2-abc" {
		t.Fatalf("expected message id to be the sandbox name, got %q", msg.ID)
	}
	if kind, _ := msg.GetHeader("kind"); kind != string(AlertSandboxNotStopped) {
		t.Fatalf("expected kind header, got %q", kind)
	}
	var alert Alert
	if err := json.Unmarshal(msg.Body, &alert); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if alert.CreatedAt == 0 {
		t.Fatalf("expected created_at to be stamped")
	}
}

func TestQueueNotifierFallsBack(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	fallback := &recordingNotifier{}
	n := NewQueueNotifier(producer, "grading.alerts", 0)
	n.fallback = fallback

	n.Notify(context.Background(), Alert{Kind: AlertSandboxNotDestroyed})

	if len(fallback.alerts) != 1 || fallback.alerts[0].Kind != AlertSandboxNotDestroyed {
		t.Fatalf("expected alert to reach the fallback, got %+v", fallback.alerts)
	}
}

func TestQueueNotifierWithoutTopic(t *testing.T) {
	fallback := &recordingNotifier{}
	n := NewQueueNotifier(nil, "", 0)
	n.fallback = fallback

	n.Notify(context.Background(), Alert{Kind: AlertSandboxNotStopped})

	if len(fallback.alerts) != 1 {
		t.Fatalf("expected fallback delivery, got %d", len(fallback.alerts))
	}
}
