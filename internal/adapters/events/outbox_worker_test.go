package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type fakeOutbox struct {
	mu           sync.Mutex
	pending      []ports.OutboxRecord
	published    []uuid.UUID
	failed       []uuid.UUID
	deadLettered []uuid.UUID
}

func (f *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, ports.OutboxRecord{
		OutboxID:     event.EventID,
		EventType:    event.EventType,
		PartitionKey: event.PartitionKey,
		Payload:      event.Payload,
		CreatedAt:    event.OccurredAt,
	})
	return nil
}

func (f *fakeOutbox) ClaimUnpublished(_ context.Context, limit int, _ string, _ time.Time) ([]ports.OutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	out := append([]ports.OutboxRecord(nil), f.pending[:limit]...)
	f.pending = f.pending[limit:]
	return out, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(_ context.Context, id uuid.UUID, _, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLettered = append(f.deadLettered, id)
	return nil
}

type fakePublisher struct {
	failTypes map[string]bool
	keys      []string
}

func (p *fakePublisher) Publish(_ context.Context, eventType, partitionKey string, _ []byte) error {
	if p.failTypes[eventType] {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, partitionKey)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestOutboxWorkerProcessOnce(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{pending: []ports.OutboxRecord{
		{OutboxID: uuid.New(), EventType: "identity.linked", PartitionKey: "acct-1"},
		{OutboxID: uuid.New(), EventType: "identity.unlinked", PartitionKey: "acct-2", RetryCount: 1},
		{OutboxID: uuid.New(), EventType: "identity.unlinked", PartitionKey: "acct-3", RetryCount: 2},
		{OutboxID: uuid.New(), EventType: "identity.linked", PartitionKey: "acct-4", RetryCount: 3},
	}}
	publisher := &fakePublisher{failTypes: map[string]bool{"identity.unlinked": true}}
	worker := NewOutboxWorker(discardLogger(), outbox, publisher, OutboxWorkerConfig{MaxRetries: 3})

	res, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if res.Claimed != 4 || res.Published != 1 || res.Failed != 2 || res.DeadLettered != 2 {
		t.Fatalf("unexpected batch result: %+v", res)
	}
	if len(outbox.published) != 1 || len(outbox.failed) != 1 || len(outbox.deadLettered) != 2 {
		t.Fatalf("unexpected marks: published=%d failed=%d dlq=%d", len(outbox.published), len(outbox.failed), len(outbox.deadLettered))
	}
	if len(publisher.keys) != 1 || publisher.keys[0] != "acct-1" {
		t.Fatalf("expected partition key to be forwarded, got %v", publisher.keys)
	}
}

func TestOutboxNotifierEnqueuesResetEvent(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{}
	notifier := NewOutboxNotifier(outbox)
	accountID := uuid.New()
	err := notifier.SendPasswordReset(context.Background(), ports.PasswordResetNotification{
		AccountID: accountID,
		Email:     "ada@example.com",
		Token:     "raw-token",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(outbox.pending) != 1 {
		t.Fatalf("expected one outbox record, got %d", len(outbox.pending))
	}
	rec := outbox.pending[0]
	if rec.EventType != EventTypePasswordResetRequested || rec.PartitionKey != accountID.String() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body["token"] != "raw-token" || body["email"] != "ada@example.com" {
		t.Fatalf("unexpected payload: %v", body)
	}
}

func TestKafkaPublisherTopicMapping(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaPublisher(nil, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, map[string]string{"identity.linked": "identity-events"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer p.Close()
	if got := p.TopicFor("identity.linked"); got != "identity-events" {
		t.Fatalf("expected mapped topic, got %q", got)
	}
	if got := p.TopicFor("identity.unlinked"); got != "identity.unlinked" {
		t.Fatalf("expected event type fallback, got %q", got)
	}
}
