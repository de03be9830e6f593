package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

const EventTypePasswordResetRequested = "identity.password_reset_requested"

// OutboxNotifier hands notifications to the mail service through the outbox,
// so a reset request is never lost when the broker is down.
type OutboxNotifier struct {
	outbox ports.OutboxRepository
}

func NewOutboxNotifier(outbox ports.OutboxRepository) *OutboxNotifier {
	return &OutboxNotifier{outbox: outbox}
}

func (n *OutboxNotifier) SendPasswordReset(ctx context.Context, msg ports.PasswordResetNotification) error {
	eventID := uuid.New()
	payload, err := json.Marshal(map[string]any{
		"event_id":   eventID.String(),
		"account_id": msg.AccountID.String(),
		"email":      msg.Email,
		"token":      msg.Token,
		"expires_at": msg.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return n.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      eventID,
		EventType:    EventTypePasswordResetRequested,
		PartitionKey: msg.AccountID.String(),
		Payload:      payload,
		OccurredAt:   time.Now().UTC(),
	})
}
