package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventPublisher is the outbound domain-event publish port.
// The application uses this abstraction to keep broker/client concerns in adapters.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}

// PasswordResetNotification is handed to the notification channel, which owns delivery.
type PasswordResetNotification struct {
	AccountID uuid.UUID
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Notifier is the notification channel collaborator.
type Notifier interface {
	SendPasswordReset(ctx context.Context, n PasswordResetNotification) error
}

// Metrics records domain outcomes; adapters decide the backend.
type Metrics interface {
	ObserveOperation(operation, outcome string)
	ObserveSessionTransition(to string)
	ObserveNonceConsumption(result string)
	ObserveProfileDefault(field string)
}
