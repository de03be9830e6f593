package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// AccountStore is the credential store contract. Uniqueness of identities is
// owned by the store and must be enforced atomically, not by check-then-insert.
type AccountStore interface {
	FindByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error)
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
	FindByWalletAddress(ctx context.Context, family domain.ChainFamily, address string) (domain.Account, error)
	FindByOAuthIdentity(ctx context.Context, provider, providerAccountID string) (domain.Account, error)

	// CreateAccount persists the account together with its first identity.
	CreateAccount(ctx context.Context, account domain.Account, first domain.LinkedIdentity) (domain.Account, error)
	// AttachIdentity returns attached=false when the same account already owns
	// the identity, and ErrDuplicateIdentity when another account does.
	AttachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) (bool, error)
	// DetachIdentity fails with ErrLastIdentityRemaining instead of orphaning the account.
	// Detaching the password clears the hash and advances passwordChangedAt to the
	// detach time, so sessions issued under the removed password are invalidated.
	DetachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) error
	ListIdentities(ctx context.Context, accountID uuid.UUID) ([]domain.LinkedIdentity, error)

	VerifyPassword(ctx context.Context, accountID uuid.UUID, plaintext string) (bool, error)
	// LinkPassword stores the hash only when the account has none and ensures the
	// password identity exists. Otherwise it returns ErrAlreadyLinked, so of two
	// concurrent links exactly one succeeds.
	LinkPassword(ctx context.Context, accountID uuid.UUID, passwordHash string) error
	// SetPassword stores the hash and ensures the password identity exists.
	// A nil changedAt leaves passwordChangedAt untouched; otherwise it never moves backwards.
	SetPassword(ctx context.Context, accountID uuid.UUID, passwordHash string, changedAt *time.Time) error
	SetEmail(ctx context.Context, accountID uuid.UUID, email string) error
	TouchWalletLogin(ctx context.Context, family domain.ChainFamily, address string, at time.Time) error
}

// PasswordResetRepository stores one-way fingerprints of reset tokens.
type PasswordResetRepository interface {
	CreatePasswordResetToken(ctx context.Context, accountID uuid.UUID, tokenHash string, createdAt, expiresAt time.Time) error
	ConsumePasswordResetToken(ctx context.Context, tokenHash string, usedAt time.Time) (uuid.UUID, error)
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID       uuid.UUID
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
}
