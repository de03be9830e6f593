package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

const (
	EventTypeAccountCreated   = "identity.account_created"
	EventTypeIdentityLinked   = "identity.linked"
	EventTypeIdentityUnlinked = "identity.unlinked"
	EventTypePasswordChanged  = "identity.password_changed"
)

// normalizeEmail canonicalizes and validates email format before persistence/comparison.
func normalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("%w: invalid email", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

// hashToken stores one-way token fingerprints instead of raw secrets.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a cryptographically random hex token.
func randomHex(bytesLen int) (string, error) {
	raw := make([]byte, bytesLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// resolveFamily parses an explicit family or infers one from the address.
func resolveFamily(raw, address string) (domain.ChainFamily, string, error) {
	var (
		family domain.ChainFamily
		err    error
	)
	if strings.TrimSpace(raw) != "" {
		family, err = domain.ParseChainFamily(raw)
	} else {
		family, err = domain.DetectChainFamily(address)
	}
	if err != nil {
		return "", "", err
	}
	normalized, err := domain.NormalizeAddress(family, address)
	if err != nil {
		return "", "", err
	}
	return family, normalized, nil
}

// recordEvent enqueues a domain event. Outbox failures are logged, never
// surfaced, because the state change they describe already happened.
func (s *Service) recordEvent(ctx context.Context, eventType string, accountID uuid.UUID, fields map[string]any) {
	if s.outbox == nil {
		return
	}
	now := s.nowFn()
	eventID := uuid.New()
	body := map[string]any{
		"event_id":    eventID.String(),
		"event_type":  eventType,
		"account_id":  accountID.String(),
		"occurred_at": now,
	}
	for k, v := range fields {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	if err := s.outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID:      eventID,
		EventType:    eventType,
		PartitionKey: accountID.String(),
		Payload:      payload,
		OccurredAt:   now,
	}); err != nil {
		appLogger().WarnContext(ctx, "outbox enqueue failed",
			"operation", "record_event",
			"outcome", "failure",
			"event_type", eventType,
			"account_id", accountID.String(),
			"error", err,
		)
	}
}

// observe logs and counts the outcome of a use case.
func (s *Service) observe(ctx context.Context, operation string, err error, fields ...any) {
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(operation, outcome)

	attrs := append([]any{"operation", operation, "outcome", outcome}, fields...)
	switch {
	case err == nil:
		appLogger().InfoContext(ctx, "operation completed", attrs...)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		appLogger().ErrorContext(ctx, "operation failed", append(attrs, "error", err)...)
	default:
		appLogger().WarnContext(ctx, "operation rejected", append(attrs, "error", err)...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrAlreadyLinked):
		return "already_linked"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "unavailable"
	default:
		return "rejected"
	}
}

func identityFields(identity domain.LinkedIdentity) map[string]any {
	fields := map[string]any{"kind": string(identity.Kind)}
	if identity.Wallet != nil {
		fields["chain_family"] = string(identity.Wallet.ChainFamily)
		fields["address"] = identity.Wallet.Address
		fields["chain_id"] = identity.Wallet.ChainID
	}
	if identity.OAuth != nil {
		fields["provider"] = identity.OAuth.Provider
		fields["provider_account_id"] = identity.OAuth.ProviderAccountID
	}
	return fields
}

func toIdentityView(identity domain.LinkedIdentity) IdentityView {
	view := IdentityView{Kind: identity.Kind, LinkedAt: identity.CreatedAt}
	if identity.Wallet != nil {
		view.ChainFamily = identity.Wallet.ChainFamily
		view.Address = identity.Wallet.Address
		view.ChainID = identity.Wallet.ChainID
		view.LastLoginAt = identity.Wallet.LastLoginAt
	}
	if identity.OAuth != nil {
		view.Provider = identity.OAuth.Provider
		view.ProviderAccountID = identity.OAuth.ProviderAccountID
	}
	return view
}
