package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// ChallengeStore keeps short-lived wallet nonces keyed by (address, nonce).
type ChallengeStore interface {
	Put(ctx context.Context, challenge domain.Challenge, ttl time.Duration) error
	Get(ctx context.Context, address, nonce string) (*domain.Challenge, error)
	// Consume is a single atomic delete-if-present. Of concurrent callers for
	// the same key exactly one observes true.
	Consume(ctx context.Context, address, nonce string) (bool, error)
}

// OAuthAuthState is kept between authorize and callback for CSRF protection.
// LinkAccountID is set when an authenticated session started the flow.
type OAuthAuthState struct {
	Provider      string     `json:"provider"`
	RedirectURI   string     `json:"redirect_uri"`
	LinkAccountID *uuid.UUID `json:"link_account_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

type OAuthStateStore interface {
	Put(ctx context.Context, state string, value OAuthAuthState, ttl time.Duration) error
	// Take returns and removes the state in one step; nil when absent.
	Take(ctx context.Context, state string) (*OAuthAuthState, error)
}
