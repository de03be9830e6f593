package ports

import (
	"context"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// PasswordHasher isolates password hashing implementation from use-cases.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// SessionSigner encodes claims into a tamper-evident token. Parse must fail
// for any token not signed by the single configured key.
type SessionSigner interface {
	Sign(claims domain.SessionClaims) (string, error)
	Parse(raw string) (domain.SessionClaims, error)
	PublicJWKs() ([]map[string]any, error)
}

// WalletVerifier validates a signed challenge against a claimed address.
// It never errors: malformed input is simply not a valid proof.
type WalletVerifier interface {
	Verify(family domain.ChainFamily, address, message, signature string) bool
}

// OAuthAssertion is what a provider exchange yields about the user.
type OAuthAssertion struct {
	Provider          string
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	DisplayName       string
	AvatarURL         string
}

// OAuthExchanger turns a provider authorization code into an assertion.
type OAuthExchanger interface {
	AuthCodeURL(provider, state, redirectURI string) (string, error)
	Exchange(ctx context.Context, provider, code, redirectURI string) (OAuthAssertion, error)
	Providers() []string
}
