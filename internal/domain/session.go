package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle position of a client-held session.
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionStale           SessionState = "stale"
	SessionInvalidated     SessionState = "invalidated"
)

// SessionClaims is the signed attribute set the client holds. The server
// never persists it; every refresh is a pure function of claims and account.
type SessionClaims struct {
	AccountID         uuid.UUID `json:"account_id"`
	Email             string    `json:"email,omitempty"`
	WalletAddress     string    `json:"wallet_address,omitempty"`
	Role              Role      `json:"role"`
	Tier              Tier      `json:"tier"`
	Status            Status    `json:"status"`
	TwoFactorEnabled  bool      `json:"two_factor_enabled"`
	IssuedAt          time.Time `json:"issued_at"`
	TierLastCheckedAt time.Time `json:"tier_last_checked_at"`
	ExpiresAt         time.Time `json:"expires_at"`

	// OAuth identity recorded at mint time, used to re-derive the account on self-heal.
	OAuthProvider          string `json:"oauth_provider,omitempty"`
	OAuthProviderAccountID string `json:"oauth_provider_account_id,omitempty"`
}

// StateAt classifies the claims without consulting the account store.
func (c SessionClaims) StateAt(now time.Time, refreshInterval time.Duration) SessionState {
	if c.AccountID == uuid.Nil {
		return SessionUnauthenticated
	}
	if !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt) {
		return SessionInvalidated
	}
	if now.Sub(c.TierLastCheckedAt) > refreshInterval {
		return SessionStale
	}
	return SessionAuthenticated
}

func (c SessionClaims) HasOAuthOrigin() bool {
	return c.OAuthProvider != "" && c.OAuthProviderAccountID != ""
}

// ShouldInvalidate reports whether the account's credentials changed after
// the session was issued. A pre-rotation token must not stay usable.
func ShouldInvalidate(account Account, claims SessionClaims) bool {
	if account.PasswordChangedAt == nil {
		return false
	}
	return account.PasswordChangedAt.After(claims.IssuedAt)
}

// ApplyProfile copies the refreshable attributes of the account into the claims.
func (c SessionClaims) ApplyProfile(account Account, checkedAt time.Time) SessionClaims {
	c.AccountID = account.ID
	c.Email = account.Email
	c.Role = account.Role
	c.Tier = account.Tier
	c.Status = account.Status
	c.TwoFactorEnabled = account.TwoFactorEnabled
	c.TierLastCheckedAt = checkedAt
	return c
}
