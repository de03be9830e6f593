package application

import (
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

type Config struct {
	ChallengeTTL     time.Duration
	ChallengeDomain  string
	ChallengeURI     string
	TokenTTL         time.Duration
	RefreshInterval  time.Duration
	PasswordResetTTL time.Duration
	OAuthStateTTL    time.Duration
	// OAuthLinkAttempts bounds the retry-on-duplicate convergence loop.
	OAuthLinkAttempts int
}

func (c Config) withDefaults() Config {
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.ChallengeDomain == "" {
		c.ChallengeDomain = "localhost"
	}
	if c.ChallengeURI == "" {
		c.ChallengeURI = "http://localhost"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 30 * 24 * time.Hour
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = time.Hour
	}
	if c.OAuthStateTTL <= 0 {
		c.OAuthStateTTL = 10 * time.Minute
	}
	if c.OAuthLinkAttempts <= 0 {
		c.OAuthLinkAttempts = 3
	}
	return c
}

type IssueNonceRequest struct {
	Address     string `json:"address"`
	ChainFamily string `json:"chain_family,omitempty"`
}

type IssueNonceResponse struct {
	Nonce       string             `json:"nonce"`
	ChainFamily domain.ChainFamily `json:"chain_family"`
	IssuedAt    time.Time          `json:"issued_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

type PrepareChallengeRequest struct {
	Address string `json:"address"`
	ChainID string `json:"chain_id"`
	Nonce   string `json:"nonce"`
}

type PrepareChallengeResponse struct {
	Message string `json:"message"`
}

// WalletProof is the signed challenge submitted for login or linking.
type WalletProof struct {
	Message     string `json:"message"`
	Signature   string `json:"signature"`
	Address     string `json:"address"`
	ChainID     string `json:"chain_id"`
	ChainFamily string `json:"chain_family"`
}

type UnlinkWalletRequest struct {
	Address     string `json:"address"`
	ChainID     string `json:"chain_id"`
	ChainFamily string `json:"chain_family"`
}

type PasswordSignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type PasswordSignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LinkPasswordRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type PasswordResetRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type OAuthAuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// SessionResponse is returned by every operation that mints or rebinds a session.
type SessionResponse struct {
	AccountID uuid.UUID            `json:"account_id"`
	Token     string               `json:"token"`
	Claims    domain.SessionClaims `json:"claims"`
	Created   bool                 `json:"created,omitempty"`
}

// OAuthResult distinguishes LinkToExisting from a sign-in.
type OAuthResult struct {
	SessionResponse
	Linked        bool `json:"linked"`
	AlreadyLinked bool `json:"already_linked,omitempty"`
}

// AuthorizedSession is the outcome of the per-access reconciliation check.
type AuthorizedSession struct {
	Claims    domain.SessionClaims
	Token     string
	Refreshed bool
	Degraded  bool
}

// RefreshResult carries the refreshed claims; Degraded is set when the store
// could not be reached and the last-known-good claims were kept.
type RefreshResult struct {
	Claims   domain.SessionClaims
	Token    string
	State    domain.SessionState
	Degraded bool
	Healed   bool
}

type IdentityView struct {
	Kind              domain.IdentityKind `json:"kind"`
	ChainFamily       domain.ChainFamily  `json:"chain_family,omitempty"`
	Address           string              `json:"address,omitempty"`
	ChainID           string              `json:"chain_id,omitempty"`
	LastLoginAt       *time.Time          `json:"last_login_at,omitempty"`
	Provider          string              `json:"provider,omitempty"`
	ProviderAccountID string              `json:"provider_account_id,omitempty"`
	LinkedAt          time.Time           `json:"linked_at"`
}

type ProfileResponse struct {
	AccountID         uuid.UUID     `json:"account_id"`
	Email             string        `json:"email,omitempty"`
	Role              domain.Role   `json:"role"`
	Tier              domain.Tier   `json:"tier"`
	Status            domain.Status `json:"status"`
	PasswordChangedAt *time.Time    `json:"password_changed_at,omitempty"`
}
