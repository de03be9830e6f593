package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// sessionOrigin records how the session was established.
type sessionOrigin struct {
	walletAddress string
	oauth         *domain.OAuthIdentity
}

// mint moves an account into the Authenticated state with fresh claims.
func (s *Service) mint(account domain.Account, origin sessionOrigin) (SessionResponse, error) {
	now := s.nowFn()
	claims := domain.SessionClaims{
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.TokenTTL),
		WalletAddress: origin.walletAddress,
	}.ApplyProfile(account, now)
	if origin.oauth != nil {
		claims.OAuthProvider = origin.oauth.Provider
		claims.OAuthProviderAccountID = origin.oauth.ProviderAccountID
	}

	token, err := s.signer.Sign(claims)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("sign session: %w", err)
	}
	s.metrics.ObserveSessionTransition(string(domain.SessionAuthenticated))
	return SessionResponse{AccountID: account.ID, Token: token, Claims: claims}, nil
}

// ParseSession verifies a session token. Any failure is terminal for the token.
func (s *Service) ParseSession(token string) (domain.SessionClaims, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return domain.SessionClaims{}, err
		}
		return domain.SessionClaims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	return claims, nil
}

// Refresh re-reads the account behind the claims and applies the invalidation
// policy. Store I/O failures are not fatal: the last-known-good claims are
// returned with Degraded set and the next access retries.
func (s *Service) Refresh(ctx context.Context, claims domain.SessionClaims) (RefreshResult, error) {
	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return s.SelfHeal(ctx, claims)
	case err != nil:
		s.metrics.ObserveSessionTransition("degraded")
		appLogger().WarnContext(ctx, "session refresh degraded; serving cached claims",
			"operation", "session_refresh",
			"outcome", "degraded",
			"account_id", claims.AccountID.String(),
			"error", err,
		)
		return RefreshResult{Claims: claims, State: domain.SessionAuthenticated, Degraded: true}, nil
	}
	return s.reconcile(ctx, claims, account)
}

// SelfHeal is the AccountNotFound -> relink -> Authenticated|Invalidated
// transition. It needs the OAuth identity recorded at mint time.
func (s *Service) SelfHeal(ctx context.Context, claims domain.SessionClaims) (RefreshResult, error) {
	invalidated := RefreshResult{Claims: claims, State: domain.SessionInvalidated}
	if !claims.HasOAuthOrigin() {
		s.metrics.ObserveSessionTransition(string(domain.SessionInvalidated))
		appLogger().WarnContext(ctx, "session account missing and no oauth origin to heal from",
			"operation", "session_self_heal",
			"outcome", "failure",
			"account_id", claims.AccountID.String(),
		)
		return invalidated, domain.ErrAccountNotFound
	}

	account, created, err := s.resolveOAuthAccount(ctx, ports.OAuthAssertion{
		Provider:          claims.OAuthProvider,
		ProviderAccountID: claims.OAuthProviderAccountID,
		Email:             claims.Email,
		EmailVerified:     claims.Email != "",
	})
	if err != nil {
		s.metrics.ObserveSessionTransition(string(domain.SessionInvalidated))
		appLogger().ErrorContext(ctx, "session self-heal failed",
			"operation", "session_self_heal",
			"outcome", "failure",
			"account_id", claims.AccountID.String(),
			"provider", claims.OAuthProvider,
			"error", err,
		)
		return invalidated, fmt.Errorf("%w: self-heal failed: %v", domain.ErrAccountNotFound, err)
	}

	appLogger().InfoContext(ctx, "session rebound to account",
		"operation", "session_self_heal",
		"outcome", "success",
		"previous_account_id", claims.AccountID.String(),
		"account_id", account.ID.String(),
		"created", created,
	)
	if created {
		s.recordEvent(ctx, EventTypeAccountCreated, account.ID, map[string]any{"via": "self_heal"})
	}
	res, err := s.reconcile(ctx, claims, account)
	res.Healed = err == nil
	if err == nil {
		s.metrics.ObserveSessionTransition("healed")
	}
	return res, err
}

// reconcile applies the invalidation policy and copies fresh profile attributes.
func (s *Service) reconcile(ctx context.Context, claims domain.SessionClaims, account domain.Account) (RefreshResult, error) {
	if domain.ShouldInvalidate(account, claims) {
		s.metrics.ObserveSessionTransition(string(domain.SessionInvalidated))
		appLogger().InfoContext(ctx, "session invalidated by credential change",
			"operation", "session_refresh",
			"outcome", "invalidated",
			"account_id", account.ID.String(),
		)
		return RefreshResult{Claims: claims, State: domain.SessionInvalidated}, domain.ErrSessionInvalidated
	}
	if !account.IsActive() {
		s.metrics.ObserveSessionTransition(string(domain.SessionInvalidated))
		return RefreshResult{Claims: claims, State: domain.SessionInvalidated},
			fmt.Errorf("%w: account is %s", domain.ErrAccountDisabled, account.Status)
	}

	refreshed := claims.ApplyProfile(account, s.nowFn())
	token, err := s.signer.Sign(refreshed)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign session: %w", err)
	}
	s.metrics.ObserveSessionTransition(string(domain.SessionAuthenticated))
	return RefreshResult{Claims: refreshed, Token: token, State: domain.SessionAuthenticated}, nil
}
