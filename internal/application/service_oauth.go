package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// OAuthProviders lists the providers with client credentials configured.
func (s *Service) OAuthProviders() []string {
	if s.oauth == nil {
		return []string{}
	}
	return s.oauth.Providers()
}

// OAuthAuthorizeURL starts a provider flow. When linkAccountID is set the
// callback attaches the identity to that account instead of signing in.
func (s *Service) OAuthAuthorizeURL(ctx context.Context, provider, redirectURI string, linkAccountID *uuid.UUID) (OAuthAuthorizeResponse, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return OAuthAuthorizeResponse{}, fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}
	state, err := randomHex(24)
	if err != nil {
		return OAuthAuthorizeResponse{}, err
	}
	authURL, err := s.oauth.AuthCodeURL(provider, state, redirectURI)
	if err != nil {
		return OAuthAuthorizeResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	now := s.nowFn()
	if err := s.oauthState.Put(ctx, state, ports.OAuthAuthState{
		Provider:      provider,
		RedirectURI:   redirectURI,
		LinkAccountID: linkAccountID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.OAuthStateTTL),
	}, s.cfg.OAuthStateTTL); err != nil {
		return OAuthAuthorizeResponse{}, fmt.Errorf("store oauth state: %w", err)
	}
	return OAuthAuthorizeResponse{AuthorizationURL: authURL, State: state}, nil
}

// CompleteOAuth consumes the flow state, exchanges the code and either links
// to the account that started the flow or signs in.
func (s *Service) CompleteOAuth(ctx context.Context, provider, code, state string) (OAuthResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if strings.TrimSpace(code) == "" || strings.TrimSpace(state) == "" {
		return OAuthResult{}, fmt.Errorf("%w: code and state are required", domain.ErrInvalidInput)
	}
	flow, err := s.oauthState.Take(ctx, state)
	if err != nil {
		return OAuthResult{}, fmt.Errorf("load oauth state: %w", err)
	}
	if flow == nil || flow.Provider != provider || !s.nowFn().Before(flow.ExpiresAt) {
		return OAuthResult{}, fmt.Errorf("%w: unknown or expired oauth state", domain.ErrInvalidInput)
	}

	assertion, err := s.oauth.Exchange(ctx, provider, code, flow.RedirectURI)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamUnavailable) {
			return OAuthResult{}, err
		}
		return OAuthResult{}, fmt.Errorf("%w: oauth exchange failed: %v", domain.ErrInvalidCredentials, err)
	}

	if flow.LinkAccountID != nil {
		return s.LinkOAuthToAccount(ctx, *flow.LinkAccountID, assertion)
	}
	return s.SignInWithOAuth(ctx, assertion)
}

// SignInWithOAuth resolves the provider identity to exactly one account.
func (s *Service) SignInWithOAuth(ctx context.Context, assertion ports.OAuthAssertion) (OAuthResult, error) {
	account, created, err := s.resolveOAuthAccount(ctx, assertion)
	s.observe(ctx, "oauth_sign_in", err, "provider", assertion.Provider, "created", created)
	if err != nil {
		return OAuthResult{}, err
	}
	if !account.IsActive() {
		return OAuthResult{}, fmt.Errorf("%w: account is %s", domain.ErrAccountDisabled, account.Status)
	}
	if created {
		s.recordEvent(ctx, EventTypeAccountCreated, account.ID, map[string]any{"via": "oauth", "provider": assertion.Provider})
	}

	identity := domain.NewOAuthIdentity(assertion.Provider, assertion.ProviderAccountID)
	session, err := s.mint(account, sessionOrigin{oauth: identity.OAuth})
	if err != nil {
		return OAuthResult{}, err
	}
	session.Created = created
	return OAuthResult{SessionResponse: session}, nil
}

// LinkOAuthToAccount is the LinkToExisting path of the OAuth protocol.
func (s *Service) LinkOAuthToAccount(ctx context.Context, accountID uuid.UUID, assertion ports.OAuthAssertion) (OAuthResult, error) {
	identity := domain.NewOAuthIdentity(assertion.Provider, assertion.ProviderAccountID)
	if err := identity.Validate(); err != nil {
		return OAuthResult{}, err
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return OAuthResult{}, err
	}

	attached, err := s.accounts.AttachIdentity(ctx, account.ID, identity)
	linkErr := err
	if err == nil && !attached {
		linkErr = domain.ErrAlreadyLinked
	}
	s.observe(ctx, "link_oauth", linkErr, "account_id", account.ID.String(), "provider", identity.OAuth.Provider)
	if err != nil {
		return OAuthResult{}, err
	}

	if attached {
		s.recordEvent(ctx, EventTypeIdentityLinked, account.ID, identityFields(identity))
	}
	if account.Email == "" && assertion.EmailVerified {
		if email, emailErr := normalizeEmail(assertion.Email); emailErr == nil {
			if setErr := s.accounts.SetEmail(ctx, account.ID, email); setErr == nil {
				account.Email = email
			}
		}
	}

	session, err := s.mint(account, sessionOrigin{oauth: identity.OAuth})
	if err != nil {
		return OAuthResult{}, err
	}
	return OAuthResult{SessionResponse: session, Linked: true, AlreadyLinked: !attached}, nil
}

// UnlinkOAuth detaches the provider identity unless it is the last one.
func (s *Service) UnlinkOAuth(ctx context.Context, claims domain.SessionClaims, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}
	identities, err := s.accounts.ListIdentities(ctx, claims.AccountID)
	if err != nil {
		return err
	}

	var target *domain.LinkedIdentity
	for i := range identities {
		if identities[i].Kind == domain.IdentityOAuth && identities[i].OAuth != nil && identities[i].OAuth.Provider == provider {
			target = &identities[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: no %s identity linked", domain.ErrNotFound, provider)
	}

	err = s.accounts.DetachIdentity(ctx, claims.AccountID, *target)
	s.observe(ctx, "unlink_oauth", err, "account_id", claims.AccountID.String(), "provider", provider)
	if err != nil {
		return err
	}
	s.recordEvent(ctx, EventTypeIdentityUnlinked, claims.AccountID, identityFields(*target))
	return nil
}

// resolveOAuthAccount is find-or-create by provider identity with a
// find-by-email fallback. A concurrent sign-in for the same identity loses
// the unique-index race with ErrDuplicateIdentity; the loser re-reads and
// reuses the winner's row, so both converge on one account.
func (s *Service) resolveOAuthAccount(ctx context.Context, assertion ports.OAuthAssertion) (domain.Account, bool, error) {
	identity := domain.NewOAuthIdentity(assertion.Provider, assertion.ProviderAccountID)
	if err := identity.Validate(); err != nil {
		return domain.Account{}, false, err
	}
	email := ""
	if assertion.EmailVerified {
		if normalized, err := normalizeEmail(assertion.Email); err == nil {
			email = normalized
		}
	}

	lastErr := domain.ErrDuplicateIdentity
	for attempt := 0; attempt < s.cfg.OAuthLinkAttempts; attempt++ {
		account, err := s.accounts.FindByOAuthIdentity(ctx, identity.OAuth.Provider, identity.OAuth.ProviderAccountID)
		if err == nil {
			return account, false, nil
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Account{}, false, err
		}

		if email != "" {
			existing, err := s.accounts.FindByEmail(ctx, email)
			switch {
			case err == nil:
				if _, err := s.accounts.AttachIdentity(ctx, existing.ID, identity); err != nil {
					if errors.Is(err, domain.ErrDuplicateIdentity) {
						lastErr = err
						continue
					}
					return domain.Account{}, false, err
				}
				s.recordEvent(ctx, EventTypeIdentityLinked, existing.ID, identityFields(identity))
				return existing, false, nil
			case !errors.Is(err, domain.ErrAccountNotFound):
				return domain.Account{}, false, err
			}
		}

		created, err := s.accounts.CreateAccount(ctx, domain.Account{
			Email:         email,
			EmailVerified: email != "",
			Role:          domain.RoleUser,
			Status:        domain.StatusActive,
			Tier:          domain.TierFree,
			DisplayName:   assertion.DisplayName,
			AvatarURL:     assertion.AvatarURL,
		}, identity)
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, domain.ErrDuplicateIdentity) {
			return domain.Account{}, false, err
		}
		lastErr = err
	}
	return domain.Account{}, false, fmt.Errorf("oauth identity did not converge after %d attempts: %w", s.cfg.OAuthLinkAttempts, lastErr)
}
