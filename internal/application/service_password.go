package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// SignUpWithPassword creates an account whose first identity is a password.
func (s *Service) SignUpWithPassword(ctx context.Context, req PasswordSignUpRequest) (SessionResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return SessionResponse{}, err
	}
	if err := domain.ValidatePasswordPair(req.Password, req.ConfirmPassword); err != nil {
		return SessionResponse{}, err
	}
	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("hash password: %w", err)
	}

	account, err := s.accounts.CreateAccount(ctx, domain.Account{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         domain.RoleUser,
		Status:       domain.StatusActive,
		Tier:         domain.TierFree,
	}, domain.PasswordIdentity())
	s.observe(ctx, "password_sign_up", err)
	if err != nil {
		return SessionResponse{}, err
	}
	s.recordEvent(ctx, EventTypeAccountCreated, account.ID, map[string]any{"via": "password", "email": email})

	session, err := s.mint(account, sessionOrigin{})
	if err != nil {
		return SessionResponse{}, err
	}
	session.Created = true
	return session, nil
}

// SignInWithPassword authenticates email+password without revealing which part failed.
func (s *Service) SignInWithPassword(ctx context.Context, req PasswordSignInRequest) (SessionResponse, error) {
	res, err := s.signInWithPassword(ctx, req)
	s.observe(ctx, "password_sign_in", err)
	return res, err
}

func (s *Service) signInWithPassword(ctx context.Context, req PasswordSignInRequest) (SessionResponse, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return SessionResponse{}, domain.ErrInvalidCredentials
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return SessionResponse{}, domain.ErrInvalidCredentials
		}
		return SessionResponse{}, err
	}
	ok, err := s.accounts.VerifyPassword(ctx, account.ID, req.Password)
	if err != nil {
		return SessionResponse{}, err
	}
	if !ok {
		return SessionResponse{}, domain.ErrInvalidCredentials
	}
	if !account.IsActive() {
		return SessionResponse{}, fmt.Errorf("%w: account is %s", domain.ErrAccountDisabled, account.Status)
	}
	return s.mint(account, sessionOrigin{})
}

// LinkPassword adds a password identity to the session's account. An account
// without an email adopts the submitted one.
func (s *Service) LinkPassword(ctx context.Context, claims domain.SessionClaims, req LinkPasswordRequest) error {
	err := s.linkPassword(ctx, claims, req)
	s.observe(ctx, "link_password", err, "account_id", claims.AccountID.String())
	return err
}

func (s *Service) linkPassword(ctx context.Context, claims domain.SessionClaims, req LinkPasswordRequest) error {
	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		return err
	}
	if account.HasPassword() {
		return domain.ErrAlreadyLinked
	}
	if err := domain.ValidatePasswordPair(req.Password, req.ConfirmPassword); err != nil {
		return err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return err
	}

	switch {
	case account.Email == "":
		if err := s.accounts.SetEmail(ctx, account.ID, email); err != nil {
			return err
		}
	case account.Email != email:
		return fmt.Errorf("%w: email does not match the account", domain.ErrInvalidInput)
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	// The store decides concurrent links; the check above only skips bcrypt.
	// A first link is not a rotation, so live sessions stay valid.
	if err := s.accounts.LinkPassword(ctx, account.ID, passwordHash); err != nil {
		return err
	}
	s.recordEvent(ctx, EventTypeIdentityLinked, account.ID, map[string]any{"kind": string(domain.IdentityPassword), "email": email})
	return nil
}

// UnlinkPassword removes the password identity unless it is the last one.
// Sessions issued before the unlink are invalidated like after a password
// change, so the caller gets a fresh session.
func (s *Service) UnlinkPassword(ctx context.Context, claims domain.SessionClaims) (SessionResponse, error) {
	res, err := s.unlinkPassword(ctx, claims)
	s.observe(ctx, "unlink_password", err, "account_id", claims.AccountID.String())
	return res, err
}

func (s *Service) unlinkPassword(ctx context.Context, claims domain.SessionClaims) (SessionResponse, error) {
	if err := s.accounts.DetachIdentity(ctx, claims.AccountID, domain.PasswordIdentity()); err != nil {
		return SessionResponse{}, err
	}
	s.recordEvent(ctx, EventTypeIdentityUnlinked, claims.AccountID, map[string]any{"kind": string(domain.IdentityPassword)})

	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		return SessionResponse{}, err
	}
	origin := sessionOrigin{walletAddress: claims.WalletAddress}
	if claims.HasOAuthOrigin() {
		origin.oauth = &domain.OAuthIdentity{Provider: claims.OAuthProvider, ProviderAccountID: claims.OAuthProviderAccountID}
	}
	return s.mint(account, origin)
}

// ChangePassword rotates the password. Every session issued before the
// change is invalidated on its next refresh, so a fresh one is minted here.
func (s *Service) ChangePassword(ctx context.Context, claims domain.SessionClaims, req ChangePasswordRequest) (SessionResponse, error) {
	res, err := s.changePassword(ctx, claims, req)
	s.observe(ctx, "change_password", err, "account_id", claims.AccountID.String())
	return res, err
}

func (s *Service) changePassword(ctx context.Context, claims domain.SessionClaims, req ChangePasswordRequest) (SessionResponse, error) {
	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		return SessionResponse{}, err
	}
	if !account.HasPassword() {
		return SessionResponse{}, fmt.Errorf("%w: no password linked", domain.ErrInvalidInput)
	}
	ok, err := s.accounts.VerifyPassword(ctx, account.ID, req.CurrentPassword)
	if err != nil {
		return SessionResponse{}, err
	}
	if !ok {
		return SessionResponse{}, domain.ErrInvalidCredentials
	}
	if err := domain.ValidatePasswordPair(req.NewPassword, req.ConfirmPassword); err != nil {
		return SessionResponse{}, err
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("hash password: %w", err)
	}
	changedAt := s.nowFn()
	if err := s.accounts.SetPassword(ctx, account.ID, passwordHash, &changedAt); err != nil {
		return SessionResponse{}, err
	}
	s.recordEvent(ctx, EventTypePasswordChanged, account.ID, map[string]any{"changed_at": changedAt})

	account.PasswordHash = passwordHash
	account.PasswordChangedAt = &changedAt
	return s.mint(account, sessionOrigin{walletAddress: claims.WalletAddress})
}
