package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// RequestPasswordReset creates a one-time reset token when a password account exists.
// It intentionally returns success for unknown users to avoid account enumeration.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	account, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}
		return err
	}
	if !account.HasPassword() {
		return nil
	}

	rawToken, err := randomHex(32)
	if err != nil {
		return err
	}
	now := s.nowFn()
	expiresAt := now.Add(s.cfg.PasswordResetTTL)
	if err := s.resets.CreatePasswordResetToken(ctx, account.ID, hashToken(rawToken), now, expiresAt); err != nil {
		return err
	}

	err = s.notifier.SendPasswordReset(ctx, ports.PasswordResetNotification{
		AccountID: account.ID,
		Email:     account.Email,
		Token:     rawToken,
		ExpiresAt: expiresAt,
	})
	s.observe(ctx, "request_password_reset", err, "account_id", account.ID.String())
	if err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and rotates the password. Sessions
// issued before the rotation are invalidated on their next refresh.
func (s *Service) ResetPassword(ctx context.Context, req PasswordResetRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return fmt.Errorf("%w: token is required", domain.ErrInvalidInput)
	}
	if err := domain.ValidatePasswordPair(req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	now := s.nowFn()
	accountID, err := s.resets.ConsumePasswordResetToken(ctx, hashToken(req.Token), now)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: reset token is invalid or expired", domain.ErrInvalidToken)
		}
		return err
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.accounts.SetPassword(ctx, accountID, passwordHash, &now)
	s.observe(ctx, "reset_password", err, "account_id", accountID.String())
	if err != nil {
		return err
	}
	s.recordEvent(ctx, EventTypePasswordChanged, accountID, map[string]any{"changed_at": now, "via": "reset"})
	return nil
}
