package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// VerifyAndLogin signs in with a wallet proof, creating the account on first login.
func (s *Service) VerifyAndLogin(ctx context.Context, proof WalletProof) (SessionResponse, error) {
	res, err := s.verifyAndLogin(ctx, proof)
	s.observe(ctx, "wallet_login", err, "address", proof.Address, "chain_family", proof.ChainFamily)
	return res, err
}

func (s *Service) verifyAndLogin(ctx context.Context, proof WalletProof) (SessionResponse, error) {
	verified, err := s.checkProof(proof)
	if err != nil {
		return SessionResponse{}, err
	}
	if err := s.consumeChallenge(ctx, verified); err != nil {
		return SessionResponse{}, err
	}

	account, created, err := s.findOrCreateWalletAccount(ctx, verified)
	if err != nil {
		return SessionResponse{}, err
	}
	if !account.IsActive() {
		return SessionResponse{}, fmt.Errorf("%w: account is %s", domain.ErrAccountDisabled, account.Status)
	}
	if created {
		s.recordEvent(ctx, EventTypeAccountCreated, account.ID, map[string]any{
			"via":          "wallet",
			"chain_family": string(verified.family),
			"address":      verified.address,
		})
	}
	s.touchWallet(ctx, verified)

	session, err := s.mint(account, sessionOrigin{walletAddress: verified.address})
	if err != nil {
		return SessionResponse{}, err
	}
	session.Created = created
	return session, nil
}

func (s *Service) findOrCreateWalletAccount(ctx context.Context, proof verifiedProof) (domain.Account, bool, error) {
	account, err := s.accounts.FindByWalletAddress(ctx, proof.family, proof.address)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, false, err
	}

	created, err := s.accounts.CreateAccount(ctx, domain.Account{
		Role:   domain.RoleUser,
		Status: domain.StatusActive,
		Tier:   domain.TierFree,
	}, domain.NewWalletIdentity(proof.family, proof.address, proof.message.ChainID))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, domain.ErrDuplicateIdentity) {
		return domain.Account{}, false, err
	}
	// A concurrent first login won the unique index; reuse its account.
	account, err = s.accounts.FindByWalletAddress(ctx, proof.family, proof.address)
	if err != nil {
		return domain.Account{}, false, err
	}
	return account, false, nil
}

// LinkWallet attaches a proven wallet to the session's account. Re-submitting
// a link that already succeeded resolves to ErrAlreadyLinked before the nonce
// is spent.
func (s *Service) LinkWallet(ctx context.Context, claims domain.SessionClaims, proof WalletProof) error {
	err := s.linkWallet(ctx, claims, proof)
	s.observe(ctx, "link_wallet", err, "account_id", claims.AccountID.String(), "address", proof.Address)
	return err
}

func (s *Service) linkWallet(ctx context.Context, claims domain.SessionClaims, proof WalletProof) error {
	verified, err := s.checkProof(proof)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidProof) {
			return fmt.Errorf("%w: %v", domain.ErrProofFailed, err)
		}
		return err
	}

	owner, err := s.accounts.FindByWalletAddress(ctx, verified.family, verified.address)
	switch {
	case err == nil && owner.ID == claims.AccountID:
		return domain.ErrAlreadyLinked
	case err == nil:
		return domain.ErrDuplicateIdentity
	case !errors.Is(err, domain.ErrAccountNotFound):
		return err
	}

	if err := s.consumeChallenge(ctx, verified); err != nil {
		return err
	}

	identity := domain.NewWalletIdentity(verified.family, verified.address, verified.message.ChainID)
	attached, err := s.accounts.AttachIdentity(ctx, claims.AccountID, identity)
	if err != nil {
		return err
	}
	if !attached {
		return domain.ErrAlreadyLinked
	}
	s.touchWallet(ctx, verified)
	s.recordEvent(ctx, EventTypeIdentityLinked, claims.AccountID, identityFields(identity))
	return nil
}

// UnlinkWallet detaches a wallet unless it is the account's last identity.
func (s *Service) UnlinkWallet(ctx context.Context, claims domain.SessionClaims, req UnlinkWalletRequest) error {
	family, address, err := resolveFamily(req.ChainFamily, req.Address)
	if err != nil {
		return err
	}
	identity := domain.NewWalletIdentity(family, address, strings.TrimSpace(req.ChainID))
	err = s.accounts.DetachIdentity(ctx, claims.AccountID, identity)
	s.observe(ctx, "unlink_wallet", err, "account_id", claims.AccountID.String(), "address", address)
	if err != nil {
		return err
	}
	s.recordEvent(ctx, EventTypeIdentityUnlinked, claims.AccountID, identityFields(identity))
	return nil
}

func (s *Service) touchWallet(ctx context.Context, proof verifiedProof) {
	if err := s.accounts.TouchWalletLogin(ctx, proof.family, proof.address, s.nowFn()); err != nil {
		appLogger().WarnContext(ctx, "wallet last-login update failed",
			"operation", "touch_wallet_login",
			"outcome", "failure",
			"address", proof.address,
			"error", err,
		)
	}
}
