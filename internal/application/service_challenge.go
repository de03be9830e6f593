package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// IssueNonce creates a single-use challenge bound to one prospective address.
func (s *Service) IssueNonce(ctx context.Context, req IssueNonceRequest) (IssueNonceResponse, error) {
	family, address, err := resolveFamily(req.ChainFamily, req.Address)
	if err != nil {
		return IssueNonceResponse{}, err
	}
	nonce, err := randomHex(16)
	if err != nil {
		return IssueNonceResponse{}, err
	}

	// The signed message carries second precision, so the stored copy does too.
	now := s.nowFn().UTC().Truncate(time.Second)
	challenge := domain.Challenge{
		Address:     address,
		ChainFamily: family,
		Nonce:       nonce,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.ChallengeTTL),
	}
	if err := s.challenges.Put(ctx, challenge, s.cfg.ChallengeTTL); err != nil {
		return IssueNonceResponse{}, fmt.Errorf("store challenge: %w", err)
	}

	return IssueNonceResponse{
		Nonce:       nonce,
		ChainFamily: family,
		IssuedAt:    challenge.IssuedAt,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// PrepareChallenge renders the canonical message for an issued nonce.
func (s *Service) PrepareChallenge(ctx context.Context, req PrepareChallengeRequest) (PrepareChallengeResponse, error) {
	family, err := domain.DetectChainFamily(req.Address)
	if err != nil {
		return PrepareChallengeResponse{}, err
	}
	address, err := domain.NormalizeAddress(family, req.Address)
	if err != nil {
		return PrepareChallengeResponse{}, err
	}
	chainID := strings.TrimSpace(req.ChainID)
	if chainID == "" || strings.ContainsAny(chainID, "\n\r") {
		return PrepareChallengeResponse{}, fmt.Errorf("%w: chain_id is required", domain.ErrInvalidInput)
	}
	nonce := strings.TrimSpace(req.Nonce)
	if nonce == "" {
		return PrepareChallengeResponse{}, fmt.Errorf("%w: nonce is required", domain.ErrInvalidInput)
	}

	challenge, err := s.challenges.Get(ctx, address, nonce)
	if err != nil {
		return PrepareChallengeResponse{}, fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil || challenge.ExpiredAt(s.nowFn()) {
		return PrepareChallengeResponse{}, domain.ErrNonceExpired
	}

	return PrepareChallengeResponse{
		Message: domain.BuildChallengeMessage(domain.ChallengeMessage{
			Domain:      s.cfg.ChallengeDomain,
			URI:         s.cfg.ChallengeURI,
			ChainFamily: challenge.ChainFamily,
			Address:     challenge.Address,
			ChainID:     chainID,
			Nonce:       challenge.Nonce,
			IssuedAt:    challenge.IssuedAt,
		}),
	}, nil
}

// verifiedProof is a wallet proof whose message and signature have been checked.
type verifiedProof struct {
	family  domain.ChainFamily
	address string
	message domain.ChallengeMessage
}

// checkProof validates the message against the canonical template and the
// signature against the claimed address. It does not consume the nonce.
func (s *Service) checkProof(proof WalletProof) (verifiedProof, error) {
	family, address, err := resolveFamily(proof.ChainFamily, proof.Address)
	if err != nil {
		return verifiedProof{}, err
	}

	msg, err := domain.ParseChallengeMessage(proof.Message)
	if err != nil {
		return verifiedProof{}, err
	}
	if msg.ChainFamily != family || msg.Domain != s.cfg.ChallengeDomain || msg.URI != s.cfg.ChallengeURI {
		return verifiedProof{}, fmt.Errorf("%w: challenge was not issued for this service", domain.ErrInvalidProof)
	}
	msgAddress, err := domain.NormalizeAddress(family, msg.Address)
	if err != nil || msgAddress != address {
		return verifiedProof{}, fmt.Errorf("%w: challenge address mismatch", domain.ErrInvalidProof)
	}
	if chainID := strings.TrimSpace(proof.ChainID); chainID != "" && chainID != msg.ChainID {
		return verifiedProof{}, fmt.Errorf("%w: challenge chain id mismatch", domain.ErrInvalidProof)
	}

	if !s.verifier.Verify(family, address, proof.Message, proof.Signature) {
		return verifiedProof{}, fmt.Errorf("%w: signature does not match address", domain.ErrInvalidProof)
	}
	return verifiedProof{family: family, address: address, message: msg}, nil
}

// consumeChallenge spends the nonce exactly once. A failed consume is
// classified by the issuance time bound into the signed message.
func (s *Service) consumeChallenge(ctx context.Context, proof verifiedProof) error {
	ok, err := s.challenges.Consume(ctx, proof.address, proof.message.Nonce)
	if err != nil {
		s.metrics.ObserveNonceConsumption("error")
		return fmt.Errorf("consume challenge: %w", err)
	}
	expired := !s.nowFn().Before(proof.message.IssuedAt.Add(s.cfg.ChallengeTTL))
	switch {
	case !ok && expired:
		s.metrics.ObserveNonceConsumption("expired")
		return domain.ErrNonceExpired
	case !ok:
		s.metrics.ObserveNonceConsumption("replayed")
		return domain.ErrNonceAlreadyConsumed
	case expired:
		s.metrics.ObserveNonceConsumption("expired")
		return domain.ErrNonceExpired
	}
	s.metrics.ObserveNonceConsumption("consumed")
	return nil
}
