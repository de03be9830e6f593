package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// GetProfile is the profile read consumed by refresh, self-heal and internal callers.
func (s *Service) GetProfile(ctx context.Context, accountID uuid.UUID) (ProfileResponse, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return ProfileResponse{}, err
	}
	p := account.Profile()
	return ProfileResponse{
		AccountID:         p.AccountID,
		Email:             p.Email,
		Role:              p.Role,
		Tier:              p.Tier,
		Status:            p.Status,
		PasswordChangedAt: p.PasswordChangedAt,
	}, nil
}

func (s *Service) ListIdentities(ctx context.Context, claims domain.SessionClaims) ([]IdentityView, error) {
	identities, err := s.accounts.ListIdentities(ctx, claims.AccountID)
	if err != nil {
		return nil, err
	}
	out := make([]IdentityView, 0, len(identities))
	for _, identity := range identities {
		out = append(out, toIdentityView(identity))
	}
	return out, nil
}
