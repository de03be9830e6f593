package application

import (
	"context"
	"fmt"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// Authorize is the per-access reconciliation check run inline with every
// privileged operation. forceRefresh is set when the client explicitly asks
// for updated claims.
func (s *Service) Authorize(ctx context.Context, token string, forceRefresh bool) (AuthorizedSession, error) {
	claims, err := s.ParseSession(token)
	if err != nil {
		return AuthorizedSession{}, err
	}

	switch claims.StateAt(s.nowFn(), s.cfg.RefreshInterval) {
	case domain.SessionUnauthenticated, domain.SessionInvalidated:
		return AuthorizedSession{}, domain.ErrInvalidToken
	case domain.SessionAuthenticated:
		if !forceRefresh {
			if !claims.Status.IsUsable() {
				return AuthorizedSession{}, fmt.Errorf("%w: account is %s", domain.ErrAccountDisabled, claims.Status)
			}
			return AuthorizedSession{Claims: claims, Token: token}, nil
		}
	}

	res, err := s.Refresh(ctx, claims)
	if err != nil {
		return AuthorizedSession{}, err
	}
	if res.Degraded {
		return AuthorizedSession{Claims: claims, Token: token, Degraded: true}, nil
	}
	return AuthorizedSession{Claims: res.Claims, Token: res.Token, Refreshed: true}, nil
}
