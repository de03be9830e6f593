package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

func TestAuthorizeRefreshesStaleClaims(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.signUp(t, "tier@example.com")

	fresh, err := f.service.Authorize(ctx, session.Token, false)
	if err != nil {
		t.Fatalf("authorize fresh: %v", err)
	}
	if fresh.Refreshed || fresh.Token != session.Token {
		t.Fatalf("fresh claims should be served without a refresh")
	}

	if err := f.accounts.SetProfile(session.AccountID, domain.RoleUser, domain.TierPro, domain.StatusActive); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	f.clock.Advance(31 * time.Second)

	stale, err := f.service.Authorize(ctx, session.Token, false)
	if err != nil {
		t.Fatalf("authorize stale: %v", err)
	}
	if !stale.Refreshed || stale.Token == session.Token {
		t.Fatalf("stale claims should be refreshed into a new token")
	}
	if stale.Claims.Tier != domain.TierPro {
		t.Fatalf("expected refreshed tier pro, got %s", stale.Claims.Tier)
	}
	if !stale.Claims.TierLastCheckedAt.Equal(f.clock.Now()) {
		t.Fatalf("tier check time not advanced: %s", stale.Claims.TierLastCheckedAt)
	}
}

func TestPasswordChangeInvalidatesOlderSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	old := f.signUp(t, "rotate@example.com")

	f.clock.Advance(time.Second)
	rotated, err := f.service.ChangePassword(ctx, old.Claims, application.ChangePasswordRequest{
		CurrentPassword: strongPassword,
		NewPassword:     "a brand new passphrase",
		ConfirmPassword: "a brand new passphrase",
	})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := f.service.Authorize(ctx, old.Token, true); !errors.Is(err, domain.ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated for the pre-rotation token, got %v", err)
	}
	res, err := f.service.Refresh(ctx, old.Claims)
	if !errors.Is(err, domain.ErrSessionInvalidated) || res.State != domain.SessionInvalidated {
		t.Fatalf("refresh of old claims: state=%s err=%v", res.State, err)
	}

	if _, err := f.service.Authorize(ctx, rotated.Token, true); err != nil {
		t.Fatalf("the rotated token must stay valid: %v", err)
	}
	if _, err := f.service.SignInWithPassword(ctx, application.PasswordSignInRequest{
		Email:    "rotate@example.com",
		Password: strongPassword,
	}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
}

func TestRefreshDegradesWhenStoreIsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.signUp(t, "degraded@example.com")
	f.clock.Advance(time.Minute)

	f.flaky.setDown(true)
	got, err := f.service.Authorize(ctx, session.Token, false)
	if err != nil {
		t.Fatalf("authorize while store down: %v", err)
	}
	if !got.Degraded || got.Refreshed || got.Token != session.Token {
		t.Fatalf("expected degraded last-known-good session, got %+v", got)
	}
	if got.Claims.AccountID != session.AccountID {
		t.Fatalf("degraded claims changed account")
	}

	f.flaky.setDown(false)
	recovered, err := f.service.Authorize(ctx, session.Token, false)
	if err != nil {
		t.Fatalf("authorize after recovery: %v", err)
	}
	if !recovered.Refreshed || recovered.Degraded {
		t.Fatalf("expected a real refresh once the store is back, got %+v", recovered)
	}
}

func TestRefreshSelfHealsOAuthSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.SignInWithOAuth(ctx, ports.OAuthAssertion{
		Provider:          "google",
		ProviderAccountID: "g-heal",
		Email:             "heal@example.com",
		EmailVerified:     true,
	})
	if err != nil {
		t.Fatalf("oauth sign in: %v", err)
	}

	f.accounts.DeleteAccount(session.AccountID)
	res, err := f.service.Refresh(ctx, session.Claims)
	if err != nil {
		t.Fatalf("self heal: %v", err)
	}
	if !res.Healed || res.State != domain.SessionAuthenticated {
		t.Fatalf("expected healed authenticated session, got %+v", res)
	}
	if res.Claims.AccountID == session.AccountID {
		t.Fatalf("self heal should rebind to a recreated account")
	}
	if res.Claims.Email != "heal@example.com" || !res.Claims.HasOAuthOrigin() {
		t.Fatalf("healed claims lost identity data: %+v", res.Claims)
	}
	account, err := f.accounts.FindByOAuthIdentity(ctx, "google", "g-heal")
	if err != nil || account.ID != res.Claims.AccountID {
		t.Fatalf("oauth identity not rebound: %v", err)
	}
}

func TestRefreshWithoutOAuthOriginCannotHeal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.signUp(t, "gone@example.com")
	f.accounts.DeleteAccount(session.AccountID)

	res, err := f.service.Refresh(ctx, session.Claims)
	if !errors.Is(err, domain.ErrAccountNotFound) || res.State != domain.SessionInvalidated {
		t.Fatalf("expected invalidated ErrAccountNotFound, got state=%s err=%v", res.State, err)
	}
}

func TestAuthorizeRejectsDisabledAndExpiredSessions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.signUp(t, "banned@example.com")

	if err := f.accounts.SetProfile(session.AccountID, domain.RoleUser, domain.TierFree, domain.StatusBanned); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	if _, err := f.service.Authorize(ctx, session.Token, true); !errors.Is(err, domain.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}

	if _, err := f.service.Authorize(ctx, "not-a-token", false); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}

	active := f.signUp(t, "expiring@example.com")
	f.clock.Advance(31 * 24 * time.Hour)
	if _, err := f.service.Authorize(ctx, active.Token, false); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestGetProfileAndIdentities(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session := f.signUp(t, "profile@example.com")

	profile, err := f.service.GetProfile(ctx, session.AccountID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Role != domain.RoleUser || profile.Tier != domain.TierFree || profile.Status != domain.StatusActive {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	views, err := f.service.ListIdentities(ctx, session.Claims)
	if err != nil {
		t.Fatalf("list identities: %v", err)
	}
	if len(views) != 1 || views[0].Kind != domain.IdentityPassword {
		t.Fatalf("unexpected identities: %+v", views)
	}
}
