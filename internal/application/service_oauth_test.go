package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

func TestConcurrentOAuthSignInConvergesOnOneAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assertion := ports.OAuthAssertion{
		Provider:          "google",
		ProviderAccountID: "g-100",
		Email:             "race@example.com",
		EmailVerified:     true,
	}

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.service.SignInWithOAuth(context.Background(), assertion)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = res.AccountID
		}(i)
	}
	wg.Wait()

	for i, id := range ids {
		if id != ids[0] {
			t.Fatalf("worker %d resolved to %s, want %s", i, id, ids[0])
		}
	}
	if got := countIdentities(t, f, ids[0]); got != 1 {
		t.Fatalf("expected one oauth identity, got %d", got)
	}

	again, err := f.service.SignInWithOAuth(context.Background(), assertion)
	if err != nil {
		t.Fatalf("sequential sign in: %v", err)
	}
	if again.AccountID != ids[0] || again.Created {
		t.Fatalf("sequential sign in created or moved the account")
	}
}

func TestOAuthVerifiedEmailJoinsPasswordAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := f.signUp(t, "ada@example.com")

	res, err := f.service.SignInWithOAuth(ctx, ports.OAuthAssertion{
		Provider:          "github",
		ProviderAccountID: "42",
		Email:             "ADA@example.com",
		EmailVerified:     true,
	})
	if err != nil {
		t.Fatalf("oauth sign in: %v", err)
	}
	if res.AccountID != owner.AccountID {
		t.Fatalf("verified email should join the existing account")
	}

	stranger, err := f.service.SignInWithOAuth(ctx, ports.OAuthAssertion{
		Provider:          "google",
		ProviderAccountID: "g-7",
		Email:             "ada@example.com",
		EmailVerified:     false,
	})
	if err != nil {
		t.Fatalf("unverified oauth sign in: %v", err)
	}
	if stranger.AccountID == owner.AccountID {
		t.Fatalf("an unverified email must not join an existing account")
	}
}

func TestUnlinkOnlyOAuthIdentityIsRefused(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	u2, err := f.service.SignInWithOAuth(ctx, ports.OAuthAssertion{Provider: "google", ProviderAccountID: "g-u2"})
	if err != nil {
		t.Fatalf("oauth sign in: %v", err)
	}

	if err := f.service.UnlinkOAuth(ctx, u2.Claims, "google"); !errors.Is(err, domain.ErrLastIdentityRemaining) {
		t.Fatalf("expected ErrLastIdentityRemaining, got %v", err)
	}
	if got := countIdentities(t, f, u2.AccountID); got != 1 {
		t.Fatalf("identity set changed: %d", got)
	}
	if err := f.service.UnlinkOAuth(ctx, u2.Claims, "github"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unlinked provider, got %v", err)
	}
}

func TestCompleteOAuthLinksToStartingAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := f.signUp(t, "linker@example.com")
	f.oauth.assertions["code-1"] = ports.OAuthAssertion{ProviderAccountID: "gh-1"}

	start, err := f.service.OAuthAuthorizeURL(ctx, "GitHub", "", &owner.AccountID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	res, err := f.service.CompleteOAuth(ctx, "github", "code-1", start.State)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !res.Linked || res.AlreadyLinked || res.AccountID != owner.AccountID {
		t.Fatalf("unexpected link result: %+v", res)
	}
	if res.Claims.OAuthProvider != "github" || res.Claims.OAuthProviderAccountID != "gh-1" {
		t.Fatalf("session should record its oauth origin: %+v", res.Claims)
	}

	if _, err := f.service.CompleteOAuth(ctx, "github", "code-1", start.State); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("state must be single use, got %v", err)
	}

	again, err := f.service.OAuthAuthorizeURL(ctx, "github", "", &owner.AccountID)
	if err != nil {
		t.Fatalf("authorize again: %v", err)
	}
	relinked, err := f.service.CompleteOAuth(ctx, "github", "code-1", again.State)
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if !relinked.AlreadyLinked {
		t.Fatalf("relinking the same identity should report already_linked")
	}
	if got := countIdentities(t, f, owner.AccountID); got != 2 {
		t.Fatalf("expected password and github identities, got %d", got)
	}
}

func TestCompleteOAuthRejectsBadCallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.OAuthAuthorizeURL(ctx, "gitlab", "", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown provider, got %v", err)
	}

	start, err := f.service.OAuthAuthorizeURL(ctx, "google", "", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := f.service.CompleteOAuth(ctx, "github", "code", start.State); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("provider mismatch should be rejected, got %v", err)
	}

	start, err = f.service.OAuthAuthorizeURL(ctx, "google", "", nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := f.service.CompleteOAuth(ctx, "google", "unknown-code", start.State); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("rejected code should be invalid credentials, got %v", err)
	}
}
