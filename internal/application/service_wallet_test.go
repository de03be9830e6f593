package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

func TestLinkedWalletSignsIntoExistingAccount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	u1 := f.signUp(t, "u1@example.com")
	key := newWalletKey(t)

	if err := f.service.LinkWallet(ctx, u1.Claims, f.signedProof(t, key)); err != nil {
		t.Fatalf("link wallet: %v", err)
	}

	login, err := f.service.VerifyAndLogin(ctx, f.signedProof(t, key))
	if err != nil {
		t.Fatalf("wallet login: %v", err)
	}
	if login.AccountID != u1.AccountID {
		t.Fatalf("wallet login resolved to %s, want %s", login.AccountID, u1.AccountID)
	}
	if login.Created {
		t.Fatalf("wallet login must not create a second account")
	}
	if login.Claims.WalletAddress == "" || login.Claims.Email != "u1@example.com" {
		t.Fatalf("unexpected claims: %+v", login.Claims)
	}
	if got := countIdentities(t, f, u1.AccountID); got != 2 {
		t.Fatalf("expected 2 identities, got %d", got)
	}
}

func TestVerifyAndLoginReplayIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	proof := f.signedProof(t, newWalletKey(t))

	first, err := f.service.VerifyAndLogin(ctx, proof)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if !first.Created {
		t.Fatalf("first wallet login should create the account")
	}
	if _, err := f.service.VerifyAndLogin(ctx, proof); !errors.Is(err, domain.ErrNonceAlreadyConsumed) {
		t.Fatalf("expected ErrNonceAlreadyConsumed, got %v", err)
	}
}

func TestConcurrentVerifyConsumesNonceOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	proof := f.signedProof(t, newWalletKey(t))

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.VerifyAndLogin(context.Background(), proof)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrNonceAlreadyConsumed):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || replays != workers-1 {
		t.Fatalf("expected 1 success and %d replays, got %d and %d", workers-1, successes, replays)
	}
}

func TestVerifyAndLoginExpiredNonce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	proof := f.signedProof(t, newWalletKey(t))
	f.clock.Advance(6 * time.Minute)

	if _, err := f.service.VerifyAndLogin(context.Background(), proof); !errors.Is(err, domain.ErrNonceExpired) {
		t.Fatalf("expected ErrNonceExpired, got %v", err)
	}
}

func TestVerifyAndLoginRejectsTamperedProofs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	key := newWalletKey(t)

	cases := map[string]func(application.WalletProof) application.WalletProof{
		"other address": func(p application.WalletProof) application.WalletProof {
			p.Address = crypto.PubkeyToAddress(newWalletKey(t).PublicKey).Hex()
			return p
		},
		"edited message": func(p application.WalletProof) application.WalletProof {
			p.Message += " "
			return p
		},
		"mismatched chain id": func(p application.WalletProof) application.WalletProof {
			p.ChainID = "137"
			return p
		},
		"garbage signature": func(p application.WalletProof) application.WalletProof {
			p.Signature = "0xdeadbeef"
			return p
		},
	}
	for name, mutate := range cases {
		proof := mutate(f.signedProof(t, key))
		_, err := f.service.VerifyAndLogin(context.Background(), proof)
		if err == nil {
			t.Fatalf("%s: expected failure", name)
		}
		if !errors.Is(err, domain.ErrInvalidProof) && !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}

func TestLinkWalletIsIdempotentAndExclusive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	owner := f.signUp(t, "owner@example.com")
	other := f.signUp(t, "other@example.com")
	key := newWalletKey(t)

	if err := f.service.LinkWallet(ctx, owner.Claims, f.signedProof(t, key)); err != nil {
		t.Fatalf("link wallet: %v", err)
	}
	if err := f.service.LinkWallet(ctx, owner.Claims, f.signedProof(t, key)); !errors.Is(err, domain.ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked on relink, got %v", err)
	}
	if err := f.service.LinkWallet(ctx, other.Claims, f.signedProof(t, key)); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity for a second account, got %v", err)
	}
	if got := countIdentities(t, f, other.AccountID); got != 1 {
		t.Fatalf("other account gained an identity: %d", got)
	}
}

func TestUnlinkWalletKeepsLastIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	key := newWalletKey(t)
	login, err := f.service.VerifyAndLogin(ctx, f.signedProof(t, key))
	if err != nil {
		t.Fatalf("wallet login: %v", err)
	}

	req := application.UnlinkWalletRequest{Address: login.Claims.WalletAddress}
	if err := f.service.UnlinkWallet(ctx, login.Claims, req); !errors.Is(err, domain.ErrLastIdentityRemaining) {
		t.Fatalf("expected ErrLastIdentityRemaining, got %v", err)
	}
	if got := countIdentities(t, f, login.AccountID); got != 1 {
		t.Fatalf("identity set changed: %d", got)
	}

	if err := f.service.LinkPassword(ctx, login.Claims, application.LinkPasswordRequest{
		Email:           "wallet@example.com",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
	}); err != nil {
		t.Fatalf("link password: %v", err)
	}
	if err := f.service.UnlinkWallet(ctx, login.Claims, req); err != nil {
		t.Fatalf("unlink wallet with password remaining: %v", err)
	}
	if got := countIdentities(t, f, login.AccountID); got != 1 {
		t.Fatalf("expected only the password identity, got %d", got)
	}
}
