package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

const evmAddress = "0x52908400098527886e0f7030069857d2e4169ee7"

func newStore() *AccountStore {
	return NewAccountStore(security.NewBcryptHasher(4), nil)
}

func TestAccountStoreConcurrentCreateConvergesOnOneOwner(t *testing.T) {
	t.Parallel()

	store := newStore()
	identity := domain.NewOAuthIdentity("google", "g-1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateAccount(context.Background(), domain.Account{}, identity)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrDuplicateIdentity):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || dupes != 15 {
		t.Fatalf("expected 1 create and 15 duplicates, got %d/%d", created, dupes)
	}
}

func TestAccountStoreAttachAndDetach(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	account, err := store.CreateAccount(ctx, domain.Account{}, domain.NewOAuthIdentity("google", "g-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := store.CreateAccount(ctx, domain.Account{}, domain.NewOAuthIdentity("github", "h-1"))
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	wallet := domain.NewWalletIdentity(domain.ChainEVM, evmAddress, "1")
	attached, err := store.AttachIdentity(ctx, account.ID, wallet)
	if err != nil || !attached {
		t.Fatalf("attach: attached=%v err=%v", attached, err)
	}
	if attached, err := store.AttachIdentity(ctx, account.ID, wallet); err != nil || attached {
		t.Fatalf("re-attach should be a no-op, got attached=%v err=%v", attached, err)
	}
	if _, err := store.AttachIdentity(ctx, other.ID, wallet); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}

	owner, err := store.FindByWalletAddress(ctx, domain.ChainEVM, evmAddress)
	if err != nil || owner.ID != account.ID {
		t.Fatalf("wallet lookup: %v %v", owner.ID, err)
	}

	if err := store.DetachIdentity(ctx, account.ID, domain.NewWalletIdentity(domain.ChainEVM, evmAddress, "137")); err != nil {
		t.Fatalf("detach across chain ids: %v", err)
	}
	if err := store.DetachIdentity(ctx, account.ID, domain.NewOAuthIdentity("google", "g-1")); !errors.Is(err, domain.ErrLastIdentityRemaining) {
		t.Fatalf("expected ErrLastIdentityRemaining, got %v", err)
	}
	identities, _ := store.ListIdentities(ctx, account.ID)
	if len(identities) != 1 || identities[0].Kind != domain.IdentityOAuth {
		t.Fatalf("identity set changed after refused detach: %+v", identities)
	}
}

func TestAccountStorePasswordChangedAtOnlyMovesForward(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	account, err := store.CreateAccount(ctx, domain.Account{Email: "ADA@example.com"}, domain.NewOAuthIdentity("google", "g-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	if err := store.SetPassword(ctx, account.ID, "hash-1", &later); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := store.SetPassword(ctx, account.ID, "hash-2", &earlier); err != nil {
		t.Fatalf("set password: %v", err)
	}

	got, err := store.FindByEmail(ctx, "ada@EXAMPLE.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.PasswordChangedAt == nil || !got.PasswordChangedAt.Equal(later) {
		t.Fatalf("passwordChangedAt moved backwards: %v", got.PasswordChangedAt)
	}
	identities, _ := store.ListIdentities(ctx, account.ID)
	if len(identities) != 2 || identities[1].Kind != domain.IdentityPassword {
		t.Fatalf("expected password identity to be added once: %+v", identities)
	}

	if err := store.DetachIdentity(ctx, account.ID, domain.PasswordIdentity()); err != nil {
		t.Fatalf("detach password: %v", err)
	}
	got, _ = store.FindByID(ctx, account.ID)
	if got.HasPassword() {
		t.Fatalf("password hash should be cleared on detach")
	}
}

func TestResetRepositoryConsumesOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewResetRepository()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	accountID := uuid.New()

	if err := repo.CreatePasswordResetToken(ctx, accountID, "h1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreatePasswordResetToken(ctx, accountID, "h2", now, now.Add(time.Minute)); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ConsumePasswordResetToken(ctx, "h1", now.Add(time.Minute))
	if err != nil || got != accountID {
		t.Fatalf("consume: %v %v", got, err)
	}
	if _, err := repo.ConsumePasswordResetToken(ctx, "h1", now.Add(time.Minute)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	if _, err := repo.ConsumePasswordResetToken(ctx, "h2", now.Add(time.Minute)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestAccountStoreLinkPasswordOnlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore()
	account, err := store.CreateAccount(ctx, domain.Account{}, domain.NewOAuthIdentity("google", "g-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		linked  int
		already int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.LinkPassword(ctx, account.ID, "hash")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				linked++
			case errors.Is(err, domain.ErrAlreadyLinked):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if linked != 1 || already != 15 {
		t.Fatalf("expected 1 link and 15 already linked, got %d/%d", linked, already)
	}
	if err := store.LinkPassword(ctx, uuid.New(), "hash"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAccountStoreDetachPasswordAdvancesChangedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewAccountStore(security.NewBcryptHasher(4), func() time.Time { return now })
	account, err := store.CreateAccount(ctx, domain.Account{}, domain.NewOAuthIdentity("google", "g-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.LinkPassword(ctx, account.ID, "hash"); err != nil {
		t.Fatalf("link password: %v", err)
	}
	got, _ := store.FindByID(ctx, account.ID)
	if got.PasswordChangedAt != nil {
		t.Fatalf("first link should not set passwordChangedAt: %v", got.PasswordChangedAt)
	}

	now = now.Add(time.Minute)
	if err := store.DetachIdentity(ctx, account.ID, domain.PasswordIdentity()); err != nil {
		t.Fatalf("detach password: %v", err)
	}
	got, _ = store.FindByID(ctx, account.ID)
	if got.PasswordChangedAt == nil || !got.PasswordChangedAt.Equal(now) {
		t.Fatalf("expected passwordChangedAt %v, got %v", now, got.PasswordChangedAt)
	}
}
