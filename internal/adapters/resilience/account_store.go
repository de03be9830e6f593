package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type Config struct {
	// AttemptTimeout bounds a single store call.
	AttemptTimeout  time.Duration
	MaxElapsedTime  time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 2 * time.Second
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	return c
}

// AccountStore wraps a ports.AccountStore with per-attempt timeouts and
// exponential backoff. Only ErrUpstreamUnavailable is retried.
type AccountStore struct {
	next ports.AccountStore
	cfg  Config
}

func NewAccountStore(next ports.AccountStore, cfg Config) *AccountStore {
	return &AccountStore{next: next, cfg: cfg.withDefaults()}
}

func (s *AccountStore) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.cfg.InitialInterval),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsedTime),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)
}

// do runs fn under the retry policy. Writes go through here too: every
// store write is either idempotent or guarded by a unique index, so a replay
// after an ambiguous failure resolves to the same state.
func do[T any](ctx context.Context, s *AccountStore, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %s timed out after %s: %v", domain.ErrUpstreamUnavailable, op, s.cfg.AttemptTimeout, err)
		}
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}, s.policy(ctx), func(err error, wait time.Duration) {
		adapterLogger().WarnContext(ctx, "account store call failed; retrying",
			"operation", op,
			"outcome", "retry",
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, op, err)
	}
	return result, err
}

func (s *AccountStore) FindByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	return do(ctx, s, "find_account_by_id", func(ctx context.Context) (domain.Account, error) {
		return s.next.FindByID(ctx, accountID)
	})
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	return do(ctx, s, "find_account_by_email", func(ctx context.Context) (domain.Account, error) {
		return s.next.FindByEmail(ctx, email)
	})
}

func (s *AccountStore) FindByWalletAddress(ctx context.Context, family domain.ChainFamily, address string) (domain.Account, error) {
	return do(ctx, s, "find_account_by_wallet", func(ctx context.Context) (domain.Account, error) {
		return s.next.FindByWalletAddress(ctx, family, address)
	})
}

func (s *AccountStore) FindByOAuthIdentity(ctx context.Context, provider, providerAccountID string) (domain.Account, error) {
	return do(ctx, s, "find_account_by_oauth", func(ctx context.Context) (domain.Account, error) {
		return s.next.FindByOAuthIdentity(ctx, provider, providerAccountID)
	})
}

func (s *AccountStore) CreateAccount(ctx context.Context, account domain.Account, first domain.LinkedIdentity) (domain.Account, error) {
	// A fixed ID makes a replayed insert collide with the first attempt
	// instead of creating a second account.
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return do(ctx, s, "create_account", func(ctx context.Context) (domain.Account, error) {
		return s.next.CreateAccount(ctx, account, first)
	})
}

// AttachIdentity reports attached=true when an earlier attempt failed
// ambiguously and the replay finds the identity already on this account: the
// lost attempt most likely committed it. Callers then record the link event,
// and a duplicate event is preferred over a missing one.
func (s *AccountStore) AttachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) (bool, error) {
	ambiguous := false
	attached, err := do(ctx, s, "attach_identity", func(ctx context.Context) (bool, error) {
		ok, err := s.next.AttachIdentity(ctx, accountID, identity)
		if err != nil {
			ambiguous = true
		}
		return ok, err
	})
	if err == nil && !attached && ambiguous {
		adapterLogger().InfoContext(ctx, "attach replay found identity on this account; treating as attached",
			"operation", "attach_identity",
			"outcome", "success",
			"account_id", accountID.String(),
		)
		return true, nil
	}
	return attached, err
}

func (s *AccountStore) DetachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) error {
	_, err := do(ctx, s, "detach_identity", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.DetachIdentity(ctx, accountID, identity)
	})
	return err
}

func (s *AccountStore) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]domain.LinkedIdentity, error) {
	return do(ctx, s, "list_identities", func(ctx context.Context) ([]domain.LinkedIdentity, error) {
		return s.next.ListIdentities(ctx, accountID)
	})
}

func (s *AccountStore) VerifyPassword(ctx context.Context, accountID uuid.UUID, plaintext string) (bool, error) {
	return do(ctx, s, "verify_password", func(ctx context.Context) (bool, error) {
		return s.next.VerifyPassword(ctx, accountID, plaintext)
	})
}

// LinkPassword replayed after an ambiguous success reports ErrAlreadyLinked,
// which callers already treat as an idempotent outcome.
func (s *AccountStore) LinkPassword(ctx context.Context, accountID uuid.UUID, passwordHash string) error {
	_, err := do(ctx, s, "link_password", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.LinkPassword(ctx, accountID, passwordHash)
	})
	return err
}

func (s *AccountStore) SetPassword(ctx context.Context, accountID uuid.UUID, passwordHash string, changedAt *time.Time) error {
	_, err := do(ctx, s, "set_password", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.SetPassword(ctx, accountID, passwordHash, changedAt)
	})
	return err
}

func (s *AccountStore) SetEmail(ctx context.Context, accountID uuid.UUID, email string) error {
	_, err := do(ctx, s, "set_email", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.SetEmail(ctx, accountID, email)
	})
	return err
}

func (s *AccountStore) TouchWalletLogin(ctx context.Context, family domain.ChainFamily, address string, at time.Time) error {
	_, err := do(ctx, s, "touch_wallet_login", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.TouchWalletLogin(ctx, family, address, at)
	})
	return err
}

func adapterLogger() *slog.Logger {
	return slog.Default().With(
		"service", "identity-link-service",
		"module", "resilience",
		"layer", "adapter",
	)
}
