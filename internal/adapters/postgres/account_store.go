package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// AccountStore implements ports.AccountStore on Postgres. Identity uniqueness
// comes from the partial unique indexes on linked_identities; detach takes a
// row lock on the account so concurrent unlinks cannot both pass the
// last-identity check.
type AccountStore struct {
	db      *gorm.DB
	hasher  ports.PasswordHasher
	metrics ports.Metrics
	nowFn   func() time.Time
}

func NewAccountStore(db *gorm.DB, hasher ports.PasswordHasher, metrics ports.Metrics) *AccountStore {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AccountStore{
		db:      db,
		hasher:  hasher,
		metrics: metrics,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountStore) FindByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	return s.findAccount(ctx, "find account by id", s.db.WithContext(ctx).Where("account_id = ?", accountID))
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return s.findAccount(ctx, "find account by email", s.db.WithContext(ctx).Where("LOWER(email) = ?", email))
}

func (s *AccountStore) FindByWalletAddress(ctx context.Context, family domain.ChainFamily, address string) (domain.Account, error) {
	sub := s.db.WithContext(ctx).Model(&linkedIdentityModel{}).
		Select("account_id").
		Where("kind = ?", string(domain.IdentityWallet)).
		Where("chain_family = ?", string(family)).
		Where("address = ?", address)
	return s.findAccount(ctx, "find account by wallet", s.db.WithContext(ctx).Where("account_id IN (?)", sub))
}

func (s *AccountStore) FindByOAuthIdentity(ctx context.Context, provider, providerAccountID string) (domain.Account, error) {
	sub := s.db.WithContext(ctx).Model(&linkedIdentityModel{}).
		Select("account_id").
		Where("kind = ?", string(domain.IdentityOAuth)).
		Where("provider = ?", strings.ToLower(provider)).
		Where("provider_account_id = ?", providerAccountID)
	return s.findAccount(ctx, "find account by oauth identity", s.db.WithContext(ctx).Where("account_id IN (?)", sub))
}

func (s *AccountStore) findAccount(ctx context.Context, op string, q *gorm.DB) (domain.Account, error) {
	var rec accountModel
	if err := q.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, translateError(op, err)
	}
	return toDomainAccount(ctx, rec, s.metrics), nil
}

// CreateAccount inserts the account and its first identity in one transaction.
// Either unique index firing surfaces as ErrDuplicateIdentity.
func (s *AccountStore) CreateAccount(ctx context.Context, account domain.Account, first domain.LinkedIdentity) (domain.Account, error) {
	if err := first.Validate(); err != nil {
		return domain.Account{}, err
	}
	now := s.nowFn()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	rec := toAccountModel(account, now)
	identity := toIdentityModel(account.ID, first, now)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Create(&identity).Error
	})
	if err != nil {
		return domain.Account{}, translateError("create account", err)
	}
	return toDomainAccount(ctx, rec, s.metrics), nil
}

// AttachIdentity is a single insert; the unique index decides the race.
func (s *AccountStore) AttachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}
	if identity.Kind == domain.IdentityPassword {
		return false, fmt.Errorf("%w: password identities are attached through SetPassword", domain.ErrInvalidInput)
	}

	rec := toIdentityModel(accountID, identity, s.nowFn())
	err := s.db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, translateError("attach identity", err)
	}

	owner, lookupErr := s.identityOwner(ctx, identity)
	if lookupErr != nil {
		return false, lookupErr
	}
	if owner == accountID {
		return false, nil
	}
	return false, domain.ErrDuplicateIdentity
}

func (s *AccountStore) identityOwner(ctx context.Context, identity domain.LinkedIdentity) (uuid.UUID, error) {
	var rec linkedIdentityModel
	if err := identityFilter(s.db.WithContext(ctx), identity).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Detached between the insert and the lookup; the caller retries.
			return uuid.Nil, fmt.Errorf("%w: identity owner changed concurrently", domain.ErrDuplicateIdentity)
		}
		return uuid.Nil, translateError("find identity owner", err)
	}
	return rec.AccountID, nil
}

// DetachIdentity refuses to remove the last identity. The account row lock
// serializes concurrent detaches for the same account.
func (s *AccountStore) DetachIdentity(ctx context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account accountModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			Take(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}

		var target linkedIdentityModel
		if err := identityFilter(tx.Where("account_id = ?", accountID), identity).Take(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: identity is not linked to this account", domain.ErrNotFound)
			}
			return err
		}

		var count int64
		if err := tx.Model(&linkedIdentityModel{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 {
			return domain.ErrLastIdentityRemaining
		}

		if err := tx.Where("identity_id = ?", target.IdentityID).Delete(&linkedIdentityModel{}).Error; err != nil {
			return err
		}
		if identity.Kind == domain.IdentityPassword {
			now := s.nowFn()
			return tx.Model(&accountModel{}).
				Where("account_id = ?", accountID).
				Updates(map[string]any{
					"password_hash":       nil,
					"updated_at":          now,
					"password_changed_at": gorm.Expr("GREATEST(COALESCE(password_changed_at, ?), ?)", now, now),
				}).Error
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return translateError("detach identity", err)
	}
	return nil
}

func (s *AccountStore) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]domain.LinkedIdentity, error) {
	var rows []linkedIdentityModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError("list identities", err)
	}
	out := make([]domain.LinkedIdentity, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainIdentity(row))
	}
	return out, nil
}

func (s *AccountStore) VerifyPassword(ctx context.Context, accountID uuid.UUID, plaintext string) (bool, error) {
	var rec accountModel
	if err := s.db.WithContext(ctx).
		Select("account_id", "password_hash").
		Where("account_id = ?", accountID).
		Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, domain.ErrAccountNotFound
		}
		return false, translateError("verify password", err)
	}
	hash := deref(rec.PasswordHash)
	if hash == "" {
		return false, nil
	}
	return s.hasher.Compare(hash, plaintext) == nil, nil
}

// LinkPassword is a conditional update on password_hash IS NULL; the row
// count decides which of two concurrent links wins.
func (s *AccountStore) LinkPassword(ctx context.Context, accountID uuid.UUID, passwordHash string) error {
	now := s.nowFn()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&accountModel{}).
			Where("account_id = ? AND password_hash IS NULL", accountID).
			Updates(map[string]any{"password_hash": passwordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&accountModel{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrAccountNotFound
			}
			return domain.ErrAlreadyLinked
		}

		rec := toIdentityModel(accountID, domain.PasswordIdentity(), now)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return translateError("link password", err)
	}
	return nil
}

// SetPassword stores the hash and makes sure the password identity row exists.
// passwordChangedAt only moves forward.
func (s *AccountStore) SetPassword(ctx context.Context, accountID uuid.UUID, passwordHash string, changedAt *time.Time) error {
	now := s.nowFn()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"password_hash": passwordHash, "updated_at": now}
		if changedAt != nil {
			updates["password_changed_at"] = gorm.Expr("GREATEST(COALESCE(password_changed_at, ?), ?)", *changedAt, *changedAt)
		}
		res := tx.Model(&accountModel{}).Where("account_id = ?", accountID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAccountNotFound
		}

		rec := toIdentityModel(accountID, domain.PasswordIdentity(), now)
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return translateError("set password", err)
	}
	return nil
}

func (s *AccountStore) SetEmail(ctx context.Context, accountID uuid.UUID, email string) error {
	res := s.db.WithContext(ctx).Model(&accountModel{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{"email": strings.ToLower(strings.TrimSpace(email)), "updated_at": s.nowFn()})
	if res.Error != nil {
		return translateError("set email", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *AccountStore) TouchWalletLogin(ctx context.Context, family domain.ChainFamily, address string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&linkedIdentityModel{}).
		Where("kind = ?", string(domain.IdentityWallet)).
		Where("chain_family = ?", string(family)).
		Where("address = ?", address).
		Update("last_login_at", at).Error
	return translateError("touch wallet login", err)
}

// identityFilter narrows a query to the row matching the identity's unique key.
func identityFilter(q *gorm.DB, identity domain.LinkedIdentity) *gorm.DB {
	q = q.Where("kind = ?", string(identity.Kind))
	switch {
	case identity.Wallet != nil:
		q = q.Where("chain_family = ?", string(identity.Wallet.ChainFamily)).Where("address = ?", identity.Wallet.Address)
	case identity.OAuth != nil:
		q = q.Where("provider = ?", identity.OAuth.Provider).Where("provider_account_id = ?", identity.OAuth.ProviderAccountID)
	}
	return q
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrAccountNotFound,
		domain.ErrNotFound,
		domain.ErrLastIdentityRemaining,
		domain.ErrInvalidInput,
		domain.ErrAlreadyLinked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string)  {}
func (noopMetrics) ObserveSessionTransition(string) {}
func (noopMetrics) ObserveNonceConsumption(string)  {}
func (noopMetrics) ObserveProfileDefault(string)    {}
