package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// AccountStore is a process-local ports.AccountStore for development and
// tests. A single mutex makes every uniqueness check and write atomic, which
// is the same guarantee the Postgres unique indexes give.
type AccountStore struct {
	mu         sync.Mutex
	hasher     ports.PasswordHasher
	nowFn      func() time.Time
	seq        int64
	accounts   map[uuid.UUID]domain.Account
	identities map[string]storedIdentity
}

type storedIdentity struct {
	identity domain.LinkedIdentity
	seq      int64
}

func NewAccountStore(hasher ports.PasswordHasher, now func() time.Time) *AccountStore {
	if now == nil {
		now = time.Now
	}
	return &AccountStore{
		hasher:     hasher,
		nowFn:      func() time.Time { return now().UTC() },
		accounts:   make(map[uuid.UUID]domain.Account),
		identities: make(map[string]storedIdentity),
	}
}

func (s *AccountStore) FindByID(_ context.Context, accountID uuid.UUID) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *AccountStore) FindByEmail(_ context.Context, email string) (domain.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if account, ok := s.byEmailLocked(email); ok {
		return cloneAccount(account), nil
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (s *AccountStore) FindByWalletAddress(_ context.Context, family domain.ChainFamily, address string) (domain.Account, error) {
	return s.findByIdentity(domain.NewWalletIdentity(family, address, ""))
}

func (s *AccountStore) FindByOAuthIdentity(_ context.Context, provider, providerAccountID string) (domain.Account, error) {
	return s.findByIdentity(domain.NewOAuthIdentity(provider, providerAccountID))
}

func (s *AccountStore) findByIdentity(identity domain.LinkedIdentity) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.identities[identity.Key()]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	account, ok := s.accounts[stored.identity.AccountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (s *AccountStore) CreateAccount(_ context.Context, account domain.Account, first domain.LinkedIdentity) (domain.Account, error) {
	if err := first.Validate(); err != nil {
		return domain.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if _, exists := s.accounts[account.ID]; exists {
		return domain.Account{}, fmt.Errorf("%w: account id already exists", domain.ErrDuplicateIdentity)
	}
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if _, taken := s.byEmailLocked(account.Email); account.Email != "" && taken {
		return domain.Account{}, fmt.Errorf("%w: email already registered", domain.ErrDuplicateIdentity)
	}
	first.AccountID = account.ID
	if _, taken := s.identities[first.Key()]; taken {
		return domain.Account{}, domain.ErrDuplicateIdentity
	}

	now := s.nowFn()
	account.Role, _ = domain.ParseRole(string(account.Role))
	account.Tier, _ = domain.ParseTier(string(account.Tier))
	account.Status, _ = domain.ParseStatus(string(account.Status))
	account.CreatedAt, account.UpdatedAt = now, now
	s.accounts[account.ID] = cloneAccount(account)
	s.putIdentityLocked(first, now)
	return cloneAccount(account), nil
}

func (s *AccountStore) AttachIdentity(_ context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}
	if identity.Kind == domain.IdentityPassword {
		return false, fmt.Errorf("%w: password identities are attached through SetPassword", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return false, domain.ErrAccountNotFound
	}
	if stored, taken := s.identities[identity.Key()]; taken {
		if stored.identity.AccountID == accountID {
			return false, nil
		}
		return false, domain.ErrDuplicateIdentity
	}
	identity.AccountID = accountID
	s.putIdentityLocked(identity, s.nowFn())
	return true, nil
}

func (s *AccountStore) DetachIdentity(_ context.Context, accountID uuid.UUID, identity domain.LinkedIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	identity.AccountID = accountID
	key := identity.Key()
	stored, ok := s.identities[key]
	if !ok || stored.identity.AccountID != accountID {
		return fmt.Errorf("%w: identity is not linked to this account", domain.ErrNotFound)
	}
	if len(s.identitiesOfLocked(accountID)) <= 1 {
		return domain.ErrLastIdentityRemaining
	}

	delete(s.identities, key)
	if identity.Kind == domain.IdentityPassword {
		now := s.nowFn()
		account.PasswordHash = ""
		account.UpdatedAt = now
		if account.PasswordChangedAt == nil || now.After(*account.PasswordChangedAt) {
			account.PasswordChangedAt = &now
		}
		s.accounts[accountID] = account
	}
	return nil
}

func (s *AccountStore) ListIdentities(_ context.Context, accountID uuid.UUID) ([]domain.LinkedIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identitiesOfLocked(accountID), nil
}

func (s *AccountStore) VerifyPassword(_ context.Context, accountID uuid.UUID, plaintext string) (bool, error) {
	s.mu.Lock()
	account, ok := s.accounts[accountID]
	s.mu.Unlock()
	if !ok {
		return false, domain.ErrAccountNotFound
	}
	if account.PasswordHash == "" {
		return false, nil
	}
	return s.hasher.Compare(account.PasswordHash, plaintext) == nil, nil
}

func (s *AccountStore) LinkPassword(_ context.Context, accountID uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if account.PasswordHash != "" {
		return domain.ErrAlreadyLinked
	}
	now := s.nowFn()
	account.PasswordHash = passwordHash
	account.UpdatedAt = now
	s.accounts[accountID] = account

	identity := domain.PasswordIdentity()
	identity.AccountID = accountID
	if _, exists := s.identities[identity.Key()]; !exists {
		s.putIdentityLocked(identity, now)
	}
	return nil
}

func (s *AccountStore) SetPassword(_ context.Context, accountID uuid.UUID, passwordHash string, changedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	now := s.nowFn()
	account.PasswordHash = passwordHash
	account.UpdatedAt = now
	if changedAt != nil && (account.PasswordChangedAt == nil || changedAt.After(*account.PasswordChangedAt)) {
		at := changedAt.UTC()
		account.PasswordChangedAt = &at
	}
	s.accounts[accountID] = account

	identity := domain.PasswordIdentity()
	identity.AccountID = accountID
	if _, exists := s.identities[identity.Key()]; !exists {
		s.putIdentityLocked(identity, now)
	}
	return nil
}

func (s *AccountStore) SetEmail(_ context.Context, accountID uuid.UUID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if other, taken := s.byEmailLocked(email); email != "" && taken && other.ID != accountID {
		return fmt.Errorf("%w: email already registered", domain.ErrDuplicateIdentity)
	}
	account.Email = email
	account.UpdatedAt = s.nowFn()
	s.accounts[accountID] = account
	return nil
}

func (s *AccountStore) TouchWalletLogin(_ context.Context, family domain.ChainFamily, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NewWalletIdentity(family, address, "").Key()
	stored, ok := s.identities[key]
	if !ok || stored.identity.Wallet == nil {
		return nil
	}
	at = at.UTC()
	stored.identity.Wallet.LastLoginAt = &at
	s.identities[key] = stored
	return nil
}

// DeleteAccount drops an account and its identities. Only tests and the
// self-heal scenarios use it; production deletion belongs to the admin surface.
func (s *AccountStore) DeleteAccount(accountID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID)
	for key, stored := range s.identities {
		if stored.identity.AccountID == accountID {
			delete(s.identities, key)
		}
	}
}

// SetProfile overwrites the role, tier and status of an account.
func (s *AccountStore) SetProfile(accountID uuid.UUID, role domain.Role, tier domain.Tier, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	account.Role, account.Tier, account.Status = role, tier, status
	account.UpdatedAt = s.nowFn()
	s.accounts[accountID] = account
	return nil
}

func (s *AccountStore) byEmailLocked(email string) (domain.Account, bool) {
	if email == "" {
		return domain.Account{}, false
	}
	for _, account := range s.accounts {
		if account.Email == email {
			return account, true
		}
	}
	return domain.Account{}, false
}

func (s *AccountStore) putIdentityLocked(identity domain.LinkedIdentity, now time.Time) {
	s.seq++
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	identity.CreatedAt = now
	s.identities[identity.Key()] = storedIdentity{identity: cloneIdentity(identity), seq: s.seq}
}

func (s *AccountStore) identitiesOfLocked(accountID uuid.UUID) []domain.LinkedIdentity {
	var owned []storedIdentity
	for _, stored := range s.identities {
		if stored.identity.AccountID == accountID {
			owned = append(owned, stored)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].seq < owned[j].seq })
	out := make([]domain.LinkedIdentity, 0, len(owned))
	for _, stored := range owned {
		out = append(out, cloneIdentity(stored.identity))
	}
	return out
}

func cloneAccount(a domain.Account) domain.Account {
	if a.PasswordChangedAt != nil {
		at := *a.PasswordChangedAt
		a.PasswordChangedAt = &at
	}
	return a
}

func cloneIdentity(i domain.LinkedIdentity) domain.LinkedIdentity {
	if i.Wallet != nil {
		w := *i.Wallet
		if w.LastLoginAt != nil {
			at := *w.LastLoginAt
			w.LastLoginAt = &at
		}
		i.Wallet = &w
	}
	if i.OAuth != nil {
		o := *i.OAuth
		i.OAuth = &o
	}
	return i
}
