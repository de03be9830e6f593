package application_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/cache"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

const strongPassword = "correct horse battery staple"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyAccounts fails FindByID with an upstream error while down is set.
type flakyAccounts struct {
	ports.AccountStore
	mu   sync.Mutex
	down bool
}

func (f *flakyAccounts) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyAccounts) FindByID(ctx context.Context, accountID uuid.UUID) (domain.Account, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return domain.Account{}, fmt.Errorf("%w: connection refused", domain.ErrUpstreamUnavailable)
	}
	return f.AccountStore.FindByID(ctx, accountID)
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []ports.PasswordResetNotification
}

func (n *capturingNotifier) SendPasswordReset(_ context.Context, msg ports.PasswordResetNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *capturingNotifier) last() (ports.PasswordResetNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ports.PasswordResetNotification{}, false
	}
	return n.sent[len(n.sent)-1], true
}

// fakeOAuth answers every code from a fixed table of assertions.
type fakeOAuth struct {
	assertions map[string]ports.OAuthAssertion
}

func (f *fakeOAuth) AuthCodeURL(provider, state, _ string) (string, error) {
	if provider != "google" && provider != "github" {
		return "", fmt.Errorf("unknown or unconfigured provider: %s", provider)
	}
	return "https://provider.example/" + provider + "?state=" + state, nil
}

func (f *fakeOAuth) Exchange(_ context.Context, provider, code, _ string) (ports.OAuthAssertion, error) {
	assertion, ok := f.assertions[code]
	if !ok {
		return ports.OAuthAssertion{}, errors.New("invalid_grant")
	}
	assertion.Provider = provider
	return assertion, nil
}

func (f *fakeOAuth) Providers() []string { return []string{"github", "google"} }

type fixture struct {
	service  *application.Service
	accounts *memory.AccountStore
	flaky    *flakyAccounts
	outbox   *memory.OutboxRepository
	notifier *capturingNotifier
	oauth    *fakeOAuth
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	signer, err := security.NewEphemeralJWTSigner("test-key", "identity-link-service")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	signer.WithClock(clk.Now)

	hasher := security.NewBcryptHasher(4)
	store := memory.NewAccountStore(hasher, clk.Now)
	flaky := &flakyAccounts{AccountStore: store}
	outbox := memory.NewOutboxRepository(clk.Now)
	notifier := &capturingNotifier{}
	oauth := &fakeOAuth{assertions: map[string]ports.OAuthAssertion{}}

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ChallengeDomain: "id.example.com",
			ChallengeURI:    "https://id.example.com",
			RefreshInterval: 30 * time.Second,
		},
		Accounts:   flaky,
		Resets:     memory.NewResetRepository(),
		Outbox:     outbox,
		Challenges: cache.NewMemoryChallengeStore(clk.Now),
		OAuthState: cache.NewMemoryOAuthStateStore(clk.Now),
		OAuth:      oauth,
		Verifier:   security.NewWalletVerifier(),
		Hasher:     hasher,
		Signer:     signer,
		Notifier:   notifier,
		Now:        clk.Now,
	})
	return &fixture{
		service:  service,
		accounts: store,
		flaky:    flaky,
		outbox:   outbox,
		notifier: notifier,
		oauth:    oauth,
		clock:    clk,
	}
}

func newWalletKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// signedProof issues a nonce, renders the challenge and signs it.
func (f *fixture) signedProof(t *testing.T, key *ecdsa.PrivateKey) application.WalletProof {
	t.Helper()
	ctx := context.Background()
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	nonce, err := f.service.IssueNonce(ctx, application.IssueNonceRequest{Address: address})
	if err != nil {
		t.Fatalf("issue nonce: %v", err)
	}
	challenge, err := f.service.PrepareChallenge(ctx, application.PrepareChallengeRequest{
		Address: address,
		ChainID: "1",
		Nonce:   nonce.Nonce,
	})
	if err != nil {
		t.Fatalf("prepare challenge: %v", err)
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(challenge.Message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return application.WalletProof{
		Message:   challenge.Message,
		Signature: hexutil.Encode(sig),
		Address:   address,
		ChainID:   "1",
	}
}

func (f *fixture) signUp(t *testing.T, email string) application.SessionResponse {
	t.Helper()
	res, err := f.service.SignUpWithPassword(context.Background(), application.PasswordSignUpRequest{
		Email:           email,
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
	})
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return res
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, rec := range f.outbox.Events() {
		out = append(out, rec.EventType)
	}
	return out
}

func countIdentities(t *testing.T, f *fixture, accountID uuid.UUID) int {
	t.Helper()
	identities, err := f.accounts.ListIdentities(context.Background(), accountID)
	if err != nil {
		t.Fatalf("list identities: %v", err)
	}
	return len(identities)
}

func oauthWithEmail(providerAccountID, email string) ports.OAuthAssertion {
	return ports.OAuthAssertion{
		Provider:          "google",
		ProviderAccountID: providerAccountID,
		Email:             email,
		EmailVerified:     true,
	}
}
