package application

import (
	"log/slog"
	"time"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

const serviceName = "identity-link-service"

type Service struct {
	cfg        Config
	accounts   ports.AccountStore
	resets     ports.PasswordResetRepository
	outbox     ports.OutboxRepository
	challenges ports.ChallengeStore
	oauthState ports.OAuthStateStore
	oauth      ports.OAuthExchanger
	verifier   ports.WalletVerifier
	hasher     ports.PasswordHasher
	signer     ports.SessionSigner
	notifier   ports.Notifier
	metrics    ports.Metrics
	nowFn      func() time.Time
}

type Dependencies struct {
	Config     Config
	Accounts   ports.AccountStore
	Resets     ports.PasswordResetRepository
	Outbox     ports.OutboxRepository
	Challenges ports.ChallengeStore
	OAuthState ports.OAuthStateStore
	OAuth      ports.OAuthExchanger
	Verifier   ports.WalletVerifier
	Hasher     ports.PasswordHasher
	Signer     ports.SessionSigner
	Notifier   ports.Notifier
	Metrics    ports.Metrics
	Now        func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config.withDefaults()
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	clock := deps.Now
	if clock == nil {
		clock = time.Now
	}
	// Tokens and the store both carry microseconds; comparing
	// passwordChangedAt with issuedAt needs one shared precision.
	nowFn := func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
	return &Service{
		cfg:        cfg,
		accounts:   deps.Accounts,
		resets:     deps.Resets,
		outbox:     deps.Outbox,
		challenges: deps.Challenges,
		oauthState: deps.OAuthState,
		oauth:      deps.OAuth,
		verifier:   deps.Verifier,
		hasher:     deps.Hasher,
		signer:     deps.Signer,
		notifier:   deps.Notifier,
		metrics:    metrics,
		nowFn:      nowFn,
	}
}

// RefreshInterval is the policy window after which cached claims are re-read.
func (s *Service) RefreshInterval() time.Duration {
	return s.cfg.RefreshInterval
}

func (s *Service) PublicJWKs() ([]map[string]any, error) {
	return s.signer.PublicJWKs()
}

func appLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string)  {}
func (nopMetrics) ObserveSessionTransition(string) {}
func (nopMetrics) ObserveNonceConsumption(string)  {}
func (nopMetrics) ObserveProfileDefault(string)    {}
