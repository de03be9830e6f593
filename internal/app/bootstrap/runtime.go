package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/memory"
	metricsadapter "github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/metrics"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/resilience"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/adapters/telemetry"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	outbox     *eventadapter.OutboxWorker
	// inProcessOutbox runs the worker inside the API process when the
	// outbox lives in memory and a separate worker could never see it.
	inProcessOutbox bool
	cleanupFn       func(context.Context)
}

// stores groups the persistence collaborators selected by configuration.
type stores struct {
	accounts   ports.AccountStore
	resets     ports.PasswordResetRepository
	outbox     ports.OutboxRepository
	challenges ports.ChallengeStore
	oauthState ports.OAuthStateStore
	db         *gorm.DB
	redis      *redis.Client
}

func (s stores) ready(ctx context.Context) error {
	if s.db != nil {
		if err := postgres.Ping(ctx, s.db); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (s stores) close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping identity link service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store_driver", cfg.StoreDriver,
		"challenge_store", cfg.ChallengeStore,
	)

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.ServiceID,
		Endpoint:    cfg.TracingEndpoint,
		SampleRatio: cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	recorder := metricsadapter.NewRecorder()
	hasher := security.NewBcryptHasher(cfg.BcryptCost)

	st, err := openStores(ctx, cfg, hasher, recorder)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	signer, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTIssuer, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			st.close()
			_ = shutdownTracing(ctx)
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		signer, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID, cfg.JWTIssuer)
		if err != nil {
			st.close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	oauth := security.NewOAuthExchanger(security.OAuthExchangerConfig{
		CallbackBaseURL: cfg.OAuthCallbackBaseURL,
		HTTPClient:      &http.Client{Timeout: cfg.OAuthHTTPTimeout},
		Providers: map[string]security.OAuthProviderConfig{
			"google": {
				ClientID:     cfg.OAuthGoogleClientID,
				ClientSecret: cfg.OAuthGoogleClientSecret,
				Scopes:       cfg.OAuthGoogleScopes,
			},
			"github": {
				ClientID:     cfg.OAuthGitHubClientID,
				ClientSecret: cfg.OAuthGitHubClientSecret,
				Scopes:       cfg.OAuthGitHubScopes,
			},
		},
	})
	logger.Info("oauth providers configured", "providers", oauth.Providers())

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		st.close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ChallengeTTL:     cfg.ChallengeTTL,
			ChallengeDomain:  cfg.ChallengeDomain,
			ChallengeURI:     cfg.ChallengeURI,
			TokenTTL:         cfg.TokenTTL,
			RefreshInterval:  cfg.RefreshInterval,
			PasswordResetTTL: cfg.PasswordResetTTL,
			OAuthStateTTL:    cfg.OAuthStateTTL,
		},
		Accounts:   st.accounts,
		Resets:     st.resets,
		Outbox:     st.outbox,
		Challenges: st.challenges,
		OAuthState: st.oauthState,
		OAuth:      oauth,
		Verifier:   security.NewWalletVerifier(),
		Hasher:     hasher,
		Signer:     signer,
		Notifier:   eventadapter.NewOutboxNotifier(st.outbox),
		Metrics:    recorder,
	})

	handler := httpadapter.NewHandler(svc, httpadapter.Options{
		Metrics:        recorder,
		MetricsHandler: recorder.Handler(),
		Ready:          st.ready,
		RateLimit: httpadapter.RateLimitConfig{
			PerSecond: cfg.RateLimitPerSecond,
			Burst:     cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcadapter.Register(grpcServer, grpcadapter.NewIdentityInternalServer(svc))

	outbox := eventadapter.NewOutboxWorker(logger, st.outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	return &Runtime{
		cfg:             cfg,
		logger:          logger,
		httpServer:      httpServer,
		grpcServer:      grpcServer,
		grpcAddr:        fmt.Sprintf(":%d", cfg.GRPCPort),
		outbox:          outbox,
		inProcessOutbox: cfg.StoreDriver == StoreDriverMemory,
		cleanupFn: func(ctx context.Context) {
			_ = publisher.Close()
			st.close()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		},
	}, nil
}

func openStores(ctx context.Context, cfg Config, hasher ports.PasswordHasher, metrics ports.Metrics) (stores, error) {
	var st stores
	now := func() time.Time { return time.Now().UTC() }

	switch cfg.StoreDriver {
	case StoreDriverMemory:
		st.accounts = memory.NewAccountStore(hasher, now)
		st.resets = memory.NewResetRepository()
		st.outbox = memory.NewOutboxRepository(now)
	default:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{MaxConns: cfg.MaxDBConns})
		if err != nil {
			return stores{}, err
		}
		st.db = db
		if err := postgres.RunMigrations(ctx, db); err != nil {
			st.close()
			return stores{}, fmt.Errorf("run migrations: %w", err)
		}
		repos := postgres.NewRepositories(db, hasher, metrics)
		st.accounts = resilience.NewAccountStore(repos.Accounts, resilience.Config{
			AttemptTimeout: cfg.StoreTimeout,
			MaxElapsedTime: cfg.StoreRetryMaxElapsed,
			MaxAttempts:    cfg.StoreRetryMaxAttempt,
		})
		st.resets = repos.Resets
		st.outbox = repos.Outbox
	}

	switch cfg.ChallengeStore {
	case ChallengeStoreMemory:
		st.challenges = cacheadapter.NewMemoryChallengeStore(now)
		st.oauthState = cacheadapter.NewMemoryOAuthStateStore(now)
	default:
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			st.close()
			return stores{}, fmt.Errorf("connect redis: %w", err)
		}
		st.redis = client
		st.challenges = cacheadapter.NewRedisChallengeStore(client)
		st.oauthState = cacheadapter.NewRedisOAuthStateStore(client)
	}
	return st, nil
}

type closablePublisher interface {
	ports.EventPublisher
	Close() error
}

// newPublisher selects Kafka when brokers are configured and logs events otherwise.
func newPublisher(cfg Config, logger *slog.Logger) (closablePublisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Warn("no KAFKA_BROKERS configured; outbox events are logged only")
		return eventadapter.NewLoggingPublisher(logger), nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, map[string]string{
		application.EventTypeAccountCreated:          cfg.KafkaTopicIdentity,
		application.EventTypeIdentityLinked:          cfg.KafkaTopicIdentity,
		application.EventTypeIdentityUnlinked:        cfg.KafkaTopicIdentity,
		application.EventTypePasswordChanged:         cfg.KafkaTopicIdentity,
		eventadapter.EventTypePasswordResetRequested: cfg.KafkaTopicNotifications,
	})
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, nil
}

// RunAPI serves HTTP and gRPC until a signal arrives or either server fails,
// then stops both.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", r.grpcAddr)
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if r.inProcessOutbox {
		g.Go(func() error {
			r.logger.Info("in-process outbox worker started")
			if err := r.outbox.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("outbox worker: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown failed", "error", err)
		}
		r.grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	if err != nil {
		r.logger.Error("server failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.inProcessOutbox {
		r.logger.Warn("memory store driver: this worker only sees its own empty outbox")
	}
	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
