package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	ChallengeStoreRedis  = "redis"
	ChallengeStoreMemory = "memory"
)

// Config is the resolved runtime configuration for the identity link service.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StoreDriver    string
	ChallengeStore string
	DatabaseURL    string
	RedisURL       string
	MaxDBConns     int32

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	JWTIssuer         string
	AllowEphemeralJWT bool

	BcryptCost int

	ChallengeTTL     time.Duration
	ChallengeDomain  string
	ChallengeURI     string
	TokenTTL         time.Duration
	RefreshInterval  time.Duration
	PasswordResetTTL time.Duration
	OAuthStateTTL    time.Duration

	OAuthCallbackBaseURL    string
	OAuthHTTPTimeout        time.Duration
	OAuthGoogleClientID     string
	OAuthGoogleClientSecret string
	OAuthGoogleScopes       []string
	OAuthGitHubClientID     string
	OAuthGitHubClientSecret string
	OAuthGitHubScopes       []string

	KafkaBrokers            []string
	KafkaTopicIdentity      string
	KafkaTopicNotifications string

	StoreTimeout         time.Duration
	StoreRetryMaxElapsed time.Duration
	StoreRetryMaxAttempt int

	RateLimitPerSecond float64
	RateLimitBurst     int
	CORSAllowedOrigins []string

	TracingEndpoint    string
	TracingSampleRatio float64

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		StoreDriver    string   `yaml:"store_driver"`
		ChallengeStore string   `yaml:"challenge_store"`
		PostgresURL    string   `yaml:"postgres_url"`
		RedisURL       string   `yaml:"redis_url"`
		KafkaBrokers   []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	HTTP struct {
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"http"`
	Tracing struct {
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
	Challenge struct {
		Domain     string `yaml:"domain"`
		URI        string `yaml:"uri"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"challenge"`
	Session struct {
		RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
		TokenExpiryHours       int    `yaml:"token_expiry_hours"`
		Issuer                 string `yaml:"issuer"`
	} `yaml:"session"`
	OAuth struct {
		CallbackBaseURL string `yaml:"callback_base_url"`
		Google          struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"google"`
		GitHub struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"github"`
	} `yaml:"oauth"`
	Topics struct {
		Identity      string `yaml:"identity"`
		Notifications string `yaml:"notifications"`
	} `yaml:"topics"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:               "identity-link-service",
		HTTPPort:                8080,
		GRPCPort:                9090,
		StoreDriver:             StoreDriverPostgres,
		ChallengeStore:          ChallengeStoreRedis,
		MaxDBConns:              20,
		JWTKeyID:                "identity-link-key-1",
		JWTIssuer:               "identity-link-service",
		AllowEphemeralJWT:       true,
		BcryptCost:              12,
		ChallengeTTL:            5 * time.Minute,
		ChallengeDomain:         "localhost",
		ChallengeURI:            "http://localhost",
		TokenTTL:                30 * 24 * time.Hour,
		RefreshInterval:         30 * time.Second,
		PasswordResetTTL:        time.Hour,
		OAuthStateTTL:           10 * time.Minute,
		OAuthCallbackBaseURL:    "http://localhost:8080",
		OAuthHTTPTimeout:        8 * time.Second,
		KafkaTopicIdentity:      "identity.events",
		KafkaTopicNotifications: "identity.notifications",
		StoreTimeout:            2 * time.Second,
		StoreRetryMaxElapsed:    5 * time.Second,
		StoreRetryMaxAttempt:    3,
		RateLimitPerSecond:      5,
		RateLimitBurst:          20,
		OutboxPollInterval:      2 * time.Second,
		OutboxBatchSize:         100,
		OutboxClaimTTL:          30 * time.Second,
		OutboxMaxRetries:        5,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORE_DRIVER", cfg.StoreDriver)))
	cfg.ChallengeStore = strings.ToLower(strings.TrimSpace(envOrDefault("CHALLENGE_STORE", cfg.ChallengeStore)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)

	cfg.ChallengeDomain = envOrDefault("CHALLENGE_DOMAIN", cfg.ChallengeDomain)
	cfg.ChallengeURI = envOrDefault("CHALLENGE_URI", cfg.ChallengeURI)

	cfg.OAuthCallbackBaseURL = envOrDefault("OAUTH_CALLBACK_BASE_URL", cfg.OAuthCallbackBaseURL)
	cfg.OAuthGoogleClientID = envOrDefault("OAUTH_GOOGLE_CLIENT_ID", cfg.OAuthGoogleClientID)
	cfg.OAuthGoogleClientSecret = envOrDefault("OAUTH_GOOGLE_CLIENT_SECRET", cfg.OAuthGoogleClientSecret)
	cfg.OAuthGoogleScopes = envCSV("OAUTH_GOOGLE_SCOPES", cfg.OAuthGoogleScopes)
	cfg.OAuthGitHubClientID = envOrDefault("OAUTH_GITHUB_CLIENT_ID", cfg.OAuthGitHubClientID)
	cfg.OAuthGitHubClientSecret = envOrDefault("OAUTH_GITHUB_CLIENT_SECRET", cfg.OAuthGitHubClientSecret)
	cfg.OAuthGitHubScopes = envCSV("OAUTH_GITHUB_SCOPES", cfg.OAuthGitHubScopes)

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopicIdentity = envOrDefault("KAFKA_TOPIC_IDENTITY", cfg.KafkaTopicIdentity)
	cfg.KafkaTopicNotifications = envOrDefault("KAFKA_TOPIC_NOTIFICATIONS", cfg.KafkaTopicNotifications)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.RateLimitPerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.RateLimitBurst = envInt("RATE_LIMIT_BURST", cfg.RateLimitBurst)
	cfg.CORSAllowedOrigins = envCSV("CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.TracingEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", cfg.TracingEndpoint)
	cfg.TracingSampleRatio = envFloat("OTEL_TRACES_SAMPLE_RATIO", cfg.TracingSampleRatio)

	cfg.ChallengeTTL = time.Duration(envInt("CHALLENGE_TTL_SECONDS", int(cfg.ChallengeTTL.Seconds()))) * time.Second
	cfg.RefreshInterval = time.Duration(envInt("SESSION_REFRESH_INTERVAL_SECONDS", int(cfg.RefreshInterval.Seconds()))) * time.Second
	cfg.TokenTTL = time.Duration(envInt("TOKEN_EXPIRY_HOURS", int(cfg.TokenTTL.Hours()))) * time.Hour
	cfg.PasswordResetTTL = time.Duration(envInt("PASSWORD_RESET_TTL_MINUTES", int(cfg.PasswordResetTTL.Minutes()))) * time.Minute
	cfg.OAuthStateTTL = time.Duration(envInt("OAUTH_STATE_TTL_SECONDS", int(cfg.OAuthStateTTL.Seconds()))) * time.Second
	cfg.OAuthHTTPTimeout = time.Duration(envInt("OAUTH_HTTP_TIMEOUT_SECONDS", int(cfg.OAuthHTTPTimeout.Seconds()))) * time.Second
	cfg.StoreTimeout = time.Duration(envInt("STORE_TIMEOUT_MS", int(cfg.StoreTimeout.Milliseconds()))) * time.Millisecond
	cfg.StoreRetryMaxElapsed = time.Duration(envInt("STORE_RETRY_MAX_ELAPSED_MS", int(cfg.StoreRetryMaxElapsed.Milliseconds()))) * time.Millisecond
	cfg.StoreRetryMaxAttempt = envInt("STORE_RETRY_MAX_ATTEMPTS", cfg.StoreRetryMaxAttempt)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.StoreDriver != "" {
		cfg.StoreDriver = f.Dependencies.StoreDriver
	}
	if f.Dependencies.ChallengeStore != "" {
		cfg.ChallengeStore = f.Dependencies.ChallengeStore
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if len(f.HTTP.CORSAllowedOrigins) > 0 {
		cfg.CORSAllowedOrigins = f.HTTP.CORSAllowedOrigins
	}
	if f.Tracing.Endpoint != "" {
		cfg.TracingEndpoint = f.Tracing.Endpoint
	}
	if f.Tracing.SampleRatio > 0 {
		cfg.TracingSampleRatio = f.Tracing.SampleRatio
	}
	if f.Challenge.Domain != "" {
		cfg.ChallengeDomain = f.Challenge.Domain
	}
	if f.Challenge.URI != "" {
		cfg.ChallengeURI = f.Challenge.URI
	}
	if f.Challenge.TTLSeconds > 0 {
		cfg.ChallengeTTL = time.Duration(f.Challenge.TTLSeconds) * time.Second
	}
	if f.Session.RefreshIntervalSeconds > 0 {
		cfg.RefreshInterval = time.Duration(f.Session.RefreshIntervalSeconds) * time.Second
	}
	if f.Session.TokenExpiryHours > 0 {
		cfg.TokenTTL = time.Duration(f.Session.TokenExpiryHours) * time.Hour
	}
	if f.Session.Issuer != "" {
		cfg.JWTIssuer = f.Session.Issuer
	}
	if f.OAuth.CallbackBaseURL != "" {
		cfg.OAuthCallbackBaseURL = f.OAuth.CallbackBaseURL
	}
	if f.OAuth.Google.ClientID != "" {
		cfg.OAuthGoogleClientID = f.OAuth.Google.ClientID
	}
	if f.OAuth.Google.ClientSecret != "" {
		cfg.OAuthGoogleClientSecret = f.OAuth.Google.ClientSecret
	}
	if len(f.OAuth.Google.Scopes) > 0 {
		cfg.OAuthGoogleScopes = f.OAuth.Google.Scopes
	}
	if f.OAuth.GitHub.ClientID != "" {
		cfg.OAuthGitHubClientID = f.OAuth.GitHub.ClientID
	}
	if f.OAuth.GitHub.ClientSecret != "" {
		cfg.OAuthGitHubClientSecret = f.OAuth.GitHub.ClientSecret
	}
	if len(f.OAuth.GitHub.Scopes) > 0 {
		cfg.OAuthGitHubScopes = f.OAuth.GitHub.Scopes
	}
	if f.Topics.Identity != "" {
		cfg.KafkaTopicIdentity = f.Topics.Identity
	}
	if f.Topics.Notifications != "" {
		cfg.KafkaTopicNotifications = f.Topics.Notifications
	}
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want postgres or memory", c.StoreDriver)
	}
	switch c.ChallengeStore {
	case ChallengeStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing REDIS_URL")
		}
	case ChallengeStoreMemory:
	default:
		return fmt.Errorf("invalid CHALLENGE_STORE %q: want redis or memory", c.ChallengeStore)
	}
	if (c.JWTPrivateKeyPEM == "" || c.JWTPublicKeyPEM == "") && !c.AllowEphemeralJWT {
		return fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("invalid SESSION_REFRESH_INTERVAL_SECONDS: must be positive")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt falls back on empty or invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
