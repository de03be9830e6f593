package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeConfigFile(t, `
service:
  http_port: 8181
  grpc_port: 9191
dependencies:
  postgres_url: postgres://file/identity
  redis_url: redis://file:6379/0
challenge:
  domain: app.example.com
  ttl_seconds: 120
session:
  refresh_interval_seconds: 45
topics:
  identity: file.identity
`)
	t.Setenv("GRPC_PORT", "9292")
	t.Setenv("DB_URL", "postgres://env/identity")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("STORE_TIMEOUT_MS", "750")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, 9292, cfg.GRPCPort)
	assert.Equal(t, "postgres://env/identity", cfg.DatabaseURL)
	assert.Equal(t, "redis://file:6379/0", cfg.RedisURL)
	assert.Equal(t, "app.example.com", cfg.ChallengeDomain)
	assert.Equal(t, 2*time.Minute, cfg.ChallengeTTL)
	assert.Equal(t, 45*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "file.identity", cfg.KafkaTopicIdentity)
	assert.Equal(t, "identity.notifications", cfg.KafkaTopicNotifications)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 3, cfg.StoreRetryMaxAttempt)
}

func TestLoadConfigDefaultsWithMemoryStores(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CHALLENGE_STORE", "Memory")
	t.Setenv("HTTP_PORT", "not-a-number")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, ChallengeStoreMemory, cfg.ChallengeStore)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.AllowEphemeralJWT)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "postgres without url",
			env:  map[string]string{"CHALLENGE_STORE": "memory"},
			want: "missing DB_URL/POSTGRES_URL",
		},
		{
			name: "redis without url",
			env:  map[string]string{"STORE_DRIVER": "memory"},
			want: "missing REDIS_URL",
		},
		{
			name: "unknown driver",
			env:  map[string]string{"STORE_DRIVER": "sqlite", "CHALLENGE_STORE": "memory"},
			want: `invalid STORE_DRIVER "sqlite"`,
		},
		{
			name: "static keys required",
			env: map[string]string{
				"STORE_DRIVER":        "memory",
				"CHALLENGE_STORE":     "memory",
				"JWT_ALLOW_EPHEMERAL": "false",
			},
			want: "missing JWT_PRIVATE_KEY_PEM",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := writeConfigFile(t, "service: [unterminated")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}
