package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := Connect(context.Background(), srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisChallengeStoreRoundTripAndSingleConsume(t *testing.T) {
	t.Parallel()

	srv, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()

	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	challenge := domain.Challenge{
		Address:     "0x52908400098527886e0f7030069857d2e4169ee7",
		ChainFamily: domain.ChainEVM,
		Nonce:       "abc123",
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(5 * time.Minute),
	}
	require.NoError(t, store.Put(ctx, challenge, 5*time.Minute))
	assert.True(t, srv.Exists("identity:wallet:nonce:"+challenge.Address+":abc123"))

	got, err := store.Get(ctx, challenge.Address, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IssuedAt.Equal(issued))
	assert.Equal(t, domain.ChainEVM, got.ChainFamily)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.Consume(ctx, challenge.Address, "abc123"); err == nil && ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())

	missing, err := store.Get(ctx, challenge.Address, "abc123")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisChallengeStoreExpiresWithTTL(t *testing.T) {
	t.Parallel()

	srv, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, domain.Challenge{Address: "a", Nonce: "n"}, time.Minute))
	srv.FastForward(2 * time.Minute)

	ok, err := store.Consume(ctx, "a", "n")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisChallengeStoreOutageIsUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	srv, client := newTestRedis(t)
	store := NewRedisChallengeStore(client)
	srv.Close()

	_, err := store.Consume(context.Background(), "a", "n")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestRedisOAuthStateStoreTakeOnce(t *testing.T) {
	t.Parallel()

	_, client := newTestRedis(t)
	store := NewRedisOAuthStateStore(client)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "state-1", ports.OAuthAuthState{Provider: "github", RedirectURI: "https://app/cb"}, time.Minute))

	first, err := store.Take(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "github", first.Provider)

	second, err := store.Take(ctx, "state-1")
	require.NoError(t, err)
	assert.Nil(t, second)
}
