package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

// RedisOAuthStateStore stores short-lived OAuth state envelopes.
type RedisOAuthStateStore struct {
	client *redis.Client
}

func NewRedisOAuthStateStore(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

func (s *RedisOAuthStateStore) Put(ctx context.Context, state string, value ports.OAuthAuthState, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, keyPrefix+"oauth:state:"+state, raw, ttl).Err(); err != nil {
		return unavailable("set oauth state", err)
	}
	return nil
}

// Take uses GETDEL so a state value can complete at most one callback.
func (s *RedisOAuthStateStore) Take(ctx context.Context, state string) (*ports.OAuthAuthState, error) {
	raw, err := s.client.GetDel(ctx, keyPrefix+"oauth:state:"+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("take oauth state", err)
	}
	var out ports.OAuthAuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
