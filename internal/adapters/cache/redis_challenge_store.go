package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// RedisChallengeStore keeps wallet nonces with a Redis TTL. Consume relies on
// DEL being atomic: of concurrent deletes exactly one removes the key.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func challengeKey(address, nonce string) string {
	return keyPrefix + "wallet:nonce:" + address + ":" + nonce
}

func (s *RedisChallengeStore) Put(ctx context.Context, challenge domain.Challenge, ttl time.Duration) error {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, challengeKey(challenge.Address, challenge.Nonce), raw, ttl).Err(); err != nil {
		return unavailable("set challenge", err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, address, nonce string) (*domain.Challenge, error) {
	raw, err := s.client.Get(ctx, challengeKey(address, nonce)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable("get challenge", err)
	}
	var out domain.Challenge
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *RedisChallengeStore) Consume(ctx context.Context, address, nonce string) (bool, error) {
	n, err := s.client.Del(ctx, challengeKey(address, nonce)).Result()
	if err != nil {
		return false, unavailable("consume challenge", err)
	}
	return n == 1, nil
}
