package cache

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// memoryTTLMap is a mutex-guarded map whose entries vanish after their TTL.
type memoryTTLMap[T any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[T]
	now     func() time.Time
}

func newMemoryTTLMap[T any](now func() time.Time) *memoryTTLMap[T] {
	if now == nil {
		now = time.Now
	}
	return &memoryTTLMap[T]{entries: make(map[string]memoryEntry[T]), now: now}
}

func (m *memoryTTLMap[T]) put(key string, value T, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry[T]{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *memoryTTLMap[T]) get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok || !m.now().Before(entry.expiresAt) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

// take removes the key and reports whether a live entry was present.
func (m *memoryTTLMap[T]) take(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || !m.now().Before(entry.expiresAt) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

// MemoryChallengeStore is the single-process ChallengeStore used in tests and
// when CHALLENGE_STORE=memory.
type MemoryChallengeStore struct {
	entries *memoryTTLMap[domain.Challenge]
}

func NewMemoryChallengeStore(now func() time.Time) *MemoryChallengeStore {
	return &MemoryChallengeStore{entries: newMemoryTTLMap[domain.Challenge](now)}
}

func (s *MemoryChallengeStore) Put(_ context.Context, challenge domain.Challenge, ttl time.Duration) error {
	s.entries.put(challengeKey(challenge.Address, challenge.Nonce), challenge, ttl)
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, address, nonce string) (*domain.Challenge, error) {
	challenge, ok := s.entries.get(challengeKey(address, nonce))
	if !ok {
		return nil, nil
	}
	return &challenge, nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, address, nonce string) (bool, error) {
	_, ok := s.entries.take(challengeKey(address, nonce))
	return ok, nil
}

type MemoryOAuthStateStore struct {
	entries *memoryTTLMap[ports.OAuthAuthState]
}

func NewMemoryOAuthStateStore(now func() time.Time) *MemoryOAuthStateStore {
	return &MemoryOAuthStateStore{entries: newMemoryTTLMap[ports.OAuthAuthState](now)}
}

func (s *MemoryOAuthStateStore) Put(_ context.Context, state string, value ports.OAuthAuthState, ttl time.Duration) error {
	s.entries.put(state, value, ttl)
	return nil
}

func (s *MemoryOAuthStateStore) Take(_ context.Context, state string) (*ports.OAuthAuthState, error) {
	value, ok := s.entries.take(state)
	if !ok {
		return nil, nil
	}
	return &value, nil
}
