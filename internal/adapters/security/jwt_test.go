package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

func sampleClaims(now time.Time) domain.SessionClaims {
	return domain.SessionClaims{
		AccountID:              uuid.New(),
		Email:                  "ada@example.com",
		WalletAddress:          "0x52908400098527886e0f7030069857d2e4169ee7",
		Role:                   domain.RoleUser,
		Tier:                   domain.TierPro,
		Status:                 domain.StatusActive,
		IssuedAt:               now,
		TierLastCheckedAt:      now,
		ExpiresAt:              now.Add(time.Hour),
		OAuthProvider:          "google",
		OAuthProviderAccountID: "g-1",
	}
}

func TestJWTSignerRoundTripKeepsMicroseconds(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralJWTSigner("k1", "identity-link-service")
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond).Add(123 * time.Microsecond)
	claims := sampleClaims(now)
	token, err := signer.Sign(claims)
	require.NoError(t, err)

	parsed, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, claims.AccountID, parsed.AccountID)
	assert.Equal(t, claims.Tier, parsed.Tier)
	assert.Equal(t, claims.WalletAddress, parsed.WalletAddress)
	assert.True(t, parsed.IssuedAt.Equal(now), "issued_at %s != %s", parsed.IssuedAt, now)
	assert.True(t, parsed.TierLastCheckedAt.Equal(now))
	assert.True(t, parsed.HasOAuthOrigin())
}

func TestJWTSignerRejectsForeignTokens(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralJWTSigner("k1", "")
	require.NoError(t, err)
	other, err := NewEphemeralJWTSigner("k2", "")
	require.NoError(t, err)
	sameKidOtherKey, err := NewEphemeralJWTSigner("k1", "")
	require.NoError(t, err)

	claims := sampleClaims(time.Now().UTC())
	fromOther, err := other.Sign(claims)
	require.NoError(t, err)
	forged, err := sameKidOtherKey.Sign(claims)
	require.NoError(t, err)
	valid, err := signer.Sign(claims)
	require.NoError(t, err)
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, token := range map[string]string{
		"unknown kid":   fromOther,
		"wrong key":     forged,
		"tampered body": tampered,
		"not a jwt":     "abc",
		"empty":         "",
	} {
		_, err := signer.Parse(token)
		if !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestJWTSignerRejectsExpiredTokens(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	signer, err := NewEphemeralJWTSigner("k1", "")
	require.NoError(t, err)
	signer.WithClock(func() time.Time { return clock })

	token, err := signer.Sign(sampleClaims(now))
	require.NoError(t, err)
	_, err = signer.Parse(token)
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = signer.Parse(token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestJWTSignerPublicJWKs(t *testing.T) {
	t.Parallel()

	signer, err := NewEphemeralJWTSigner("", "")
	require.NoError(t, err)
	keys, err := signer.PublicJWKs()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ephemeral-key-1", keys[0]["kid"])
	assert.Equal(t, "RS256", keys[0]["alg"])
}

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	hasher := NewBcryptHasher(4)
	hash, err := hasher.Hash("correct horse battery")
	require.NoError(t, err)
	assert.NoError(t, hasher.Compare(hash, "correct horse battery"))
	assert.Error(t, hasher.Compare(hash, "correct horse battery!"))
}
