package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// JWTSigner implements RS256 session tokens. Exactly one key is trusted; a
// token whose kid names any other key is rejected before signature checks.
type JWTSigner struct {
	kid        string
	issuer     string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	now        func() time.Time
}

// NewJWTSigner builds a signer from configured PEM keys.
func NewJWTSigner(kid, issuer, privateKeyPEM, publicKeyPEM string) (*JWTSigner, error) {
	if kid == "" {
		return nil, errors.New("jwt key id (kid) is required")
	}
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, errors.New("jwt private/public keys are required")
	}

	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	if priv.PublicKey.N.Cmp(pub.N) != 0 {
		return nil, errors.New("jwt public key does not match private key")
	}

	return &JWTSigner{kid: kid, issuer: issuer, privateKey: priv, publicKey: pub, now: time.Now}, nil
}

// NewEphemeralJWTSigner creates an in-memory keypair for local/dev use.
// Tokens do not survive a restart.
func NewEphemeralJWTSigner(kid, issuer string) (*JWTSigner, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return &JWTSigner{kid: kid, issuer: issuer, privateKey: privateKey, publicKey: &privateKey.PublicKey, now: time.Now}, nil
}

// WithClock sets the clock used for expiry validation.
func (s *JWTSigner) WithClock(now func() time.Time) *JWTSigner {
	if now != nil {
		s.now = now
	}
	return s
}

// sessionJWTClaims keeps microsecond copies of the timestamps the
// invalidation policy compares; registered claims only carry seconds.
type sessionJWTClaims struct {
	AccountID              string `json:"account_id"`
	Email                  string `json:"email,omitempty"`
	WalletAddress          string `json:"wallet_address,omitempty"`
	Role                   string `json:"role"`
	Tier                   string `json:"tier"`
	Status                 string `json:"status"`
	TwoFactorEnabled       bool   `json:"two_factor_enabled"`
	IssuedAtMicros         int64  `json:"iat_us"`
	TierLastCheckedMicros  int64  `json:"tlc_us"`
	OAuthProvider          string `json:"oauth_provider,omitempty"`
	OAuthProviderAccountID string `json:"oauth_provider_account_id,omitempty"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) Sign(claims domain.SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, sessionJWTClaims{
		AccountID:              claims.AccountID.String(),
		Email:                  claims.Email,
		WalletAddress:          claims.WalletAddress,
		Role:                   string(claims.Role),
		Tier:                   string(claims.Tier),
		Status:                 string(claims.Status),
		TwoFactorEnabled:       claims.TwoFactorEnabled,
		IssuedAtMicros:         claims.IssuedAt.UnixMicro(),
		TierLastCheckedMicros:  claims.TierLastCheckedAt.UnixMicro(),
		OAuthProvider:          claims.OAuthProvider,
		OAuthProviderAccountID: claims.OAuthProviderAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   claims.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	token.Header["kid"] = s.kid
	return token.SignedString(s.privateKey)
}

// Parse verifies signature, key id and expiry. All failures wrap ErrInvalidToken.
func (s *JWTSigner) Parse(raw string) (domain.SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &sessionJWTClaims{}, func(token *jwt.Token) (any, error) {
		if kid, _ := token.Header["kid"].(string); kid != s.kid {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return s.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.SessionClaims{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*sessionJWTClaims)
	if !ok || !parsed.Valid {
		return domain.SessionClaims{}, fmt.Errorf("%w: invalid token claims", domain.ErrInvalidToken)
	}

	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return domain.SessionClaims{}, fmt.Errorf("%w: parse account_id: %v", domain.ErrInvalidToken, err)
	}

	return domain.SessionClaims{
		AccountID:              accountID,
		Email:                  claims.Email,
		WalletAddress:          claims.WalletAddress,
		Role:                   domain.Role(claims.Role),
		Tier:                   domain.Tier(claims.Tier),
		Status:                 domain.Status(claims.Status),
		TwoFactorEnabled:       claims.TwoFactorEnabled,
		IssuedAt:               time.UnixMicro(claims.IssuedAtMicros).UTC(),
		TierLastCheckedAt:      time.UnixMicro(claims.TierLastCheckedMicros).UTC(),
		ExpiresAt:              claims.ExpiresAt.Time.UTC(),
		OAuthProvider:          claims.OAuthProvider,
		OAuthProviderAccountID: claims.OAuthProviderAccountID,
	}, nil
}

func (s *JWTSigner) PublicJWKs() ([]map[string]any, error) {
	e := big.NewInt(int64(s.publicKey.E)).Bytes()
	n := s.publicKey.N.Bytes()

	return []map[string]any{
		{
			"kid": s.kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}, nil
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
