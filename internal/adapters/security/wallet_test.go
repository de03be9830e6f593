package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

const walletMessage = "example.com wants you to sign in with your Ethereum account:\n0xabc\n\nhello"

func signEVM(t *testing.T, message string) (address string, signature []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), sig
}

func TestWalletVerifierEVM(t *testing.T) {
	t.Parallel()

	verifier := NewWalletVerifier()
	address, sig := signEVM(t, walletMessage)

	assert.True(t, verifier.Verify(domain.ChainEVM, address, walletMessage, hexutil.Encode(sig)))

	t.Run("address comparison ignores case", func(t *testing.T) {
		lower := strings.ToLower(address)
		assert.True(t, verifier.Verify(domain.ChainEVM, lower, walletMessage, hexutil.Encode(sig)))
	})

	t.Run("recovery id without offset fails", func(t *testing.T) {
		raw := append([]byte(nil), sig...)
		raw[crypto.RecoveryIDOffset] -= 27
		assert.False(t, verifier.Verify(domain.ChainEVM, address, walletMessage, hexutil.Encode(raw)))
	})

	t.Run("any flipped message byte fails", func(t *testing.T) {
		for i := range walletMessage {
			tampered := []byte(walletMessage)
			tampered[i] ^= 0x01
			if verifier.Verify(domain.ChainEVM, address, string(tampered), hexutil.Encode(sig)) {
				t.Fatalf("tampered byte %d verified", i)
			}
		}
	})

	t.Run("any flipped signature byte fails", func(t *testing.T) {
		for i := range sig {
			for _, mask := range []byte{0x01, 0x1b, 0x80} {
				tampered := append([]byte(nil), sig...)
				tampered[i] ^= mask
				if verifier.Verify(domain.ChainEVM, address, walletMessage, hexutil.Encode(tampered)) {
					t.Fatalf("signature byte %d with mask %#x verified", i, mask)
				}
			}
		}
	})

	t.Run("other signer fails", func(t *testing.T) {
		other, _ := signEVM(t, walletMessage)
		assert.False(t, verifier.Verify(domain.ChainEVM, other, walletMessage, hexutil.Encode(sig)))
	})

	t.Run("malformed signatures fail", func(t *testing.T) {
		for _, raw := range []string{"", "0x", "not-hex", hexutil.Encode(sig[:64])} {
			assert.False(t, verifier.Verify(domain.ChainEVM, address, walletMessage, raw), raw)
		}
	})
}

func TestWalletVerifierSolana(t *testing.T) {
	t.Parallel()

	verifier := NewWalletVerifier()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := base58.Encode(pub)
	sig := ed25519.Sign(priv, []byte(walletMessage))

	assert.True(t, verifier.Verify(domain.ChainSolana, address, walletMessage, base58.Encode(sig)))
	assert.True(t, verifier.Verify(domain.ChainSolana, address, walletMessage, base64.StdEncoding.EncodeToString(sig)))
	assert.True(t, verifier.Verify(domain.ChainSolana, address, walletMessage, hexutil.Encode(sig)))

	for i := range sig {
		tampered := append([]byte(nil), sig...)
		tampered[i] ^= 0x01
		for _, encoded := range []string{base58.Encode(tampered), base64.StdEncoding.EncodeToString(tampered), hexutil.Encode(tampered)} {
			if verifier.Verify(domain.ChainSolana, address, walletMessage, encoded) {
				t.Fatalf("signature byte %d verified as %q", i, encoded)
			}
		}
	}

	for i := range walletMessage {
		tampered := []byte(walletMessage)
		tampered[i] ^= 0x01
		if verifier.Verify(domain.ChainSolana, address, string(tampered), base58.Encode(sig)) {
			t.Fatalf("tampered byte %d verified", i)
		}
	}

	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.False(t, verifier.Verify(domain.ChainSolana, base58.Encode(otherPub), walletMessage, base58.Encode(sig)))
	assert.False(t, verifier.Verify(domain.ChainSolana, address, walletMessage, "garbage"))
	assert.False(t, verifier.Verify(domain.ChainSolana, address, walletMessage, "0xzz"))
	assert.False(t, verifier.Verify(domain.ChainSolana, address, walletMessage, hexutil.Encode(sig[:32])))
	assert.False(t, verifier.Verify(domain.ChainEVM, address, walletMessage, base58.Encode(sig)))
}
