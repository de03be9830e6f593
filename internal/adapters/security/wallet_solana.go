package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// verifySolana checks a detached ed25519 signature over the UTF-8 message.
// The address is the base58 public key; the signature may be base58, 0x hex
// or base64.
func verifySolana(address, message, signature string) bool {
	pub := base58.Decode(strings.TrimSpace(address))
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig := decodeSolanaSignature(strings.TrimSpace(signature))
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

func decodeSolanaSignature(raw string) []byte {
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		// Base64 may also start with "0x", so a failed hex decode falls through.
		if sig, err := hexutil.Decode("0x" + raw[2:]); err == nil {
			return sig
		}
	}
	if sig := base58.Decode(raw); len(sig) == ed25519.SignatureSize {
		return sig
	}
	if sig, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return sig
	}
	return nil
}
