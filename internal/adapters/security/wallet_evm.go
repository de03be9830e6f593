package security

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// verifyEVM checks an EIP-191 personal_sign signature by recovering the
// signer address and comparing it case-insensitively.
func verifyEVM(address, message, signature string) bool {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}

	// personal_sign emits V as 27/28 and recovery expects 0/1. Raw 0/1 is
	// rejected so each signature has exactly one accepted encoding.
	v := sig[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 {
		return false
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	normalized[crypto.RecoveryIDOffset] = v - 27

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	return strings.EqualFold(recovered, strings.TrimSpace(address))
}
