package security

import (
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

// WalletVerifier dispatches proof verification by chain family.
// Any decoding or recovery failure is reported as an invalid proof.
type WalletVerifier struct{}

func NewWalletVerifier() *WalletVerifier {
	return &WalletVerifier{}
}

func (v *WalletVerifier) Verify(family domain.ChainFamily, address, message, signature string) bool {
	switch family {
	case domain.ChainEVM:
		return verifyEVM(address, message, signature)
	case domain.ChainSolana:
		return verifySolana(address, message, signature)
	default:
		return false
	}
}
