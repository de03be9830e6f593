package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type IdentityKind string

const (
	IdentityPassword IdentityKind = "password"
	IdentityOAuth    IdentityKind = "oauth"
	IdentityWallet   IdentityKind = "wallet"
)

type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

func (f ChainFamily) Label() string {
	switch f {
	case ChainEVM:
		return "Ethereum"
	case ChainSolana:
		return "Solana"
	default:
		return string(f)
	}
}

// ParseChainFamily accepts the canonical names plus a few client aliases.
func ParseChainFamily(raw string) (ChainFamily, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "evm", "eth", "ethereum":
		return ChainEVM, nil
	case "solana", "sol":
		return ChainSolana, nil
	default:
		return "", fmt.Errorf("%w: unsupported chain family %q", ErrInvalidInput, raw)
	}
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// DetectChainFamily infers the family from the address shape.
func DetectChainFamily(address string) (ChainFamily, error) {
	address = strings.TrimSpace(address)
	if isEVMAddress(address) {
		return ChainEVM, nil
	}
	if isSolanaAddress(address) {
		return ChainSolana, nil
	}
	return "", fmt.Errorf("%w: unrecognized wallet address", ErrInvalidInput)
}

// NormalizeAddress returns the storage form of an address.
// EVM addresses are case-insensitive hex; base58 Solana keys are case-sensitive.
func NormalizeAddress(family ChainFamily, address string) (string, error) {
	address = strings.TrimSpace(address)
	switch family {
	case ChainEVM:
		if !isEVMAddress(address) {
			return "", fmt.Errorf("%w: invalid evm address", ErrInvalidInput)
		}
		return strings.ToLower(address), nil
	case ChainSolana:
		if !isSolanaAddress(address) {
			return "", fmt.Errorf("%w: invalid solana address", ErrInvalidInput)
		}
		return address, nil
	default:
		return "", fmt.Errorf("%w: unsupported chain family %q", ErrInvalidInput, family)
	}
}

func isEVMAddress(address string) bool {
	if len(address) != 42 || !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return false
	}
	for _, r := range address[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func isSolanaAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for _, r := range address {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// WalletIdentity is the wallet variant of a linked identity.
type WalletIdentity struct {
	ChainFamily ChainFamily
	Address     string
	ChainID     string
	LastLoginAt *time.Time
}

// OAuthIdentity is the provider variant of a linked identity.
type OAuthIdentity struct {
	Provider          string
	ProviderAccountID string
}

// LinkedIdentity belongs to exactly one account. Exactly one of Wallet/OAuth
// is set for those kinds; a password identity carries no extra fields.
type LinkedIdentity struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Kind      IdentityKind
	Wallet    *WalletIdentity
	OAuth     *OAuthIdentity
	CreatedAt time.Time
}

func PasswordIdentity() LinkedIdentity {
	return LinkedIdentity{Kind: IdentityPassword}
}

func NewOAuthIdentity(provider, providerAccountID string) LinkedIdentity {
	return LinkedIdentity{
		Kind: IdentityOAuth,
		OAuth: &OAuthIdentity{
			Provider:          strings.ToLower(strings.TrimSpace(provider)),
			ProviderAccountID: strings.TrimSpace(providerAccountID),
		},
	}
}

func NewWalletIdentity(family ChainFamily, address, chainID string) LinkedIdentity {
	return LinkedIdentity{
		Kind: IdentityWallet,
		Wallet: &WalletIdentity{
			ChainFamily: family,
			Address:     address,
			ChainID:     chainID,
		},
	}
}

// Key is the uniqueness key of the identity across all accounts.
func (i LinkedIdentity) Key() string {
	switch i.Kind {
	case IdentityWallet:
		if i.Wallet != nil {
			return "wallet:" + string(i.Wallet.ChainFamily) + ":" + i.Wallet.Address
		}
	case IdentityOAuth:
		if i.OAuth != nil {
			return "oauth:" + i.OAuth.Provider + ":" + i.OAuth.ProviderAccountID
		}
	case IdentityPassword:
		return "password:" + i.AccountID.String()
	}
	return string(i.Kind)
}

// Validate checks that the variant payload matches the kind.
func (i LinkedIdentity) Validate() error {
	switch i.Kind {
	case IdentityPassword:
		return nil
	case IdentityOAuth:
		if i.OAuth == nil || i.OAuth.Provider == "" || i.OAuth.ProviderAccountID == "" {
			return fmt.Errorf("%w: oauth identity requires provider and provider account id", ErrInvalidInput)
		}
		return nil
	case IdentityWallet:
		if i.Wallet == nil || i.Wallet.Address == "" {
			return fmt.Errorf("%w: wallet identity requires an address", ErrInvalidInput)
		}
		if _, err := NormalizeAddress(i.Wallet.ChainFamily, i.Wallet.Address); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown identity kind %q", ErrInvalidInput, i.Kind)
	}
}
