package domain

import (
	"fmt"
	"strings"
	"time"
)

const challengeStatement = "Sign in with this wallet. This request will not trigger a blockchain transaction or cost any fees."

// Challenge is a single-use nonce bound to one prospective address.
type Challenge struct {
	Address     string      `json:"address"`
	ChainFamily ChainFamily `json:"chain_family"`
	Nonce       string      `json:"nonce"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func (c Challenge) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeMessage is the structured form of the text a wallet signs.
type ChallengeMessage struct {
	Domain      string
	URI         string
	ChainFamily ChainFamily
	Address     string
	ChainID     string
	Nonce       string
	IssuedAt    time.Time
}

// BuildChallengeMessage renders the canonical challenge text. Every chain
// family uses the same template so the signed payload is unambiguous.
func BuildChallengeMessage(m ChallengeMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your %s account:\n", m.Domain, m.ChainFamily.Label())
	b.WriteString(m.Address)
	b.WriteString("\n\n")
	b.WriteString(challengeStatement)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	b.WriteString("Version: 1\n")
	fmt.Fprintf(&b, "Chain ID: %s\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.UTC().Format(time.RFC3339))
	return b.String()
}

// ParseChallengeMessage is the strict inverse of BuildChallengeMessage.
// Any message that does not re-render byte for byte is rejected.
func ParseChallengeMessage(raw string) (ChallengeMessage, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) != 10 {
		return ChallengeMessage{}, fmt.Errorf("%w: malformed challenge message", ErrInvalidProof)
	}

	header := lines[0]
	const marker = " wants you to sign in with your "
	idx := strings.Index(header, marker)
	if idx <= 0 || !strings.HasSuffix(header, " account:") {
		return ChallengeMessage{}, fmt.Errorf("%w: malformed challenge header", ErrInvalidProof)
	}
	label := strings.TrimSuffix(header[idx+len(marker):], " account:")

	var family ChainFamily
	switch label {
	case ChainEVM.Label():
		family = ChainEVM
	case ChainSolana.Label():
		family = ChainSolana
	default:
		return ChallengeMessage{}, fmt.Errorf("%w: unknown chain label %q", ErrInvalidProof, label)
	}

	fields := map[string]string{}
	for _, line := range lines[5:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return ChallengeMessage{}, fmt.Errorf("%w: malformed challenge field", ErrInvalidProof)
		}
		fields[key] = value
	}

	issuedAt, err := time.Parse(time.RFC3339, fields["Issued At"])
	if err != nil {
		return ChallengeMessage{}, fmt.Errorf("%w: malformed issued-at", ErrInvalidProof)
	}

	msg := ChallengeMessage{
		Domain:      header[:idx],
		URI:         fields["URI"],
		ChainFamily: family,
		Address:     lines[1],
		ChainID:     fields["Chain ID"],
		Nonce:       fields["Nonce"],
		IssuedAt:    issuedAt.UTC(),
	}
	if msg.Nonce == "" || msg.Address == "" {
		return ChallengeMessage{}, fmt.Errorf("%w: challenge is missing address or nonce", ErrInvalidProof)
	}
	if BuildChallengeMessage(msg) != raw {
		return ChallengeMessage{}, fmt.Errorf("%w: challenge is not canonical", ErrInvalidProof)
	}
	return msg, nil
}
