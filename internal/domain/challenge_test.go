package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
)

func sampleChallenge() domain.ChallengeMessage {
	return domain.ChallengeMessage{
		Domain:      "app.example.com",
		URI:         "https://app.example.com",
		ChainFamily: domain.ChainEVM,
		Address:     "0xabc0000000000000000000000000000000000001",
		ChainID:     "1",
		Nonce:       "6f1c2a9be4d04b7e9d1c0f3a2b5e8c71",
		IssuedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestParseChallengeMessageAcceptsCanonicalText(t *testing.T) {
	t.Parallel()

	in := sampleChallenge()
	raw := domain.BuildChallengeMessage(in)

	out, err := domain.ParseChallengeMessage(raw)
	if err != nil {
		t.Fatalf("parse canonical message: %v", err)
	}
	if out != in {
		t.Fatalf("parsed message mismatch: got %+v want %+v", out, in)
	}
}

func TestBuildChallengeMessageUsesOneTemplateForAllFamilies(t *testing.T) {
	t.Parallel()

	evm := sampleChallenge()
	sol := evm
	sol.ChainFamily = domain.ChainSolana
	sol.Address = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	sol.ChainID = "mainnet-beta"

	evmLines := strings.Split(domain.BuildChallengeMessage(evm), "\n")
	solLines := strings.Split(domain.BuildChallengeMessage(sol), "\n")
	if len(evmLines) != len(solLines) {
		t.Fatalf("templates differ in shape: %d vs %d lines", len(evmLines), len(solLines))
	}
	if evmLines[3] != solLines[3] {
		t.Fatalf("statement differs between families")
	}
	if !strings.Contains(solLines[0], "Solana account") {
		t.Fatalf("solana header missing label: %q", solLines[0])
	}
}

func TestParseChallengeMessageRejectsTampering(t *testing.T) {
	t.Parallel()

	raw := domain.BuildChallengeMessage(sampleChallenge())
	cases := []struct {
		name string
		msg  string
	}{
		{name: "extra whitespace", msg: raw + " "},
		{name: "missing line", msg: strings.Join(strings.Split(raw, "\n")[1:], "\n")},
		{name: "changed statement", msg: strings.Replace(raw, "Sign in with this wallet", "Transfer all funds", 1)},
		{name: "unknown chain", msg: strings.Replace(raw, "Ethereum account", "Bitcoin account", 1)},
		{name: "bad timestamp", msg: strings.Replace(raw, "2026-03-01T12:00:00Z", "yesterday", 1)},
		{name: "empty", msg: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := domain.ParseChallengeMessage(tc.msg); !errors.Is(err, domain.ErrInvalidProof) {
				t.Fatalf("expected ErrInvalidProof, got %v", err)
			}
		})
	}
}
