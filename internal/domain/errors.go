package domain

import "errors"

var (
	// ErrAccountNotFound is returned when no account matches the lookup key.
	// Session refresh treats it as the trigger for self-heal before surfacing it.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidCredentials hides whether email or password failed.
	// The reason is to prevent account-enumeration side channels.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidProof signals a wallet signature that does not match the claimed address.
	ErrInvalidProof = errors.New("invalid wallet proof")
	// ErrProofFailed is the link-path name for a rejected wallet proof.
	ErrProofFailed = ErrInvalidProof
	// ErrNonceExpired is returned when a challenge outlived its TTL before it was consumed.
	ErrNonceExpired = errors.New("nonce expired")
	// ErrNonceAlreadyConsumed is returned on replay of a challenge that was already used.
	ErrNonceAlreadyConsumed = errors.New("nonce already consumed")
	// ErrDuplicateIdentity is a uniqueness violation: the identity belongs to another account.
	ErrDuplicateIdentity = errors.New("identity already linked to another account")
	// ErrLastIdentityRemaining prevents removing the last linked identity of an account.
	// Without this guard, users can lock themselves out permanently.
	ErrLastIdentityRemaining = errors.New("cannot unlink last remaining identity")
	ErrAlreadyLinked         = errors.New("identity already linked")
	ErrWeakPassword          = errors.New("weak password")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	// ErrInvalidToken is terminal for the presented session; the client must sign in again.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrSessionInvalidated is returned when a refresh observes a credential change newer than the session.
	ErrSessionInvalidated = errors.New("session invalidated")
	ErrAccountDisabled    = errors.New("account disabled")
	// ErrUpstreamUnavailable wraps timeouts and I/O failures talking to the account store.
	// It is the only error class retried, and only at the adapter boundary.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrNotFound            = errors.New("resource not found")
)
