package relay

import "errors"

var (
	// ErrInvalidInput marks a request rejected before any ledger call:
	// malformed addresses, signatures, or bill identifiers.
	ErrInvalidInput = errors.New("relay: invalid input")

	// ErrUnauthorized marks a signature that does not recover to the wallet
	// that claims to authorize the action. Nothing is submitted.
	ErrUnauthorized = errors.New("relay: signature verification failed")
)
