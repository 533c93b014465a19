package ledger

import "errors"

var (
	// ErrInvalidAmount indicates a monetary amount that could not be parsed
	// exactly at the token's decimal scale.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrSubmissionFailed indicates the network refused to accept the
	// transaction (fee too low, nonce conflict, connectivity).
	ErrSubmissionFailed = errors.New("ledger: submission failed")

	// ErrReverted indicates the contract rejected the call after inclusion.
	// This is a final business answer and is never retried automatically.
	ErrReverted = errors.New("ledger: transaction reverted")

	// ErrSubmissionPending indicates the confirmation wait timed out with
	// the outcome still unknown. The transaction may confirm later.
	ErrSubmissionPending = errors.New("ledger: submission pending")

	// ErrEventNotFound indicates a receipt that lacks the expected outcome
	// event even though the transaction itself succeeded.
	ErrEventNotFound = errors.New("ledger: expected event not found in receipt")
)
