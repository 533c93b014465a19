package mirror

import "errors"

var (
	// ErrDuplicateTransaction marks a relayed transaction hash already
	// recorded; the outcome was applied once and must not be applied again.
	ErrDuplicateTransaction = errors.New("mirror: transaction already recorded")

	// ErrMirrorInconsistent marks a confirmed ledger outcome that references
	// state the mirror does not hold.
	ErrMirrorInconsistent = errors.New("mirror: inconsistent with ledger outcome")

	// ErrWalletExists marks a user who already has a connected wallet.
	ErrWalletExists = errors.New("mirror: user already has a wallet")

	// ErrAddressInUse marks a ledger address already claimed by another user.
	ErrAddressInUse = errors.New("mirror: address already connected")

	// ErrNotFound marks a missing mirror record.
	ErrNotFound = errors.New("mirror: not found")
)
