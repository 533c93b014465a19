// Package mirror maintains the service's local view of ledger activity:
// connected wallets, bills, delegated requests and the transactions relayed
// on their behalf. The ledger remains authoritative; the mirror is updated
// only from confirmed outcomes and periodic balance sweeps.
package mirror

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus represents a delegated request's lifecycle state.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestConfirmed RequestStatus = "CONFIRMED"
	RequestRejected  RequestStatus = "REJECTED"
)

// PaymentType distinguishes how a delegated payment settles.
type PaymentType string

const (
	PaymentNative PaymentType = "NATIVE"
	PaymentToken  PaymentType = "TOKEN"
)

// Wallet links a user to their ledger address and carries the last swept
// token balance.
type Wallet struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"size:64;uniqueIndex"`
	Address      string    `gorm:"size:42;uniqueIndex"`
	TokenBalance float64   `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Bill is the local record of a bill the service created on the ledger.
type Bill struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"size:64;index"`
	Amount      float64   `gorm:"not null"`
	Description string    `gorm:"size:256"`
	Status      string    `gorm:"size:32;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DelegatedRequest tracks one on-behalf action keyed by the ledger-assigned
// bill identifier.
type DelegatedRequest struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	BillID       *uuid.UUID `gorm:"type:uuid;index"`
	LedgerBillID string     `gorm:"size:78;uniqueIndex"`
	TxHash       string     `gorm:"size:66;index"`
	Status       RequestStatus
	Amount       float64
	CryptoAmount float64
	PaymentType  PaymentType `gorm:"size:16"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RelayedTransaction is the immutable record of a ledger submission made by
// the relay identity. The transaction hash is the idempotence key.
type RelayedTransaction struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TxHash      string    `gorm:"size:66;uniqueIndex"`
	FromAddress string    `gorm:"size:42;index"`
	ToAddress   string    `gorm:"size:42;index"`
	Amount      float64
	Status      string     `gorm:"size:32"`
	WalletID    *uuid.UUID `gorm:"type:uuid;index"`
	RequestID   *uuid.UUID `gorm:"type:uuid;index"`
	CreatedAt   time.Time
}

// AutoMigrate creates or updates the mirror schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Wallet{},
		&Bill{},
		&DelegatedRequest{},
		&RelayedTransaction{},
	)
}
