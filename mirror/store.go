package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store wraps the mirror database with typed accessors. Mutations that must
// stay atomic with ledger outcomes live on Writer; Store carries the plain
// reads and standalone writes.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transactional composition.
func (s *Store) DB() *gorm.DB { return s.db }

// ConnectWallet binds a user to a ledger address. Each user holds at most one
// wallet and each address belongs to at most one user.
func (s *Store) ConnectWallet(ctx context.Context, userID, address string) (*Wallet, error) {
	normalized := strings.ToLower(address)
	wallet := &Wallet{
		ID:      uuid.New(),
		UserID:  userID,
		Address: normalized,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Wallet
		err := tx.Where("user_id = ?", userID).First(&existing).Error
		switch {
		case err == nil:
			return ErrWalletExists
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		err = tx.Where("address = ?", normalized).First(&existing).Error
		switch {
		case err == nil:
			return ErrAddressInUse
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		return tx.Create(wallet).Error
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// WalletByUser returns the wallet connected for a user.
func (s *Store) WalletByUser(ctx context.Context, userID string) (*Wallet, error) {
	var wallet Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: wallet for user %s", ErrNotFound, userID)
		}
		return nil, err
	}
	return &wallet, nil
}

// WalletByAddress returns the wallet holding a ledger address.
func (s *Store) WalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	var wallet Wallet
	if err := s.db.WithContext(ctx).Where("address = ?", strings.ToLower(address)).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: wallet %s", ErrNotFound, address)
		}
		return nil, err
	}
	return &wallet, nil
}

// Wallets lists every connected wallet, oldest first.
func (s *Store) Wallets(ctx context.Context) ([]Wallet, error) {
	var wallets []Wallet
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

// UpdateWalletBalance overwrites a wallet's last swept token balance.
func (s *Store) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance float64) error {
	result := s.db.WithContext(ctx).Model(&Wallet{}).
		Where("id = ?", walletID).
		Update("token_balance", balance)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: wallet %s", ErrNotFound, walletID)
	}
	return nil
}

// CreateBill records a locally originated bill.
func (s *Store) CreateBill(ctx context.Context, bill *Bill) error {
	if bill.ID == uuid.Nil {
		bill.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(bill).Error
}

// BillByID returns one bill record.
func (s *Store) BillByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	var bill Bill
	if err := s.db.WithContext(ctx).First(&bill, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: bill %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &bill, nil
}

// RequestByLedgerBillID returns the delegated request keyed by a
// ledger-assigned bill id.
func (s *Store) RequestByLedgerBillID(ctx context.Context, ledgerBillID string) (*DelegatedRequest, error) {
	var request DelegatedRequest
	if err := s.db.WithContext(ctx).Where("ledger_bill_id = ?", ledgerBillID).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request for ledger bill %s", ErrNotFound, ledgerBillID)
		}
		return nil, err
	}
	return &request, nil
}

// RequestByID returns one delegated request.
func (s *Store) RequestByID(ctx context.Context, id uuid.UUID) (*DelegatedRequest, error) {
	var request DelegatedRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: request %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &request, nil
}

// PendingRequests lists delegated requests still awaiting a terminal
// outcome, oldest first.
func (s *Store) PendingRequests(ctx context.Context) ([]DelegatedRequest, error) {
	var requests []DelegatedRequest
	if err := s.db.WithContext(ctx).Where("status = ?", RequestPending).Order("created_at asc").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// ResolveRequest advances a pending request to a terminal status and
// propagates the outcome to the linked bill. A request already terminal is
// left untouched.
func (s *Store) ResolveRequest(ctx context.Context, id uuid.UUID, status RequestStatus) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request DelegatedRequest
		if err := tx.First(&request, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: request %s", ErrNotFound, id)
			}
			return err
		}
		if request.Status != RequestPending {
			return nil
		}
		if err := tx.Model(&DelegatedRequest{}).Where("id = ?", id).Update("status", status).Error; err != nil {
			return err
		}
		if request.BillID != nil {
			billStatus := "PAID"
			if status == RequestRejected {
				billStatus = "REJECTED"
			}
			return tx.Model(&Bill{}).Where("id = ?", *request.BillID).Update("status", billStatus).Error
		}
		return nil
	})
}

// TransactionByHash returns one relayed transaction record.
func (s *Store) TransactionByHash(ctx context.Context, txHash string) (*RelayedTransaction, error) {
	var record RelayedTransaction
	if err := s.db.WithContext(ctx).Where("tx_hash = ?", strings.ToLower(txHash)).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txHash)
		}
		return nil, err
	}
	return &record, nil
}
