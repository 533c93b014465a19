package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"billrelay/ledger"
)

// BalanceSource reads authoritative token balances from the ledger. The
// mirror never increments a balance locally; it only records what the ledger
// reports.
type BalanceSource interface {
	TokenBalance(ctx context.Context, addr common.Address, kind ledger.TokenKind) (ledger.Amount, error)
}

// Outcome is a confirmed ledger result ready to be folded into the mirror.
type Outcome struct {
	TxHash       common.Hash
	From         common.Address
	To           common.Address
	Amount       ledger.Amount
	LedgerBillID string
	Status       RequestStatus
	PaymentType  PaymentType
	Sponsor      common.Address
}

// Creation is the recorded result of a confirmed createBill submission.
type Creation struct {
	TxHash       common.Hash
	LedgerBillID string
	BillID       *uuid.UUID
	Amount       ledger.Amount
	Sponsor      common.Address
	PaymentType  PaymentType
}

// Writer folds confirmed ledger outcomes into the mirror exactly once. All
// mutations for one outcome happen in a single database transaction keyed by
// the transaction hash.
type Writer struct {
	db       *gorm.DB
	balances BalanceSource
	logger   *slog.Logger
}

// NewWriter constructs a reconciliation writer.
func NewWriter(db *gorm.DB, balances BalanceSource, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{db: db, balances: balances, logger: logger.With("component", "mirror")}
}

// RecordCreation records a newly created bill's delegated request and its
// relay transaction. The creation receipt is the confirmation, so the
// transaction row is written CONFIRMED; the request itself starts PENDING and
// advances when the bill is paid or rejected.
func (w *Writer) RecordCreation(ctx context.Context, c Creation) (*DelegatedRequest, error) {
	hash := strings.ToLower(c.TxHash.Hex())
	request := &DelegatedRequest{
		ID:           uuid.New(),
		BillID:       c.BillID,
		LedgerBillID: c.LedgerBillID,
		TxHash:       hash,
		Status:       RequestPending,
		Amount:       c.Amount.Float64(),
		CryptoAmount: c.Amount.Float64(),
		PaymentType:  c.PaymentType,
	}
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := failOnKnownHash(tx, hash); err != nil {
			return err
		}
		if err := tx.Create(request).Error; err != nil {
			return err
		}
		record := &RelayedTransaction{
			ID:          uuid.New(),
			TxHash:      hash,
			FromAddress: "",
			ToAddress:   strings.ToLower(c.Sponsor.Hex()),
			Amount:      c.Amount.Float64(),
			Status:      string(RequestConfirmed),
			RequestID:   &request.ID,
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, err
	}
	w.logger.Info("bill creation recorded", "ledger_bill_id", c.LedgerBillID, "tx", hash)
	return request, nil
}

// Apply folds one confirmed payment or rejection outcome into the mirror.
// A transaction hash seen before yields ErrDuplicateTransaction and no
// writes. A confirmed outcome whose request row is missing yields
// ErrMirrorInconsistent.
func (w *Writer) Apply(ctx context.Context, out Outcome) error {
	hash := strings.ToLower(out.TxHash.Hex())

	// A replayed receipt must not cost a ledger read; the hash gate runs
	// again inside the write transaction.
	if err := failOnKnownHash(w.db.WithContext(ctx), hash); err != nil {
		return err
	}

	// Token balances come from a fresh ledger read, never local arithmetic.
	// The cached column always holds the primary-token balance, whichever
	// token settled the payment. The read happens before the mirror
	// transaction opens; a sweep repairs any balance the read misses.
	var balance *float64
	if out.Status == RequestConfirmed && out.PaymentType == PaymentToken {
		amount, err := w.balances.TokenBalance(ctx, out.Sponsor, ledger.TokenUBK)
		if err != nil {
			w.logger.Warn("balance refresh failed, deferring to sweep",
				"address", out.Sponsor.Hex(), "error", err)
		} else {
			v := amount.Float64()
			balance = &v
		}
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := failOnKnownHash(tx, hash); err != nil {
			return err
		}

		var request DelegatedRequest
		if err := tx.Where("ledger_bill_id = ?", out.LedgerBillID).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no request for ledger bill %s", ErrMirrorInconsistent, out.LedgerBillID)
			}
			return err
		}

		// Forward-only: a terminal request never regresses.
		if request.Status == RequestPending {
			updates := map[string]any{"status": out.Status, "tx_hash": hash}
			if out.PaymentType != "" {
				updates["payment_type"] = out.PaymentType
			}
			if err := tx.Model(&DelegatedRequest{}).Where("id = ?", request.ID).Updates(updates).Error; err != nil {
				return err
			}
			if request.BillID != nil {
				billStatus := "PAID"
				if out.Status == RequestRejected {
					billStatus = "REJECTED"
				}
				if err := tx.Model(&Bill{}).Where("id = ?", *request.BillID).Update("status", billStatus).Error; err != nil {
					return err
				}
			}
		}

		var walletID *uuid.UUID
		var wallet Wallet
		err := tx.Where("address = ?", strings.ToLower(out.Sponsor.Hex())).First(&wallet).Error
		switch {
		case err == nil:
			walletID = &wallet.ID
			if balance != nil {
				if err := tx.Model(&Wallet{}).Where("id = ?", wallet.ID).Update("token_balance", *balance).Error; err != nil {
					return err
				}
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		// Token payments carry no amount on the wire; fall back to the
		// request's recorded amount.
		recordAmount := out.Amount.Float64()
		if recordAmount == 0 {
			recordAmount = request.CryptoAmount
		}
		record := &RelayedTransaction{
			ID:          uuid.New(),
			TxHash:      hash,
			FromAddress: strings.ToLower(out.From.Hex()),
			ToAddress:   strings.ToLower(out.To.Hex()),
			Amount:      recordAmount,
			Status:      string(out.Status),
			WalletID:    walletID,
			RequestID:   &request.ID,
		}
		return tx.Create(record).Error
	})
	if err != nil {
		return err
	}
	w.logger.Info("outcome reconciled",
		"ledger_bill_id", out.LedgerBillID, "tx", hash, "status", out.Status)
	return nil
}

// failOnKnownHash is the idempotence gate: one mirror write per transaction
// hash, checked inside the same transaction that performs the write.
func failOnKnownHash(tx *gorm.DB, hash string) error {
	var existing RelayedTransaction
	err := tx.Where("tx_hash = ?", hash).First(&existing).Error
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, hash)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil
	default:
		return err
	}
}
