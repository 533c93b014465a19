package mirror

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"billrelay/ledger"
	"billrelay/observability"
)

// BillReader re-reads bill records from the ledger, used to close out
// requests whose confirmation wait timed out.
type BillReader interface {
	Bill(ctx context.Context, billID *big.Int) (*ledger.BillView, error)
}

// SyncFailure records one wallet a sweep could not update.
type SyncFailure struct {
	Address string
	Err     error
}

// SyncReport summarises a completed sweep.
type SyncReport struct {
	Total    int
	Synced   int
	Resolved int
	Failures []SyncFailure
}

// Synchronizer periodically re-reads token balances from the ledger and
// writes them into the mirror. A wallet that fails to sync is reported and
// skipped; the sweep never aborts on one bad wallet.
type Synchronizer struct {
	store    *Store
	balances BalanceSource
	bills    BillReader
	kind     ledger.TokenKind
	workers  int
	logger   *slog.Logger
	metrics  *observability.SyncMetrics
}

// NewSynchronizer constructs a sweep over every connected wallet. A nil bill
// reader disables the pending-request pass.
func NewSynchronizer(store *Store, balances BalanceSource, bills BillReader, kind ledger.TokenKind, workers int, logger *slog.Logger) *Synchronizer {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		store:    store,
		balances: balances,
		bills:    bills,
		kind:     kind,
		workers:  workers,
		logger:   logger.With("component", "sync"),
		metrics:  observability.Sync(),
	}
}

// Sync walks all wallets and refreshes their token balances. The error
// return covers only the wallet listing; per-wallet failures land in the
// report.
func (s *Synchronizer) Sync(ctx context.Context) (*SyncReport, error) {
	wallets, err := s.store.Wallets(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Total: len(wallets)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.workers)
	)

	for _, wallet := range wallets {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(w Wallet) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.syncWallet(ctx, w); err != nil {
				s.logger.Warn("wallet sweep failed", "address", w.Address, "error", err)
				mu.Lock()
				report.Failures = append(report.Failures, SyncFailure{Address: w.Address, Err: err})
				mu.Unlock()
				return
			}
			mu.Lock()
			report.Synced++
			mu.Unlock()
		}(wallet)
	}
	wg.Wait()

	report.Resolved = s.resolvePending(ctx)

	s.metrics.RecordSweep(report.Synced, len(report.Failures), time.Now())
	s.logger.Info("sweep complete",
		"total", report.Total, "synced", report.Synced,
		"resolved", report.Resolved, "failed", len(report.Failures))
	return report, nil
}

// resolvePending re-reads each pending request's bill from the ledger and
// closes out requests whose transaction confirmed after the original wait
// timed out. A bill still pending on the ledger is left alone.
func (s *Synchronizer) resolvePending(ctx context.Context) int {
	if s.bills == nil {
		return 0
	}
	requests, err := s.store.PendingRequests(ctx)
	if err != nil {
		s.logger.Warn("pending request scan failed", "error", err)
		return 0
	}
	resolved := 0
	for _, request := range requests {
		if ctx.Err() != nil {
			break
		}
		billID, ok := new(big.Int).SetString(request.LedgerBillID, 10)
		if !ok {
			continue
		}
		view, err := s.bills.Bill(ctx, billID)
		if err != nil {
			s.logger.Warn("bill re-read failed",
				"ledger_bill_id", request.LedgerBillID, "error", err)
			continue
		}
		var status RequestStatus
		switch view.Status {
		case ledger.BillPaid:
			status = RequestConfirmed
		case ledger.BillRejected:
			status = RequestRejected
		default:
			continue
		}
		if err := s.store.ResolveRequest(ctx, request.ID, status); err != nil {
			s.logger.Warn("pending request resolution failed",
				"ledger_bill_id", request.LedgerBillID, "error", err)
			continue
		}
		s.logger.Info("pending request resolved",
			"ledger_bill_id", request.LedgerBillID, "status", status)
		resolved++
	}
	return resolved
}

func (s *Synchronizer) syncWallet(ctx context.Context, w Wallet) error {
	amount, err := s.balances.TokenBalance(ctx, common.HexToAddress(w.Address), s.kind)
	if err != nil {
		return err
	}
	return s.store.UpdateWalletBalance(ctx, w.ID, amount.Float64())
}
