package mirror

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"billrelay/ledger"
)

func TestSyncPartialFailure(t *testing.T) {
	db := setupMirrorDB(t)
	store := NewStore(db)
	ctx := context.Background()

	balances := &stubBalances{balances: map[string]ledger.Amount{}, errs: map[string]error{}}
	for i := 0; i < 5; i++ {
		addr := fmt.Sprintf("0x00000000000000000000000000000000000000%02d", i+10)
		wallet := &Wallet{ID: uuid.New(), UserID: fmt.Sprintf("user-%d", i), Address: addr}
		if err := db.Create(wallet).Error; err != nil {
			t.Fatalf("seed wallet: %v", err)
		}
		key := common.HexToAddress(addr).Hex()
		if i == 2 {
			balances.errs[key] = errors.New("rpc timeout")
			continue
		}
		balances.balances[key] = mustAmount(t, fmt.Sprintf("%d.5", i), ledger.TokenUBK)
	}

	sync := NewSynchronizer(store, balances, nil, ledger.TokenUBK, 3, nil)
	report, err := sync.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if report.Total != 5 {
		t.Fatalf("total = %d, want 5", report.Total)
	}
	if report.Synced != 4 {
		t.Fatalf("synced = %d, want 4", report.Synced)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(report.Failures))
	}
	if report.Failures[0].Address != "0x0000000000000000000000000000000000000012" {
		t.Fatalf("failed address = %s", report.Failures[0].Address)
	}

	// The failed wallet keeps its prior balance; the others are updated.
	wallets, err := store.Wallets(ctx)
	if err != nil {
		t.Fatalf("list wallets: %v", err)
	}
	for i, w := range wallets {
		if i == 2 {
			if w.TokenBalance != 0 {
				t.Fatalf("failed wallet balance = %v, want untouched 0", w.TokenBalance)
			}
			continue
		}
		want := float64(i) + 0.5
		if w.TokenBalance != want {
			t.Fatalf("wallet %d balance = %v, want %v", i, w.TokenBalance, want)
		}
	}
}

func TestSyncEmptyMirror(t *testing.T) {
	sync := NewSynchronizer(NewStore(setupMirrorDB(t)), &stubBalances{}, nil, ledger.TokenUBK, 2, nil)
	report, err := sync.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Total != 0 || report.Synced != 0 || len(report.Failures) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

type stubBills struct {
	views map[string]*ledger.BillView
}

func (s *stubBills) Bill(ctx context.Context, billID *big.Int) (*ledger.BillView, error) {
	if view, ok := s.views[billID.String()]; ok {
		return view, nil
	}
	return nil, errors.New("bill not found")
}

func TestSyncResolvesTimedOutRequests(t *testing.T) {
	db := setupMirrorDB(t)
	store := NewStore(db)
	ctx := context.Background()

	paidBill := &Bill{ID: uuid.New(), UserID: "user-1", Amount: 10.5, Status: "PENDING"}
	if err := db.Create(paidBill).Error; err != nil {
		t.Fatalf("seed bill: %v", err)
	}
	seedRequest(t, db, "42", &paidBill.ID)
	stillPending := seedRequest(t, db, "43", nil)

	// Bill 42 confirmed on the ledger after the original wait timed out;
	// bill 43 is genuinely still open.
	bills := &stubBills{views: map[string]*ledger.BillView{
		"42": {ID: big.NewInt(42), Status: ledger.BillPaid},
		"43": {ID: big.NewInt(43), Status: ledger.BillPending},
	}}

	sync := NewSynchronizer(store, &stubBalances{}, bills, ledger.TokenUBK, 2, nil)
	report, err := sync.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Resolved != 1 {
		t.Fatalf("resolved = %d, want 1", report.Resolved)
	}

	resolved, err := store.RequestByLedgerBillID(ctx, "42")
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	if resolved.Status != RequestConfirmed {
		t.Fatalf("request status = %s, want CONFIRMED", resolved.Status)
	}
	var reloadedBill Bill
	if err := db.First(&reloadedBill, "id = ?", paidBill.ID).Error; err != nil {
		t.Fatalf("reload bill: %v", err)
	}
	if reloadedBill.Status != "PAID" {
		t.Fatalf("bill status = %s, want PAID", reloadedBill.Status)
	}

	open, err := store.RequestByID(ctx, stillPending.ID)
	if err != nil {
		t.Fatalf("reload open request: %v", err)
	}
	if open.Status != RequestPending {
		t.Fatalf("open request status = %s, want PENDING", open.Status)
	}
}
