package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type stubClient struct {
	nonce      uint64
	sendErr    error
	receipt    *gethtypes.Receipt
	receiptErr error
	head       *big.Int
	callResult []byte
	callErr    error
	balance    *big.Int
	sent       []*gethtypes.Transaction
}

func (s *stubClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n := s.nonce
	s.nonce++
	return n, nil
}

func (s *stubClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (s *stubClient) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, tx)
	return nil
}

func (s *stubClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	if s.receiptErr != nil {
		return nil, s.receiptErr
	}
	if s.receipt == nil {
		return nil, ethereum.NotFound
	}
	return s.receipt, nil
}

func (s *stubClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	head := s.head
	if head == nil {
		head = big.NewInt(100)
	}
	return &gethtypes.Header{Number: head}, nil
}

func (s *stubClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.callResult, nil
}

func (s *stubClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if s.balance == nil {
		return new(big.Int), nil
	}
	return s.balance, nil
}

func newTestGateway(t *testing.T, c Client) *Gateway {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	gw, err := New(c, Config{
		ChainID:        1337,
		RelayKey:       key,
		TokenContract:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		USDContract:    common.HexToAddress("0x00000000000000000000000000000000000000a2"),
		BillContract:   common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		Confirmations:  1,
		ConfirmTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestNewGatewayRequiresRelayKey(t *testing.T) {
	_, err := New(&stubClient{}, Config{ChainID: 1})
	if err == nil {
		t.Fatal("expected construction to fail without a relay key")
	}
}

func TestSubmitSuccess(t *testing.T) {
	client := &stubClient{
		receipt: &gethtypes.Receipt{
			Status:      gethtypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(10),
		},
	}
	gw := newTestGateway(t, client)

	amount, _ := ParseAmount("10.5", TokenUBK)
	receipt, err := gw.CreateBill(context.Background(),
		common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), amount, "rent")
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		t.Fatal("expected successful receipt")
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected 1 transaction sent, got %d", len(client.sent))
	}
	if client.sent[0].To() == nil || *client.sent[0].To() != gw.BillContract() {
		t.Fatal("transaction not addressed to bill contract")
	}
}

func TestSubmitNativeValueAttached(t *testing.T) {
	client := &stubClient{
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)},
	}
	gw := newTestGateway(t, client)

	amount, _ := ParseAmount("1.5", TokenNative)
	sig := make([]byte, 65)
	if _, err := gw.PayBillWithNativeOnBehalf(context.Background(), big.NewInt(7), common.HexToAddress("0xaa"), sig, amount); err != nil {
		t.Fatalf("pay native: %v", err)
	}
	if client.sent[0].Value().Cmp(amount.Units()) != 0 {
		t.Fatalf("tx value = %s, want %s", client.sent[0].Value(), amount.Units())
	}
}

func TestSubmitNetworkRejection(t *testing.T) {
	client := &stubClient{sendErr: errors.New("nonce too low")}
	gw := newTestGateway(t, client)

	amount, _ := ParseAmount("1", TokenUBK)
	_, err := gw.CreateBill(context.Background(), common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), amount, "x")
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestSubmitRevert(t *testing.T) {
	client := &stubClient{
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(10)},
	}
	gw := newTestGateway(t, client)

	_, err := gw.RejectBillOnBehalf(context.Background(), big.NewInt(1), common.HexToAddress("0xaa"), make([]byte, 65))
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	client := &stubClient{} // receipt never appears
	key, _ := gethcrypto.GenerateKey()
	gw, err := New(client, Config{
		ChainID:        1337,
		RelayKey:       key,
		TokenContract:  common.HexToAddress("0xa1"),
		BillContract:   common.HexToAddress("0xb1"),
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	_, err = gw.RejectBillOnBehalf(context.Background(), big.NewInt(1), common.HexToAddress("0xaa"), make([]byte, 65))
	if !errors.Is(err, ErrSubmissionPending) {
		t.Fatalf("expected ErrSubmissionPending, got %v", err)
	}
	var pending *PendingError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingError, got %T", err)
	}
	if (pending.TxHash == common.Hash{}) {
		t.Fatal("pending error must carry the tx hash")
	}
}

func TestSubmitHonorsCancellationBeforeSend(t *testing.T) {
	client := &stubClient{}
	gw := newTestGateway(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	amount, _ := ParseAmount("1", TokenUBK)
	if _, err := gw.CreateBill(ctx, common.HexToAddress("0xaa"), common.HexToAddress("0xbb"), amount, "x"); err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(client.sent) != 0 {
		t.Fatal("no transaction should be sent after cancellation")
	}
}

func TestTokenBalance(t *testing.T) {
	units, _ := new(big.Int).SetString("2500000000000000000", 10) // 2.5 at 18 decimals
	encoded, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(units)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	gw := newTestGateway(t, &stubClient{callResult: encoded})

	amount, err := gw.TokenBalance(context.Background(), common.HexToAddress("0xaa"), TokenUBK)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if amount.String() != "2.5" {
		t.Fatalf("balance = %s, want 2.5", amount)
	}
}

func TestTokenBalanceUnseenAddressIsZero(t *testing.T) {
	gw := newTestGateway(t, &stubClient{callResult: nil})
	amount, err := gw.TokenBalance(context.Background(), common.HexToAddress("0xcc"), TokenUBK)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if !amount.IsZero() {
		t.Fatalf("expected zero balance, got %s", amount)
	}
}

func TestBillStatusMapping(t *testing.T) {
	createdAt := big.NewInt(1_700_000_000)
	encoded, err := billABI.Methods["getBill"].Outputs.Pack(
		big.NewInt(42),
		common.HexToAddress("0xaa"),
		common.HexToAddress("0xbb"),
		common.HexToAddress("0xcc"),
		big.NewInt(1_000_000),
		"rent",
		uint8(1),
		createdAt,
		big.NewInt(0),
	)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	gw := newTestGateway(t, &stubClient{callResult: encoded})

	view, err := gw.Bill(context.Background(), big.NewInt(42))
	if err != nil {
		t.Fatalf("bill: %v", err)
	}
	if view.Status != BillPaid {
		t.Fatalf("status = %s, want PAID", view.Status)
	}
	if view.CreatedAt == nil || view.CreatedAt.Unix() != createdAt.Int64() {
		t.Fatal("createdAt not mapped")
	}
	if view.PaidAt != nil {
		t.Fatal("zero paidAt must map to nil, not the epoch")
	}
}
