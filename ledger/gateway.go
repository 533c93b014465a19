package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// BillStatus is the domain mapping of the contract's numeric bill status.
type BillStatus string

const (
	BillPending  BillStatus = "PENDING"
	BillPaid     BillStatus = "PAID"
	BillRejected BillStatus = "REJECTED"
)

// BillView is the full on-ledger bill record.
type BillView struct {
	ID                 *big.Int
	Beneficiary        common.Address
	PaymentDestination common.Address
	Sponsor            common.Address
	Amount             Amount
	Description        string
	Status             BillStatus
	CreatedAt          *time.Time
	PaidAt             *time.Time
}

// PendingError carries the hash of a transaction whose confirmation wait
// timed out. The transaction may still confirm later; callers must not treat
// this as a hard failure.
type PendingError struct {
	TxHash common.Hash
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("ledger: submission pending, tx %s", e.TxHash.Hex())
}

func (e *PendingError) Unwrap() error { return ErrSubmissionPending }

// Config captures the gateway's construction parameters.
type Config struct {
	ChainID        uint64
	RelayKey       *ecdsa.PrivateKey
	TokenContract  common.Address
	USDContract    common.Address
	BillContract   common.Address
	Confirmations  uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	GasLimit       uint64
	Logger         *slog.Logger
}

// Gateway owns all interaction with the external ledger: typed reads and
// relay-identity submissions. The relay identity's nonce sequencing is
// serialized internally; concurrent callers never race on ordering.
type Gateway struct {
	client         Client
	chainID        *big.Int
	signer         gethtypes.Signer
	relayKey       *ecdsa.PrivateKey
	relayAddr      common.Address
	tokenContract  common.Address
	usdContract    common.Address
	billContract   common.Address
	confirmations  uint64
	confirmTimeout time.Duration
	pollInterval   time.Duration
	gasLimit       uint64
	logger         *slog.Logger

	submitMu sync.Mutex
}

// New constructs a gateway. Construction fails fast on any missing value.
func New(c Client, cfg Config) (*Gateway, error) {
	if c == nil {
		return nil, fmt.Errorf("ledger: client required")
	}
	if cfg.RelayKey == nil {
		return nil, fmt.Errorf("ledger: relay key required")
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("ledger: chain id required")
	}
	if (cfg.TokenContract == common.Address{}) {
		return nil, fmt.Errorf("ledger: token contract address required")
	}
	if (cfg.BillContract == common.Address{}) {
		return nil, fmt.Errorf("ledger: bill contract address required")
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 3 * time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chainID := new(big.Int).SetUint64(cfg.ChainID)
	return &Gateway{
		client:         c,
		chainID:        chainID,
		signer:         gethtypes.LatestSignerForChainID(chainID),
		relayKey:       cfg.RelayKey,
		relayAddr:      gethcrypto.PubkeyToAddress(cfg.RelayKey.PublicKey),
		tokenContract:  cfg.TokenContract,
		usdContract:    cfg.USDContract,
		billContract:   cfg.BillContract,
		confirmations:  cfg.Confirmations,
		confirmTimeout: confirmTimeout,
		pollInterval:   poll,
		gasLimit:       gasLimit,
		logger:         logger.With("component", "ledger"),
	}, nil
}

// RelayAddress returns the address of the service's relay identity.
func (g *Gateway) RelayAddress() common.Address { return g.relayAddr }

// BillContract returns the bill-payment contract address.
func (g *Gateway) BillContract() common.Address { return g.billContract }

// CreateBill submits a createBill call from the relay identity and waits for
// confirmation.
func (g *Gateway) CreateBill(ctx context.Context, sponsor, destination common.Address, amount Amount, description string) (*gethtypes.Receipt, error) {
	calldata, err := billABI.Pack("createBill", sponsor, destination, amount.Units(), description)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack createBill: %w", err)
	}
	return g.submit(ctx, g.billContract, calldata, nil)
}

// PayBillWithNativeOnBehalf relays a signature-gated native-currency payment.
// The payment amount rides along as transaction value.
func (g *Gateway) PayBillWithNativeOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte, amount Amount) (*gethtypes.Receipt, error) {
	calldata, err := billABI.Pack("payBillWithEthOnBehalf", billID, sponsor, signature)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack payBillWithEthOnBehalf: %w", err)
	}
	return g.submit(ctx, g.billContract, calldata, amount.Units())
}

// PayBillWithTokenOnBehalf relays a signature-gated token payment.
func (g *Gateway) PayBillWithTokenOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte) (*gethtypes.Receipt, error) {
	calldata, err := billABI.Pack("payBillWithTokensOnBehalf", billID, sponsor, signature)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack payBillWithTokensOnBehalf: %w", err)
	}
	return g.submit(ctx, g.billContract, calldata, nil)
}

// RejectBillOnBehalf relays a signature-gated bill rejection.
func (g *Gateway) RejectBillOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte) (*gethtypes.Receipt, error) {
	calldata, err := billABI.Pack("rejectBillOnBehalf", billID, sponsor, signature)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack rejectBillOnBehalf: %w", err)
	}
	return g.submit(ctx, g.billContract, calldata, nil)
}

// submit signs and sends a state-changing call from the relay identity, then
// waits for inclusion plus the configured confirmation depth. Nonce
// assignment and send happen under one lock; once the transaction is on the
// wire, caller cancellation is no longer honored because an in-flight ledger
// transaction can only be awaited.
func (g *Gateway) submit(ctx context.Context, to common.Address, calldata []byte, value *big.Int) (*gethtypes.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.submitMu.Lock()
	nonce, err := g.client.PendingNonceAt(ctx, g.relayAddr)
	if err != nil {
		g.submitMu.Unlock()
		return nil, fmt.Errorf("%w: fetch nonce: %v", ErrSubmissionFailed, err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		g.submitMu.Unlock()
		return nil, fmt.Errorf("%w: suggest gas price: %v", ErrSubmissionFailed, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      g.gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signed, err := gethtypes.SignTx(tx, g.signer, g.relayKey)
	if err != nil {
		g.submitMu.Unlock()
		return nil, fmt.Errorf("%w: sign: %v", ErrSubmissionFailed, err)
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		g.submitMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	g.submitMu.Unlock()

	g.logger.Info("transaction submitted", "tx", signed.Hash().Hex(), "nonce", nonce)
	return g.waitConfirmed(ctx, signed.Hash())
}

// waitConfirmed polls for the receipt and the configured confirmation depth.
// The wait runs on a detached timeout so caller cancellation after send does
// not abandon an in-flight transaction.
func (g *Gateway) waitConfirmed(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	var receipt *gethtypes.Receipt
	for receipt == nil {
		rcpt, err := g.client.TransactionReceipt(waitCtx, txHash)
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if waitCtx.Err() != nil {
				return nil, &PendingError{TxHash: txHash}
			}
			g.logger.Warn("receipt fetch failed", "tx", txHash.Hex(), "error", err)
		}
		if rcpt != nil {
			receipt = rcpt
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, &PendingError{TxHash: txHash}
		case <-ticker.C:
		}
	}

	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: tx %s", ErrReverted, txHash.Hex())
	}

	for g.confirmations > 1 {
		header, err := g.client.HeaderByNumber(waitCtx, nil)
		if err == nil && header != nil && header.Number != nil && receipt.BlockNumber != nil {
			confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
			confirmed.Add(confirmed, big.NewInt(1))
			if confirmed.Cmp(new(big.Int).SetUint64(g.confirmations)) >= 0 {
				break
			}
		}
		select {
		case <-waitCtx.Done():
			return nil, &PendingError{TxHash: txHash}
		case <-ticker.C:
		}
	}
	return receipt, nil
}

// TokenBalance reads the ERC-20 balance for an address. An address with no
// on-chain activity reads as zero, not as an error.
func (g *Gateway) TokenBalance(ctx context.Context, addr common.Address, kind TokenKind) (Amount, error) {
	contract, err := g.tokenContractFor(kind)
	if err != nil {
		return Amount{}, err
	}
	calldata, err := erc20ABI.Pack("balanceOf", addr)
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: pack balanceOf: %w", err)
	}
	data, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: calldata}, nil)
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: balanceOf %s: %w", addr.Hex(), err)
	}
	if len(data) == 0 {
		return AmountFromUnits(nil, kind), nil
	}
	out, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: unpack balanceOf: %w", err)
	}
	units, ok := out[0].(*big.Int)
	if !ok {
		return Amount{}, fmt.Errorf("ledger: unexpected balanceOf result type %T", out[0])
	}
	return AmountFromUnits(units, kind), nil
}

// NativeBalance reads the native-currency balance for an address.
func (g *Gateway) NativeBalance(ctx context.Context, addr common.Address) (Amount, error) {
	units, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return Amount{}, fmt.Errorf("ledger: native balance %s: %w", addr.Hex(), err)
	}
	return AmountFromUnits(units, TokenNative), nil
}

// Bill reads the full on-ledger bill record.
func (g *Gateway) Bill(ctx context.Context, billID *big.Int) (*BillView, error) {
	calldata, err := billABI.Pack("getBill", billID)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack getBill: %w", err)
	}
	data, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.billContract, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: getBill %s: %w", billID, err)
	}
	out, err := billABI.Unpack("getBill", data)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack getBill: %w", err)
	}
	if len(out) != 9 {
		return nil, fmt.Errorf("ledger: unexpected getBill arity %d", len(out))
	}
	rawStatus, _ := out[6].(uint8)
	status, err := mapBillStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	view := &BillView{
		ID:                 out[0].(*big.Int),
		Beneficiary:        out[1].(common.Address),
		PaymentDestination: out[2].(common.Address),
		Sponsor:            out[3].(common.Address),
		Amount:             AmountFromUnits(out[4].(*big.Int), TokenUBK),
		Description:        out[5].(string),
		Status:             status,
		CreatedAt:          unixOrNil(out[7].(*big.Int)),
		PaidAt:             unixOrNil(out[8].(*big.Int)),
	}
	return view, nil
}

// BeneficiaryBills lists ledger bill ids where the address is the beneficiary.
func (g *Gateway) BeneficiaryBills(ctx context.Context, addr common.Address) ([]*big.Int, error) {
	return g.billList(ctx, "getBeneficiaryBills", addr)
}

// SponsorBills lists ledger bill ids where the address is the sponsor.
func (g *Gateway) SponsorBills(ctx context.Context, addr common.Address) ([]*big.Int, error) {
	return g.billList(ctx, "getSponsorBills", addr)
}

func (g *Gateway) billList(ctx context.Context, method string, addr common.Address) ([]*big.Int, error) {
	calldata, err := billABI.Pack(method, addr)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s: %w", method, err)
	}
	data, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.billContract, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s %s: %w", method, addr.Hex(), err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	out, err := billABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w", method, err)
	}
	ids, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: unexpected %s result type %T", method, out[0])
	}
	return ids, nil
}

func (g *Gateway) tokenContractFor(kind TokenKind) (common.Address, error) {
	switch kind {
	case TokenUSD:
		if (g.usdContract == common.Address{}) {
			return common.Address{}, fmt.Errorf("ledger: usd token contract not configured")
		}
		return g.usdContract, nil
	default:
		return g.tokenContract, nil
	}
}

func mapBillStatus(raw uint8) (BillStatus, error) {
	switch raw {
	case 0:
		return BillPending, nil
	case 1:
		return BillPaid, nil
	case 2:
		return BillRejected, nil
	default:
		return "", fmt.Errorf("ledger: unknown bill status %d", raw)
	}
}

func unixOrNil(ts *big.Int) *time.Time {
	if ts == nil || ts.Sign() == 0 {
		return nil
	}
	t := time.Unix(ts.Int64(), 0).UTC()
	return &t
}
