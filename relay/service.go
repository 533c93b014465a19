// Package relay implements delegated transaction submission: callers prove
// authorization with a wallet signature, the service relays the action to the
// ledger under its own identity, and confirmed outcomes are reconciled into
// the mirror.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"billrelay/ledger"
	"billrelay/mirror"
	"billrelay/observability"
	"billrelay/observability/logging"
	"billrelay/sign"
)

// Gateway is the subset of ledger operations the submitter drives.
type Gateway interface {
	CreateBill(ctx context.Context, sponsor, destination common.Address, amount ledger.Amount, description string) (*gethtypes.Receipt, error)
	PayBillWithNativeOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte, amount ledger.Amount) (*gethtypes.Receipt, error)
	PayBillWithTokenOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte) (*gethtypes.Receipt, error)
	RejectBillOnBehalf(ctx context.Context, billID *big.Int, sponsor common.Address, signature []byte) (*gethtypes.Receipt, error)
	BillContract() common.Address
	RelayAddress() common.Address
}

// CreateBillInput places an existing bill record on the ledger. The bill row
// itself is created by the CRUD surface; the request links to it by id.
type CreateBillInput struct {
	BillID      string
	Sponsor     string
	Destination string
	Amount      string
	Description string
}

// CreateBillResult reports a confirmed bill creation.
type CreateBillResult struct {
	TxHash       string
	LedgerBillID string
	BillID       uuid.UUID
	RequestID    uuid.UUID
}

// PayNativeInput authorizes a native-currency payment on behalf of a sponsor.
type PayNativeInput struct {
	LedgerBillID string
	Sponsor      string
	Signature    string
	Amount       string
}

// PayTokenInput authorizes a token payment on behalf of a sponsor.
type PayTokenInput struct {
	LedgerBillID string
	Sponsor      string
	Signature    string
	Token        string
}

// RejectInput authorizes a bill rejection on behalf of a sponsor.
type RejectInput struct {
	LedgerBillID string
	Sponsor      string
	Signature    string
}

// ActionResult reports a confirmed on-behalf submission.
type ActionResult struct {
	TxHash string
}

// Service validates and relays delegated actions. Authorization is checked
// before anything touches the network; ledger outcomes flow through the
// reconciliation writer exactly once.
type Service struct {
	gateway Gateway
	writer  *mirror.Writer
	store   *mirror.Store
	metrics *observability.RelayMetrics
	logger  *slog.Logger
}

// NewService constructs the submitter.
func NewService(gateway Gateway, writer *mirror.Writer, store *mirror.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gateway: gateway,
		writer:  writer,
		store:   store,
		metrics: observability.Relay(),
		logger:  logger.With("component", "relay"),
	}
}

// CreateBill places an existing bill on the ledger and records the resulting
// request. The ledger assigns the bill identifier, recovered from the
// BillCreated event. No mirror state is written until the submission
// confirms, so a failed submission leaves the bill untouched.
func (s *Service) CreateBill(ctx context.Context, in CreateBillInput) (*CreateBillResult, error) {
	start := time.Now()

	localBillID, err := uuid.Parse(strings.TrimSpace(in.BillID))
	if err != nil {
		s.metrics.RecordError("create_bill", "invalid_input")
		return nil, fmt.Errorf("%w: bill id %q", ErrInvalidInput, in.BillID)
	}
	sponsor, err := parseAddress(in.Sponsor)
	if err != nil {
		s.metrics.RecordError("create_bill", "invalid_input")
		return nil, err
	}
	destination, err := parseAddress(in.Destination)
	if err != nil {
		s.metrics.RecordError("create_bill", "invalid_input")
		return nil, err
	}
	amount, err := ledger.ParseAmount(in.Amount, ledger.TokenUBK)
	if err != nil {
		s.metrics.RecordError("create_bill", "invalid_amount")
		return nil, err
	}
	if amount.IsZero() {
		s.metrics.RecordError("create_bill", "invalid_amount")
		return nil, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}

	bill, err := s.store.BillByID(ctx, localBillID)
	if err != nil {
		s.metrics.RecordError("create_bill", "unknown_bill")
		return nil, err
	}

	receipt, err := s.gateway.CreateBill(ctx, sponsor, destination, amount, in.Description)
	s.metrics.Observe("create_bill", time.Since(start), err)
	if err != nil {
		s.metrics.RecordError("create_bill", "submission")
		return nil, err
	}
	event, err := ledger.DecodeBillCreated(receipt, s.gateway.BillContract())
	if err != nil {
		s.metrics.RecordError("create_bill", "missing_event")
		return nil, err
	}

	request, err := s.writer.RecordCreation(ctx, mirror.Creation{
		TxHash:       receipt.TxHash,
		LedgerBillID: event.BillID.String(),
		BillID:       &bill.ID,
		Amount:       amount,
		Sponsor:      sponsor,
		PaymentType:  mirror.PaymentNative,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bill created",
		"ledger_bill_id", event.BillID.String(),
		"tx", receipt.TxHash.Hex(),
		"sponsor", sponsor.Hex())
	return &CreateBillResult{
		TxHash:       receipt.TxHash.Hex(),
		LedgerBillID: event.BillID.String(),
		BillID:       bill.ID,
		RequestID:    request.ID,
	}, nil
}

// PayWithNative relays a signature-gated native-currency payment.
func (s *Service) PayWithNative(ctx context.Context, in PayNativeInput) (*ActionResult, error) {
	start := time.Now()

	sponsor, billID, sig, err := s.parseAction(in.LedgerBillID, in.Sponsor, in.Signature)
	if err != nil {
		s.metrics.RecordError("pay_native", "invalid_input")
		return nil, err
	}
	amount, err := ledger.ParseAmount(in.Amount, ledger.TokenNative)
	if err != nil {
		s.metrics.RecordError("pay_native", "invalid_amount")
		return nil, err
	}

	digest := sign.PayNativeDigest(in.LedgerBillID, amount.Units(), sponsor)
	if !sign.Verify(digest, sponsor, sig) {
		s.metrics.RecordError("pay_native", "unauthorized")
		s.logger.Warn("authorization failed",
			"action", "pay_native", "ledger_bill_id", in.LedgerBillID,
			"sponsor", sponsor.Hex(), "signature", logging.Abbrev(in.Signature))
		return nil, fmt.Errorf("%w: bill %s sponsor %s", ErrUnauthorized, in.LedgerBillID, sponsor.Hex())
	}

	receipt, err := s.gateway.PayBillWithNativeOnBehalf(ctx, billID, sponsor, sig, amount)
	s.metrics.Observe("pay_native", time.Since(start), err)
	if err != nil {
		s.metrics.RecordError("pay_native", "submission")
		return nil, err
	}

	if err := s.writer.Apply(ctx, mirror.Outcome{
		TxHash:       receipt.TxHash,
		From:         s.gateway.RelayAddress(),
		To:           s.gateway.BillContract(),
		Amount:       amount,
		LedgerBillID: in.LedgerBillID,
		Status:       mirror.RequestConfirmed,
		PaymentType:  mirror.PaymentNative,
		Sponsor:      sponsor,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("bill paid with native currency",
		"ledger_bill_id", in.LedgerBillID, "tx", receipt.TxHash.Hex())
	return &ActionResult{TxHash: receipt.TxHash.Hex()}, nil
}

// PayWithToken relays a signature-gated token payment. The payment amount
// lives in the bill record on the ledger; only the authorization travels.
func (s *Service) PayWithToken(ctx context.Context, in PayTokenInput) (*ActionResult, error) {
	start := time.Now()

	sponsor, billID, sig, err := s.parseAction(in.LedgerBillID, in.Sponsor, in.Signature)
	if err != nil {
		s.metrics.RecordError("pay_token", "invalid_input")
		return nil, err
	}
	kind, err := parseTokenKind(in.Token)
	if err != nil {
		s.metrics.RecordError("pay_token", "invalid_input")
		return nil, err
	}

	digest := sign.ActionDigest(in.LedgerBillID, sponsor)
	if !sign.Verify(digest, sponsor, sig) {
		s.metrics.RecordError("pay_token", "unauthorized")
		s.logger.Warn("authorization failed",
			"action", "pay_token", "ledger_bill_id", in.LedgerBillID,
			"sponsor", sponsor.Hex(), "signature", logging.Abbrev(in.Signature))
		return nil, fmt.Errorf("%w: bill %s sponsor %s", ErrUnauthorized, in.LedgerBillID, sponsor.Hex())
	}

	receipt, err := s.gateway.PayBillWithTokenOnBehalf(ctx, billID, sponsor, sig)
	s.metrics.Observe("pay_token", time.Since(start), err)
	if err != nil {
		s.metrics.RecordError("pay_token", "submission")
		return nil, err
	}

	if err := s.writer.Apply(ctx, mirror.Outcome{
		TxHash:       receipt.TxHash,
		From:         s.gateway.RelayAddress(),
		To:           s.gateway.BillContract(),
		Amount:       ledger.AmountFromUnits(nil, kind),
		LedgerBillID: in.LedgerBillID,
		Status:       mirror.RequestConfirmed,
		PaymentType:  mirror.PaymentToken,
		Sponsor:      sponsor,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("bill paid with tokens",
		"ledger_bill_id", in.LedgerBillID, "tx", receipt.TxHash.Hex())
	return &ActionResult{TxHash: receipt.TxHash.Hex()}, nil
}

// Reject relays a signature-gated bill rejection.
func (s *Service) Reject(ctx context.Context, in RejectInput) (*ActionResult, error) {
	start := time.Now()

	sponsor, billID, sig, err := s.parseAction(in.LedgerBillID, in.Sponsor, in.Signature)
	if err != nil {
		s.metrics.RecordError("reject", "invalid_input")
		return nil, err
	}

	digest := sign.ActionDigest(in.LedgerBillID, sponsor)
	if !sign.Verify(digest, sponsor, sig) {
		s.metrics.RecordError("reject", "unauthorized")
		s.logger.Warn("authorization failed",
			"action", "reject", "ledger_bill_id", in.LedgerBillID,
			"sponsor", sponsor.Hex(), "signature", logging.Abbrev(in.Signature))
		return nil, fmt.Errorf("%w: bill %s sponsor %s", ErrUnauthorized, in.LedgerBillID, sponsor.Hex())
	}

	receipt, err := s.gateway.RejectBillOnBehalf(ctx, billID, sponsor, sig)
	s.metrics.Observe("reject", time.Since(start), err)
	if err != nil {
		s.metrics.RecordError("reject", "submission")
		return nil, err
	}

	if err := s.writer.Apply(ctx, mirror.Outcome{
		TxHash:       receipt.TxHash,
		From:         s.gateway.RelayAddress(),
		To:           s.gateway.BillContract(),
		LedgerBillID: in.LedgerBillID,
		Status:       mirror.RequestRejected,
		Sponsor:      sponsor,
	}); err != nil {
		return nil, err
	}
	s.logger.Info("bill rejected",
		"ledger_bill_id", in.LedgerBillID, "tx", receipt.TxHash.Hex())
	return &ActionResult{TxHash: receipt.TxHash.Hex()}, nil
}

func (s *Service) parseAction(ledgerBillID, sponsor, signature string) (common.Address, *big.Int, []byte, error) {
	addr, err := parseAddress(sponsor)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	billID, err := parseBillID(ledgerBillID)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	sig, err := parseSignature(signature)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return addr, billID, sig, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: address %q", ErrInvalidInput, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseBillID(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	id, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: bill id %q", ErrInvalidInput, raw)
	}
	return id, nil
}

func parseSignature(raw string) ([]byte, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrInvalidInput, err)
	}
	if len(sig) != gethcrypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature length %d", ErrInvalidInput, len(sig))
	}
	return sig, nil
}

func parseTokenKind(raw string) (ledger.TokenKind, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "UBK":
		return ledger.TokenUBK, nil
	case "USD":
		return ledger.TokenUSD, nil
	default:
		return "", fmt.Errorf("%w: token %q", ErrInvalidInput, raw)
	}
}
