// Package server exposes the relay's HTTP surface: wallet registration, bill
// creation, delegated payment and rejection, ledger reads and the manual
// sweep trigger.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billrelay/ledger"
	"billrelay/mirror"
	"billrelay/relay"
)

// Relayer is the delegated submission surface the server drives.
type Relayer interface {
	CreateBill(ctx context.Context, in relay.CreateBillInput) (*relay.CreateBillResult, error)
	PayWithNative(ctx context.Context, in relay.PayNativeInput) (*relay.ActionResult, error)
	PayWithToken(ctx context.Context, in relay.PayTokenInput) (*relay.ActionResult, error)
	Reject(ctx context.Context, in relay.RejectInput) (*relay.ActionResult, error)
}

// LedgerReader is the read-only ledger surface behind the GET endpoints.
type LedgerReader interface {
	Bill(ctx context.Context, billID *big.Int) (*ledger.BillView, error)
	BeneficiaryBills(ctx context.Context, addr common.Address) ([]*big.Int, error)
	SponsorBills(ctx context.Context, addr common.Address) ([]*big.Int, error)
	NativeBalance(ctx context.Context, addr common.Address) (ledger.Amount, error)
	TokenBalance(ctx context.Context, addr common.Address, kind ledger.TokenKind) (ledger.Amount, error)
}

// Syncer triggers a balance sweep on demand.
type Syncer interface {
	Sync(ctx context.Context) (*mirror.SyncReport, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Store  *mirror.Store
	Relay  Relayer
	Ledger LedgerReader
	Syncer Syncer
	Logger *slog.Logger
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	store  *mirror.Store
	relay  Relayer
	ledger LedgerReader
	syncer Syncer
	logger *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		store:  cfg.Store,
		relay:  cfg.Relay,
		ledger: cfg.Ledger,
		syncer: cfg.Syncer,
		logger: logger.With("component", "server"),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/wallets", s.ConnectWallet)
		api.Get("/wallets/{address}/balances", s.GetBalances)
		api.Post("/bills", s.CreateLocalBill)
		api.Get("/bills", s.ListBills)
		api.Get("/bills/{ledgerBillID}", s.GetBill)
		api.Post("/requests", s.CreateRequest)
		api.Post("/requests/{ledgerBillID}/pay-native", s.PayNative)
		api.Post("/requests/{ledgerBillID}/pay-token", s.PayToken)
		api.Post("/requests/{ledgerBillID}/reject", s.Reject)
		api.Post("/sync", s.RunSync)
	})
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses. A confirmation timeout is
// not an error to the caller: the transaction is in flight, so the response
// is 202 with the hash to poll.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var pending *ledger.PendingError
	if errors.As(err, &pending) {
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "PENDING",
			"tx_hash": pending.TxHash.Hex(),
		})
		return
	}
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrInvalidInput), errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, mirror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mirror.ErrWalletExists),
		errors.Is(err, mirror.ErrAddressInUse),
		errors.Is(err, mirror.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrSubmissionFailed), errors.Is(err, ledger.ErrEventNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type connectWalletRequest struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
}

// ConnectWallet binds a user to an existing ledger address.
func (s *Server) ConnectWallet(w http.ResponseWriter, r *http.Request) {
	var payload connectWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(payload.Address) {
		http.Error(w, "address is not a valid hex address", http.StatusBadRequest)
		return
	}
	wallet, err := s.store.ConnectWallet(r.Context(), payload.UserID, payload.Address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wallet)
}

// GetBalances reads an address's native and token balances from the ledger.
func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		http.Error(w, "address is not a valid hex address", http.StatusBadRequest)
		return
	}
	addr := common.HexToAddress(address)

	native, err := s.ledger.NativeBalance(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.ledger.TokenBalance(r.Context(), addr, ledger.TokenUBK)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"native":  native.String(),
		"token":   token.String(),
	})
}

type createBillRequest struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

// CreateLocalBill records a bill in the mirror without touching the ledger.
func (s *Server) CreateLocalBill(w http.ResponseWriter, r *http.Request) {
	var payload createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.UserID) == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if payload.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	bill := &mirror.Bill{
		UserID:      payload.UserID,
		Amount:      payload.Amount,
		Description: payload.Description,
		Status:      string(ledger.BillPending),
	}
	if err := s.store.CreateBill(r.Context(), bill); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, bill)
}

type createRequestPayload struct {
	BillID      string `json:"bill_id"`
	Sponsor     string `json:"sponsor"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// CreateRequest places a new bill on the ledger via the relay identity.
func (s *Server) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.relay.CreateBill(r.Context(), relay.CreateBillInput{
		BillID:      payload.BillID,
		Sponsor:     payload.Sponsor,
		Destination: payload.Destination,
		Amount:      payload.Amount,
		Description: payload.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

type payNativePayload struct {
	Sponsor   string `json:"sponsor"`
	Signature string `json:"signature"`
	Amount    string `json:"amount"`
}

// PayNative relays a native-currency payment authorization.
func (s *Server) PayNative(w http.ResponseWriter, r *http.Request) {
	var payload payNativePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.relay.PayWithNative(r.Context(), relay.PayNativeInput{
		LedgerBillID: chi.URLParam(r, "ledgerBillID"),
		Sponsor:      payload.Sponsor,
		Signature:    payload.Signature,
		Amount:       payload.Amount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type payTokenPayload struct {
	Sponsor   string `json:"sponsor"`
	Signature string `json:"signature"`
	Token     string `json:"token"`
}

// PayToken relays a token payment authorization.
func (s *Server) PayToken(w http.ResponseWriter, r *http.Request) {
	var payload payTokenPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.relay.PayWithToken(r.Context(), relay.PayTokenInput{
		LedgerBillID: chi.URLParam(r, "ledgerBillID"),
		Sponsor:      payload.Sponsor,
		Signature:    payload.Signature,
		Token:        payload.Token,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type rejectPayload struct {
	Sponsor   string `json:"sponsor"`
	Signature string `json:"signature"`
}

// Reject relays a bill rejection authorization.
func (s *Server) Reject(w http.ResponseWriter, r *http.Request) {
	var payload rejectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	result, err := s.relay.Reject(r.Context(), relay.RejectInput{
		LedgerBillID: chi.URLParam(r, "ledgerBillID"),
		Sponsor:      payload.Sponsor,
		Signature:    payload.Signature,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type billResponse struct {
	ID                 string  `json:"id"`
	Beneficiary        string  `json:"beneficiary"`
	PaymentDestination string  `json:"payment_destination"`
	Sponsor            string  `json:"sponsor"`
	Amount             string  `json:"amount"`
	Description        string  `json:"description"`
	Status             string  `json:"status"`
	CreatedAt          *string `json:"created_at"`
	PaidAt             *string `json:"paid_at"`
}

// GetBill reads one bill straight from the ledger.
func (s *Server) GetBill(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ledgerBillID")
	billID, ok := new(big.Int).SetString(raw, 10)
	if !ok || billID.Sign() < 0 {
		http.Error(w, "invalid bill id", http.StatusBadRequest)
		return
	}
	view, err := s.ledger.Bill(r.Context(), billID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, billToResponse(view))
}

// ListBills lists ledger bill ids for an address, as beneficiary or sponsor.
func (s *Server) ListBills(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if !common.IsHexAddress(address) {
		http.Error(w, "address is not a valid hex address", http.StatusBadRequest)
		return
	}
	addr := common.HexToAddress(address)

	var (
		ids []*big.Int
		err error
	)
	switch role := strings.ToLower(r.URL.Query().Get("role")); role {
	case "", "beneficiary":
		ids, err = s.ledger.BeneficiaryBills(r.Context(), addr)
	case "sponsor":
		ids, err = s.ledger.SponsorBills(r.Context(), addr)
	default:
		http.Error(w, "role must be beneficiary or sponsor", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bill_ids": out})
}

type syncResponse struct {
	Total    int      `json:"total"`
	Synced   int      `json:"synced"`
	Resolved int      `json:"resolved"`
	Failures []string `json:"failures"`
}

// RunSync triggers a balance sweep and reports the result.
func (s *Server) RunSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := syncResponse{
		Total:    report.Total,
		Synced:   report.Synced,
		Resolved: report.Resolved,
		Failures: make([]string, 0, len(report.Failures)),
	}
	for _, failure := range report.Failures {
		resp.Failures = append(resp.Failures, failure.Address)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func billToResponse(view *ledger.BillView) billResponse {
	resp := billResponse{
		ID:                 view.ID.String(),
		Beneficiary:        view.Beneficiary.Hex(),
		PaymentDestination: view.PaymentDestination.Hex(),
		Sponsor:            view.Sponsor.Hex(),
		Amount:             view.Amount.String(),
		Description:        view.Description,
		Status:             string(view.Status),
	}
	if view.CreatedAt != nil {
		s := view.CreatedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CreatedAt = &s
	}
	if view.PaidAt != nil {
		s := view.PaidAt.Format("2006-01-02T15:04:05Z07:00")
		resp.PaidAt = &s
	}
	return resp
}
