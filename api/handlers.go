/*
handlers.go - HTTP handlers for the wallet service

PURPOSE:
  Exposes the transfer engine over REST. Handlers parse and validate the
  HTTP shape, delegate to the engine, and translate the error taxonomy into
  status codes.

ENDPOINTS:
  Users:
    POST /api/users/{id}/topup        Credit the user's wallet from Treasury
    POST /api/users/{id}/bonus        Grant a bonus from Treasury
    POST /api/users/{id}/purchase     Spend from the user's wallet into Revenue
    GET  /api/users/{id}/balance      Wallet balances (all assets or one)
    GET  /api/users/{id}/transactions Ledger-joined history, newest first

  Admin:
    POST /api/admin/assets            Register an asset type (+ system wallets)
    POST /api/admin/accounts          Mint a user account
    POST /api/admin/wallets           Create a user wallet

ERROR HANDLING:
  Failures are the engine's structured taxonomy rendered as JSON:
  {code, message, retryable?, wallet_id?, requested?, available?}. Status
  comes from wallet.HTTPStatus. Internal failures expose details only in
  dev mode.

SEE ALSO:
  - dto.go:    request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/wallet-engine/wallet"
)

// Handler holds the handlers' dependencies.
type Handler struct {
	Engine *wallet.Engine

	// DevMode includes raw error details in responses.
	DevMode bool
}

func NewHandler(engine *wallet.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.Engine.TopUp)
}

func (h *Handler) IssueBonus(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.Engine.IssueBonus)
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.Engine.Purchase)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, req wallet.TransferRequest) (*wallet.TransferResult, error)) {
	var body TransferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, wallet.Validationf("invalid request body"))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = body.IdempotencyKey
	}

	result, err := op(r.Context(), wallet.TransferRequest{
		UserID:         chi.URLParam(r, "id"),
		AssetCode:      body.AssetCode,
		Amount:         body.Amount,
		IdempotencyKey: key,
		Description:    body.Description,
		Metadata:       body.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// =============================================================================
// READ HANDLERS
// =============================================================================

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	balances, err := h.Engine.GetBalance(r.Context(), userID, r.URL.Query().Get("asset_code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesResponse{UserID: userID, Balances: balances})
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	page := wallet.HistoryPage{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	entries, err := h.Engine.GetTransactions(r.Context(), userID, r.URL.Query().Get("asset_code"), page)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{UserID: userID, Transactions: entries})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAsset registers an asset type and provisions its Treasury and
// Revenue wallets.
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, wallet.Validationf("invalid request body"))
		return
	}
	asset, err := h.Engine.EnsureAsset(r.Context(), req.Code, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AssetResponse{
		ID: asset.ID, Code: asset.Code, Name: asset.Name, IsActive: asset.IsActive,
	})
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Engine.CreateUserAccount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AccountResponse{ID: string(acct.ID), Kind: string(acct.Kind)})
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, wallet.Validationf("invalid request body"))
		return
	}
	wlt, err := h.Engine.CreateWallet(r.Context(), req.UserID, req.AssetCode)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, WalletResponse{
		ID:        string(wlt.ID),
		AccountID: string(wlt.AccountID),
		AssetCode: wlt.AssetCode,
		Balance:   wlt.Balance,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var werr *wallet.Error
	if !errors.As(err, &werr) {
		werr = wallet.Classify(err)
	}

	resp := ErrorResponse{
		Code:      string(werr.Code),
		Message:   werr.Message,
		Retryable: werr.Retryable,
		WalletID:  string(werr.WalletID),
		Requested: werr.Requested,
		Available: werr.Available,
	}
	if h.DevMode && werr.Err != nil {
		resp.Details = werr.Err.Error()
	}
	writeJSON(w, wallet.HTTPStatus(werr.Code), resp)
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
