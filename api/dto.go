/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the wire contract from
  the engine's domain types. Transfer results and history entries already
  carry their JSON shape on the domain types; this file holds the request
  bodies and the error envelope.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response: response wrappers

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import "github.com/warp/wallet-engine/wallet"

// TransferBody is the request body shared by topup, bonus and purchase.
// The Idempotency-Key header takes precedence over the body field.
type TransferBody struct {
	AssetCode      string            `json:"asset_code"`
	Amount         int64             `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreateAssetRequest registers a new asset type.
type CreateAssetRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CreateWalletRequest creates a wallet for an existing user account.
type CreateWalletRequest struct {
	UserID    string `json:"user_id"`
	AssetCode string `json:"asset_code"`
}

// AssetResponse describes an asset type.
type AssetResponse struct {
	ID       int16  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// AccountResponse describes an account.
type AccountResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// WalletResponse describes a wallet.
type WalletResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	AssetCode string `json:"asset_code"`
	Balance   int64  `json:"balance"`
}

// BalancesResponse wraps GetBalance output.
type BalancesResponse struct {
	UserID   string            `json:"user_id"`
	Balances []*wallet.Balance `json:"balances"`
}

// HistoryResponse wraps GetTransactions output.
type HistoryResponse struct {
	UserID       string                 `json:"user_id"`
	Transactions []*wallet.HistoryEntry `json:"transactions"`
}

// ErrorResponse is the structured failure envelope: stable machine code,
// human message, and per-kind context fields.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	WalletID  string `json:"wallet_id,omitempty"`
	Requested int64  `json:"requested,omitempty"`
	Available int64  `json:"available,omitempty"`
	Details   string `json:"details,omitempty"` // dev builds only
}
