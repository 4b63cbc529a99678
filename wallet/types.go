/*
Package wallet implements the transaction execution engine for the
virtual-currency wallet service.

PURPOSE:
  This package contains the domain model and the transfer engine: balance
  containers per (account, asset), double-entry ledger writes, pessimistic
  row locking in a deterministic global order, and at-most-once semantics
  via idempotency keys.

KEY CONCEPTS IN THIS FILE (types.go):
  - AssetType: A kind of virtual currency ("GOLD_COINS", "DIAMONDS")
  - Account:   Owner of wallets; User or System (Treasury, Revenue)
  - Wallet:    Per-account, per-asset balance container
  - Transaction / LedgerEntry: Double-entry record of every value movement
  - TransferResult: The payload returned by every transfer operation

DESIGN PRINCIPLES:
  1. Integer money: all amounts and balances are signed 64-bit integers in
     the asset's smallest unit. No floating point anywhere.
  2. Immutability: transactions and ledger entries are written once and
     never updated or deleted.
  3. Double entry: every transfer produces exactly one Debit and one Credit
     of equal magnitude, so value is conserved globally per asset.
  4. Opaque ids: identifiers are UUID strings; their byte order defines the
     global lock-acquisition order.

SEE ALSO:
  - engine.go: Public transfer operations
  - ledger.go: Balance mutation and ledger append
  - store.go:  Persistence contract
*/
package wallet

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type WalletID string
type TransactionID string

// Well-known system accounts. Treasury is the single source of newly issued
// value; Revenue accumulates spent value. Both wallets allow negative balances.
const (
	TreasuryAccountID AccountID = "00000000-0000-0000-0000-000000000001"
	RevenueAccountID  AccountID = "00000000-0000-0000-0000-000000000002"
)

// NewID mints a fresh opaque identifier.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ASSET TYPES AND ACCOUNTS
// =============================================================================

// AssetType is a kind of virtual currency with a stable short code.
// Created administratively; referenced forever once used.
type AssetType struct {
	ID       int16
	Code     string
	Name     string
	IsActive bool
}

type AccountKind string

const (
	AccountUser   AccountKind = "user"
	AccountSystem AccountKind = "system"
)

type Account struct {
	ID       AccountID
	Kind     AccountKind
	IsActive bool
}

// =============================================================================
// WALLET - per-account, per-asset balance container
// =============================================================================

// Wallet holds the balance for one (account, asset) pair. At most one wallet
// exists per pair. Balance and Version are mutated only by the ledger writer,
// under an exclusive row lock. AllowNegative is true only for system wallets.
type Wallet struct {
	ID            WalletID
	AccountID     AccountID
	AssetTypeID   int16
	AssetCode     string
	Balance       int64
	AllowNegative bool
	Version       int64
}

// =============================================================================
// TRANSACTION AND LEDGER ENTRIES
// =============================================================================

type TransactionKind string

const (
	KindTopUp    TransactionKind = "topup"
	KindBonus    TransactionKind = "bonus"
	KindPurchase TransactionKind = "purchase"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

// Transaction is the business record of one value transfer. Written exactly
// once per successful transfer; immutable thereafter. IdempotencyKey is
// globally unique when non-empty (enforced at the storage layer).
type Transaction struct {
	ID             TransactionID
	IdempotencyKey string
	Kind           TransactionKind
	Status         TransactionStatus
	SourceWalletID WalletID
	DestWalletID   WalletID
	AssetTypeID    int16
	Amount         int64
	Description    string
	Metadata       map[string]string
	CreatedAt      time.Time
}

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// LedgerEntry records one side of a transfer. Exactly two entries exist per
// Transaction: a Debit on the source wallet and a Credit on the destination,
// written in the same atomic action as the transaction record. The
// BalanceBefore/BalanceAfter chain on a wallet is continuous.
type LedgerEntry struct {
	ID            string
	TransactionID TransactionID
	WalletID      WalletID
	EntryType     EntryType
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

// IdempotencyRecord caches the response of a completed transfer under the
// caller-supplied key. Records past ExpiresAt are logically absent.
type IdempotencyRecord struct {
	Key        string
	Response   []byte
	StatusCode int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// =============================================================================
// RESULTS
// =============================================================================

// WalletChange reports a wallet's balance before and after a transfer.
type WalletChange struct {
	WalletID WalletID `json:"wallet_id"`
	Before   int64    `json:"before"`
	After    int64    `json:"after"`
}

// TransferResult is the payload returned by TopUp, IssueBonus and Purchase.
// Idempotent is true when the result was replayed from the idempotency cache.
type TransferResult struct {
	TransactionID TransactionID   `json:"transaction_id"`
	Kind          TransactionKind `json:"kind"`
	AssetCode     string          `json:"asset_code"`
	Amount        int64           `json:"amount"`
	Description   string          `json:"description,omitempty"`
	Source        WalletChange    `json:"source"`
	Destination   WalletChange    `json:"destination"`
	CreatedAt     time.Time       `json:"created_at"`
	Idempotent    bool            `json:"idempotent,omitempty"`
}

// Balance is one wallet's current state as returned by GetBalance.
type Balance struct {
	WalletID  WalletID `json:"wallet_id"`
	AssetCode string   `json:"asset_code"`
	Balance   int64    `json:"balance"`
}

// HistoryEntry is one ledger-joined row of a user's transaction history.
type HistoryEntry struct {
	TransactionID TransactionID     `json:"transaction_id"`
	Kind          TransactionKind   `json:"kind"`
	Status        TransactionStatus `json:"status"`
	AssetCode     string            `json:"asset_code"`
	EntryType     EntryType         `json:"entry_type"`
	Amount        int64             `json:"amount"`
	BalanceBefore int64             `json:"balance_before"`
	BalanceAfter  int64             `json:"balance_after"`
	Description   string            `json:"description,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// HistoryPage selects a window of transaction history. Zero values take the
// configured defaults; out-of-range values are clamped, not rejected.
type HistoryPage struct {
	Limit  int
	Offset int
}
