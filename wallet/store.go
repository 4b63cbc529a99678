/*
store.go - Persistence contract for the wallet engine

PURPOSE:
  Defines the interface between the engine and the durable store. The engine
  never opens its own transaction: Store.WithTx is the single transaction
  owner, and every step of a transfer receives the same Tx handle, so all
  reads, locks and writes of one transfer commit or roll back together.

TRANSACTION CONTRACT:
  WithTx acquires one connection, begins a transaction, runs fn with the
  handle, commits on nil return and rolls back on any error. The connection
  is released on every exit path. Failures are reported as the sentinel
  errors in errors.go (unique violation, check violation, deadlock,
  serialization failure, statement/acquire timeout).

ISOLATION:
  Read Committed is sufficient: exclusive row locks are held from
  Tx.LockWallets through commit, and the locked set is named by primary key.

SERVER-SIDE CONSTRAINTS (part of the correctness argument):
  - transactions.idempotency_key is UNIQUE when non-null
  - wallets enforce allow_negative OR balance >= 0 as a CHECK constraint

IMPLEMENTATIONS:
  - store/postgres: production backend (pgx)
  - store/memory:   in-memory backend for tests and development

SEE ALSO:
  - engine.go: sole caller of WithTx
  - errors.go: sentinels every backend must return
*/
package wallet

import (
	"context"
	"time"
)

// =============================================================================
// TX - handle to one open store transaction
// =============================================================================

// Tx is the handle passed to every step of a transfer. Implementations must
// scope all operations to the one underlying store transaction.
type Tx interface {
	// WalletByAccountAsset resolves the wallet for (account, asset code),
	// joined with its asset type. Returns ErrNoRows if absent. No locking.
	WalletByAccountAsset(ctx context.Context, accountID AccountID, assetCode string) (*Wallet, error)

	// LockWallets acquires exclusive row locks on the given wallets and
	// returns their current state in ascending id order. The id slice is
	// already deduplicated and sorted; the single locking statement must
	// visit rows in that order. Missing ids yield a shorter result, not an
	// error. Blocks until conflicting locks are released.
	LockWallets(ctx context.Context, ids []WalletID) ([]*Wallet, error)

	// UpdateWalletBalance sets a locked wallet's balance and version.
	// The storage-layer balance floor applies; violations surface as
	// ErrCheckViolation.
	UpdateWalletBalance(ctx context.Context, id WalletID, balance, version int64) error

	// InsertTransaction appends the business transaction record. A
	// colliding idempotency key surfaces as ErrUniqueViolation.
	InsertTransaction(ctx context.Context, txn *Transaction) error

	// InsertLedgerEntry appends one ledger entry.
	InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error

	// IdempotencyLookup returns the cached record for key, or nil if the
	// key is absent or expired as of now.
	IdempotencyLookup(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)

	// IdempotencyStore inserts the record if absent. A key collision is a
	// silent no-op.
	IdempotencyStore(ctx context.Context, rec *IdempotencyRecord) error
}

// =============================================================================
// STORE
// =============================================================================

// Store is the durable backend. WithTx is the only way to mutate wallet
// state; the remaining methods are single-statement reads and administrative
// writes that need no cross-row atomicity.
type Store interface {
	// WithTx runs fn inside one store transaction. Commit on nil return,
	// rollback otherwise. The classified error is re-raised to the caller.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// WalletsByAccount returns the account's wallets, optionally filtered
	// to one asset code. Empty result is not an error.
	WalletsByAccount(ctx context.Context, accountID AccountID, assetCode string) ([]*Wallet, error)

	// TransactionHistory returns ledger-joined history for the account,
	// newest first.
	TransactionHistory(ctx context.Context, accountID AccountID, assetCode string, limit, offset int) ([]*HistoryEntry, error)

	// CachedResponse re-reads the idempotency cache outside any transfer
	// transaction. Used by the duplicate-key recovery path. Returns nil if
	// absent or expired.
	CachedResponse(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)

	// PurgeExpiredIdempotency deletes records whose expiry has passed and
	// reports how many were removed.
	PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)

	// AssetTypeByCode resolves an asset type. Returns ErrNoRows if absent.
	AssetTypeByCode(ctx context.Context, code string) (*AssetType, error)

	// CreateAssetType registers a new asset type. A duplicate code surfaces
	// as ErrUniqueViolation.
	CreateAssetType(ctx context.Context, asset *AssetType) error

	// CreateAccount registers an account. A duplicate id surfaces as
	// ErrUniqueViolation.
	CreateAccount(ctx context.Context, acct *Account) error

	// CreateWallet registers a wallet. A second wallet for the same
	// (account, asset) pair surfaces as ErrUniqueViolation.
	CreateWallet(ctx context.Context, w *Wallet) error

	Close() error
}
