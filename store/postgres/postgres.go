/*
Package postgres provides the PostgreSQL wallet.Store backend.

PURPOSE:
  Implements the store contract on pgx: pooled connections, Read Committed
  transactions with commit/rollback guarantees, FOR UPDATE row locking in
  ascending id order, and translation of server error codes into the
  engine's sentinel errors.

ERROR CODE TRANSLATION:
  23505 unique_violation        -> wallet.ErrUniqueViolation
  23514 check_violation         -> wallet.ErrCheckViolation
  40P01 deadlock_detected       -> wallet.ErrDeadlock
  40001 serialization_failure   -> wallet.ErrSerialization
  57014 query_canceled          -> wallet.ErrStatementTimeout
  pool acquire deadline         -> wallet.ErrAcquireTimeout

TIMEOUTS:
  statement_timeout is set per connection at pool level; acquiring a
  connection from an exhausted pool fails after the configured acquisition
  timeout. The two surface as distinct sentinels.

SCHEMA:
  migrate() runs on Open and creates the tables with the two server-side
  constraints the engine's correctness argument requires: the unique
  idempotency key on transactions and the wallet balance-floor CHECK.

SEE ALSO:
  - wallet/store.go: the contract implemented here
  - store/memory:    in-memory backend with the same semantics
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/wallet-engine/wallet"
)

// Config holds connection pool settings.
type Config struct {
	DSN                      string
	ConnectionLimit          int32
	ConnectionAcquireTimeout time.Duration
	StatementTimeout         time.Duration
	IdleTimeout              time.Duration
}

// Store is the PostgreSQL wallet.Store.
type Store struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

var _ wallet.Store = (*Store)(nil)

// Open connects, configures the pool and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.ConnectionLimit > 0 {
		poolCfg.MaxConns = cfg.ConnectionLimit
	}
	if cfg.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	}
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] =
			fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &Store{pool: pool, acquireTimeout: cfg.ConnectionAcquireTimeout}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS asset_types (
		id         SMALLSERIAL PRIMARY KEY,
		code       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id         UUID PRIMARY KEY,
		kind       TEXT NOT NULL CHECK (kind IN ('user', 'system')),
		is_active  BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS wallets (
		id              UUID PRIMARY KEY,
		account_id      UUID NOT NULL REFERENCES accounts(id),
		asset_type_id   SMALLINT NOT NULL REFERENCES asset_types(id),
		balance         BIGINT NOT NULL DEFAULT 0,
		allow_negative  BOOLEAN NOT NULL DEFAULT FALSE,
		version         BIGINT NOT NULL DEFAULT 0,
		UNIQUE (account_id, asset_type_id),
		CONSTRAINT wallets_balance_floor CHECK (allow_negative OR balance >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_account ON wallets(account_id);

	CREATE TABLE IF NOT EXISTS transactions (
		id                UUID PRIMARY KEY,
		idempotency_key   TEXT UNIQUE,
		kind              TEXT NOT NULL,
		status            TEXT NOT NULL,
		source_wallet_id  UUID NOT NULL REFERENCES wallets(id),
		dest_wallet_id    UUID NOT NULL REFERENCES wallets(id),
		asset_type_id     SMALLINT NOT NULL REFERENCES asset_types(id),
		amount            BIGINT NOT NULL CHECK (amount > 0),
		description       TEXT NOT NULL DEFAULT '',
		metadata          JSONB NOT NULL DEFAULT '{}',
		created_at        TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id              UUID PRIMARY KEY,
		transaction_id  UUID NOT NULL REFERENCES transactions(id),
		wallet_id       UUID NOT NULL REFERENCES wallets(id),
		entry_type      TEXT NOT NULL CHECK (entry_type IN ('debit', 'credit')),
		amount          BIGINT NOT NULL CHECK (amount > 0),
		balance_before  BIGINT NOT NULL,
		balance_after   BIGINT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet
		ON ledger_entries(wallet_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS idempotency_records (
		key          TEXT PRIMARY KEY,
		response     JSONB NOT NULL,
		status_code  INTEGER NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		expires_at   TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_expires
		ON idempotency_records(expires_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return classify(err)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside one Read Committed transaction on one pooled
// connection. Commit on nil return, rollback otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	acquireCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}
	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return wallet.ErrAcquireTimeout
		}
		return classify(err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txHandle{tx: tx}); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

// txHandle implements wallet.Tx over one open pgx transaction.
type txHandle struct {
	tx pgx.Tx
}

const walletColumns = `
	w.id, w.account_id, w.asset_type_id, a.code, w.balance, w.allow_negative, w.version`

func (h *txHandle) WalletByAccountAsset(ctx context.Context, accountID wallet.AccountID, assetCode string) (*wallet.Wallet, error) {
	row := h.tx.QueryRow(ctx, `
		SELECT`+walletColumns+`
		FROM wallets w
		JOIN asset_types a ON a.id = w.asset_type_id
		WHERE w.account_id = $1 AND a.code = $2`,
		string(accountID), assetCode)
	return scanWallet(row)
}

func (h *txHandle) LockWallets(ctx context.Context, ids []wallet.WalletID) ([]*wallet.Wallet, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = string(id)
	}
	// One statement, ascending id order, exclusive row locks.
	rows, err := h.tx.Query(ctx, `
		SELECT`+walletColumns+`
		FROM wallets w
		JOIN asset_types a ON a.id = w.asset_type_id
		WHERE w.id = ANY($1)
		ORDER BY w.id
		FOR UPDATE OF w`,
		strIDs)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, classify(rows.Err())
}

func (h *txHandle) UpdateWalletBalance(ctx context.Context, id wallet.WalletID, balance, version int64) error {
	tag, err := h.tx.Exec(ctx, `
		UPDATE wallets SET balance = $2, version = $3 WHERE id = $1`,
		string(id), balance, version)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return wallet.ErrNoRows
	}
	return nil
}

func (h *txHandle) InsertTransaction(ctx context.Context, txn *wallet.Transaction) error {
	metadata := []byte("{}")
	if txn.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(txn.Metadata); err != nil {
			return err
		}
	}
	_, err := h.tx.Exec(ctx, `
		INSERT INTO transactions
			(id, idempotency_key, kind, status, source_wallet_id, dest_wallet_id,
			 asset_type_id, amount, description, metadata, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11)`,
		string(txn.ID), txn.IdempotencyKey, string(txn.Kind), string(txn.Status),
		string(txn.SourceWalletID), string(txn.DestWalletID),
		txn.AssetTypeID, txn.Amount, txn.Description, string(metadata), txn.CreatedAt)
	return classify(err)
}

func (h *txHandle) InsertLedgerEntry(ctx context.Context, entry *wallet.LedgerEntry) error {
	_, err := h.tx.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, transaction_id, wallet_id, entry_type, amount,
			 balance_before, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, string(entry.TransactionID), string(entry.WalletID),
		string(entry.EntryType), entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.CreatedAt)
	return classify(err)
}

func (h *txHandle) IdempotencyLookup(ctx context.Context, key string, now time.Time) (*wallet.IdempotencyRecord, error) {
	return scanIdempotency(h.tx.QueryRow(ctx, `
		SELECT key, response, status_code, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > $2`,
		key, now))
}

func (h *txHandle) IdempotencyStore(ctx context.Context, rec *wallet.IdempotencyRecord) error {
	_, err := h.tx.Exec(ctx, `
		INSERT INTO idempotency_records (key, response, status_code, created_at, expires_at)
		VALUES ($1, $2::jsonb, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`,
		rec.Key, string(rec.Response), rec.StatusCode, rec.CreatedAt, rec.ExpiresAt)
	return classify(err)
}

// =============================================================================
// NON-TRANSACTIONAL READS
// =============================================================================

func (s *Store) WalletsByAccount(ctx context.Context, accountID wallet.AccountID, assetCode string) ([]*wallet.Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT`+walletColumns+`
		FROM wallets w
		JOIN asset_types a ON a.id = w.asset_type_id
		WHERE w.account_id = $1 AND ($2 = '' OR a.code = $2)
		ORDER BY a.code`,
		string(accountID), assetCode)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []*wallet.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, classify(rows.Err())
}

func (s *Store) TransactionHistory(ctx context.Context, accountID wallet.AccountID, assetCode string, limit, offset int) ([]*wallet.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.kind, t.status, a.code, e.entry_type, e.amount,
		       e.balance_before, e.balance_after, t.description, e.created_at
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id
		JOIN wallets w      ON w.id = e.wallet_id
		JOIN asset_types a  ON a.id = w.asset_type_id
		WHERE w.account_id = $1 AND ($2 = '' OR a.code = $2)
		ORDER BY e.created_at DESC, e.id
		LIMIT $3 OFFSET $4`,
		string(accountID), assetCode, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	out := []*wallet.HistoryEntry{}
	for rows.Next() {
		var e wallet.HistoryEntry
		var id, kind, status, entryType string
		if err := rows.Scan(&id, &kind, &status, &e.AssetCode, &entryType, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Description, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		e.TransactionID = wallet.TransactionID(id)
		e.Kind = wallet.TransactionKind(kind)
		e.Status = wallet.TransactionStatus(status)
		e.EntryType = wallet.EntryType(entryType)
		out = append(out, &e)
	}
	return out, classify(rows.Err())
}

func (s *Store) CachedResponse(ctx context.Context, key string, now time.Time) (*wallet.IdempotencyRecord, error) {
	return scanIdempotency(s.pool.QueryRow(ctx, `
		SELECT key, response, status_code, created_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > $2`,
		key, now))
}

func (s *Store) PurgeExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// ADMINISTRATIVE WRITES
// =============================================================================

func (s *Store) AssetTypeByCode(ctx context.Context, code string) (*wallet.AssetType, error) {
	var asset wallet.AssetType
	err := s.pool.QueryRow(ctx, `
		SELECT id, code, name, is_active FROM asset_types WHERE code = $1`,
		code).Scan(&asset.ID, &asset.Code, &asset.Name, &asset.IsActive)
	if err != nil {
		return nil, classify(err)
	}
	return &asset, nil
}

func (s *Store) CreateAssetType(ctx context.Context, asset *wallet.AssetType) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO asset_types (code, name, is_active)
		VALUES ($1, $2, $3)
		RETURNING id`,
		asset.Code, asset.Name, asset.IsActive).Scan(&asset.ID)
	return classify(err)
}

func (s *Store) CreateAccount(ctx context.Context, acct *wallet.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, kind, is_active) VALUES ($1, $2, $3)`,
		string(acct.ID), string(acct.Kind), acct.IsActive)
	return classify(err)
}

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallets (id, account_id, asset_type_id, balance, allow_negative, version)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(w.ID), string(w.AccountID), w.AssetTypeID, w.Balance, w.AllowNegative, w.Version)
	return classify(err)
}

// =============================================================================
// SCANNING AND CLASSIFICATION
// =============================================================================

func scanWallet(row pgx.Row) (*wallet.Wallet, error) {
	var w wallet.Wallet
	var id, accountID string
	err := row.Scan(&id, &accountID, &w.AssetTypeID, &w.AssetCode,
		&w.Balance, &w.AllowNegative, &w.Version)
	if err != nil {
		return nil, classify(err)
	}
	w.ID = wallet.WalletID(id)
	w.AccountID = wallet.AccountID(accountID)
	return &w, nil
}

func scanIdempotency(row pgx.Row) (*wallet.IdempotencyRecord, error) {
	var rec wallet.IdempotencyRecord
	err := row.Scan(&rec.Key, &rec.Response, &rec.StatusCode, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

// classify translates pgx and server errors into the engine's sentinels.
// Unrecognized errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.ErrNoRows
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", wallet.ErrUniqueViolation, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", wallet.ErrCheckViolation, pgErr.ConstraintName)
		case "40P01":
			return wallet.ErrDeadlock
		case "40001":
			return wallet.ErrSerialization
		case "57014":
			return wallet.ErrStatementTimeout
		}
	}
	return err
}
