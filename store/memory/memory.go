/*
Package memory provides an in-memory wallet.Store for tests and development.

PURPOSE:
  Implements the full store contract without a database. Transactions are
  emulated with a whole-store mutex plus snapshot/rollback, so WithTx keeps
  the same all-or-nothing semantics as the Postgres backend: one writer at a
  time, every mutation of a failed transaction undone.

CONSTRAINT EMULATION:
  The two server-side constraints the engine's correctness argument relies
  on are enforced here as well:
  - unique transactions.idempotency_key  -> wallet.ErrUniqueViolation
  - wallet balance floor (allow_negative OR balance >= 0)
                                         -> wallet.ErrCheckViolation
  plus one-wallet-per-(account, asset) and insert-if-absent idempotency
  records.

LIMITS:
  Holding the store mutex for the whole transaction serializes writers, so
  lock-wait interleavings of the real backend do not occur here. Invariant
  outcomes are identical; only timing differs.

SEE ALSO:
  - wallet/store.go: the contract
  - store/postgres:  the production backend
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/wallet-engine/wallet"
)

type walletKey struct {
	Account wallet.AccountID
	Asset   string
}

// Store is an in-memory wallet.Store.
type Store struct {
	mu sync.RWMutex

	assets      map[string]*wallet.AssetType
	nextAssetID int16
	accounts    map[wallet.AccountID]*wallet.Account
	wallets     map[wallet.WalletID]*wallet.Wallet
	walletIndex map[walletKey]wallet.WalletID

	transactions map[wallet.TransactionID]*wallet.Transaction
	txnByKey     map[string]wallet.TransactionID
	entries      []*wallet.LedgerEntry

	idempotency map[string]*wallet.IdempotencyRecord
}

var _ wallet.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		assets:       make(map[string]*wallet.AssetType),
		accounts:     make(map[wallet.AccountID]*wallet.Account),
		wallets:      make(map[wallet.WalletID]*wallet.Wallet),
		walletIndex:  make(map[walletKey]wallet.WalletID),
		transactions: make(map[wallet.TransactionID]*wallet.Transaction),
		txnByKey:     make(map[string]wallet.TransactionID),
		idempotency:  make(map[string]*wallet.IdempotencyRecord),
	}
}

func (s *Store) Close() error { return nil }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn under the store mutex. On error every mutation made by fn
// is rolled back from a snapshot.
func (s *Store) WithTx(ctx context.Context, fn func(tx wallet.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	wallets      map[wallet.WalletID]*wallet.Wallet
	transactions map[wallet.TransactionID]*wallet.Transaction
	txnByKey     map[string]wallet.TransactionID
	entryCount   int
	idempotency  map[string]*wallet.IdempotencyRecord
}

func (s *Store) snapshot() memorySnapshot {
	wallets := make(map[wallet.WalletID]*wallet.Wallet, len(s.wallets))
	for id, w := range s.wallets {
		cp := *w
		wallets[id] = &cp
	}
	transactions := make(map[wallet.TransactionID]*wallet.Transaction, len(s.transactions))
	for id, t := range s.transactions {
		transactions[id] = t
	}
	txnByKey := make(map[string]wallet.TransactionID, len(s.txnByKey))
	for k, v := range s.txnByKey {
		txnByKey[k] = v
	}
	idempotency := make(map[string]*wallet.IdempotencyRecord, len(s.idempotency))
	for k, v := range s.idempotency {
		idempotency[k] = v
	}
	return memorySnapshot{
		wallets:      wallets,
		transactions: transactions,
		txnByKey:     txnByKey,
		entryCount:   len(s.entries),
		idempotency:  idempotency,
	}
}

func (s *Store) restore(snap memorySnapshot) {
	s.wallets = snap.wallets
	s.transactions = snap.transactions
	s.txnByKey = snap.txnByKey
	s.entries = s.entries[:snap.entryCount]
	s.idempotency = snap.idempotency
}

// txView exposes the store under its held mutex as a wallet.Tx.
type txView struct {
	store *Store
}

func (tv *txView) WalletByAccountAsset(_ context.Context, accountID wallet.AccountID, assetCode string) (*wallet.Wallet, error) {
	return tv.store.walletByAccountAssetLocked(accountID, assetCode)
}

func (tv *txView) LockWallets(_ context.Context, ids []wallet.WalletID) ([]*wallet.Wallet, error) {
	// The store mutex is the lock; this just reads current state in order.
	rows := make([]*wallet.Wallet, 0, len(ids))
	for _, id := range ids {
		if w, ok := tv.store.wallets[id]; ok {
			cp := *w
			rows = append(rows, &cp)
		}
	}
	return rows, nil
}

func (tv *txView) UpdateWalletBalance(_ context.Context, id wallet.WalletID, balance, version int64) error {
	w, ok := tv.store.wallets[id]
	if !ok {
		return wallet.ErrNoRows
	}
	if !w.AllowNegative && balance < 0 {
		return wallet.ErrCheckViolation
	}
	updated := *w
	updated.Balance = balance
	updated.Version = version
	tv.store.wallets[id] = &updated
	return nil
}

func (tv *txView) InsertTransaction(_ context.Context, txn *wallet.Transaction) error {
	if txn.Amount <= 0 {
		return wallet.ErrCheckViolation
	}
	if _, exists := tv.store.transactions[txn.ID]; exists {
		return wallet.ErrUniqueViolation
	}
	if txn.IdempotencyKey != "" {
		if _, exists := tv.store.txnByKey[txn.IdempotencyKey]; exists {
			return wallet.ErrUniqueViolation
		}
		tv.store.txnByKey[txn.IdempotencyKey] = txn.ID
	}
	tv.store.transactions[txn.ID] = txn
	return nil
}

func (tv *txView) InsertLedgerEntry(_ context.Context, entry *wallet.LedgerEntry) error {
	if entry.Amount <= 0 {
		return wallet.ErrCheckViolation
	}
	tv.store.entries = append(tv.store.entries, entry)
	return nil
}

func (tv *txView) IdempotencyLookup(_ context.Context, key string, now time.Time) (*wallet.IdempotencyRecord, error) {
	return tv.store.idempotencyLookupLocked(key, now), nil
}

func (tv *txView) IdempotencyStore(_ context.Context, rec *wallet.IdempotencyRecord) error {
	if _, exists := tv.store.idempotency[rec.Key]; exists {
		return nil // insert-if-absent
	}
	tv.store.idempotency[rec.Key] = rec
	return nil
}

// =============================================================================
// NON-TRANSACTIONAL READS
// =============================================================================

func (s *Store) WalletsByAccount(_ context.Context, accountID wallet.AccountID, assetCode string) ([]*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*wallet.Wallet
	for _, w := range s.wallets {
		if w.AccountID != accountID {
			continue
		}
		if assetCode != "" && w.AssetCode != assetCode {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetCode < out[j].AssetCode })
	return out, nil
}

func (s *Store) TransactionHistory(_ context.Context, accountID wallet.AccountID, assetCode string, limit, offset int) ([]*wallet.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first: entries are appended chronologically.
	var matched []*wallet.HistoryEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		w, ok := s.wallets[e.WalletID]
		if !ok || w.AccountID != accountID {
			continue
		}
		if assetCode != "" && w.AssetCode != assetCode {
			continue
		}
		txn := s.transactions[e.TransactionID]
		matched = append(matched, &wallet.HistoryEntry{
			TransactionID: txn.ID,
			Kind:          txn.Kind,
			Status:        txn.Status,
			AssetCode:     w.AssetCode,
			EntryType:     e.EntryType,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Description:   txn.Description,
			CreatedAt:     e.CreatedAt,
		})
	}

	if offset >= len(matched) {
		return []*wallet.HistoryEntry{}, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) CachedResponse(_ context.Context, key string, now time.Time) (*wallet.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idempotencyLookupLocked(key, now), nil
}

func (s *Store) PurgeExpiredIdempotency(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for key, rec := range s.idempotency {
		if !rec.ExpiresAt.After(now) {
			delete(s.idempotency, key)
			purged++
		}
	}
	return purged, nil
}

// =============================================================================
// ADMINISTRATIVE WRITES
// =============================================================================

func (s *Store) AssetTypeByCode(_ context.Context, code string) (*wallet.AssetType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[code]
	if !ok {
		return nil, wallet.ErrNoRows
	}
	cp := *asset
	return &cp, nil
}

func (s *Store) CreateAssetType(_ context.Context, asset *wallet.AssetType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assets[asset.Code]; exists {
		return wallet.ErrUniqueViolation
	}
	s.nextAssetID++
	asset.ID = s.nextAssetID
	cp := *asset
	s.assets[asset.Code] = &cp
	return nil
}

func (s *Store) CreateAccount(_ context.Context, acct *wallet.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.ID]; exists {
		return wallet.ErrUniqueViolation
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *Store) CreateWallet(_ context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[w.AccountID]; !exists {
		return wallet.ErrNoRows
	}
	k := walletKey{Account: w.AccountID, Asset: w.AssetCode}
	if _, exists := s.walletIndex[k]; exists {
		return wallet.ErrUniqueViolation
	}
	cp := *w
	s.wallets[w.ID] = &cp
	s.walletIndex[k] = w.ID
	return nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (s *Store) walletByAccountAssetLocked(accountID wallet.AccountID, assetCode string) (*wallet.Wallet, error) {
	id, ok := s.walletIndex[walletKey{Account: accountID, Asset: assetCode}]
	if !ok {
		return nil, wallet.ErrNoRows
	}
	cp := *s.wallets[id]
	return &cp, nil
}

func (s *Store) idempotencyLookupLocked(key string, now time.Time) *wallet.IdempotencyRecord {
	rec, ok := s.idempotency[key]
	if !ok || !rec.ExpiresAt.After(now) {
		return nil
	}
	cp := *rec
	return &cp
}
