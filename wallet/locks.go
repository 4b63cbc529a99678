/*
locks.go - Deadlock-free wallet lock acquisition

PURPOSE:
  Acquires exclusive row locks on a set of wallets in one deterministic
  global order, so that no two transfers can ever hold locks in conflicting
  orders.

WHY SORTED ORDER:
  Wallet ids are UUID strings; their byte order is a total order shared by
  every process. Every transfer locks its wallet set in ascending id order,
  which removes the circular-wait precondition for deadlock: a transaction
  can only wait on ids greater than the ones it already holds. The store's
  deadlock detector can still fire if code outside this engine locks the
  same rows in another order; that surfaces as the retryable ErrDeadlock.

BLOCKING:
  If another transaction holds a conflicting lock, LockWallets blocks until
  that transaction commits or rolls back.

SEE ALSO:
  - ledger.go: consumes the locked wallet states
*/
package wallet

import (
	"context"
	"sort"
)

// lockWallets locks the given wallets in ascending id order and returns
// their current state keyed by id. Fails with NotFound if any wallet is
// missing.
func lockWallets(ctx context.Context, tx Tx, ids ...WalletID) (map[WalletID]*Wallet, error) {
	sorted := sortWalletIDs(ids)

	rows, err := tx.LockWallets(ctx, sorted)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(sorted) {
		return nil, NotFoundf("%d of %d wallets not found", len(sorted)-len(rows), len(sorted))
	}

	locked := make(map[WalletID]*Wallet, len(rows))
	for _, w := range rows {
		locked[w.ID] = w
	}
	return locked, nil
}

// sortWalletIDs deduplicates and sorts ids by byte order. The result is the
// lock-acquisition sequence.
func sortWalletIDs(ids []WalletID) []WalletID {
	seen := make(map[WalletID]struct{}, len(ids))
	sorted := make([]WalletID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
