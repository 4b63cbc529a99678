// locator.go - Wallet resolution
//
// Resolves (account, asset code) to a wallet record before lock acquisition.
// Reads only; locking is the lock manager's job (locks.go).
package wallet

import (
	"context"
	"errors"
)

// findWallet resolves the wallet for an account and asset code within the
// caller's transaction. Fails with NotFound if no wallet matches.
func findWallet(ctx context.Context, tx Tx, accountID AccountID, assetCode string) (*Wallet, error) {
	w, err := tx.WalletByAccountAsset(ctx, accountID, assetCode)
	if errors.Is(err, ErrNoRows) {
		return nil, NotFoundf("no %s wallet for account %s", assetCode, accountID)
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// systemAccountFor returns the system counterparty of a transfer kind.
// TopUp and Bonus issue value out of the Treasury; Purchase pays into Revenue.
func systemAccountFor(kind TransactionKind) AccountID {
	if kind == KindPurchase {
		return RevenueAccountID
	}
	return TreasuryAccountID
}
