/*
admin.go - Administrative lifecycle operations

PURPOSE:
  Creation paths for asset types, user accounts, and wallets. These precede
  any transfer: an account exists before its wallets, and a wallet exists
  before value moves through it. EnsureAsset provisions a new asset end to
  end — asset type, system accounts, and the Treasury/Revenue wallets — so
  the asset is immediately transactable.

UNIQUENESS:
  At most one wallet exists per (account, asset); the storage-layer unique
  constraint backs that invariant and collisions surface here as
  ConstraintViolation.
*/
package wallet

import (
	"context"
	"errors"
)

// CreateAssetType registers a new currency code.
func (e *Engine) CreateAssetType(ctx context.Context, code, name string) (*AssetType, error) {
	if code == "" {
		return nil, Validationf("asset code is required")
	}
	if name == "" {
		return nil, Validationf("asset name is required")
	}
	asset := &AssetType{Code: code, Name: name, IsActive: true}
	if err := e.store.CreateAssetType(ctx, asset); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return nil, &Error{Code: CodeConstraintViolation, Message: "asset code already registered", Err: err}
		}
		return nil, Classify(err)
	}
	e.log.Info("asset type created", "code", code)
	return asset, nil
}

// CreateUserAccount mints a new user account.
func (e *Engine) CreateUserAccount(ctx context.Context) (*Account, error) {
	acct := &Account{ID: AccountID(NewID()), Kind: AccountUser, IsActive: true}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return nil, Classify(err)
	}
	return acct, nil
}

// CreateWallet creates the user's wallet for an asset. User wallets never
// allow negative balances.
func (e *Engine) CreateWallet(ctx context.Context, userID, assetCode string) (*Wallet, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	asset, err := e.store.AssetTypeByCode(ctx, assetCode)
	if errors.Is(err, ErrNoRows) {
		return nil, NotFoundf("asset %s not found", assetCode)
	}
	if err != nil {
		return nil, Classify(err)
	}

	w := &Wallet{
		ID:          WalletID(NewID()),
		AccountID:   AccountID(userID),
		AssetTypeID: asset.ID,
		AssetCode:   asset.Code,
	}
	if err := e.store.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, ErrUniqueViolation) {
			return nil, &Error{Code: CodeConstraintViolation, Message: "wallet already exists for this asset", Err: err}
		}
		return nil, Classify(err)
	}
	return w, nil
}

// EnsureAsset provisions an asset type together with the Treasury and
// Revenue wallets for it. Safe to call for an existing asset: pieces that
// are already in place are left untouched.
func (e *Engine) EnsureAsset(ctx context.Context, code, name string) (*AssetType, error) {
	asset, err := e.store.AssetTypeByCode(ctx, code)
	if errors.Is(err, ErrNoRows) {
		asset, err = e.CreateAssetType(ctx, code, name)
	}
	if err != nil {
		return nil, Classify(err)
	}

	for _, acctID := range []AccountID{TreasuryAccountID, RevenueAccountID} {
		acct := &Account{ID: acctID, Kind: AccountSystem, IsActive: true}
		if err := e.store.CreateAccount(ctx, acct); err != nil && !errors.Is(err, ErrUniqueViolation) {
			return nil, Classify(err)
		}
		w := &Wallet{
			ID:            WalletID(NewID()),
			AccountID:     acctID,
			AssetTypeID:   asset.ID,
			AssetCode:     asset.Code,
			AllowNegative: true,
		}
		if err := e.store.CreateWallet(ctx, w); err != nil && !errors.Is(err, ErrUniqueViolation) {
			return nil, Classify(err)
		}
	}
	return asset, nil
}
