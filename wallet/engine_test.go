package wallet_test

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/logging"
	"github.com/warp/wallet-engine/store/memory"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	assetGold     = "GOLD_COINS"
	assetDiamonds = "DIAMONDS"
	assetLoyalty  = "LOYALTY_POINTS"
)

func newTestEngine(t *testing.T) (*wallet.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	engine := wallet.NewEngine(store, wallet.Config{}, logging.Nop())
	return engine, store
}

// newUser provisions the asset (with its system wallets), a user account and
// the user's wallet, then funds it via top-up when balance > 0.
func newUser(t *testing.T, engine *wallet.Engine, asset string, balance int64) string {
	t.Helper()
	ctx := context.Background()

	_, err := engine.EnsureAsset(ctx, asset, asset)
	require.NoError(t, err)

	acct, err := engine.CreateUserAccount(ctx)
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, string(acct.ID), asset)
	require.NoError(t, err)

	if balance > 0 {
		_, err = engine.TopUp(ctx, wallet.TransferRequest{
			UserID: string(acct.ID), AssetCode: asset, Amount: balance, Description: "seed",
		})
		require.NoError(t, err)
	}
	return string(acct.ID)
}

func balanceOf(t *testing.T, engine *wallet.Engine, userID, asset string) int64 {
	t.Helper()
	balances, err := engine.GetBalance(context.Background(), userID, asset)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	return balances[0].Balance
}

func systemBalance(t *testing.T, store *memory.Store, acct wallet.AccountID, asset string) int64 {
	t.Helper()
	wallets, err := store.WalletsByAccount(context.Background(), acct, asset)
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	return wallets[0].Balance
}

// =============================================================================
// SINGLE TRANSFERS
// =============================================================================

func TestTopUp_SingleTransfer(t *testing.T) {
	// GIVEN: Alice holds 1000 gold; the Treasury is negative by what it issued
	// WHEN: Topping up 500 with key "k1"
	// THEN: One completed transaction, a Debit on Treasury and a Credit on
	//       Alice, balances moved by exactly 500 on both sides

	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 1000)
	treasuryBefore := systemBalance(t, store, wallet.TreasuryAccountID, assetGold)

	res, err := engine.TopUp(ctx, wallet.TransferRequest{
		UserID: alice, AssetCode: assetGold, Amount: 500,
		IdempotencyKey: "k1", Description: "buy",
	})
	require.NoError(t, err)

	assert.Equal(t, wallet.KindTopUp, res.Kind)
	assert.Equal(t, int64(500), res.Amount)
	assert.Equal(t, assetGold, res.AssetCode)
	assert.False(t, res.Idempotent)
	assert.NotEmpty(t, res.TransactionID)

	assert.Equal(t, treasuryBefore, res.Source.Before)
	assert.Equal(t, treasuryBefore-500, res.Source.After)
	assert.Equal(t, int64(1000), res.Destination.Before)
	assert.Equal(t, int64(1500), res.Destination.After)

	assert.Equal(t, int64(1500), balanceOf(t, engine, alice, assetGold))
	assert.Equal(t, treasuryBefore-500, systemBalance(t, store, wallet.TreasuryAccountID, assetGold))

	// Alice's history shows the credit side of the transfer, newest first.
	history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{})
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, res.TransactionID, history[0].TransactionID)
	assert.Equal(t, wallet.EntryCredit, history[0].EntryType)
	assert.Equal(t, int64(1000), history[0].BalanceBefore)
	assert.Equal(t, int64(1500), history[0].BalanceAfter)
}

func TestPurchase_MovesValueIntoRevenue(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	bob := newUser(t, engine, assetDiamonds, 200)

	res, err := engine.Purchase(ctx, wallet.TransferRequest{
		UserID: bob, AssetCode: assetDiamonds, Amount: 75, Description: "sword",
	})
	require.NoError(t, err)

	assert.Equal(t, wallet.KindPurchase, res.Kind)
	assert.Equal(t, int64(125), res.Source.After)
	assert.Equal(t, int64(125), balanceOf(t, engine, bob, assetDiamonds))
	assert.Equal(t, int64(75), systemBalance(t, store, wallet.RevenueAccountID, assetDiamonds))
}

func TestPurchase_InsufficientBalance(t *testing.T) {
	// GIVEN: Bob holds 25 diamonds
	// WHEN: Purchasing for 999999
	// THEN: InsufficientBalance with full context; no state change at all

	engine, store := newTestEngine(t)
	ctx := context.Background()
	bob := newUser(t, engine, assetDiamonds, 25)
	revenueBefore := systemBalance(t, store, wallet.RevenueAccountID, assetDiamonds)
	historyBefore, err := engine.GetTransactions(ctx, bob, assetDiamonds, wallet.HistoryPage{})
	require.NoError(t, err)

	_, err = engine.Purchase(ctx, wallet.TransferRequest{
		UserID: bob, AssetCode: assetDiamonds, Amount: 999999,
	})
	var werr *wallet.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wallet.CodeInsufficientBalance, werr.Code)
	assert.Equal(t, int64(999999), werr.Requested)
	assert.Equal(t, int64(25), werr.Available)
	assert.NotEmpty(t, werr.WalletID)
	assert.False(t, werr.Retryable)

	assert.Equal(t, int64(25), balanceOf(t, engine, bob, assetDiamonds))
	assert.Equal(t, revenueBefore, systemBalance(t, store, wallet.RevenueAccountID, assetDiamonds))

	historyAfter, err := engine.GetTransactions(ctx, bob, assetDiamonds, wallet.HistoryPage{})
	require.NoError(t, err)
	assert.Len(t, historyAfter, len(historyBefore))
}

func TestTransfer_UnknownUserOrAsset(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 0)

	t.Run("no wallet for asset", func(t *testing.T) {
		_, err := engine.TopUp(ctx, wallet.TransferRequest{
			UserID: alice, AssetCode: "UNKNOWN_ASSET", Amount: 10,
		})
		var werr *wallet.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wallet.CodeNotFound, werr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := engine.TopUp(ctx, wallet.TransferRequest{
			UserID: "d2b7f3f2-54f4-4f8f-9454-000000000000", AssetCode: assetGold, Amount: 10,
		})
		var werr *wallet.Error
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, wallet.CodeNotFound, werr.Code)
	})
}

// =============================================================================
// VALIDATION BOUNDARIES
// =============================================================================

func TestTransfer_Validation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 100)

	cases := []struct {
		name string
		req  wallet.TransferRequest
	}{
		{"zero amount", wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 0}},
		{"negative amount", wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: -5}},
		{"empty asset", wallet.TransferRequest{UserID: alice, Amount: 10}},
		{"empty user", wallet.TransferRequest{AssetCode: assetGold, Amount: 10}},
		{"malformed user", wallet.TransferRequest{UserID: "not-a-uuid", AssetCode: assetGold, Amount: 10}},
		{"oversized key", wallet.TransferRequest{
			UserID: alice, AssetCode: assetGold, Amount: 10,
			IdempotencyKey: strings.Repeat("x", 256),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.TopUp(ctx, tc.req)
			var werr *wallet.Error
			require.ErrorAs(t, err, &werr)
			assert.Equal(t, wallet.CodeValidation, werr.Code)
		})
	}

	t.Run("255-byte key accepted", func(t *testing.T) {
		_, err := engine.TopUp(ctx, wallet.TransferRequest{
			UserID: alice, AssetCode: assetGold, Amount: 10,
			IdempotencyKey: strings.Repeat("x", 255),
		})
		require.NoError(t, err)
	})
}

func TestTopUp_Int64Headroom(t *testing.T) {
	// Topping up to the 64-bit maximum still succeeds; the Treasury simply
	// goes correspondingly negative.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 100)

	res, err := engine.TopUp(ctx, wallet.TransferRequest{
		UserID: alice, AssetCode: assetGold, Amount: math.MaxInt64 - 100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), res.Destination.After)
}

// =============================================================================
// IDEMPOTENCE LAWS
// =============================================================================

func TestTopUp_IdempotentReplay(t *testing.T) {
	// Submitting the same request N times produces one transaction; the
	// N-1 replays return the original payload tagged idempotent.

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 1000)

	req := wallet.TransferRequest{
		UserID: alice, AssetCode: assetGold, Amount: 500,
		IdempotencyKey: "k1", Description: "buy",
	}

	first, err := engine.TopUp(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	for i := 0; i < 4; i++ {
		replay, err := engine.TopUp(ctx, req)
		require.NoError(t, err)
		assert.True(t, replay.Idempotent)
		assert.Equal(t, first.TransactionID, replay.TransactionID)
		assert.Equal(t, first.Amount, replay.Amount)
		assert.Equal(t, first.Destination, replay.Destination)
	}

	// Exactly one transfer happened.
	assert.Equal(t, int64(1500), balanceOf(t, engine, alice, assetGold))

	history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 100})
	require.NoError(t, err)
	var withKey int
	for _, h := range history {
		if h.TransactionID == first.TransactionID {
			withKey++
		}
	}
	assert.Equal(t, 1, withKey)
}

func TestIdempotency_KeyScopedAcrossOperations(t *testing.T) {
	// The same key replays the original response even through a different
	// entry point: the key binds the effect, not the route.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 100)

	first, err := engine.TopUp(ctx, wallet.TransferRequest{
		UserID: alice, AssetCode: assetGold, Amount: 50, IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	replay, err := engine.IssueBonus(ctx, wallet.TransferRequest{
		UserID: alice, AssetCode: assetGold, Amount: 50, IdempotencyKey: "shared",
	})
	require.NoError(t, err)
	assert.True(t, replay.Idempotent)
	assert.Equal(t, first.TransactionID, replay.TransactionID)
	assert.Equal(t, int64(150), balanceOf(t, engine, alice, assetGold))
}

func TestTransfer_FailureLeavesNoIdempotencyRecord(t *testing.T) {
	// A rejected transfer must not poison its key: the next attempt with the
	// same key runs fresh.
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	bob := newUser(t, engine, assetDiamonds, 10)

	_, err := engine.Purchase(ctx, wallet.TransferRequest{
		UserID: bob, AssetCode: assetDiamonds, Amount: 100, IdempotencyKey: "retry-k",
	})
	require.Error(t, err)

	res, err := engine.Purchase(ctx, wallet.TransferRequest{
		UserID: bob, AssetCode: assetDiamonds, Amount: 5, IdempotencyKey: "retry-k",
	})
	require.NoError(t, err)
	assert.False(t, res.Idempotent)
	assert.Equal(t, int64(5), balanceOf(t, engine, bob, assetDiamonds))
}

// =============================================================================
// CONCURRENCY SCENARIOS
// =============================================================================

func TestTopUp_Concurrent(t *testing.T) {
	// Fifty concurrent top-ups with unique keys: all succeed, the balance
	// grows by exactly the sum, and the ledger chain stays continuous.

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 0)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.TopUp(ctx, wallet.TransferRequest{
				UserID: alice, AssetCode: assetGold, Amount: 10,
				IdempotencyKey: fmt.Sprintf("conc-%d", i),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "top-up %d", i)
	}
	assert.Equal(t, int64(500), balanceOf(t, engine, alice, assetGold))

	history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 100})
	require.NoError(t, err)
	require.Len(t, history, n)
	assertContinuousChain(t, history)
}

func TestPurchase_ConcurrentSpendRace(t *testing.T) {
	// GIVEN: Charlie holds 100 loyalty points
	// WHEN: Five concurrent purchases of 50
	// THEN: Exactly two succeed; the rest fail with InsufficientBalance;
	//       conservation holds

	engine, store := newTestEngine(t)
	ctx := context.Background()
	charlie := newUser(t, engine, assetLoyalty, 100)
	revenueBefore := systemBalance(t, store, wallet.RevenueAccountID, assetLoyalty)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Purchase(ctx, wallet.TransferRequest{
				UserID: charlie, AssetCode: assetLoyalty, Amount: 50,
				IdempotencyKey: fmt.Sprintf("spend-%d", i),
			})
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var werr *wallet.Error
		require.ErrorAs(t, err, &werr)
		require.Equal(t, wallet.CodeInsufficientBalance, werr.Code)
		insufficient++
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 3, insufficient)

	assert.Equal(t, int64(0), balanceOf(t, engine, charlie, assetLoyalty))
	assert.Equal(t, revenueBefore+100, systemBalance(t, store, wallet.RevenueAccountID, assetLoyalty))
}

func TestIssueBonus_DuplicateKeyRace(t *testing.T) {
	// Two concurrent bonuses under one key: exactly one transfer happens and
	// both callers end up with the same transaction.

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	bob := newUser(t, engine, assetDiamonds, 0)

	var wg sync.WaitGroup
	results := make([]*wallet.TransferResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.IssueBonus(ctx, wallet.TransferRequest{
				UserID: bob, AssetCode: assetDiamonds, Amount: 100, IdempotencyKey: "dup-k",
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].TransactionID, results[1].TransactionID)

	var created int
	for _, res := range results {
		if !res.Idempotent {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(100), balanceOf(t, engine, bob, assetDiamonds))
}

// =============================================================================
// GLOBAL INVARIANTS
// =============================================================================

func TestConservation_PerAsset(t *testing.T) {
	// All value originates in the Treasury, so across every wallet of an
	// asset the balances always sum to zero.

	engine, store := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 300)
	bob := newUser(t, engine, assetGold, 0)

	ops := []func() error{
		func() error {
			_, err := engine.TopUp(ctx, wallet.TransferRequest{UserID: bob, AssetCode: assetGold, Amount: 120})
			return err
		},
		func() error {
			_, err := engine.Purchase(ctx, wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 90})
			return err
		},
		func() error {
			_, err := engine.IssueBonus(ctx, wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 40})
			return err
		},
	}
	for _, op := range ops {
		require.NoError(t, op())

		total := balanceOf(t, engine, alice, assetGold) +
			balanceOf(t, engine, bob, assetGold) +
			systemBalance(t, store, wallet.TreasuryAccountID, assetGold) +
			systemBalance(t, store, wallet.RevenueAccountID, assetGold)
		assert.Equal(t, int64(0), total)
	}
}

func TestContinuity_LedgerChain(t *testing.T) {
	// For every wallet, consecutive ledger entries satisfy
	// next.balanceBefore == previous.balanceAfter.

	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 100)

	for i := 0; i < 10; i++ {
		_, err := engine.TopUp(ctx, wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 7})
		require.NoError(t, err)
		_, err = engine.Purchase(ctx, wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 3})
		require.NoError(t, err)
	}

	history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 100})
	require.NoError(t, err)
	require.Len(t, history, 21)
	assertContinuousChain(t, history)
	assert.Equal(t, history[0].BalanceAfter, balanceOf(t, engine, alice, assetGold))
}

// assertContinuousChain verifies the before/after chain on newest-first
// history of one wallet.
func assertContinuousChain(t *testing.T, history []*wallet.HistoryEntry) {
	t.Helper()
	for i := 0; i < len(history)-1; i++ {
		newer, older := history[i], history[i+1]
		assert.Equal(t, older.BalanceAfter, newer.BalanceBefore,
			"chain broken between entries %d and %d", i+1, i)
	}
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

func TestGetBalance_NoWallets(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.GetBalance(ctx, "7b1f2ab8-1111-4222-8333-444455556666", "")
	var werr *wallet.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wallet.CodeNotFound, werr.Code)
}

func TestGetBalance_AllAssets(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 100)

	// Second asset for the same account.
	_, err := engine.EnsureAsset(ctx, assetDiamonds, "Diamonds")
	require.NoError(t, err)
	_, err = engine.CreateWallet(ctx, alice, assetDiamonds)
	require.NoError(t, err)

	balances, err := engine.GetBalance(ctx, alice, "")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, assetDiamonds, balances[0].AssetCode)
	assert.Equal(t, int64(0), balances[0].Balance)
	assert.Equal(t, assetGold, balances[1].AssetCode)
	assert.Equal(t, int64(100), balances[1].Balance)
}

func TestGetTransactions_Paging(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 0)

	for i := 0; i < 25; i++ {
		_, err := engine.TopUp(ctx, wallet.TransferRequest{UserID: alice, AssetCode: assetGold, Amount: 1})
		require.NoError(t, err)
	}

	t.Run("default limit", func(t *testing.T) {
		history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{})
		require.NoError(t, err)
		assert.Len(t, history, wallet.DefaultHistoryLimit)
	})

	t.Run("limit clamped to max", func(t *testing.T) {
		history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 1000})
		require.NoError(t, err)
		assert.Len(t, history, 25)
	})

	t.Run("offset window", func(t *testing.T) {
		history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 10, Offset: 20})
		require.NoError(t, err)
		assert.Len(t, history, 5)
	})

	t.Run("negative offset treated as zero", func(t *testing.T) {
		history, err := engine.GetTransactions(ctx, alice, assetGold, wallet.HistoryPage{Limit: 5, Offset: -3})
		require.NoError(t, err)
		assert.Len(t, history, 5)
	})
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

func TestCreateWallet_DuplicatePerAssetRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	alice := newUser(t, engine, assetGold, 0)

	_, err := engine.CreateWallet(ctx, alice, assetGold)
	var werr *wallet.Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, wallet.CodeConstraintViolation, werr.Code)
}

func TestEnsureAsset_Idempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.EnsureAsset(ctx, assetGold, "Gold Coins")
	require.NoError(t, err)
	second, err := engine.EnsureAsset(ctx, assetGold, "Gold Coins")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Exactly one treasury wallet exists for the asset.
	wallets, err := store.WalletsByAccount(ctx, wallet.TreasuryAccountID, assetGold)
	require.NoError(t, err)
	assert.Len(t, wallets, 1)
}
