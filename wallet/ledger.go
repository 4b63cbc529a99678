/*
ledger.go - Double-entry ledger writer

PURPOSE:
  Performs the balance mutations and ledger appends of one transfer, all
  within the caller's transaction. Exactly one Debit on the source and one
  Credit on the destination are written per transaction record, so the sum
  of debits equals the sum of credits equals the transfer amount.

PRECONDITIONS (established by the orchestrator):
  - amount > 0
  - both wallets are locked earlier in the same transaction
  - source and destination share the asset type and differ from each other

INVARIANTS MAINTAINED:
  - Balance floor: a wallet with allow_negative=false never goes below zero.
    Checked here against the locked state; the storage CHECK constraint is
    the safety net behind it.
  - Continuity: each entry's balance_before equals the wallet's balance at
    lock time and balance_after equals its stored balance at commit.
  - Conservation: source delta and destination delta cancel exactly.

SEE ALSO:
  - locks.go:  produces the locked states consumed here
  - engine.go: orchestrates lookup, locate, lock, write
*/
package wallet

import (
	"context"
	"time"
)

// transferSpec is the ledger writer's input, assembled by the orchestrator
// from locked wallet state.
type transferSpec struct {
	Source         *Wallet
	Dest           *Wallet
	Amount         int64
	Kind           TransactionKind
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// executeTransfer moves Amount from Source to Dest and appends the
// transaction record plus its two ledger entries. Source is updated before
// destination for deterministic traces; both are locked, so the order does
// not affect correctness.
func executeTransfer(ctx context.Context, tx Tx, spec transferSpec, now time.Time) (*TransferResult, error) {
	source, dest := spec.Source, spec.Dest
	if source.ID == dest.ID {
		return nil, Validationf("source and destination wallets must differ")
	}
	if source.AssetTypeID != dest.AssetTypeID {
		return nil, Validationf("source and destination wallets hold different assets")
	}
	if spec.Amount <= 0 {
		return nil, Validationf("amount must be positive, got %d", spec.Amount)
	}

	if !source.AllowNegative && source.Balance < spec.Amount {
		return nil, NewInsufficientBalance(source.ID, spec.Amount, source.Balance)
	}

	sourceAfter := source.Balance - spec.Amount
	destAfter := dest.Balance + spec.Amount

	if err := tx.UpdateWalletBalance(ctx, source.ID, sourceAfter, source.Version+1); err != nil {
		return nil, err
	}
	if err := tx.UpdateWalletBalance(ctx, dest.ID, destAfter, dest.Version+1); err != nil {
		return nil, err
	}

	txn := &Transaction{
		ID:             TransactionID(NewID()),
		IdempotencyKey: spec.IdempotencyKey,
		Kind:           spec.Kind,
		Status:         StatusCompleted,
		SourceWalletID: source.ID,
		DestWalletID:   dest.ID,
		AssetTypeID:    source.AssetTypeID,
		Amount:         spec.Amount,
		Description:    spec.Description,
		Metadata:       spec.Metadata,
		CreatedAt:      now,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}

	debit := &LedgerEntry{
		ID:            NewID(),
		TransactionID: txn.ID,
		WalletID:      source.ID,
		EntryType:     EntryDebit,
		Amount:        spec.Amount,
		BalanceBefore: source.Balance,
		BalanceAfter:  sourceAfter,
		CreatedAt:     now,
	}
	credit := &LedgerEntry{
		ID:            NewID(),
		TransactionID: txn.ID,
		WalletID:      dest.ID,
		EntryType:     EntryCredit,
		Amount:        spec.Amount,
		BalanceBefore: dest.Balance,
		BalanceAfter:  destAfter,
		CreatedAt:     now,
	}
	if err := tx.InsertLedgerEntry(ctx, debit); err != nil {
		return nil, err
	}
	if err := tx.InsertLedgerEntry(ctx, credit); err != nil {
		return nil, err
	}

	return &TransferResult{
		TransactionID: txn.ID,
		Kind:          spec.Kind,
		AssetCode:     source.AssetCode,
		Amount:        spec.Amount,
		Description:   spec.Description,
		Source:        WalletChange{WalletID: source.ID, Before: source.Balance, After: sourceAfter},
		Destination:   WalletChange{WalletID: dest.ID, Before: dest.Balance, After: destAfter},
		CreatedAt:     now,
	}, nil
}
