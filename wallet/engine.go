/*
engine.go - Transfer orchestrator

PURPOSE:
  Public entry points of the wallet engine: TopUp, IssueBonus, Purchase,
  GetBalance, GetTransactions. Each transfer validates its input, then runs
  the full protocol inside one store transaction:

    1. consult the idempotency cache (replay if hit)
    2. resolve the user wallet and the system counterparty wallet
    3. lock both wallets in deterministic order
    4. verify invariants and write the double-entry ledger
    5. cache the response under the idempotency key
    6. commit

  Any failure rolls back the whole transaction; no partial state is ever
  observable.

DIRECTION PER OPERATION:
  TopUp      Treasury -> user wallet
  IssueBonus Treasury -> user wallet
  Purchase   user wallet -> Revenue

DUPLICATE-KEY RECOVERY:
  When the transaction insert collides on the idempotency-key uniqueness
  constraint, the winner has already committed. The engine re-reads the
  cache outside the aborted transaction and returns the cached response as
  an idempotent replay; only if no record is found does it surface
  DuplicateTransaction.

SEE ALSO:
  - ledger.go:      the write path
  - idempotency.go: the replay path
  - errors.go:      classification at this boundary
*/
package wallet

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Engine tunables. Zero values take the defaults below.
type Config struct {
	IdempotencyTTL      time.Duration
	HistoryDefaultLimit int
	HistoryMaxLimit     int
}

const (
	DefaultIdempotencyTTL   = 24 * time.Hour
	DefaultHistoryLimit     = 20
	DefaultHistoryMaxLimit  = 100
	MaxIdempotencyKeyLength = 255
)

// TransferRequest is the uniform input of the three transfer operations.
type TransferRequest struct {
	UserID         string
	AssetCode      string
	Amount         int64
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Engine executes transfers against a Store. It keeps no mutable state of
// its own; the only shared state is durable, in the store.
type Engine struct {
	store Store
	cfg   Config
	log   *log.Logger
	now   func() time.Time
}

// NewEngine creates an engine. A nil logger discards all output.
func NewEngine(store Store, cfg Config, logger *log.Logger) *Engine {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if cfg.HistoryDefaultLimit <= 0 {
		cfg.HistoryDefaultLimit = DefaultHistoryLimit
	}
	if cfg.HistoryMaxLimit <= 0 {
		cfg.HistoryMaxLimit = DefaultHistoryMaxLimit
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{store: store, cfg: cfg, log: logger, now: time.Now}
}

// =============================================================================
// TRANSFER OPERATIONS
// =============================================================================

// TopUp moves value from the Treasury into the user's wallet.
func (e *Engine) TopUp(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return e.transfer(ctx, KindTopUp, req)
}

// IssueBonus grants value from the Treasury into the user's wallet.
func (e *Engine) IssueBonus(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return e.transfer(ctx, KindBonus, req)
}

// Purchase moves value from the user's wallet into Revenue.
func (e *Engine) Purchase(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return e.transfer(ctx, KindPurchase, req)
}

func (e *Engine) transfer(ctx context.Context, kind TransactionKind, req TransferRequest) (*TransferResult, error) {
	if err := validateTransferRequest(req); err != nil {
		return nil, err
	}

	var result *TransferResult
	err := e.store.WithTx(ctx, func(tx Tx) error {
		now := e.now().UTC()

		cached, hit, err := lookupCached(ctx, tx, req.IdempotencyKey, now)
		if err != nil {
			return err
		}
		if hit {
			result = cached
			return nil
		}

		userWallet, err := findWallet(ctx, tx, AccountID(req.UserID), req.AssetCode)
		if err != nil {
			return err
		}
		sysWallet, err := findWallet(ctx, tx, systemAccountFor(kind), req.AssetCode)
		if err != nil {
			return err
		}

		locked, err := lockWallets(ctx, tx, userWallet.ID, sysWallet.ID)
		if err != nil {
			return err
		}

		source, dest := locked[sysWallet.ID], locked[userWallet.ID]
		if kind == KindPurchase {
			source, dest = locked[userWallet.ID], locked[sysWallet.ID]
		}

		res, err := executeTransfer(ctx, tx, transferSpec{
			Source:         source,
			Dest:           dest,
			Amount:         req.Amount,
			Kind:           kind,
			Description:    req.Description,
			Metadata:       req.Metadata,
			IdempotencyKey: req.IdempotencyKey,
		}, now)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			if err := storeCached(ctx, tx, req.IdempotencyKey, res, http.StatusCreated, e.cfg.IdempotencyTTL, now); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return e.recoverTransfer(ctx, kind, req, err)
	}

	if result.Idempotent {
		e.log.Debug("idempotent replay", "kind", kind, "user", req.UserID, "key", req.IdempotencyKey)
	} else {
		e.log.Debug("transfer committed", "kind", kind, "user", req.UserID,
			"asset", req.AssetCode, "amount", req.Amount, "tx", result.TransactionID)
	}
	return result, nil
}

// recoverTransfer handles the failure side of a transfer. The unique-key
// collision has a two-phase recovery: if a concurrent request with the same
// key committed first, its cached response is returned as a replay.
func (e *Engine) recoverTransfer(ctx context.Context, kind TransactionKind, req TransferRequest, cause error) (*TransferResult, error) {
	if errors.Is(cause, ErrUniqueViolation) && req.IdempotencyKey != "" {
		rec, err := e.store.CachedResponse(ctx, req.IdempotencyKey, e.now().UTC())
		if err == nil && rec != nil {
			res, decErr := decodeCachedResult(rec)
			if decErr == nil {
				e.log.Debug("duplicate-key recovery replay", "kind", kind, "key", req.IdempotencyKey)
				return res, nil
			}
			cause = decErr
		}
	}

	werr := Classify(cause)
	switch werr.Code {
	case CodeInternal, CodeConstraintViolation:
		e.log.Error("transfer failed", "kind", kind, "user", req.UserID, "code", werr.Code, "err", cause)
	default:
		e.log.Warn("transfer rejected", "kind", kind, "user", req.UserID, "code", werr.Code)
	}
	return nil, werr
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// GetBalance returns the user's wallet balances, or the single balance for
// assetCode if given. Fails with NotFound if the user has no matching
// wallets.
func (e *Engine) GetBalance(ctx context.Context, userID, assetCode string) ([]*Balance, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	wallets, err := e.store.WalletsByAccount(ctx, AccountID(userID), assetCode)
	if err != nil {
		return nil, Classify(err)
	}
	if len(wallets) == 0 {
		if assetCode != "" {
			return nil, NotFoundf("no %s wallet for account %s", assetCode, userID)
		}
		return nil, NotFoundf("no wallets for account %s", userID)
	}

	balances := make([]*Balance, len(wallets))
	for i, w := range wallets {
		balances[i] = &Balance{WalletID: w.ID, AssetCode: w.AssetCode, Balance: w.Balance}
	}
	return balances, nil
}

// GetTransactions returns ledger-joined history for the user, newest first.
// Out-of-range paging values are clamped to the configured bounds.
func (e *Engine) GetTransactions(ctx context.Context, userID, assetCode string, page HistoryPage) ([]*HistoryEntry, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	limit := page.Limit
	if limit <= 0 {
		limit = e.cfg.HistoryDefaultLimit
	}
	if limit > e.cfg.HistoryMaxLimit {
		limit = e.cfg.HistoryMaxLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	entries, err := e.store.TransactionHistory(ctx, AccountID(userID), assetCode, limit, offset)
	if err != nil {
		return nil, Classify(err)
	}
	return entries, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateTransferRequest(req TransferRequest) error {
	if err := validateUserID(req.UserID); err != nil {
		return err
	}
	if req.AssetCode == "" {
		return Validationf("asset_code is required")
	}
	if req.Amount <= 0 {
		return Validationf("amount must be a positive integer, got %d", req.Amount)
	}
	if len(req.IdempotencyKey) > MaxIdempotencyKeyLength {
		return Validationf("idempotency key exceeds %d bytes", MaxIdempotencyKeyLength)
	}
	return nil
}

func validateUserID(userID string) error {
	if userID == "" {
		return Validationf("user id is required")
	}
	if err := uuid.Validate(userID); err != nil {
		return Validationf("user id %q is not well-formed", userID)
	}
	return nil
}
