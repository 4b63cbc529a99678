/*
errors.go - Error taxonomy for the wallet engine

PURPOSE:
  All failures that cross the engine boundary are classified into a small
  stable taxonomy. Each kind has a machine code, an HTTP-mappable status,
  and a retryable marker. Store backends translate their driver-level codes
  into the sentinel errors below; the engine folds sentinels into *Error.

ERROR CATEGORIES:
  1. Store sentinels - low-level conditions reported by a Store backend
  2. Taxonomy codes  - the stable kinds surfaced to callers
  3. *Error          - structured error carrying code + context fields

USAGE:
  var werr *wallet.Error
  if errors.As(err, &werr) && werr.Code == wallet.CodeInsufficientBalance {
      // werr.WalletID, werr.Requested, werr.Available are populated
  }
  if wallet.IsRetryable(err) {
      // deadlock or serialization failure; safe to retry the request
  }

SEE ALSO:
  - store.go:  backends must return the sentinels defined here
  - engine.go: classification happens at the orchestrator boundary
*/
package wallet

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// STORE SENTINELS - returned by Store/Tx implementations
// =============================================================================

var (
	// ErrNoRows is returned when a requested row does not exist.
	ErrNoRows = errors.New("no rows in result")

	// ErrUniqueViolation is returned when an insert collides with a
	// uniqueness constraint (idempotency key, wallet per account+asset).
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrCheckViolation is returned when a storage-layer check constraint
	// rejects a write (wallet balance floor).
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrDeadlock is returned when the store aborted the transaction to
	// break a deadlock. The transaction rolled back; retrying is safe.
	ErrDeadlock = errors.New("deadlock detected")

	// ErrSerialization is returned when the store detected a concurrent
	// modification under a stricter isolation level.
	ErrSerialization = errors.New("serialization failure")

	// ErrStatementTimeout is returned when a single statement exceeded the
	// configured statement timeout and was cancelled server-side.
	ErrStatementTimeout = errors.New("statement timeout")

	// ErrAcquireTimeout is returned when no store connection could be
	// acquired within the configured acquisition timeout.
	ErrAcquireTimeout = errors.New("connection acquire timeout")
)

// =============================================================================
// TAXONOMY
// =============================================================================

// Code is the stable machine code of an error kind.
type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeDuplicateTransaction Code = "DUPLICATE_TRANSACTION"
	CodeConstraintViolation  Code = "CONSTRAINT_VIOLATION"
	CodeDeadlockDetected     Code = "DEADLOCK_DETECTED"
	CodeSerializationFailure Code = "SERIALIZATION_FAILURE"
	CodeInternal             Code = "INTERNAL"
)

// HTTPStatus suggests an HTTP status for a taxonomy code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case CodeDuplicateTransaction, CodeConstraintViolation:
		return http.StatusConflict
	case CodeDeadlockDetected, CodeSerializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the structured failure surfaced by every engine operation.
// Context fields are populated per kind: InsufficientBalance carries
// WalletID/Requested/Available.
type Error struct {
	Code      Code
	Message   string
	Retryable bool

	WalletID  WalletID
	Requested int64
	Available int64

	Err error // wrapped cause, not exposed to production callers
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// =============================================================================
// CONSTRUCTORS
// =============================================================================

func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInsufficientBalance reports that a debit would push the wallet below
// its floor.
func NewInsufficientBalance(walletID WalletID, requested, available int64) *Error {
	return &Error{
		Code:      CodeInsufficientBalance,
		Message:   fmt.Sprintf("insufficient balance: requested %d, available %d", requested, available),
		WalletID:  walletID,
		Requested: requested,
		Available: available,
	}
}

func Internalf(err error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Classify folds a raw failure into the taxonomy. Already-classified errors
// pass through unchanged. The duplicate-key recovery path is handled by the
// orchestrator before Classify is reached, so a surviving unique violation
// means no cached response was available.
func Classify(err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	switch {
	case errors.Is(err, ErrNoRows):
		return &Error{Code: CodeNotFound, Message: "record not found", Err: err}
	case errors.Is(err, ErrUniqueViolation):
		return &Error{Code: CodeDuplicateTransaction, Message: "duplicate transaction", Err: err}
	case errors.Is(err, ErrCheckViolation):
		return &Error{Code: CodeConstraintViolation, Message: "storage constraint violated", Err: err}
	case errors.Is(err, ErrDeadlock):
		return &Error{Code: CodeDeadlockDetected, Message: "transaction aborted to break a deadlock", Retryable: true, Err: err}
	case errors.Is(err, ErrSerialization):
		return &Error{Code: CodeSerializationFailure, Message: "concurrent modification detected", Retryable: true, Err: err}
	default:
		return &Error{Code: CodeInternal, Message: "internal error", Err: err}
	}
}

// IsRetryable reports whether the request may succeed if submitted again.
func IsRetryable(err error) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Retryable
	}
	return errors.Is(err, ErrDeadlock) || errors.Is(err, ErrSerialization)
}

// IsNotFound reports whether the error indicates a missing wallet, user or
// asset.
func IsNotFound(err error) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Code == CodeNotFound
	}
	return errors.Is(err, ErrNoRows)
}
