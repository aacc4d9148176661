package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("ledger: invalid request")
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInsufficientFunds matches every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("ledger: storage failure")
	// ErrDuplicateIdempotencyKey is returned by stores when a transfer key is already taken.
	ErrDuplicateIdempotencyKey = errors.New("ledger: duplicate idempotency key")
	// ErrAlreadyReversed is returned by stores when a transaction already has a reversal.
	ErrAlreadyReversed = errors.New("ledger: transaction already reversed")
)

// ValidationError reports malformed input. It is always caller-fixable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing account or transaction.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientFundsError reports a transfer whose source cannot cover the amount.
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("not enough balance on account %s to move %s", e.AccountID, e.Requested.StringFixed(AmountScale))
}

// Is lets errors.Is(err, ErrInsufficientFunds) match.
func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// StorageError wraps an infrastructure failure. No partial effect survives it, so the
// whole operation may be retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a *StorageError unless it already is a ledger error.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrAlreadyReversed) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomainError reports whether err belongs to the caller-facing taxonomy other than storage.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientFunds)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AccountNotFound builds the not-found error stores return for a missing account.
func AccountNotFound(id uuid.UUID) error {
	return &NotFoundError{Entity: "account", ID: id}
}

// TransactionNotFound builds the not-found error stores return for a missing transaction.
func TransactionNotFound(id uuid.UUID) error {
	return &NotFoundError{Entity: "transaction", ID: id}
}

// InsufficientFunds builds the error stores return when a conditional debit matches no row.
func InsufficientFunds(id uuid.UUID, requested decimal.Decimal) error {
	return &InsufficientFundsError{AccountID: id, Requested: requested}
}
