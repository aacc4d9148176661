package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reader exposes the read side of the ledger.
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	// ListTransactions returns matching rows newest first.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	CountTransactions(ctx context.Context, filter TransactionFilter) (int, error)
	// FindTransferByKey returns the transfer_out row carrying the idempotency key.
	FindTransferByKey(ctx context.Context, key string) (Transaction, bool, error)
	// FindReversal returns the transaction that offsets id, if any.
	FindReversal(ctx context.Context, id uuid.UUID) (Transaction, bool, error)
	// AuditBalances compares stored balances with the transaction log in one snapshot.
	AuditBalances(ctx context.Context) ([]BalanceCheck, error)
	// BrokenPairings lists pairing ids that do not form exactly one valid transfer pair.
	BrokenPairings(ctx context.Context) ([]uuid.UUID, error)
}

// TxStore is the store as seen from inside one atomic unit. Everything written through it
// commits or rolls back together.
type TxStore interface {
	Reader

	InsertAccount(ctx context.Context, account Account) error
	// LockAccounts loads the accounts and holds them exclusively until the unit ends. Locks
	// are taken in ascending id order; results follow the order of ids.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]Account, error)
	SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error

	// AdjustBalance applies delta as one atomic read-modify-write and returns the new balance.
	AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	// DebitIfSufficient subtracts amount only when the live balance covers it. It returns an
	// *InsufficientFundsError otherwise.
	DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)

	// InsertTransaction appends to the log. It fails with ErrDuplicateIdempotencyKey or
	// ErrAlreadyReversed when a uniqueness rule is violated.
	InsertTransaction(ctx context.Context, t Transaction) error
}

// Store persists accounts and transactions.
type Store interface {
	Reader
	// WithTx runs fn in one atomic unit. Errors returned by fn roll everything back and are
	// returned untransformed; infrastructure failures surface as *StorageError.
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// BalanceCheck pairs an account's stored balance with the sum of its transactions.
type BalanceCheck struct {
	AccountID uuid.UUID
	Stored    decimal.Decimal
	Computed  decimal.Decimal
}
