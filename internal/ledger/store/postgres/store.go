// Package postgres implements ledger.Store on PostgreSQL. Units run at READ COMMITTED with
// account rows locked FOR UPDATE in id order; the transfer debit is a single conditional
// UPDATE evaluated against the live row.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/platform/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	constraintIdempotencyKey = "uq_transactions_idempotency_key"
	constraintReversalOf     = "uq_transactions_reversal_of"

	accountColumns     = `id, type, name, bank_name, owner_id, balance, currency, is_active, created_at, updated_at`
	transactionColumns = `id, account_id, kind, amount, description, category, pairing_id, idempotency_key, reversal_of, created_at`
)

// Migrate applies the embedded schema to the database at dsn.
func Migrate(dsn string) error {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("ledger/postgres: open: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(conn, &pgxmigrate.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ledger/postgres: migrate driver: %w", err)
	}
	return db.Migrate(migrations, "migrations", "pgx5", driver)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the ledger in PostgreSQL.
type Store struct {
	reader
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// New constructs a Store on an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{reader: reader{q: pool}, pool: pool}
}

// Pool exposes the underlying pool for collaborators sharing the database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// WithTx runs fn inside one READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxStore) error) error {
	err := db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{reader: reader{q: tx}})
	})
	return ledger.Storage("transaction", err)
}

type reader struct {
	q querier
}

func (r reader) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	row := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, ledger.AccountNotFound(id)
	}
	if err != nil {
		return ledger.Account{}, ledger.Storage("get account", err)
	}
	return a, nil
}

func (r reader) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "is_active")
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY lower(name), id"
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("list accounts", err)
	}
	defer rows.Close()
	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, ledger.Storage("list accounts", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("list accounts", err)
	}
	return accounts, nil
}

func (r reader) GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	row := r.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	if err != nil {
		return ledger.Transaction{}, ledger.Storage("get transaction", err)
	}
	return t, nil
}

func (r reader) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where, args := transactionWhere(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.queryTransactions(ctx, "list transactions", query, args...)
}

func (r reader) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int, error) {
	where, args := transactionWhere(filter)
	var n int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n); err != nil {
		return 0, ledger.Storage("count transactions", err)
	}
	return n, nil
}

func (r reader) FindTransferByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return r.findOne(ctx, "find transfer by key",
		`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key)
}

func (r reader) FindReversal(ctx context.Context, id uuid.UUID) (ledger.Transaction, bool, error) {
	return r.findOne(ctx, "find reversal",
		`SELECT `+transactionColumns+` FROM transactions WHERE reversal_of = $1`, id)
}

func (r reader) AuditBalances(ctx context.Context) ([]ledger.BalanceCheck, error) {
	rows, err := r.q.Query(ctx, `SELECT a.id, a.balance, COALESCE(SUM(CASE WHEN t.kind IN ('income', 'transfer_in') THEN t.amount ELSE -t.amount END), 0)
FROM accounts a
LEFT JOIN transactions t ON t.account_id = a.id
GROUP BY a.id, a.balance
ORDER BY a.id`)
	if err != nil {
		return nil, ledger.Storage("audit balances", err)
	}
	defer rows.Close()
	var checks []ledger.BalanceCheck
	for rows.Next() {
		var c ledger.BalanceCheck
		if err := rows.Scan(&c.AccountID, &c.Stored, &c.Computed); err != nil {
			return nil, ledger.Storage("audit balances", err)
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("audit balances", err)
	}
	return checks, nil
}

func (r reader) BrokenPairings(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `SELECT pairing_id
FROM transactions
WHERE pairing_id IS NOT NULL
GROUP BY pairing_id
HAVING COUNT(*) <> 2
    OR COUNT(*) FILTER (WHERE kind = 'transfer_out') <> 1
    OR COUNT(*) FILTER (WHERE kind = 'transfer_in') <> 1
    OR COUNT(DISTINCT account_id) <> 2
    OR MIN(amount) <> MAX(amount)
ORDER BY pairing_id`)
	if err != nil {
		return nil, ledger.Storage("broken pairings", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.Storage("broken pairings", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("broken pairings", err)
	}
	return ids, nil
}

func (r reader) findOne(ctx context.Context, op, query string, arg any) (ledger.Transaction, bool, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, ledger.Storage(op, err)
	}
	return t, true, nil
}

func (r reader) queryTransactions(ctx context.Context, op, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage(op, err)
	}
	defer rows.Close()
	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.Storage(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage(op, err)
	}
	return out, nil
}

type txStore struct {
	reader
}

func (t *txStore) InsertAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.q.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, string(a.Type), a.Name, a.BankName, a.OwnerID, a.Balance, a.Currency, a.IsActive, a.CreatedAt, a.UpdatedAt)
	return ledger.Storage("insert account", err)
}

func (t *txStore) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]ledger.Account, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })
	locked := make(map[uuid.UUID]ledger.Account, len(ordered))
	for _, id := range ordered {
		if _, ok := locked[id]; ok {
			continue
		}
		row := t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		a, err := scanAccount(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.AccountNotFound(id)
		}
		if err != nil {
			return nil, ledger.Storage("lock account", err)
		}
		locked[id] = a
	}
	out := make([]ledger.Account, len(ids))
	for i, id := range ids {
		out[i] = locked[id]
	}
	return out, nil
}

func (t *txStore) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := t.q.Exec(ctx, `UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return ledger.Storage("set account active", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.AccountNotFound(id)
	}
	return nil
}

func (t *txStore) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRow(ctx, `UPDATE accounts SET balance = balance + $2::numeric, updated_at = NOW()
WHERE id = $1 RETURNING balance`, id, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ledger.AccountNotFound(id)
	}
	if err != nil {
		return decimal.Decimal{}, ledger.Storage("adjust balance", err)
	}
	return balance, nil
}

func (t *txStore) DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRow(ctx, `UPDATE accounts SET balance = balance - $2::numeric, updated_at = NOW()
WHERE id = $1 AND balance >= $2::numeric RETURNING balance`, id, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ledger.Storage("debit", err)
	}
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return decimal.Decimal{}, ledger.Storage("debit", err)
	}
	if !exists {
		return decimal.Decimal{}, ledger.AccountNotFound(id)
	}
	return decimal.Decimal{}, ledger.InsufficientFunds(id, amount)
}

func (t *txStore) InsertTransaction(ctx context.Context, r ledger.Transaction) error {
	_, err := t.q.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.AccountID, string(r.Kind), r.Amount, r.Description, r.Category, r.PairingID, r.IdempotencyKey, r.ReversalOf, r.CreatedAt)
	if constraint, ok := db.UniqueViolation(err); ok {
		switch constraint {
		case constraintIdempotencyKey:
			return ledger.ErrDuplicateIdempotencyKey
		case constraintReversalOf:
			return ledger.ErrAlreadyReversed
		}
	}
	return ledger.Storage("insert transaction", err)
}

func transactionWhere(f ledger.TransactionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.PairingID != nil {
		args = append(args, *f.PairingID)
		where = append(where, fmt.Sprintf("pairing_id = $%d", len(args)))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a   ledger.Account
		typ string
	)
	err := row.Scan(&a.ID, &typ, &a.Name, &a.BankName, &a.OwnerID, &a.Balance, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	a.Type = ledger.AccountType(typ)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t    ledger.Transaction
		kind string
	)
	err := row.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.Description, &t.Category, &t.PairingID, &t.IdempotencyKey, &t.ReversalOf, &t.CreatedAt)
	t.Kind = ledger.Kind(kind)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}
