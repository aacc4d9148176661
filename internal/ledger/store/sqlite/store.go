// Package sqlite implements ledger.Store on a single SQLite file. Money is stored as integer
// ten-thousandths. Every unit is an IMMEDIATE transaction on the only open connection, so
// units are serialized and the conditional debit always sees the live balance.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/google/uuid"
	sqlite "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/platform/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	accountColumns     = `id, type, name, bank_name, owner_id, balance, currency, is_active, created_at, updated_at`
	transactionColumns = `id, account_id, kind, amount, description, category, pairing_id, idempotency_key, reversal_of, created_at`
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store persists the ledger in SQLite.
type Store struct {
	db DBTX
}

var _ ledger.Store = (*Store)(nil)

func dsn(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger/sqlite: create directory %s: %w", dir, err)
	}
	return nil
}

// Open connects to the database file at path, creating its directory when needed.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ledger/sqlite: ping: %w", err)
	}
	return &Store{db: conn}, nil
}

// Migrate applies the embedded schema to the database file at path.
func Migrate(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return fmt.Errorf("ledger/sqlite: open: %w", err)
	}
	driver, err := sqlite3.WithInstance(conn, &sqlite3.Config{})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("ledger/sqlite: migrate driver: %w", err)
	}
	return db.Migrate(migrations, "migrations", "sqlite3", driver)
}

// Close releases the connection.
func (s *Store) Close() error {
	if conn, ok := s.db.(*sql.DB); ok {
		return conn.Close()
	}
	return nil
}

// WithTx runs fn in one IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxStore) error) error {
	conn, ok := s.db.(*sql.DB)
	if !ok {
		return ledger.Storage("begin", errors.New("store is already in a transaction"))
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin", err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return ledger.Storage("rollback", fmt.Errorf("%v (rollback: %w)", err, rbErr))
		}
		return ledger.Storage("transaction", err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Storage("commit", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id.String())
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.AccountNotFound(id)
	}
	if err != nil {
		return ledger.Account{}, ledger.Storage("get account", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY lower(name), id"
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id.String())
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	if err != nil {
		return ledger.Transaction{}, ledger.Storage("get transaction", err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where, args := transactionWhere(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY created_at DESC, seq DESC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Storage("list transactions", err)
	}
	defer rows.Close()
	out := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.Storage("list transactions", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("list transactions", err)
	}
	return out, nil
}

func (s *Store) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int, error) {
	where, args := transactionWhere(filter)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&n); err != nil {
		return 0, ledger.Storage("count transactions", err)
	}
	return n, nil
}

func (s *Store) FindTransferByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	return s.findOne(ctx, "find transfer by key", `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = ?`, key)
}

func (s *Store) FindReversal(ctx context.Context, id uuid.UUID) (ledger.Transaction, bool, error) {
	return s.findOne(ctx, "find reversal", `SELECT `+transactionColumns+` FROM transactions WHERE reversal_of = ?`, id.String())
}

func (s *Store) AuditBalances(ctx context.Context) ([]ledger.BalanceCheck, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.id, a.balance,
    COALESCE(SUM(CASE WHEN t.kind IN ('income', 'transfer_in') THEN t.amount ELSE -t.amount END), 0)
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
		var (
			id                string
			stored, computed int64
		)
		if err := rows.Scan(&id, &stored, &computed); err != nil {
			return nil, ledger.Storage("audit balances", err)
		}
		accountID, err := uuid.Parse(id)
		if err != nil {
			return nil, ledger.Storage("audit balances", err)
		}
		checks = append(checks, ledger.BalanceCheck{AccountID: accountID, Stored: fromUnits(stored), Computed: fromUnits(computed)})
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("audit balances", err)
	}
	return checks, nil
}

func (s *Store) BrokenPairings(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pairing_id
FROM transactions
WHERE pairing_id IS NOT NULL
GROUP BY pairing_id
HAVING COUNT(*) <> 2
    OR SUM(kind = 'transfer_out') <> 1
    OR SUM(kind = 'transfer_in') <> 1
    OR COUNT(DISTINCT account_id) <> 2
    OR MIN(amount) <> MAX(amount)
ORDER BY pairing_id`)
	if err != nil {
		return nil, ledger.Storage("broken pairings", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, ledger.Storage("broken pairings", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, ledger.Storage("broken pairings", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Storage("broken pairings", err)
	}
	return ids, nil
}

func (s *Store) InsertAccount(ctx context.Context, a ledger.Account) error {
	balance, err := toUnits(a.Balance)
	if err != nil {
		return ledger.Storage("insert account", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), string(a.Type), a.Name, a.BankName, a.OwnerID, balance, a.Currency, a.IsActive,
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	return ledger.Storage("insert account", err)
}

// LockAccounts loads the accounts. The IMMEDIATE transaction already holds the database write
// lock, so no row locking is needed.
func (s *Store) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]ledger.Account, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })
	loaded := make(map[uuid.UUID]ledger.Account, len(ordered))
	for _, id := range ordered {
		if _, ok := loaded[id]; ok {
			continue
		}
		a, err := s.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		loaded[id] = a
	}
	out := make([]ledger.Account, len(ids))
	for i, id := range ids {
		out[i] = loaded[id]
	}
	return out, nil
}

func (s *Store) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UnixNano(), id.String())
	if err != nil {
		return ledger.Storage("set account active", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.Storage("set account active", err)
	} else if n == 0 {
		return ledger.AccountNotFound(id)
	}
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	units, err := toUnits(delta)
	if err != nil {
		return decimal.Decimal{}, ledger.Storage("adjust balance", err)
	}
	var balance int64
	err = s.db.QueryRowContext(ctx, `UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ? RETURNING balance`,
		units, time.Now().UnixNano(), id.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, ledger.AccountNotFound(id)
	}
	if err != nil {
		return decimal.Decimal{}, ledger.Storage("adjust balance", err)
	}
	return fromUnits(balance), nil
}

func (s *Store) DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	units, err := toUnits(amount)
	if err != nil {
		return decimal.Decimal{}, ledger.Storage("debit", err)
	}
	var balance int64
	err = s.db.QueryRowContext(ctx, `UPDATE accounts SET balance = balance - ?, updated_at = ?
WHERE id = ? AND balance >= ? RETURNING balance`, units, time.Now().UnixNano(), id.String(), units).Scan(&balance)
	if err == nil {
		return fromUnits(balance), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, ledger.Storage("debit", err)
	}
	if _, err := s.GetAccount(ctx, id); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.Decimal{}, ledger.InsufficientFunds(id, amount)
}

func (s *Store) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	amount, err := toUnits(t.Amount)
	if err != nil {
		return ledger.Storage("insert transaction", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.AccountID.String(), string(t.Kind), amount, t.Description,
		t.Category, nullableID(t.PairingID), t.IdempotencyKey, nullableID(t.ReversalOf), t.CreatedAt.UnixNano())
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite.ErrConstraintUnique {
		switch {
		case strings.Contains(sqliteErr.Error(), "transactions.idempotency_key"):
			return ledger.ErrDuplicateIdempotencyKey
		case strings.Contains(sqliteErr.Error(), "transactions.reversal_of"):
			return ledger.ErrAlreadyReversed
		}
	}
	return ledger.Storage("insert transaction", err)
}

func (s *Store) findOne(ctx context.Context, op, query string, arg any) (ledger.Transaction, bool, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, false, nil
	}
	if err != nil {
		return ledger.Transaction{}, false, ledger.Storage(op, err)
	}
	return t, true, nil
}

func transactionWhere(f ledger.TransactionFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != nil {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID.String())
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.PairingID != nil {
		where = append(where, "pairing_id = ?")
		args = append(args, f.PairingID.String())
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// toUnits converts d to ten-thousandths. Values outside ledger.MaxAmount or with extra
// fractional digits are refused rather than wrapped or truncated.
func toUnits(d decimal.Decimal) (int64, error) {
	if !ledger.WithinLimit(d) {
		return 0, fmt.Errorf("amount %s exceeds the supported range", d)
	}
	units := d.Shift(ledger.AmountScale)
	if !units.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d, ledger.AmountScale)
	}
	return units.IntPart(), nil
}

func fromUnits(n int64) decimal.Decimal {
	return decimal.New(n, -ledger.AmountScale)
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a                ledger.Account
		id, typ          string
		balance          int64
		created, updated int64
	)
	if err := row.Scan(&id, &typ, &a.Name, &a.BankName, &a.OwnerID, &balance, &a.Currency, &a.IsActive, &created, &updated); err != nil {
		return ledger.Account{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ledger.Account{}, err
	}
	a.ID = parsed
	a.Type = ledger.AccountType(typ)
	a.Balance = fromUnits(balance)
	a.CreatedAt = time.Unix(0, created).UTC()
	a.UpdatedAt = time.Unix(0, updated).UTC()
	return a, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t                             ledger.Transaction
		id, accountID, kind           string
		amount, created               int64
		category, pairing, key, revOf sql.NullString
	)
	if err := row.Scan(&id, &accountID, &kind, &amount, &t.Description, &category, &pairing, &key, &revOf, &created); err != nil {
		return ledger.Transaction{}, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return ledger.Transaction{}, err
	}
	if t.AccountID, err = uuid.Parse(accountID); err != nil {
		return ledger.Transaction{}, err
	}
	if t.PairingID, err = parseNullableID(pairing); err != nil {
		return ledger.Transaction{}, err
	}
	if t.ReversalOf, err = parseNullableID(revOf); err != nil {
		return ledger.Transaction{}, err
	}
	t.Kind = ledger.Kind(kind)
	t.Amount = fromUnits(amount)
	t.CreatedAt = time.Unix(0, created).UTC()
	if category.Valid {
		t.Category = &category.String
	}
	if key.Valid {
		t.IdempotencyKey = &key.String
	}
	return t, nil
}

func parseNullableID(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
