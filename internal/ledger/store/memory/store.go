// Package memory provides an in-process ledger.Store. Each account carries its own lock that a
// unit holds until it ends; writes are buffered in the unit and published in one step on
// commit, so readers never observe uncommitted balances or rows.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/ledger"
)

type cell struct {
	lock    chan struct{}
	account ledger.Account
}

func newCell(a ledger.Account) *cell {
	return &cell{lock: make(chan struct{}, 1), account: a}
}

func (c *cell) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *cell) release() { <-c.lock }

// Store keeps accounts and transactions in memory.
type Store struct {
	mu        sync.RWMutex
	accounts  map[uuid.UUID]*cell
	rows      []ledger.Transaction
	byID      map[uuid.UUID]int
	keys      map[string]int
	reversals map[uuid.UUID]int
}

var _ ledger.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts:  map[uuid.UUID]*cell{},
		byID:      map[uuid.UUID]int{},
		keys:      map[string]int{},
		reversals: map[uuid.UUID]int{},
	}
}

// WithTx runs fn in one unit. Account locks taken by the unit are released when it ends.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxStore) error) error {
	if err := ctx.Err(); err != nil {
		return ledger.Storage("begin", err)
	}
	t := newTx(s)
	defer t.release()
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return ledger.Storage("commit", err)
	}
	return t.commit()
}

// GetAccount returns one committed account.
func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.AccountNotFound(id)
	}
	return c.account, nil
}

// ListAccounts returns a consistent snapshot ordered by name.
func (s *Store) ListAccounts(_ context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, c := range s.accounts {
		if matchAccount(c.account, filter) {
			out = append(out, c.account)
		}
	}
	sortAccounts(out)
	return out, nil
}

// GetTransaction returns one committed transaction.
func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return ledger.Transaction{}, ledger.TransactionNotFound(id)
	}
	return s.rows[i], nil
}

// ListTransactions returns committed rows newest first.
func (s *Store) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(newestFirst(s.rows, nil, filter), filter), nil
}

// CountTransactions counts committed rows matching filter, ignoring paging.
func (s *Store) CountTransactions(_ context.Context, filter ledger.TransactionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.rows {
		if matchTransaction(r, filter) {
			n++
		}
	}
	return n, nil
}

// FindTransferByKey looks up the transfer_out row holding key.
func (s *Store) FindTransferByKey(_ context.Context, key string) (ledger.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.keys[key]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return s.rows[i], true, nil
}

// FindReversal returns the row that offsets id.
func (s *Store) FindReversal(_ context.Context, id uuid.UUID) (ledger.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.reversals[id]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return s.rows[i], true, nil
}

// AuditBalances recomputes every balance from the log under one read lock.
func (s *Store) AuditBalances(_ context.Context) ([]ledger.BalanceCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sums := make(map[uuid.UUID]decimal.Decimal, len(s.accounts))
	for _, r := range s.rows {
		sums[r.AccountID] = sums[r.AccountID].Add(r.Signed())
	}
	out := make([]ledger.BalanceCheck, 0, len(s.accounts))
	for id, c := range s.accounts {
		out = append(out, ledger.BalanceCheck{AccountID: id, Stored: c.account.Balance, Computed: sums[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

// BrokenPairings lists pairing ids that are not exactly one out and one in of equal amount on
// distinct accounts.
func (s *Store) BrokenPairings(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := map[uuid.UUID][]ledger.Transaction{}
	for _, r := range s.rows {
		if r.PairingID != nil {
			groups[*r.PairingID] = append(groups[*r.PairingID], r)
		}
	}
	var broken []uuid.UUID
	for id, g := range groups {
		if !validPair(g) {
			broken = append(broken, id)
		}
	}
	sort.Slice(broken, func(i, j int) bool { return broken[i].String() < broken[j].String() })
	return broken, nil
}

func validPair(g []ledger.Transaction) bool {
	if len(g) != 2 {
		return false
	}
	a, b := g[0], g[1]
	if a.Kind == ledger.KindTransferIn {
		a, b = b, a
	}
	return a.Kind == ledger.KindTransferOut && b.Kind == ledger.KindTransferIn &&
		a.AccountID != b.AccountID && a.Amount.Equal(b.Amount)
}

func matchAccount(a ledger.Account, f ledger.AccountFilter) bool {
	if !f.IncludeInactive && !a.IsActive {
		return false
	}
	return f.Type == "" || a.Type == f.Type
}

func matchTransaction(t ledger.Transaction, f ledger.TransactionFilter) bool {
	if f.AccountID != nil && t.AccountID != *f.AccountID {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.PairingID != nil && (t.PairingID == nil || *t.PairingID != *f.PairingID) {
		return false
	}
	return true
}

func sortAccounts(accounts []ledger.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		a, b := strings.ToLower(accounts[i].Name), strings.ToLower(accounts[j].Name)
		if a != b {
			return a < b
		}
		return accounts[i].ID.String() < accounts[j].ID.String()
	})
}

// newestFirst merges committed and pending rows matching f, latest first. Rows with equal
// timestamps keep reverse insertion order.
func newestFirst(committed, pending []ledger.Transaction, f ledger.TransactionFilter) []ledger.Transaction {
	var out []ledger.Transaction
	for i := len(pending) - 1; i >= 0; i-- {
		if matchTransaction(pending[i], f) {
			out = append(out, pending[i])
		}
	}
	for i := len(committed) - 1; i >= 0; i-- {
		if matchTransaction(committed[i], f) {
			out = append(out, committed[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func page(rows []ledger.Transaction, f ledger.TransactionFilter) []ledger.Transaction {
	if f.Offset >= len(rows) {
		return []ledger.Transaction{}
	}
	rows = rows[f.Offset:]
	if f.Limit > 0 && f.Limit < len(rows) {
		rows = rows[:f.Limit]
	}
	return rows
}
