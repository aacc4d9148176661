package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/ledger"
)

// tx buffers one unit's writes. Accounts it touches stay locked until release.
type tx struct {
	s         *Store
	held      map[uuid.UUID]*cell
	accounts  map[uuid.UUID]ledger.Account
	rows      []ledger.Transaction
	keys      map[string]int
	reversals map[uuid.UUID]int
	released  bool
}

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		held:      map[uuid.UUID]*cell{},
		accounts:  map[uuid.UUID]ledger.Account{},
		keys:      map[string]int{},
		reversals: map[uuid.UUID]int{},
	}
}

func (t *tx) release() {
	if t.released {
		return
	}
	t.released = true
	for _, c := range t.held {
		c.release()
	}
}

// commit publishes the buffered state. Uniqueness is re-checked under the store lock because
// two units may have buffered the same key concurrently.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range t.keys {
		if _, taken := s.keys[key]; taken {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	for id := range t.reversals {
		if _, taken := s.reversals[id]; taken {
			return ledger.ErrAlreadyReversed
		}
	}
	for id, a := range t.accounts {
		if c, ok := s.accounts[id]; ok {
			c.account = a
			continue
		}
		s.accounts[id] = newCell(a)
	}
	for _, r := range t.rows {
		i := len(s.rows)
		s.rows = append(s.rows, r)
		s.byID[r.ID] = i
		if r.IdempotencyKey != nil {
			s.keys[*r.IdempotencyKey] = i
		}
		if r.ReversalOf != nil {
			s.reversals[*r.ReversalOf] = i
		}
	}
	return nil
}

func (t *tx) GetAccount(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	return t.s.GetAccount(ctx, id)
}

func (t *tx) ListAccounts(ctx context.Context, filter ledger.AccountFilter) ([]ledger.Account, error) {
	committed, err := t.s.ListAccounts(ctx, ledger.AccountFilter{Type: filter.Type, IncludeInactive: true})
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Account, 0, len(committed)+len(t.accounts))
	for _, a := range committed {
		if pending, ok := t.accounts[a.ID]; ok {
			a = pending
		}
		if matchAccount(a, filter) {
			out = append(out, a)
		}
	}
	for id, a := range t.accounts {
		if _, held := t.held[id]; !held && matchAccount(a, filter) {
			out = append(out, a)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (t *tx) GetTransaction(ctx context.Context, id uuid.UUID) (ledger.Transaction, error) {
	for _, r := range t.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return t.s.GetTransaction(ctx, id)
}

func (t *tx) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return page(newestFirst(t.s.rows, t.rows, filter), filter), nil
}

func (t *tx) CountTransactions(ctx context.Context, filter ledger.TransactionFilter) (int, error) {
	n, err := t.s.CountTransactions(ctx, filter)
	if err != nil {
		return 0, err
	}
	for _, r := range t.rows {
		if matchTransaction(r, filter) {
			n++
		}
	}
	return n, nil
}

func (t *tx) FindTransferByKey(ctx context.Context, key string) (ledger.Transaction, bool, error) {
	if i, ok := t.keys[key]; ok {
		return t.rows[i], true, nil
	}
	return t.s.FindTransferByKey(ctx, key)
}

func (t *tx) FindReversal(ctx context.Context, id uuid.UUID) (ledger.Transaction, bool, error) {
	if i, ok := t.reversals[id]; ok {
		return t.rows[i], true, nil
	}
	return t.s.FindReversal(ctx, id)
}

func (t *tx) AuditBalances(ctx context.Context) ([]ledger.BalanceCheck, error) {
	return t.s.AuditBalances(ctx)
}

func (t *tx) BrokenPairings(ctx context.Context) ([]uuid.UUID, error) {
	return t.s.BrokenPairings(ctx)
}

func (t *tx) InsertAccount(_ context.Context, account ledger.Account) error {
	t.s.mu.RLock()
	_, exists := t.s.accounts[account.ID]
	t.s.mu.RUnlock()
	if _, pending := t.accounts[account.ID]; exists || pending {
		return ledger.Storage("insert account", fmt.Errorf("account %s already exists", account.ID))
	}
	t.accounts[account.ID] = account
	return nil
}

func (t *tx) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]ledger.Account, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })
	for _, id := range ordered {
		if _, ok := t.accounts[id]; ok {
			continue
		}
		t.s.mu.RLock()
		c, ok := t.s.accounts[id]
		t.s.mu.RUnlock()
		if !ok {
			return nil, ledger.AccountNotFound(id)
		}
		if err := c.acquire(ctx); err != nil {
			return nil, ledger.Storage("lock account", err)
		}
		t.held[id] = c
		t.s.mu.RLock()
		t.accounts[id] = c.account
		t.s.mu.RUnlock()
	}
	out := make([]ledger.Account, len(ids))
	for i, id := range ids {
		out[i] = t.accounts[id]
	}
	return out, nil
}

func (t *tx) locked(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	accounts, err := t.LockAccounts(ctx, id)
	if err != nil {
		return ledger.Account{}, err
	}
	return accounts[0], nil
}

func (t *tx) SetAccountActive(ctx context.Context, id uuid.UUID, active bool) error {
	a, err := t.locked(ctx, id)
	if err != nil {
		return err
	}
	a.IsActive = active
	a.UpdatedAt = time.Now().UTC()
	t.accounts[id] = a
	return nil
}

func (t *tx) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	a, err := t.locked(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	a.Balance = a.Balance.Add(delta)
	a.UpdatedAt = time.Now().UTC()
	t.accounts[id] = a
	return a.Balance, nil
}

func (t *tx) DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	a, err := t.locked(ctx, id)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if a.Balance.LessThan(amount) {
		return decimal.Decimal{}, ledger.InsufficientFunds(id, amount)
	}
	return t.AdjustBalance(ctx, id, amount.Neg())
}

func (t *tx) InsertTransaction(ctx context.Context, r ledger.Transaction) error {
	if _, err := t.GetAccount(ctx, r.AccountID); err != nil {
		return err
	}
	if _, err := t.GetTransaction(ctx, r.ID); err == nil {
		return ledger.Storage("insert transaction", fmt.Errorf("transaction %s already exists", r.ID))
	}
	if r.IdempotencyKey != nil {
		if _, found, _ := t.FindTransferByKey(ctx, *r.IdempotencyKey); found {
			return ledger.ErrDuplicateIdempotencyKey
		}
	}
	if r.ReversalOf != nil {
		if _, found, _ := t.FindReversal(ctx, *r.ReversalOf); found {
			return ledger.ErrAlreadyReversed
		}
	}
	i := len(t.rows)
	t.rows = append(t.rows, r)
	if r.IdempotencyKey != nil {
		t.keys[*r.IdempotencyKey] = i
	}
	if r.ReversalOf != nil {
		t.reversals[*r.ReversalOf] = i
	}
	return nil
}
