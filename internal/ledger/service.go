// Package ledger keeps account balances and the transaction log consistent. Every money
// movement runs inside one Store.WithTx unit so that a balance never changes without a
// matching transaction row, and vice versa.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service coordinates accounts, single-entry records, transfers and reporting.
type Service struct {
	store     Store
	observers []Observer
	now       func() time.Time
	txTimeout time.Duration
}

// DefaultTxTimeout bounds a single store unit when no other limit is configured.
const DefaultTxTimeout = 10 * time.Second

// NewService constructs the ledger service.
func NewService(store Store, observers ...Observer) *Service {
	return &Service{store: store, observers: observers, now: time.Now, txTimeout: DefaultTxTimeout}
}

// WithTxTimeout sets the deadline applied to each store unit.
func (s *Service) WithTxTimeout(d time.Duration) {
	if d > 0 {
		s.txTimeout = d
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Observe registers an additional observer.
func (s *Service) Observe(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// OpenAccount creates an account. A non-zero initial balance is booked as an opening
// transaction in the same unit.
func (s *Service) OpenAccount(ctx context.Context, in OpenAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	now := s.now().UTC()
	account := Account{
		ID:        uuid.New(),
		Type:      in.Type,
		Name:      in.Name,
		BankName:  in.BankName,
		OwnerID:   in.OwnerID,
		Balance:   decimal.Zero,
		Currency:  in.Currency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var opening []Transaction
	err := s.withTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.InsertAccount(ctx, account); err != nil {
			return err
		}
		if in.InitialBalance.IsZero() {
			return nil
		}
		kind := KindIncome
		if in.InitialBalance.IsNegative() {
			kind = KindExpense
		}
		category := CategoryOpeningBalance
		t := Transaction{
			ID:          uuid.New(),
			AccountID:   account.ID,
			Kind:        kind,
			Amount:      in.InitialBalance.Abs(),
			Description: "Opening balance",
			Category:    &category,
			CreatedAt:   now,
		}
		balance, err := adjustBalance(ctx, tx, account.ID, t.Signed())
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		account.Balance = balance
		opening = append(opening, t)
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.notify(ctx, Event{Type: EventAccountOpened, Account: &account, Transactions: opening})
	return account, nil
}

// GetAccount returns one account.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// ListAccounts returns accounts ordered by name.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]Account, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("type", "must be personal or company")
	}
	return s.store.ListAccounts(ctx, filter)
}

// DeactivateAccount soft-deletes an account. Its history and balance are kept.
func (s *Service) DeactivateAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	var account Account
	changed := false
	err := s.withTx(ctx, func(ctx context.Context, tx TxStore) error {
		accounts, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		account = accounts[0]
		if !account.IsActive {
			return nil
		}
		if err := tx.SetAccountActive(ctx, id, false); err != nil {
			return err
		}
		account.IsActive = false
		changed = true
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	if changed {
		s.notify(ctx, Event{Type: EventAccountDeactivated, Account: &account})
	}
	return account, nil
}

// RecordTransaction books an income or expense and the matching balance delta atomically.
// Expenses may take the balance below zero.
func (s *Service) RecordTransaction(ctx context.Context, in RecordInput) (RecordResult, error) {
	if err := in.Validate(); err != nil {
		return RecordResult{}, err
	}
	var (
		result  RecordResult
		account Account
	)
	err := s.withTx(ctx, func(ctx context.Context, tx TxStore) error {
		accounts, err := tx.LockAccounts(ctx, in.AccountID)
		if err != nil {
			return err
		}
		account = accounts[0]
		if !account.IsActive {
			return invalid("account_id", "refers to an inactive account")
		}
		t := Transaction{
			ID:          uuid.New(),
			AccountID:   in.AccountID,
			Kind:        in.Kind,
			Amount:      in.Amount,
			Description: in.Description,
			Category:    normalizeCategory(in.Category),
			CreatedAt:   s.now().UTC(),
		}
		balance, err := adjustBalance(ctx, tx, in.AccountID, t.Signed())
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		result = RecordResult{Transaction: t, Balance: balance}
		account.Balance = balance
		return nil
	})
	if err != nil {
		return RecordResult{}, err
	}
	s.notify(ctx, Event{Type: EventTransactionRecorded, Account: &account, Transactions: []Transaction{result.Transaction}})
	return result, nil
}

// GetTransaction returns one transaction.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns a page of transactions, newest first, with the total count.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, 0, invalid("kind", "is not a known transaction kind")
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, invalid("limit", "must not be negative")
	}
	if filter.AccountID != nil {
		if _, err := s.store.GetAccount(ctx, *filter.AccountID); err != nil {
			return nil, 0, err
		}
	}
	total, err := s.store.CountTransactions(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// withTx runs fn as one store unit. A caller that is already done gets a storage error before
// the unit begins. Once begun, the unit ignores caller cancellation and is bounded by txTimeout.
func (s *Service) withTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if err := ctx.Err(); err != nil {
		return Storage("begin", err)
	}
	unit, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.txTimeout)
	defer cancel()
	return s.store.WithTx(unit, fn)
}

// adjustBalance applies delta and rejects results outside the supported range. The returned
// error aborts the unit, so the store rolls the change back.
func adjustBalance(ctx context.Context, tx TxStore, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	balance, err := tx.AdjustBalance(ctx, id, delta)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if err := checkBalance(id, balance); err != nil {
		return decimal.Decimal{}, err
	}
	return balance, nil
}

func (s *Service) notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = s.now().UTC()
	}
	for _, o := range s.observers {
		o.Committed(ctx, ev)
	}
}

func normalizeCategory(category *string) *string {
	if category == nil || *category == "" {
		return nil
	}
	c := *category
	return &c
}
