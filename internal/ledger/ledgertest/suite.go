// Package ledgertest holds the behavioural contract every ledger.Store must satisfy. Store
// packages run it from their own tests.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fintrack/fintrack/internal/ledger"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) ledger.Store

// RunStoreSuite exercises newStore against the ledger invariants and example flows.
func RunStoreSuite(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, h *harness)
	}{
		{"IncomeIncreasesBalance", testIncomeIncreasesBalance},
		{"ExpenseMayOverdraw", testExpenseMayOverdraw},
		{"TransferMovesFundsAsPair", testTransferMovesFundsAsPair},
		{"TransferInsufficientFundsRollsBack", testTransferInsufficientFundsRollsBack},
		{"TransferToSameAccountRejected", testTransferToSameAccountRejected},
		{"ConcurrentTransfersRespectBalance", testConcurrentTransfersRespectBalance},
		{"ManyConcurrentTransfers", testManyConcurrentTransfers},
		{"OppositeDirectionTransfers", testOppositeDirectionTransfers},
		{"BalancesMatchLog", testBalancesMatchLog},
		{"TransfersAreNeutral", testTransfersAreNeutral},
		{"CurrencyMismatchRejected", testCurrencyMismatchRejected},
		{"MissingAccount", testMissingAccount},
		{"InactiveAccount", testInactiveAccount},
		{"IdempotentTransfer", testIdempotentTransfer},
		{"ConcurrentIdempotentTransfer", testConcurrentIdempotentTransfer},
		{"ReverseEntry", testReverseEntry},
		{"ReverseTransfer", testReverseTransfer},
		{"ReverseTransferInsufficientFunds", testReverseTransferInsufficientFunds},
		{"ListTransactionsNewestFirst", testListTransactionsNewestFirst},
		{"Totals", testTotals},
		{"AmountLimits", testAmountLimits},
		{"FailedCreditInsertRollsBack", testFailedCreditInsertRollsBack},
		{"RandomizedSequences", testRandomizedSequences},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			svc := ledger.NewService(store)
			svc.WithNow(newClock().Now)
			tc.fn(t, &harness{ctx: context.Background(), store: store, svc: svc})
		})
	}
}

type harness struct {
	ctx   context.Context
	store ledger.Store
	svc   *ledger.Service
}

// clock advances one second per reading so ordering never depends on timestamp ties.
type clock struct {
	base time.Time
	n    atomic.Int64
}

func newClock() *clock {
	return &clock{base: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	return c.base.Add(time.Duration(c.n.Add(1)) * time.Second)
}

// Dec parses a decimal literal, panicking on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// RequireAmount asserts numeric equality regardless of scale.
func RequireAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, Dec(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func (h *harness) open(t *testing.T, name, currency, balance string) ledger.Account {
	t.Helper()
	return h.openTyped(t, ledger.AccountTypePersonal, name, currency, balance)
}

func (h *harness) openTyped(t *testing.T, typ ledger.AccountType, name, currency, balance string) ledger.Account {
	t.Helper()
	acc, err := h.svc.OpenAccount(h.ctx, ledger.OpenAccountInput{
		Type:           typ,
		Name:           name,
		BankName:       "Test Bank",
		OwnerID:        "owner-1",
		Currency:       currency,
		InitialBalance: Dec(balance),
	})
	require.NoError(t, err)
	return acc
}

func (h *harness) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	acc, err := h.svc.GetAccount(h.ctx, id)
	require.NoError(t, err)
	return acc.Balance
}

func (h *harness) rows(t *testing.T, id uuid.UUID) []ledger.Transaction {
	t.Helper()
	rows, _, err := h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{AccountID: &id})
	require.NoError(t, err)
	return rows
}

func (h *harness) transfer(from, to ledger.Account, amount string) (ledger.TransferResult, error) {
	return h.svc.Transfer(h.ctx, ledger.TransferInput{FromAccountID: from.ID, ToAccountID: to.ID, Amount: Dec(amount)})
}

func (h *harness) requireIntegrity(t *testing.T) {
	t.Helper()
	report, err := h.svc.CheckIntegrity(h.ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "integrity report: %+v", report)
}

func testIncomeIncreasesBalance(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	category := "payroll"

	res, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{
		AccountID:   a.ID,
		Kind:        ledger.KindIncome,
		Amount:      Dec("500"),
		Description: "salary",
		Category:    &category,
	})
	require.NoError(t, err)
	RequireAmount(t, "1500", res.Balance)
	RequireAmount(t, "1500", h.balance(t, a.ID))

	rows := h.rows(t, a.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.KindIncome, rows[0].Kind)
	RequireAmount(t, "500", rows[0].Amount)
	assert.Equal(t, "salary", rows[0].Description)
	require.NotNil(t, rows[0].Category)
	assert.Equal(t, "payroll", *rows[0].Category)
	require.NotNil(t, rows[1].Category)
	assert.Equal(t, ledger.CategoryOpeningBalance, *rows[1].Category)
	h.requireIntegrity(t)
}

func testExpenseMayOverdraw(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")

	res, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindExpense, Amount: Dec("1500")})
	require.NoError(t, err)
	RequireAmount(t, "-500", res.Balance)
	RequireAmount(t, "-500", h.balance(t, a.ID))
	h.requireIntegrity(t)
}

func testTransferMovesFundsAsPair(t *testing.T, h *harness) {
	a := h.open(t, "Savings", "IDR", "1000")
	b := h.open(t, "Wallet", "IDR", "200")

	res, err := h.svc.Transfer(h.ctx, ledger.TransferInput{
		FromAccountID: a.ID,
		ToAccountID:   b.ID,
		Amount:        Dec("1000"),
		Description:   "rent",
	})
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	RequireAmount(t, "0", res.FromBalance)
	RequireAmount(t, "1200", res.ToBalance)
	RequireAmount(t, "0", h.balance(t, a.ID))
	RequireAmount(t, "1200", h.balance(t, b.ID))

	require.NotNil(t, res.Out.PairingID)
	require.NotNil(t, res.In.PairingID)
	assert.Equal(t, *res.Out.PairingID, *res.In.PairingID)
	assert.Equal(t, "Transfer to Wallet: rent", res.Out.Description)
	assert.Equal(t, "Transfer from Savings: rent", res.In.Description)

	pair, _, err := h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{PairingID: res.Out.PairingID})
	require.NoError(t, err)
	require.Len(t, pair, 2)
	kinds := map[ledger.Kind]ledger.Transaction{}
	for _, r := range pair {
		kinds[r.Kind] = r
	}
	require.Contains(t, kinds, ledger.KindTransferOut)
	require.Contains(t, kinds, ledger.KindTransferIn)
	assert.Equal(t, a.ID, kinds[ledger.KindTransferOut].AccountID)
	assert.Equal(t, b.ID, kinds[ledger.KindTransferIn].AccountID)
	RequireAmount(t, "1000", kinds[ledger.KindTransferOut].Amount)
	RequireAmount(t, "1000", kinds[ledger.KindTransferIn].Amount)
	h.requireIntegrity(t)
}

func testTransferInsufficientFundsRollsBack(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "500")
	b := h.open(t, "B", "IDR", "200")
	before := len(h.rows(t, a.ID)) + len(h.rows(t, b.ID))

	_, err := h.transfer(a, b, "1000")
	require.Error(t, err)
	require.True(t, errors.Is(err, ledger.ErrInsufficientFunds), "got %v", err)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, a.ID, insufficient.AccountID)

	RequireAmount(t, "500", h.balance(t, a.ID))
	RequireAmount(t, "200", h.balance(t, b.ID))
	assert.Equal(t, before, len(h.rows(t, a.ID))+len(h.rows(t, b.ID)))
	h.requireIntegrity(t)
}

func testTransferToSameAccountRejected(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "500")

	_, err := h.transfer(a, a, "100")
	require.Error(t, err)
	require.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)
	RequireAmount(t, "500", h.balance(t, a.ID))
	assert.Len(t, h.rows(t, a.ID), 1)
}

func testConcurrentTransfersRespectBalance(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")

	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		unexpected   = make(chan error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.transfer(a, b, "600")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				unexpected <- err
			}
		}()
	}
	wg.Wait()
	close(unexpected)
	for err := range unexpected {
		t.Fatalf("unexpected error: %v", err)
	}
	assert.EqualValues(t, 1, successes.Load())
	assert.EqualValues(t, 1, insufficient.Load())
	RequireAmount(t, "400", h.balance(t, a.ID))
	RequireAmount(t, "600", h.balance(t, b.ID))
	h.requireIntegrity(t)
}

func testManyConcurrentTransfers(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")
	const attempts = 10

	var successes, insufficient atomic.Int32
	g, _ := errgroup.WithContext(h.ctx)
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := h.transfer(a, b, "150")
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 6, successes.Load())
	assert.EqualValues(t, attempts-6, insufficient.Load())
	RequireAmount(t, "100", h.balance(t, a.ID))
	RequireAmount(t, "900", h.balance(t, b.ID))
	h.requireIntegrity(t)
}

func testOppositeDirectionTransfers(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "1000")

	g, _ := errgroup.WithContext(h.ctx)
	for i := 0; i < 20; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		g.Go(func() error {
			_, err := h.transfer(from, to, "10")
			return err
		})
	}
	require.NoError(t, g.Wait())
	RequireAmount(t, "1000", h.balance(t, a.ID))
	RequireAmount(t, "1000", h.balance(t, b.ID))
	h.requireIntegrity(t)
}

func testBalancesMatchLog(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "100.5")
	b := h.open(t, "B", "IDR", "0")

	_, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindIncome, Amount: Dec("0.0001")})
	require.NoError(t, err)
	_, err = h.transfer(a, b, "50.25")
	require.NoError(t, err)
	_, err = h.transfer(b, a, "99")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: b.ID, Kind: ledger.KindExpense, Amount: Dec("0")})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: b.ID, Kind: ledger.KindExpense, Amount: Dec("80")})
	require.NoError(t, err)

	RequireAmount(t, "50.2501", h.balance(t, a.ID))
	RequireAmount(t, "-29.75", h.balance(t, b.ID))
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		sum := decimal.Zero
		for _, r := range h.rows(t, id) {
			sum = sum.Add(r.Signed())
		}
		RequireAmount(t, sum.String(), h.balance(t, id))
	}
	h.requireIntegrity(t)
}

func testTransfersAreNeutral(t *testing.T, h *harness) {
	accounts := []ledger.Account{
		h.open(t, "A", "IDR", "300"),
		h.open(t, "B", "IDR", "300"),
		h.open(t, "C", "IDR", "300"),
	}
	total := func() decimal.Decimal {
		sum := decimal.Zero
		for _, a := range accounts {
			sum = sum.Add(h.balance(t, a.ID))
		}
		return sum
	}
	RequireAmount(t, "900", total())

	moves := [][3]int{{0, 1, 120}, {1, 2, 400}, {2, 0, 50}, {0, 2, 999}, {1, 0, 10}}
	for _, m := range moves {
		_, err := h.transfer(accounts[m[0]], accounts[m[1]], decimal.NewFromInt(int64(m[2])).String())
		if err != nil {
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
		RequireAmount(t, "900", total())
	}
	_, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: accounts[0].ID, Kind: ledger.KindIncome, Amount: Dec("25")})
	require.NoError(t, err)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: accounts[1].ID, Kind: ledger.KindExpense, Amount: Dec("5")})
	require.NoError(t, err)
	RequireAmount(t, "920", total())
	h.requireIntegrity(t)
}

func testCurrencyMismatchRejected(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "USD", "0")

	_, err := h.transfer(a, b, "10")
	require.ErrorIs(t, err, ledger.ErrValidation)
	RequireAmount(t, "1000", h.balance(t, a.ID))
	RequireAmount(t, "0", h.balance(t, b.ID))
}

func testMissingAccount(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	ghost := ledger.Account{ID: uuid.New()}

	_, err := h.transfer(a, ghost, "10")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.transfer(ghost, a, "10")
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: ghost.ID, Kind: ledger.KindIncome, Amount: Dec("1")})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = h.svc.GetAccount(h.ctx, ghost.ID)
	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "account", nf.Entity)
	_, err = h.svc.GetTransaction(h.ctx, uuid.New())
	require.ErrorIs(t, err, ledger.ErrNotFound)
	RequireAmount(t, "1000", h.balance(t, a.ID))
}

func testInactiveAccount(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")

	closed, err := h.svc.DeactivateAccount(h.ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, closed.IsActive)
	_, err = h.svc.DeactivateAccount(h.ctx, b.ID)
	require.NoError(t, err)

	_, err = h.transfer(a, b, "10")
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: b.ID, Kind: ledger.KindIncome, Amount: Dec("1")})
	require.ErrorIs(t, err, ledger.ErrValidation)

	active, err := h.svc.ListAccounts(h.ctx, ledger.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	all, err := h.svc.ListAccounts(h.ctx, ledger.AccountFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	RequireAmount(t, "1000", h.balance(t, a.ID))
}

func testIdempotentTransfer(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")
	in := ledger.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: Dec("300"), IdempotencyKey: "req-1"}

	first, err := h.svc.Transfer(h.ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	second, err := h.svc.Transfer(h.ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Out.ID, second.Out.ID)
	assert.Equal(t, first.In.ID, second.In.ID)
	RequireAmount(t, "700", h.balance(t, a.ID))
	RequireAmount(t, "300", h.balance(t, b.ID))

	in.Amount = Dec("301")
	_, err = h.svc.Transfer(h.ctx, in)
	require.ErrorIs(t, err, ledger.ErrValidation)
	RequireAmount(t, "700", h.balance(t, a.ID))
	h.requireIntegrity(t)
}

func testConcurrentIdempotentTransfer(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")
	in := ledger.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: Dec("100"), IdempotencyKey: "retry-storm"}

	var replayed atomic.Int32
	g, _ := errgroup.WithContext(h.ctx)
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			res, err := h.svc.Transfer(h.ctx, in)
			if res.Replayed {
				replayed.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 4, replayed.Load())
	RequireAmount(t, "900", h.balance(t, a.ID))
	RequireAmount(t, "100", h.balance(t, b.ID))
	h.requireIntegrity(t)
}

func testReverseEntry(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "100")
	rec, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindExpense, Amount: Dec("40"), Description: "coffee"})
	require.NoError(t, err)

	res, err := h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: rec.Transaction.ID, Reason: "duplicate"})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	offset := res.Transactions[0]
	assert.Equal(t, ledger.KindIncome, offset.Kind)
	require.NotNil(t, offset.ReversalOf)
	assert.Equal(t, rec.Transaction.ID, *offset.ReversalOf)
	assert.Equal(t, "Reversal of coffee (duplicate)", offset.Description)
	RequireAmount(t, "100", h.balance(t, a.ID))

	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: rec.Transaction.ID})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: offset.ID})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: uuid.New()})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	RequireAmount(t, "100", h.balance(t, a.ID))
	h.requireIntegrity(t)
}

func testReverseTransfer(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")
	tr, err := h.transfer(a, b, "250")
	require.NoError(t, err)

	res, err := h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: tr.In.ID})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 2)
	back, restore := res.Transactions[0], res.Transactions[1]
	assert.Equal(t, ledger.KindTransferOut, back.Kind)
	assert.Equal(t, b.ID, back.AccountID)
	assert.Equal(t, ledger.KindTransferIn, restore.Kind)
	assert.Equal(t, a.ID, restore.AccountID)
	require.NotNil(t, back.PairingID)
	assert.Equal(t, *back.PairingID, *restore.PairingID)
	assert.NotEqual(t, *tr.Out.PairingID, *back.PairingID)
	RequireAmount(t, "1000", h.balance(t, a.ID))
	RequireAmount(t, "0", h.balance(t, b.ID))

	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: tr.Out.ID})
	require.ErrorIs(t, err, ledger.ErrValidation)
	h.requireIntegrity(t)
}

func testReverseTransferInsufficientFunds(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "1000")
	b := h.open(t, "B", "IDR", "0")
	tr, err := h.transfer(a, b, "250")
	require.NoError(t, err)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: b.ID, Kind: ledger.KindExpense, Amount: Dec("200")})
	require.NoError(t, err)

	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: tr.Out.ID})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	RequireAmount(t, "750", h.balance(t, a.ID))
	RequireAmount(t, "50", h.balance(t, b.ID))
	_, found, err := h.store.FindReversal(h.ctx, tr.Out.ID)
	require.NoError(t, err)
	assert.False(t, found)
	h.requireIntegrity(t)
}

func testListTransactionsNewestFirst(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "0")
	for i := 1; i <= 5; i++ {
		_, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindIncome, Amount: decimal.NewFromInt(int64(i))})
		require.NoError(t, err)
	}

	page, total, err := h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{AccountID: &a.ID, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	RequireAmount(t, "4", page[0].Amount)
	RequireAmount(t, "3", page[1].Amount)

	expenses, total, err := h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{AccountID: &a.ID, Kind: ledger.KindExpense})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, expenses)

	ghost := uuid.New()
	_, _, err = h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{AccountID: &ghost})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func testTotals(t *testing.T, h *harness) {
	h.openTyped(t, ledger.AccountTypePersonal, "Wallet", "IDR", "500")
	h.openTyped(t, ledger.AccountTypeCompany, "Payroll", "IDR", "1500.25")
	h.openTyped(t, ledger.AccountTypePersonal, "Card", "IDR", "-200")
	closed := h.openTyped(t, ledger.AccountTypeCompany, "Old", "IDR", "999")
	h.openTyped(t, ledger.AccountTypePersonal, "Travel", "USD", "40")
	_, err := h.svc.DeactivateAccount(h.ctx, closed.ID)
	require.NoError(t, err)

	totals, err := h.svc.GetTotals(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, totals.Accounts)
	require.Len(t, totals.Currencies, 2)

	idr, ok := totals.ForCurrency("IDR")
	require.True(t, ok)
	RequireAmount(t, "1800.25", idr.Total)
	RequireAmount(t, "2000.25", idr.Cash)
	assert.Equal(t, 2, idr.CashAccounts)
	RequireAmount(t, "200", idr.Debt)
	assert.Equal(t, 1, idr.DebtAccounts)
	RequireAmount(t, "300", idr.ByType[ledger.AccountTypePersonal].Balance)
	assert.Equal(t, 2, idr.ByType[ledger.AccountTypePersonal].Accounts)
	RequireAmount(t, "1500.25", idr.ByType[ledger.AccountTypeCompany].Balance)

	usd, ok := totals.ForCurrency("USD")
	require.True(t, ok)
	RequireAmount(t, "40", usd.Total)
}

func testAmountLimits(t *testing.T, h *harness) {
	for _, balance := range []string{"100000000000000", "-100000000000000", "1e20"} {
		_, err := h.svc.OpenAccount(h.ctx, ledger.OpenAccountInput{Type: ledger.AccountTypePersonal, Name: "Big", Currency: "USD", InitialBalance: Dec(balance)})
		require.ErrorIs(t, err, ledger.ErrValidation, balance)
	}

	rich := h.open(t, "Rich", "USD", "99999999999999")
	poor := h.open(t, "Poor", "USD", "-99999999999999")
	small := h.open(t, "Small", "USD", "1")

	for _, amount := range []string{"100000000000000", "922337203685477.5808", "1e30"} {
		_, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: small.ID, Kind: ledger.KindIncome, Amount: Dec(amount)})
		require.ErrorIs(t, err, ledger.ErrValidation, amount)
		_, err = h.transfer(rich, small, amount)
		require.ErrorIs(t, err, ledger.ErrValidation, amount)
	}

	_, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: rich.ID, Kind: ledger.KindIncome, Amount: Dec("1")})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: poor.ID, Kind: ledger.KindExpense, Amount: Dec("0.0001")})
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = h.transfer(small, rich, "1")
	require.ErrorIs(t, err, ledger.ErrValidation)

	RequireAmount(t, "99999999999999", h.balance(t, rich.ID))
	RequireAmount(t, "-99999999999999", h.balance(t, poor.ID))
	RequireAmount(t, "1", h.balance(t, small.ID))
	assert.Len(t, h.rows(t, rich.ID), 1)
	assert.Len(t, h.rows(t, small.ID), 1)

	// A reversal is bounded the same way.
	spent, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: rich.ID, Kind: ledger.KindExpense, Amount: Dec("5")})
	require.NoError(t, err)
	_, err = h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: rich.ID, Kind: ledger.KindIncome, Amount: Dec("5")})
	require.NoError(t, err)
	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: spent.Transaction.ID})
	require.ErrorIs(t, err, ledger.ErrValidation)
	RequireAmount(t, "99999999999999", h.balance(t, rich.ID))
	h.requireIntegrity(t)
}
