package ledgertest

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/ledger"
)

var errInjected = errors.New("injected write failure")

// failingStore hands units a TxStore whose InsertTransaction fails for matching rows.
type failingStore struct {
	ledger.Store
	fail func(ledger.Transaction) bool
}

func (s failingStore) WithTx(ctx context.Context, fn func(context.Context, ledger.TxStore) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx ledger.TxStore) error {
		return fn(ctx, failingTx{TxStore: tx, fail: s.fail})
	})
}

type failingTx struct {
	ledger.TxStore
	fail func(ledger.Transaction) bool
}

func (tx failingTx) InsertTransaction(ctx context.Context, t ledger.Transaction) error {
	if tx.fail(t) {
		return ledger.Storage("insert transaction", errInjected)
	}
	return tx.TxStore.InsertTransaction(ctx, t)
}

func (h *harness) totalRows(t *testing.T) int {
	t.Helper()
	_, total, err := h.svc.ListTransactions(h.ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	return total
}

func testFailedCreditInsertRollsBack(t *testing.T, h *harness) {
	a := h.open(t, "A", "IDR", "500")
	b := h.open(t, "B", "IDR", "20")
	moved, err := h.transfer(a, b, "100")
	require.NoError(t, err)
	rowsBefore := h.totalRows(t)

	faulty := ledger.NewService(failingStore{Store: h.store, fail: func(t ledger.Transaction) bool {
		return t.Kind == ledger.KindTransferIn
	}})
	faulty.WithNow(newClock().Now)

	_, err = faulty.Transfer(h.ctx, ledger.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: Dec("50"), IdempotencyKey: "rollback-1"})
	require.ErrorIs(t, err, ledger.ErrStorage)
	require.ErrorIs(t, err, errInjected)

	_, err = faulty.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: moved.Out.ID})
	require.ErrorIs(t, err, ledger.ErrStorage)

	RequireAmount(t, "400", h.balance(t, a.ID))
	RequireAmount(t, "120", h.balance(t, b.ID))
	require.Equal(t, rowsBefore, h.totalRows(t))
	_, found, err := h.store.FindTransferByKey(h.ctx, "rollback-1")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = h.store.FindReversal(h.ctx, moved.Out.ID)
	require.NoError(t, err)
	require.False(t, found)
	h.requireIntegrity(t)

	// The same requests succeed once the store behaves.
	_, err = h.svc.Transfer(h.ctx, ledger.TransferInput{FromAccountID: a.ID, ToAccountID: b.ID, Amount: Dec("50"), IdempotencyKey: "rollback-1"})
	require.NoError(t, err)
	_, err = h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: moved.Out.ID})
	require.NoError(t, err)
	RequireAmount(t, "450", h.balance(t, a.ID))
	RequireAmount(t, "70", h.balance(t, b.ID))
	h.requireIntegrity(t)
}

// reversible is a committed transaction the randomized run may reverse, with the change to
// the ledger-wide total a reversal causes.
type reversible struct {
	id    uuid.UUID
	delta decimal.Decimal
}

func testRandomizedSequences(t *testing.T, h *harness) {
	seed := time.Now().UnixNano()
	t.Logf("seed %d", seed)
	rng := rand.New(rand.NewSource(seed))

	steps := 240
	if testing.Short() {
		steps = 60
	}

	accounts := make([]ledger.Account, 4)
	total := decimal.Zero
	for i := range accounts {
		opening := decimal.New(rng.Int63n(5_000_000), -2)
		accounts[i] = h.open(t, string(rune('A'+i)), "IDR", opening.String())
		total = total.Add(opening)
	}
	amount := func() decimal.Decimal {
		return decimal.New(rng.Int63n(20_000_000)+1, -ledger.AmountScale)
	}

	var (
		candidates []reversible
		reversed   = map[uuid.UUID]bool{}
	)
	for step := 0; step < steps; step++ {
		a := accounts[rng.Intn(len(accounts))]
		switch op := rng.Intn(10); {
		case op < 2:
			amt := amount()
			res, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindIncome, Amount: amt})
			require.NoError(t, err, "step %d seed %d", step, seed)
			total = total.Add(amt)
			candidates = append(candidates, reversible{id: res.Transaction.ID, delta: amt.Neg()})
		case op < 4:
			amt := amount()
			res, err := h.svc.RecordTransaction(h.ctx, ledger.RecordInput{AccountID: a.ID, Kind: ledger.KindExpense, Amount: amt})
			require.NoError(t, err, "step %d seed %d", step, seed)
			total = total.Sub(amt)
			candidates = append(candidates, reversible{id: res.Transaction.ID, delta: amt})
		case op < 7:
			b := accounts[rng.Intn(len(accounts))]
			if b.ID == a.ID {
				continue
			}
			amt := amount()
			if op == 6 {
				// Deliberately more than the source holds.
				amt = h.balance(t, a.ID).Abs().Add(amt)
			}
			res, err := h.transfer(a, b, amt.String())
			if err != nil {
				require.ErrorIs(t, err, ledger.ErrInsufficientFunds, "step %d seed %d", step, seed)
				break
			}
			candidates = append(candidates, reversible{id: res.Out.ID, delta: decimal.Zero})
		default:
			if len(candidates) == 0 {
				continue
			}
			c := candidates[rng.Intn(len(candidates))]
			_, err := h.svc.ReverseTransaction(h.ctx, ledger.ReverseInput{TransactionID: c.id, Reason: "randomized"})
			switch {
			case reversed[c.id]:
				require.ErrorIs(t, err, ledger.ErrValidation, "step %d seed %d", step, seed)
			case err == nil:
				reversed[c.id] = true
				total = total.Add(c.delta)
			default:
				require.ErrorIs(t, err, ledger.ErrInsufficientFunds, "step %d seed %d", step, seed)
			}
		}
		h.requireSequenceState(t, accounts, total, step, seed)
	}
}

func (h *harness) requireSequenceState(t *testing.T, accounts []ledger.Account, total decimal.Decimal, step int, seed int64) {
	t.Helper()
	sum := decimal.Zero
	for _, a := range accounts {
		balance := h.balance(t, a.ID)
		fromRows := decimal.Zero
		for _, r := range h.rows(t, a.ID) {
			fromRows = fromRows.Add(r.Signed())
		}
		require.True(t, fromRows.Equal(balance), "account %s balance %s rows %s step %d seed %d", a.Name, balance, fromRows, step, seed)
		sum = sum.Add(balance)
	}
	require.True(t, total.Equal(sum), "total %s want %s step %d seed %d", sum, total, step, seed)
	h.requireIntegrity(t)
}
