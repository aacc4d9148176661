package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/ledgertest"
	"github.com/fintrack/fintrack/internal/ledger/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "ledger.db")
	require.NoError(t, sqlite.Migrate(path))
	store, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return openStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	require.NoError(t, sqlite.Migrate(path))
	require.NoError(t, sqlite.Migrate(path))
}

func TestFractionalAmountsSurviveStorage(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := ledger.NewService(store)

	acc, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{
		Type:           ledger.AccountTypePersonal,
		Name:           "Change jar",
		Currency:       "EUR",
		InitialBalance: ledgertest.Dec("-0.0001"),
	})
	require.NoError(t, err)
	res, err := svc.RecordTransaction(ctx, ledger.RecordInput{AccountID: acc.ID, Kind: ledger.KindIncome, Amount: ledgertest.Dec("123456789.1234")})
	require.NoError(t, err)
	ledgertest.RequireAmount(t, "123456789.1233", res.Balance)

	got, err := svc.GetTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	ledgertest.RequireAmount(t, "123456789.1234", got.Amount)
	assert.Nil(t, got.PairingID)
	assert.Nil(t, got.Category)
	assert.True(t, got.CreatedAt.Equal(res.Transaction.CreatedAt))
}

func TestNestedTransactionRejected(t *testing.T) {
	store := openStore(t)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxStore) error {
		nested, ok := tx.(ledger.Store)
		require.True(t, ok)
		return nested.WithTx(ctx, func(context.Context, ledger.TxStore) error { return nil })
	})
	require.ErrorIs(t, err, ledger.ErrStorage)
}

func TestOutOfRangeAmountsAreRefused(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc := ledger.NewService(store)
	acc, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{Type: ledger.AccountTypePersonal, Name: "Vault", Currency: "USD", InitialBalance: ledgertest.Dec("10")})
	require.NoError(t, err)

	for _, amount := range []string{"100000000000000", "-922337203685477.5808", "1000000000000000000000"} {
		err := store.WithTx(ctx, func(ctx context.Context, tx ledger.TxStore) error {
			_, err := tx.AdjustBalance(ctx, acc.ID, ledgertest.Dec(amount))
			return err
		})
		require.ErrorIs(t, err, ledger.ErrStorage, amount)
	}
	err = store.WithTx(ctx, func(ctx context.Context, tx ledger.TxStore) error {
		_, err := tx.DebitIfSufficient(ctx, acc.ID, ledgertest.Dec("0.00001"))
		return err
	})
	require.ErrorIs(t, err, ledger.ErrStorage)

	got, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	ledgertest.RequireAmount(t, "10", got.Balance)
}
