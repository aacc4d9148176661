package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/ledgertest"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
)

func TestStoreContract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return memory.New()
	})
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := ledger.NewService(store)
	acc, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{
		Type:           ledger.AccountTypePersonal,
		Name:           "Wallet",
		Currency:       "IDR",
		InitialBalance: ledgertest.Dec("100"),
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(ctx context.Context, tx ledger.TxStore) error {
		_, err := tx.AdjustBalance(ctx, acc.ID, ledgertest.Dec("50"))
		require.NoError(t, err)
		visible, err := store.GetAccount(ctx, acc.ID)
		require.NoError(t, err)
		ledgertest.RequireAmount(t, "100", visible.Balance)
		return ledger.InsufficientFunds(acc.ID, ledgertest.Dec("1"))
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	after, err := store.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	ledgertest.RequireAmount(t, "100", after.Balance)
}

func TestLockRespectsContext(t *testing.T) {
	store := memory.New()
	svc := ledger.NewService(store)
	acc, err := svc.OpenAccount(context.Background(), ledger.OpenAccountInput{
		Type:     ledger.AccountTypeCompany,
		Name:     "Ops",
		Currency: "USD",
	})
	require.NoError(t, err)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxStore) error {
			_, err := tx.LockAccounts(ctx, acc.ID)
			close(held)
			<-done
			return err
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = store.WithTx(ctx, func(ctx context.Context, tx ledger.TxStore) error {
		_, err := tx.LockAccounts(ctx, acc.ID)
		return err
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ledger.ErrStorage)
}
