package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/ledger/store/memory"
)

type countingSource struct {
	calls atomic.Int32
	total decimal.Decimal
	delay time.Duration
}

func (c *countingSource) GetTotals(context.Context) (ledger.Totals, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return ledger.Totals{Accounts: 1, Currencies: []ledger.CurrencyTotals{{Currency: "IDR", Total: c.total}}}, nil
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestTotalsCachesUntilCommit(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)
	src := &countingSource{total: decimal.NewFromInt(100)}
	svc := NewService(src, cache, nil)

	got, err := svc.Totals(ctx)
	require.NoError(t, err)
	assert.True(t, got.Currencies[0].Total.Equal(decimal.NewFromInt(100)))
	_, err = svc.Totals(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load())

	src.total = decimal.NewFromInt(250)
	NewInvalidator(cache, nil).Committed(ctx, ledger.Event{Type: ledger.EventTransactionRecorded})
	got, err = svc.Totals(ctx)
	require.NoError(t, err)
	assert.True(t, got.Currencies[0].Total.Equal(decimal.NewFromInt(250)))
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	cache, _ := newTestCache(t)
	src := &countingSource{total: decimal.NewFromInt(1), delay: 50 * time.Millisecond}
	svc := NewService(src, cache, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Totals(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestTotalsWithoutRedis(t *testing.T) {
	src := &countingSource{total: decimal.NewFromInt(7)}
	svc := NewService(src, NewCache(nil, time.Minute), nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Totals(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, src.calls.Load())
	require.NoError(t, svc.Warm(context.Background()))
	NewInvalidator(nil, nil).Committed(context.Background(), ledger.Event{})
}

func TestTotalsFallBackWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	src := &countingSource{total: decimal.NewFromInt(3)}
	svc := NewService(src, cache, nil)
	mr.Close()

	got, err := svc.Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Accounts)
}

func TestWarmPopulatesCache(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	store := memory.New()
	ledgerSvc := ledger.NewService(store)
	_, err := ledgerSvc.OpenAccount(ctx, ledger.OpenAccountInput{Type: ledger.AccountTypePersonal, Name: "W", Currency: "IDR", InitialBalance: decimal.NewFromInt(40)})
	require.NoError(t, err)
	svc := NewService(ledgerSvc, cache, nil)

	require.NoError(t, svc.Warm(ctx))
	key, err := cache.TotalsKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ledger:totals:1", key)
	assert.True(t, mr.Exists(key))

	got, err := svc.Totals(ctx)
	require.NoError(t, err)
	idr, ok := got.ForCurrency("IDR")
	require.True(t, ok)
	assert.True(t, idr.Cash.Equal(decimal.NewFromInt(40)))
}

func TestAdvanceAnnouncesGeneration(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, CommitChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	gen, err := cache.Generation(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, gen)
	require.NoError(t, cache.Advance(ctx))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", msg.Payload)
	key, err := cache.TotalsKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ledger:totals:2", key)
}

func TestLoadTotalsRejectsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)
	key, err := cache.TotalsKey(ctx)
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, "{not json"))

	_, _, err = cache.LoadTotals(ctx, key, func(context.Context) (ledger.Totals, error) {
		return ledger.Totals{}, nil
	})
	require.ErrorContains(t, err, "dashboard cache: decode")
}
