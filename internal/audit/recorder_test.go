package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

type memorySink struct {
	entries []Entry
	err     error
}

func (m *memorySink) Write(_ context.Context, e Entry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func TestRecorderWritesTransferEntries(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, nil)
	pairing := uuid.New()
	key := "req-7"
	out := ledger.Transaction{ID: uuid.New(), AccountID: uuid.New(), Kind: ledger.KindTransferOut, Amount: decimal.RequireFromString("12.5"), PairingID: &pairing, IdempotencyKey: &key}
	in := ledger.Transaction{ID: uuid.New(), AccountID: uuid.New(), Kind: ledger.KindTransferIn, Amount: out.Amount, PairingID: &pairing}
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{Name: "ops", Scope: "all"})
	rec.Committed(ctx, ledger.Event{Type: ledger.EventTransferCommitted, Transactions: []ledger.Transaction{out, in}, At: at})

	require.Len(t, sink.entries, 2)
	first := sink.entries[0]
	assert.Equal(t, "ops", first.Actor)
	assert.Equal(t, "transfer.committed", first.Action)
	assert.Equal(t, "transaction", first.Entity)
	assert.Equal(t, out.ID.String(), first.EntityID)
	assert.Equal(t, "12.5000", first.Meta["amount"])
	assert.Equal(t, pairing.String(), first.Meta["pairing_id"])
	assert.Equal(t, "req-7", first.Meta["idempotency_key"])
	assert.Equal(t, at, first.At)
	assert.NotContains(t, sink.entries[1].Meta, "idempotency_key")
}

func TestRecorderAccountEventsAndFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := &memorySink{err: errors.New("db down")}
	rec := NewRecorder(sink, logger)
	acc := ledger.Account{ID: uuid.New(), Type: ledger.AccountTypeCompany, Name: "Ops", Currency: "USD", Balance: decimal.NewFromInt(5), IsActive: true}

	rec.Committed(context.Background(), ledger.Event{Type: ledger.EventAccountOpened, Account: &acc})

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "system", sink.entries[0].Actor)
	assert.Equal(t, "account", sink.entries[0].Entity)
	assert.Equal(t, "5.0000", sink.entries[0].Meta["balance"])
	assert.Contains(t, buf.String(), "audit write failed")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, sink.Write(context.Background(), Entry{Actor: "a", Action: "account.opened", Entity: "account", EntityID: "1"}))
	assert.Contains(t, buf.String(), `"action":"account.opened"`)
	assert.Contains(t, buf.String(), `"component":"audit"`)
}
