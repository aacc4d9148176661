// Package audit records every committed ledger change as an audit entry.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

// Entry is one audit record.
type Entry struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Sink stores audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Recorder turns ledger events into audit entries. It implements ledger.Observer.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

var _ ledger.Observer = (*Recorder)(nil)

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Committed writes one entry per affected entity. The change is already durable, so a sink
// failure is logged rather than returned.
func (r *Recorder) Committed(ctx context.Context, ev ledger.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range Entries(shared.ActorFromContext(ctx), ev) {
		if err := r.sink.Write(ctx, e); err != nil {
			r.logger.Error("audit write failed",
				slog.String("action", e.Action),
				slog.String("entity", e.Entity),
				slog.String("entity_id", e.EntityID),
				slog.Any("error", err))
		}
	}
}

// Entries maps an event to audit entries.
func Entries(actor string, ev ledger.Event) []Entry {
	var out []Entry
	if ev.Account != nil && (ev.Type == ledger.EventAccountOpened || ev.Type == ledger.EventAccountDeactivated) {
		a := ev.Account
		out = append(out, Entry{
			Actor:    actor,
			Action:   string(ev.Type),
			Entity:   "account",
			EntityID: a.ID.String(),
			Meta: map[string]any{
				"type":      string(a.Type),
				"name":      a.Name,
				"currency":  a.Currency,
				"balance":   a.Balance.StringFixed(ledger.AmountScale),
				"is_active": a.IsActive,
			},
			At: ev.At,
		})
	}
	for _, t := range ev.Transactions {
		meta := map[string]any{
			"account_id": t.AccountID.String(),
			"kind":       string(t.Kind),
			"amount":     t.Amount.StringFixed(ledger.AmountScale),
		}
		if t.PairingID != nil {
			meta["pairing_id"] = t.PairingID.String()
		}
		if t.ReversalOf != nil {
			meta["reversal_of"] = t.ReversalOf.String()
		}
		if t.IdempotencyKey != nil {
			meta["idempotency_key"] = *t.IdempotencyKey
		}
		out = append(out, Entry{
			Actor:    actor,
			Action:   string(ev.Type),
			Entity:   "transaction",
			EntityID: t.ID.String(),
			Meta:     meta,
			At:       ev.At,
		})
	}
	return out
}
