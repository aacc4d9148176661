package ledger

import (
	"context"
	"time"
)

// EventType names a committed ledger change.
type EventType string

const (
	EventAccountOpened       EventType = "account.opened"
	EventAccountDeactivated  EventType = "account.deactivated"
	EventTransactionRecorded EventType = "transaction.recorded"
	EventTransferCommitted   EventType = "transfer.committed"
	EventTransactionReversed EventType = "transaction.reversed"
)

// Event describes a change after it has been committed.
type Event struct {
	Type         EventType
	Account      *Account
	Transactions []Transaction
	At           time.Time
}

// Observer is notified after each successful commit. Replayed transfers do not notify.
type Observer interface {
	Committed(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

// Committed calls f.
func (f ObserverFunc) Committed(ctx context.Context, ev Event) { f(ctx, ev) }
