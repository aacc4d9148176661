package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Transfer moves funds between two accounts of the same currency. The source is debited only
// when its live balance covers the amount; the debit, the credit and both paired transaction
// rows commit together or not at all.
//
// With an idempotency key, a repeated request with identical parameters returns the original
// result (Replayed set) without moving money again.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := in.Validate(); err != nil {
		return TransferResult{}, err
	}
	if in.IdempotencyKey != "" {
		res, found, err := s.replayTransfer(ctx, in)
		if err != nil || found {
			return res, err
		}
	}

	var result TransferResult
	err := s.withTx(ctx, func(ctx context.Context, tx TxStore) error {
		accounts, err := tx.LockAccounts(ctx, in.FromAccountID, in.ToAccountID)
		if err != nil {
			return err
		}
		from, to := accounts[0], accounts[1]
		if !from.IsActive {
			return invalid("from_account_id", "refers to an inactive account")
		}
		if !to.IsActive {
			return invalid("to_account_id", "refers to an inactive account")
		}
		if from.Currency != to.Currency {
			return invalid("to_account_id", fmt.Sprintf("holds %s but the source holds %s", to.Currency, from.Currency))
		}

		fromBalance, err := tx.DebitIfSufficient(ctx, from.ID, in.Amount)
		if err != nil {
			return err
		}
		toBalance, err := adjustBalance(ctx, tx, to.ID, in.Amount)
		if err != nil {
			return err
		}

		pairing := uuid.New()
		now := s.now().UTC()
		out := Transaction{
			ID:          uuid.New(),
			AccountID:   from.ID,
			Kind:        KindTransferOut,
			Amount:      in.Amount,
			Description: transferDescription("Transfer to", to.Name, in.Description),
			PairingID:   &pairing,
			CreatedAt:   now,
		}
		if in.IdempotencyKey != "" {
			key := in.IdempotencyKey
			out.IdempotencyKey = &key
		}
		credit := Transaction{
			ID:          uuid.New(),
			AccountID:   to.ID,
			Kind:        KindTransferIn,
			Amount:      in.Amount,
			Description: transferDescription("Transfer from", from.Name, in.Description),
			PairingID:   &pairing,
			CreatedAt:   now,
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, credit); err != nil {
			return err
		}
		result = TransferResult{Out: out, In: credit, FromBalance: fromBalance, ToBalance: toBalance}
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// A concurrent submission with the same key committed first.
		res, found, rerr := s.replayTransfer(ctx, in)
		if rerr != nil {
			return TransferResult{}, rerr
		}
		if found {
			return res, nil
		}
		return TransferResult{}, Storage("transfer", err)
	}
	if err != nil {
		return TransferResult{}, err
	}
	s.notify(ctx, Event{Type: EventTransferCommitted, Transactions: []Transaction{result.Out, result.In}})
	return result, nil
}

// replayTransfer resolves a previously committed transfer by idempotency key.
func (s *Service) replayTransfer(ctx context.Context, in TransferInput) (TransferResult, bool, error) {
	out, found, err := s.store.FindTransferByKey(ctx, in.IdempotencyKey)
	if err != nil || !found {
		return TransferResult{}, false, err
	}
	credit, err := counterpart(ctx, s.store, out)
	if err != nil {
		return TransferResult{}, false, err
	}
	if out.AccountID != in.FromAccountID || credit.AccountID != in.ToAccountID || !out.Amount.Equal(in.Amount) {
		return TransferResult{}, false, invalid("idempotency_key", "was already used for a different transfer")
	}
	from, err := s.store.GetAccount(ctx, out.AccountID)
	if err != nil {
		return TransferResult{}, false, err
	}
	to, err := s.store.GetAccount(ctx, credit.AccountID)
	if err != nil {
		return TransferResult{}, false, err
	}
	return TransferResult{
		Out:         out,
		In:          credit,
		FromBalance: from.Balance,
		ToBalance:   to.Balance,
		Replayed:    true,
	}, true, nil
}

// counterpart returns the other half of a transfer pair.
func counterpart(ctx context.Context, r Reader, t Transaction) (Transaction, error) {
	if t.PairingID == nil {
		return Transaction{}, Storage("load transfer pair", fmt.Errorf("transaction %s has no pairing id", t.ID))
	}
	pair, err := r.ListTransactions(ctx, TransactionFilter{PairingID: t.PairingID})
	if err != nil {
		return Transaction{}, err
	}
	for _, other := range pair {
		if other.ID != t.ID && other.Kind == t.Kind.Opposite() {
			return other, nil
		}
	}
	return Transaction{}, Storage("load transfer pair", fmt.Errorf("pairing %s is incomplete", *t.PairingID))
}

func transferDescription(prefix, counterparty, desc string) string {
	label := fmt.Sprintf("%s %s", prefix, counterparty)
	if desc == "" {
		return label
	}
	return label + ": " + desc
}
