package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ReverseTransaction corrects a committed transaction by writing an offsetting one. History
// is never edited. A transfer is reversed as a whole pair, moving the money back only when
// the original destination still covers it.
func (s *Service) ReverseTransaction(ctx context.Context, in ReverseInput) (ReverseResult, error) {
	if in.TransactionID == uuid.Nil {
		return ReverseResult{}, invalid("transaction_id", "is required")
	}
	if err := validateDescription(in.Reason); err != nil {
		return ReverseResult{}, err
	}
	var result ReverseResult
	err := s.withTx(ctx, func(ctx context.Context, tx TxStore) error {
		original, err := tx.GetTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if original.ReversalOf != nil {
			return invalid("transaction_id", "is itself a reversal")
		}
		if _, found, err := tx.FindReversal(ctx, original.ID); err != nil {
			return err
		} else if found {
			return invalid("transaction_id", "has already been reversed")
		}
		var written []Transaction
		if original.Kind.IsTransfer() {
			written, err = s.reverseTransfer(ctx, tx, original, in.Reason)
		} else {
			written, err = s.reverseEntry(ctx, tx, original, in.Reason)
		}
		if err != nil {
			return err
		}
		result.Transactions = written
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyReversed) {
			return ReverseResult{}, invalid("transaction_id", "has already been reversed")
		}
		return ReverseResult{}, err
	}
	s.notify(ctx, Event{Type: EventTransactionReversed, Transactions: result.Transactions})
	return result, nil
}

func (s *Service) reverseEntry(ctx context.Context, tx TxStore, original Transaction, reason string) ([]Transaction, error) {
	accounts, err := tx.LockAccounts(ctx, original.AccountID)
	if err != nil {
		return nil, err
	}
	if !accounts[0].IsActive {
		return nil, invalid("transaction_id", "belongs to an inactive account")
	}
	category := CategoryReversal
	offset := Transaction{
		ID:          uuid.New(),
		AccountID:   original.AccountID,
		Kind:        original.Kind.Opposite(),
		Amount:      original.Amount,
		Description: reversalDescription(original, reason),
		Category:    &category,
		ReversalOf:  &original.ID,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := adjustBalance(ctx, tx, offset.AccountID, offset.Signed()); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, offset); err != nil {
		return nil, err
	}
	return []Transaction{offset}, nil
}

func (s *Service) reverseTransfer(ctx context.Context, tx TxStore, original Transaction, reason string) ([]Transaction, error) {
	other, err := counterpart(ctx, tx, original)
	if err != nil {
		return nil, err
	}
	out, in := original, other
	if original.Kind == KindTransferIn {
		out, in = other, original
	}
	if _, found, err := tx.FindReversal(ctx, other.ID); err != nil {
		return nil, err
	} else if found {
		return nil, invalid("transaction_id", "has already been reversed")
	}
	// Money flows back from the original destination to the original source.
	accounts, err := tx.LockAccounts(ctx, in.AccountID, out.AccountID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if !a.IsActive {
			return nil, invalid("transaction_id", "belongs to an inactive account")
		}
	}
	if _, err := tx.DebitIfSufficient(ctx, in.AccountID, in.Amount); err != nil {
		return nil, err
	}
	if _, err := adjustBalance(ctx, tx, out.AccountID, out.Amount); err != nil {
		return nil, err
	}
	pairing := uuid.New()
	category := CategoryReversal
	now := s.now().UTC()
	back := Transaction{
		ID:          uuid.New(),
		AccountID:   in.AccountID,
		Kind:        KindTransferOut,
		Amount:      in.Amount,
		Description: reversalDescription(in, reason),
		Category:    &category,
		PairingID:   &pairing,
		ReversalOf:  &in.ID,
		CreatedAt:   now,
	}
	restore := Transaction{
		ID:          uuid.New(),
		AccountID:   out.AccountID,
		Kind:        KindTransferIn,
		Amount:      out.Amount,
		Description: reversalDescription(out, reason),
		Category:    &category,
		PairingID:   &pairing,
		ReversalOf:  &out.ID,
		CreatedAt:   now,
	}
	if err := tx.InsertTransaction(ctx, back); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, restore); err != nil {
		return nil, err
	}
	return []Transaction{back, restore}, nil
}

func reversalDescription(original Transaction, reason string) string {
	label := "Reversal of " + original.Description
	if reason == "" {
		return label
	}
	return label + " (" + reason + ")"
}
