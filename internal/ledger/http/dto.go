package ledgerhttp

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

type openAccountRequest struct {
	Type           string           `json:"type" validate:"required,oneof=personal company"`
	Name           string           `json:"name" validate:"required,max=120"`
	BankName       string           `json:"bank_name" validate:"max=120"`
	OwnerID        string           `json:"owner_id" validate:"max=64"`
	Currency       string           `json:"currency" validate:"required,len=3,alpha"`
	InitialBalance *decimal.Decimal `json:"initial_balance"`
}

func (req openAccountRequest) input() ledger.OpenAccountInput {
	in := ledger.OpenAccountInput{
		Type:     ledger.AccountType(req.Type),
		Name:     req.Name,
		BankName: req.BankName,
		OwnerID:  req.OwnerID,
		Currency: req.Currency,
	}
	if req.InitialBalance != nil {
		in.InitialBalance = *req.InitialBalance
	}
	return in
}

type recordRequest struct {
	Kind        string           `json:"kind" validate:"required,oneof=income expense"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Description string           `json:"description" validate:"max=255"`
	Category    *string          `json:"category" validate:"omitempty,max=64"`
}

type transferRequest struct {
	FromAccountID  string           `json:"from_account_id" validate:"required,uuid"`
	ToAccountID    string           `json:"to_account_id" validate:"required,uuid"`
	Amount         *decimal.Decimal `json:"amount" validate:"required"`
	Description    string           `json:"description" validate:"max=255"`
	IdempotencyKey string           `json:"idempotency_key" validate:"max=128"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

type accountResponse struct {
	ID        uuid.UUID          `json:"id"`
	Type      ledger.AccountType `json:"type"`
	Name      string             `json:"name"`
	BankName  string             `json:"bank_name,omitempty"`
	OwnerID   string             `json:"owner_id,omitempty"`
	Balance   string             `json:"balance"`
	Currency  string             `json:"currency"`
	IsActive  bool               `json:"is_active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func newAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Type:      a.Type,
		Name:      a.Name,
		BankName:  a.BankName,
		OwnerID:   a.OwnerID,
		Balance:   formatAmount(a.Balance),
		Currency:  a.Currency,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type transactionResponse struct {
	ID             uuid.UUID   `json:"id"`
	AccountID      uuid.UUID   `json:"account_id"`
	Kind           ledger.Kind `json:"kind"`
	Amount         string      `json:"amount"`
	Description    string      `json:"description"`
	Category       *string     `json:"category"`
	PairingID      *uuid.UUID  `json:"pairing_id"`
	IdempotencyKey *string     `json:"idempotency_key,omitempty"`
	ReversalOf     *uuid.UUID  `json:"reversal_of,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

func newTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:             t.ID,
		AccountID:      t.AccountID,
		Kind:           t.Kind,
		Amount:         formatAmount(t.Amount),
		Description:    t.Description,
		Category:       t.Category,
		PairingID:      t.PairingID,
		IdempotencyKey: t.IdempotencyKey,
		ReversalOf:     t.ReversalOf,
		CreatedAt:      t.CreatedAt,
	}
}

func newTransactionResponses(rows []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, newTransactionResponse(t))
	}
	return out
}

type recordResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Balance     string              `json:"balance"`
}

type transferResponse struct {
	Out         transactionResponse `json:"transfer_out"`
	In          transactionResponse `json:"transfer_in"`
	FromBalance string              `json:"from_balance"`
	ToBalance   string              `json:"to_balance"`
	Replayed    bool                `json:"replayed"`
}

type accountList struct {
	Data []accountResponse `json:"data"`
}

type transactionList struct {
	Data       []transactionResponse `json:"data"`
	Pagination shared.Pagination     `json:"pagination"`
}

type reverseResponse struct {
	Data []transactionResponse `json:"data"`
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(ledger.AmountScale)
}
