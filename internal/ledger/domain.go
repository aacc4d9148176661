package ledger

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// AccountType enumerates the account ownership categories.
type AccountType string

const (
	AccountTypePersonal AccountType = "personal"
	AccountTypeCompany  AccountType = "company"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountTypePersonal || t == AccountTypeCompany
}

// Kind enumerates transaction kinds.
type Kind string

const (
	KindIncome      Kind = "income"
	KindExpense     Kind = "expense"
	KindTransferOut Kind = "transfer_out"
	KindTransferIn  Kind = "transfer_in"
)

// Valid reports whether k is a known transaction kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// IsTransfer reports whether k is one side of a transfer.
func (k Kind) IsTransfer() bool {
	return k == KindTransferOut || k == KindTransferIn
}

// Sign returns +1 for kinds that credit an account and -1 for kinds that debit it.
func (k Kind) Sign() int {
	if k == KindExpense || k == KindTransferOut {
		return -1
	}
	return 1
}

// Opposite returns the kind that offsets k.
func (k Kind) Opposite() Kind {
	switch k {
	case KindIncome:
		return KindExpense
	case KindExpense:
		return KindIncome
	case KindTransferOut:
		return KindTransferIn
	case KindTransferIn:
		return KindTransferOut
	}
	return k
}

// Amounts carry at most this many fractional digits.
const AmountScale = 4

// MaxAmount is the exclusive bound on the magnitude of any amount or balance. Values below it
// fit both int64 ten-thousandths and NUMERIC(20,4).
var MaxAmount = decimal.New(1, 14)

// WithinLimit reports whether |d| < MaxAmount.
func WithinLimit(d decimal.Decimal) bool {
	return d.Abs().LessThan(MaxAmount)
}

const (
	maxDescriptionLen    = 255
	maxNameLen           = 120
	maxIdempotencyKeyLen = 128

	// CategoryOpeningBalance tags the transaction that seeds a new account's balance.
	CategoryOpeningBalance = "opening_balance"
	// CategoryReversal tags offsetting correction transactions.
	CategoryReversal = "reversal"
)

// Account holds the balance of a single bank account.
type Account struct {
	ID        uuid.UUID
	Type      AccountType
	Name      string
	BankName  string
	OwnerID   string
	Balance   decimal.Decimal
	Currency  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable monetary event on one account.
type Transaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Kind           Kind
	Amount         decimal.Decimal
	Description    string
	Category       *string
	PairingID      *uuid.UUID
	IdempotencyKey *string
	ReversalOf     *uuid.UUID
	CreatedAt      time.Time
}

// Signed returns the amount with the sign implied by the kind.
func (t Transaction) Signed() decimal.Decimal {
	if t.Kind.Sign() < 0 {
		return t.Amount.Neg()
	}
	return t.Amount
}

// OpenAccountInput describes a new account.
type OpenAccountInput struct {
	Type           AccountType
	Name           string
	BankName       string
	OwnerID        string
	Currency       string
	InitialBalance decimal.Decimal
}

// Validate checks the account definition.
func (in *OpenAccountInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Type == "" {
		return invalid("type", "is required")
	}
	if !in.Type.Valid() {
		return invalid("type", "must be personal or company")
	}
	if in.Name == "" {
		return invalid("name", "is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		return invalid("name", "is too long")
	}
	if err := validateCurrency(in.Currency); err != nil {
		return err
	}
	if !fitsScale(in.InitialBalance) {
		return invalid("initial_balance", "supports at most 4 decimal places")
	}
	if !WithinLimit(in.InitialBalance) {
		return invalid("initial_balance", "must be less than "+MaxAmount.String()+" in magnitude")
	}
	return nil
}

// RecordInput describes a single-entry income or expense.
type RecordInput struct {
	AccountID   uuid.UUID
	Kind        Kind
	Amount      decimal.Decimal
	Description string
	Category    *string
}

// Validate checks the single-entry request without touching storage.
func (in RecordInput) Validate() error {
	if in.AccountID == uuid.Nil {
		return invalid("account_id", "is required")
	}
	if in.Kind != KindIncome && in.Kind != KindExpense {
		return invalid("kind", "must be income or expense")
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	return validateDescription(in.Description)
}

// RecordResult is returned by RecordTransaction.
type RecordResult struct {
	Transaction Transaction
	Balance     decimal.Decimal
}

// TransferInput describes a paired movement between two accounts.
type TransferInput struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// Validate checks the transfer request without touching storage.
func (in TransferInput) Validate() error {
	if in.FromAccountID == uuid.Nil {
		return invalid("from_account_id", "is required")
	}
	if in.ToAccountID == uuid.Nil {
		return invalid("to_account_id", "is required")
	}
	if in.FromAccountID == in.ToAccountID {
		return invalid("to_account_id", "must differ from the source account")
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return invalid("idempotency_key", "is too long")
	}
	return validateDescription(in.Description)
}

// TransferResult is the outcome of a committed (or replayed) transfer.
type TransferResult struct {
	Out         Transaction
	In          Transaction
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
	Replayed    bool
}

// ReverseInput identifies the transaction to offset.
type ReverseInput struct {
	TransactionID uuid.UUID
	Reason        string
}

// ReverseResult lists the offsetting transactions written by a reversal.
type ReverseResult struct {
	Transactions []Transaction
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	Type            AccountType
	IncludeInactive bool
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	AccountID *uuid.UUID
	Kind      Kind
	PairingID *uuid.UUID
	Limit     int
	Offset    int
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if !fitsScale(amount) {
		return invalid("amount", "supports at most 4 decimal places")
	}
	if !WithinLimit(amount) {
		return invalid("amount", "must be less than "+MaxAmount.String())
	}
	return nil
}

// checkBalance rejects a unit whose balance change leaves the supported range.
func checkBalance(id uuid.UUID, balance decimal.Decimal) error {
	if !WithinLimit(balance) {
		return invalid("amount", "would take the balance of account "+id.String()+" out of range")
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return invalid("description", "is too long")
	}
	return nil
}

func validateCurrency(code string) error {
	if code == "" {
		return invalid("currency", "is required")
	}
	if len(code) != 3 {
		return invalid("currency", "must be a 3 letter ISO code")
	}
	if _, err := currency.ParseISO(code); err != nil {
		return invalid("currency", "is not a known ISO 4217 code")
	}
	return nil
}

func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}
