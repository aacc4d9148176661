package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSignAndOpposite(t *testing.T) {
	cases := []struct {
		kind     Kind
		sign     int
		opposite Kind
	}{
		{KindIncome, 1, KindExpense},
		{KindExpense, -1, KindIncome},
		{KindTransferOut, -1, KindTransferIn},
		{KindTransferIn, 1, KindTransferOut},
	}
	for _, tc := range cases {
		assert.True(t, tc.kind.Valid())
		assert.Equal(t, tc.sign, tc.kind.Sign(), tc.kind)
		assert.Equal(t, tc.opposite, tc.kind.Opposite(), tc.kind)
	}
	assert.False(t, Kind("refund").Valid())
	assert.True(t, KindTransferIn.IsTransfer())
	assert.False(t, KindIncome.IsTransfer())
}

func TestTransactionSigned(t *testing.T) {
	amount := decimal.RequireFromString("12.5")
	assert.True(t, Transaction{Kind: KindIncome, Amount: amount}.Signed().Equal(amount))
	assert.True(t, Transaction{Kind: KindTransferOut, Amount: amount}.Signed().Equal(amount.Neg()))
}

func TestOpenAccountInputValidate(t *testing.T) {
	valid := func() OpenAccountInput {
		return OpenAccountInput{Type: AccountTypePersonal, Name: "  Wallet ", Currency: " idr"}
	}

	in := valid()
	require.NoError(t, in.Validate())
	assert.Equal(t, "Wallet", in.Name)
	assert.Equal(t, "IDR", in.Currency)

	cases := map[string]struct {
		mutate func(*OpenAccountInput)
		field  string
	}{
		"missing type":     {func(in *OpenAccountInput) { in.Type = "" }, "type"},
		"unknown type":     {func(in *OpenAccountInput) { in.Type = "joint" }, "type"},
		"empty name":       {func(in *OpenAccountInput) { in.Name = "   " }, "name"},
		"long name":        {func(in *OpenAccountInput) { in.Name = strings.Repeat("x", 121) }, "name"},
		"missing currency": {func(in *OpenAccountInput) { in.Currency = "" }, "currency"},
		"bad currency":     {func(in *OpenAccountInput) { in.Currency = "XYZ" }, "currency"},
		"long currency":    {func(in *OpenAccountInput) { in.Currency = "RUPIAH" }, "currency"},
		"too precise":      {func(in *OpenAccountInput) { in.InitialBalance = decimal.RequireFromString("1.00001") }, "initial_balance"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid()
			tc.mutate(&in)
			err := in.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRecordInputValidate(t *testing.T) {
	id := uuid.New()
	ok := RecordInput{AccountID: id, Kind: KindExpense, Amount: decimal.RequireFromString("0.0001")}
	require.NoError(t, ok.Validate())

	bad := []RecordInput{
		{Kind: KindIncome, Amount: decimal.NewFromInt(1)},
		{AccountID: id, Kind: KindTransferIn, Amount: decimal.NewFromInt(1)},
		{AccountID: id, Kind: KindIncome, Amount: decimal.Zero},
		{AccountID: id, Kind: KindIncome, Amount: decimal.NewFromInt(-5)},
		{AccountID: id, Kind: KindIncome, Amount: decimal.RequireFromString("0.00001")},
		{AccountID: id, Kind: KindIncome, Amount: decimal.NewFromInt(1), Description: strings.Repeat("d", 256)},
	}
	for i, in := range bad {
		assert.ErrorIs(t, in.Validate(), ErrValidation, "case %d", i)
	}
}

func TestTransferInputValidate(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	require.NoError(t, TransferInput{FromAccountID: a, ToAccountID: b, Amount: decimal.NewFromInt(5)}.Validate())

	err := TransferInput{FromAccountID: a, ToAccountID: a, Amount: decimal.NewFromInt(5)}.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "to_account_id", verr.Field)

	err = TransferInput{FromAccountID: a, ToAccountID: b, Amount: decimal.NewFromInt(5), IdempotencyKey: strings.Repeat("k", 129)}.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}
