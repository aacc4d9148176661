package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// TypeSubtotal aggregates the balances of one account type.
type TypeSubtotal struct {
	Balance  decimal.Decimal `json:"balance"`
	Accounts int             `json:"accounts"`
}

// CurrencyTotals aggregates active accounts held in one currency.
type CurrencyTotals struct {
	Currency     string                       `json:"currency"`
	Total        decimal.Decimal              `json:"total"`
	Cash         decimal.Decimal              `json:"cash"`
	CashAccounts int                          `json:"cash_accounts"`
	Debt         decimal.Decimal              `json:"debt"`
	DebtAccounts int                          `json:"debt_accounts"`
	ByType       map[AccountType]TypeSubtotal `json:"by_type"`
}

// Totals is the dashboard rollup. Currencies are never summed together.
type Totals struct {
	Currencies []CurrencyTotals `json:"currencies"`
	Accounts   int              `json:"accounts"`
}

// ComputeTotals derives the rollup from account state. Inactive accounts are skipped; a
// negative balance counts toward Debt by its absolute value and never toward Cash.
func ComputeTotals(accounts []Account) Totals {
	byCurrency := map[string]*CurrencyTotals{}
	out := Totals{}
	for _, a := range accounts {
		if !a.IsActive {
			continue
		}
		ct, ok := byCurrency[a.Currency]
		if !ok {
			ct = &CurrencyTotals{
				Currency: a.Currency,
				Total:    decimal.Zero,
				Cash:     decimal.Zero,
				Debt:     decimal.Zero,
				ByType: map[AccountType]TypeSubtotal{
					AccountTypePersonal: {Balance: decimal.Zero},
					AccountTypeCompany:  {Balance: decimal.Zero},
				},
			}
			byCurrency[a.Currency] = ct
		}
		out.Accounts++
		ct.Total = ct.Total.Add(a.Balance)
		sub := ct.ByType[a.Type]
		sub.Balance = sub.Balance.Add(a.Balance)
		sub.Accounts++
		ct.ByType[a.Type] = sub
		switch {
		case a.Balance.IsPositive():
			ct.Cash = ct.Cash.Add(a.Balance)
			ct.CashAccounts++
		case a.Balance.IsNegative():
			ct.Debt = ct.Debt.Add(a.Balance.Abs())
			ct.DebtAccounts++
		}
	}
	out.Currencies = make([]CurrencyTotals, 0, len(byCurrency))
	for _, ct := range byCurrency {
		out.Currencies = append(out.Currencies, *ct)
	}
	sort.Slice(out.Currencies, func(i, j int) bool {
		return out.Currencies[i].Currency < out.Currencies[j].Currency
	})
	return out
}

// GetTotals computes the rollup from the current stored state.
func (s *Service) GetTotals(ctx context.Context) (Totals, error) {
	accounts, err := s.store.ListAccounts(ctx, AccountFilter{})
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(accounts), nil
}

// ForCurrency returns the rollup of one currency, if any active account holds it.
func (t Totals) ForCurrency(code string) (CurrencyTotals, bool) {
	for _, ct := range t.Currencies {
		if ct.Currency == code {
			return ct, true
		}
	}
	return CurrencyTotals{}, false
}
