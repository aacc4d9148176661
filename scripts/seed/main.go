package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fintrack/fintrack/internal/app"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

// Seeds a demo ledger into the store selected by LEDGER_STORE. Intended for local
// development; running it twice opens a second set of accounts.
func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{Name: "seed", Scope: "all"})

	l, err := app.OpenLedger(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer l.Close()
	svc := l.Service

	fmt.Println("→ Seeding accounts...")
	accounts, err := seedAccounts(ctx, svc)
	if err != nil {
		log.Fatalf("seed accounts: %v", err)
	}

	fmt.Println("→ Seeding income and expenses...")
	if err := seedEntries(ctx, svc, accounts); err != nil {
		log.Fatalf("seed entries: %v", err)
	}

	fmt.Println("→ Seeding transfers...")
	if err := seedTransfers(ctx, svc, accounts); err != nil {
		log.Fatalf("seed transfers: %v", err)
	}

	report, err := svc.CheckIntegrity(ctx)
	if err != nil {
		log.Fatalf("integrity: %v", err)
	}
	if !report.OK() {
		log.Fatalf("integrity: %d discrepancies, %d broken pairings", len(report.Discrepancies), len(report.BrokenPairings))
	}
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedAccounts(ctx context.Context, svc *ledger.Service) (map[string]ledger.Account, error) {
	specs := []struct {
		key      string
		typ      ledger.AccountType
		name     string
		bank     string
		currency string
		opening  string
	}{
		{"checking", ledger.AccountTypePersonal, "Everyday Checking", "First National", "USD", "2500"},
		{"savings", ledger.AccountTypePersonal, "Rainy Day Savings", "First National", "USD", "10000"},
		{"card", ledger.AccountTypePersonal, "Travel Card", "Orbit Bank", "USD", "-430.18"},
		{"operating", ledger.AccountTypeCompany, "Studio Operating", "Commerce Bank", "USD", "18250.75"},
		{"euro", ledger.AccountTypeCompany, "Studio EUR", "Banque Lyon", "EUR", "3200"},
	}
	out := make(map[string]ledger.Account, len(specs))
	for _, s := range specs {
		a, err := svc.OpenAccount(ctx, ledger.OpenAccountInput{
			Type:           s.typ,
			Name:           s.name,
			BankName:       s.bank,
			OwnerID:        "demo",
			Currency:       s.currency,
			InitialBalance: decimal.RequireFromString(s.opening),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		out[s.key] = a
	}
	return out, nil
}

func seedEntries(ctx context.Context, svc *ledger.Service, accounts map[string]ledger.Account) error {
	entries := []struct {
		account  string
		kind     ledger.Kind
		amount   string
		desc     string
		category string
	}{
		{"checking", ledger.KindIncome, "4200", "Salary", "salary"},
		{"checking", ledger.KindExpense, "1450", "Rent", "housing"},
		{"checking", ledger.KindExpense, "86.42", "Groceries", "food"},
		{"operating", ledger.KindIncome, "7800", "Invoice 2031", "sales"},
		{"operating", ledger.KindExpense, "1299", "Workstation", "equipment"},
		{"euro", ledger.KindExpense, "45.5", "Coworking day pass", "office"},
	}
	for _, e := range entries {
		category := e.category
		if _, err := svc.RecordTransaction(ctx, ledger.RecordInput{
			AccountID:   accounts[e.account].ID,
			Kind:        e.kind,
			Amount:      decimal.RequireFromString(e.amount),
			Description: e.desc,
			Category:    &category,
		}); err != nil {
			return fmt.Errorf("%s: %w", e.desc, err)
		}
	}
	return nil
}

func seedTransfers(ctx context.Context, svc *ledger.Service, accounts map[string]ledger.Account) error {
	transfers := []struct {
		from, to string
		amount   string
		desc     string
	}{
		{"checking", "savings", "500", "Monthly savings"},
		{"checking", "card", "430.18", "Card payment"},
		{"operating", "checking", "3000", "Owner draw"},
	}
	for _, t := range transfers {
		if _, err := svc.Transfer(ctx, ledger.TransferInput{
			FromAccountID:  accounts[t.from].ID,
			ToAccountID:    accounts[t.to].ID,
			Amount:         decimal.RequireFromString(t.amount),
			Description:    t.desc,
			IdempotencyKey: "seed-" + uuid.NewString(),
		}); err != nil {
			return fmt.Errorf("%s: %w", t.desc, err)
		}
	}
	return nil
}
