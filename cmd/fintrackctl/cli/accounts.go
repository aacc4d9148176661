package cli

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fintrack/fintrack/internal/ledger"
)

// NewAccountsCmd groups account management commands.
func NewAccountsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account", "acc"},
		Short:   "Manage bank accounts",
	}
	cmd.AddCommand(newAccountsListCmd(env))
	cmd.AddCommand(newAccountsOpenCmd(env))
	cmd.AddCommand(newAccountsCloseCmd(env))
	return cmd
}

type accountsListFlags struct {
	Type string
	All  bool
}

func newAccountsListCmd(env *Env) *cobra.Command {
	flags := &accountsListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with their balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := svc.ListAccounts(cmd.Context(), ledger.AccountFilter{
				Type:            ledger.AccountType(flags.Type),
				IncludeInactive: flags.All,
			})
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
			data := pterm.TableData{{"ID", "Name", "Type", "Bank", "Balance", "Active"}}
			for _, a := range accounts {
				balance := formatMoney(env.Printer, a.Balance, a.Currency)
				if a.Balance.IsNegative() {
					balance = pterm.Red(balance)
				}
				active := "yes"
				if !a.IsActive {
					active = pterm.Gray("no")
				}
				data = append(data, []string{a.ID.String(), a.Name, string(a.Type), a.BankName, balance, active})
			}
			if err := renderTable(env.Out, "Accounts", data); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, pterm.Info.Sprintf("Total: %d accounts", len(accounts)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.Type, "type", "t", "", "filter by type (personal, company)")
	cmd.Flags().BoolVarP(&flags.All, "all", "a", false, "include deactivated accounts")
	return cmd
}

type accountsOpenFlags struct {
	Type     string
	Name     string
	Bank     string
	Owner    string
	Currency string
	Balance  string
}

func newAccountsOpenCmd(env *Env) *cobra.Command {
	flags := &accountsOpenFlags{}
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := ledger.OpenAccountInput{
				Type:     ledger.AccountType(flags.Type),
				Name:     flags.Name,
				BankName: flags.Bank,
				OwnerID:  flags.Owner,
				Currency: flags.Currency,
			}
			if flags.Balance != "" {
				amount, err := parseAmount(flags.Balance)
				if err != nil {
					return err
				}
				in.InitialBalance = amount
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			account, err := svc.OpenAccount(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, pterm.Success.Sprintf("Opened %s (%s) with %s", account.Name, account.ID,
				formatMoney(env.Printer, account.Balance, account.Currency)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.Type, "type", "t", string(ledger.AccountTypePersonal), "account type (personal, company)")
	cmd.Flags().StringVarP(&flags.Name, "name", "n", "", "account name")
	cmd.Flags().StringVar(&flags.Bank, "bank", "", "bank name")
	cmd.Flags().StringVar(&flags.Owner, "owner", "", "owner reference")
	cmd.Flags().StringVarP(&flags.Currency, "currency", "c", "", "ISO 4217 currency code")
	cmd.Flags().StringVarP(&flags.Balance, "balance", "b", "", "opening balance")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func newAccountsCloseCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "close <account-id>",
		Short: "Deactivate an account, keeping its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			account, err := svc.DeactivateAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, pterm.Success.Sprintf("Closed %s, final balance %s", account.Name,
				formatMoney(env.Printer, account.Balance, account.Currency)))
			return nil
		},
	}
}
