package cli

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fintrack/fintrack/internal/ledger"
)

// NewTotalsCmd prints the dashboard rollup computed straight from the store.
func NewTotalsCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Show balance totals per currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			totals, err := svc.GetTotals(cmd.Context())
			if err != nil {
				return err
			}
			if len(totals.Currencies) == 0 {
				fmt.Fprintln(env.Out, pterm.Info.Sprint("No active accounts"))
				return nil
			}
			data := pterm.TableData{{"Currency", "Total", "Cash", "Debt", "Personal", "Company", "Accounts"}}
			for _, c := range totals.Currencies {
				accounts := 0
				for _, sub := range c.ByType {
					accounts += sub.Accounts
				}
				data = append(data, []string{
					c.Currency,
					formatMoney(env.Printer, c.Total, c.Currency),
					formatMoney(env.Printer, c.Cash, c.Currency),
					formatMoney(env.Printer, c.Debt, c.Currency),
					formatMoney(env.Printer, c.ByType[ledger.AccountTypePersonal].Balance, c.Currency),
					formatMoney(env.Printer, c.ByType[ledger.AccountTypeCompany].Balance, c.Currency),
					strconv.Itoa(accounts),
				})
			}
			return renderTable(env.Out, "Totals", data)
		},
	}
}

// NewIntegrityCmd runs the consistency sweep. It exits with status 2 when problems are found.
func NewIntegrityCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "integrity",
		Short: "Verify balances against the transaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			report, err := svc.CheckIntegrity(cmd.Context())
			if err != nil {
				return err
			}
			if report.OK() {
				fmt.Fprintln(env.Out, pterm.Success.Sprintf("Ledger consistent across %d accounts", report.Accounts))
				return nil
			}
			if len(report.Discrepancies) > 0 {
				data := pterm.TableData{{"Account", "Stored", "Computed", "Drift"}}
				for _, d := range report.Discrepancies {
					data = append(data, []string{
						d.AccountID.String(), d.Stored.String(), d.Computed.String(), d.Stored.Sub(d.Computed).String(),
					})
				}
				if err := renderTable(env.Out, "Balance discrepancies", data); err != nil {
					return err
				}
			}
			if len(report.BrokenPairings) > 0 {
				data := pterm.TableData{{"Pairing"}}
				for _, id := range report.BrokenPairings {
					data = append(data, []string{id.String()})
				}
				if err := renderTable(env.Out, "Broken transfer pairings", data); err != nil {
					return err
				}
			}
			return exitError{
				code: 2,
				msg: fmt.Sprintf("integrity check failed: %d balance discrepancies, %d broken pairings",
					len(report.Discrepancies), len(report.BrokenPairings)),
			}
		},
	}
}
