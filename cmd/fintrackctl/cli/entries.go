package cli

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fintrack/fintrack/internal/ledger"
)

type recordFlags struct {
	Description string
	Category    string
}

// NewRecordCmd books an income or expense against one account.
func NewRecordCmd(env *Env) *cobra.Command {
	flags := &recordFlags{}
	cmd := &cobra.Command{
		Use:   "record <income|expense> <account-id> <amount>",
		Short: "Record an income or expense",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("account", args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			in := ledger.RecordInput{
				AccountID:   id,
				Kind:        ledger.Kind(strings.ToLower(args[0])),
				Amount:      amount,
				Description: flags.Description,
			}
			if cmd.Flags().Changed("category") {
				in.Category = &flags.Category
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			account, err := svc.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			res, err := svc.RecordTransaction(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.Out, pterm.Success.Sprintf("Recorded %s %s on %s, balance %s",
				res.Transaction.Kind,
				formatMoney(env.Printer, res.Transaction.Amount, account.Currency),
				account.Name,
				formatMoney(env.Printer, res.Balance, account.Currency)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.Description, "description", "d", "", "free text description")
	cmd.Flags().StringVar(&flags.Category, "category", "", "category label")
	return cmd
}

type transferFlags struct {
	Description string
	Key         string
}

// NewTransferCmd moves money between two accounts.
func NewTransferCmd(env *Env) *cobra.Command {
	flags := &transferFlags{}
	cmd := &cobra.Command{
		Use:   "transfer <from-account-id> <to-account-id> <amount>",
		Short: "Transfer money between accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseID("source account", args[0])
			if err != nil {
				return err
			}
			to, err := parseID("destination account", args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.Transfer(cmd.Context(), ledger.TransferInput{
				FromAccountID:  from,
				ToAccountID:    to,
				Amount:         amount,
				Description:    flags.Description,
				IdempotencyKey: flags.Key,
			})
			if err != nil {
				return err
			}
			source, err := svc.GetAccount(cmd.Context(), from)
			if err != nil {
				return err
			}
			dest, err := svc.GetAccount(cmd.Context(), to)
			if err != nil {
				return err
			}
			if res.Replayed {
				fmt.Fprintln(env.Out, pterm.Info.Sprintf("Transfer %s already booked under key %q", *res.Out.PairingID, flags.Key))
			} else {
				fmt.Fprintln(env.Out, pterm.Success.Sprintf("Transferred %s from %s to %s",
					formatMoney(env.Printer, res.Out.Amount, source.Currency), source.Name, dest.Name))
			}
			data := pterm.TableData{
				{"Account", "Entry", "Balance"},
				{source.Name, res.Out.ID.String(), formatMoney(env.Printer, res.FromBalance, source.Currency)},
				{dest.Name, res.In.ID.String(), formatMoney(env.Printer, res.ToBalance, dest.Currency)},
			}
			return renderTable(env.Out, "", data)
		},
	}
	cmd.Flags().StringVarP(&flags.Description, "description", "d", "", "free text description")
	cmd.Flags().StringVarP(&flags.Key, "key", "k", "", "idempotency key; repeating it replays the first transfer")
	return cmd
}

// NewReverseCmd offsets a transaction, or both sides of a transfer.
func NewReverseCmd(env *Env) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reverse <transaction-id>",
		Short: "Reverse a transaction with offsetting entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("transaction", args[0])
			if err != nil {
				return err
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.ReverseTransaction(cmd.Context(), ledger.ReverseInput{TransactionID: id, Reason: reason})
			if err != nil {
				return err
			}
			data := pterm.TableData{{"ID", "Account", "Kind", "Amount", "Reverses"}}
			for _, t := range res.Transactions {
				reverses := ""
				if t.ReversalOf != nil {
					reverses = t.ReversalOf.String()
				}
				data = append(data, []string{t.ID.String(), shortID(t.AccountID), string(t.Kind), t.Amount.String(), reverses})
			}
			fmt.Fprintln(env.Out, pterm.Success.Sprintf("Wrote %d offsetting entries", len(res.Transactions)))
			return renderTable(env.Out, "", data)
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the transaction is reversed")
	return cmd
}

type transactionsFlags struct {
	Account string
	Kind    string
	Limit   int
	Offset  int
}

// NewTransactionsCmd lists ledger entries newest first.
func NewTransactionsCmd(env *Env) *cobra.Command {
	flags := &transactionsFlags{}
	cmd := &cobra.Command{
		Use:     "transactions",
		Aliases: []string{"tx"},
		Short:   "List transactions newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ledger.TransactionFilter{
				Kind:   ledger.Kind(flags.Kind),
				Limit:  flags.Limit,
				Offset: flags.Offset,
			}
			if flags.Account != "" {
				id, err := parseID("account", flags.Account)
				if err != nil {
					return err
				}
				filter.AccountID = &id
			}
			svc, err := env.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			rows, total, err := svc.ListTransactions(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			data := pterm.TableData{{"ID", "Account", "Kind", "Amount", "Category", "Description", "Created"}}
			for _, t := range rows {
				category := ""
				if t.Category != nil {
					category = *t.Category
				}
				amount := t.Signed().StringFixed(2)
				if t.Kind.Sign() < 0 {
					amount = pterm.Red(amount)
				} else {
					amount = pterm.Green(amount)
				}
				data = append(data, []string{
					t.ID.String(), shortID(t.AccountID), string(t.Kind), amount, category, t.Description,
					t.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			if err := renderTable(env.Out, "Transactions", data); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, pterm.Info.Sprintf("Showing %d of %d", len(rows), total))
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.Account, "account", "a", "", "restrict to one account")
	cmd.Flags().StringVarP(&flags.Kind, "kind", "k", "", "restrict to one kind")
	cmd.Flags().IntVarP(&flags.Limit, "limit", "n", 20, "page size")
	cmd.Flags().IntVar(&flags.Offset, "offset", 0, "rows to skip")
	return cmd
}
