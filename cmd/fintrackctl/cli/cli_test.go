package cli

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/app"
	"github.com/fintrack/fintrack/internal/dashboard"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

func TestMain(m *testing.M) {
	pterm.DisableStyling()
	os.Exit(m.Run())
}

type cliFixture struct {
	t   *testing.T
	env *Env
	out *bytes.Buffer
}

func newCLI(t *testing.T) *cliFixture {
	t.Helper()
	out := new(bytes.Buffer)
	env := NewEnv(&app.Config{LedgerStore: app.StoreMemory}, out)
	t.Cleanup(func() { _ = env.Close() })
	return &cliFixture{t: t, env: env, out: out}
}

func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	f.out.Reset()
	cmd := NewRootCmd(f.env)
	cmd.SetArgs(args)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{Name: "test", Scope: access.ScopeAll})
	err := cmd.ExecuteContext(ctx)
	return f.out.String(), err
}

func (f *cliFixture) mustRun(args ...string) string {
	f.t.Helper()
	out, err := f.run(args...)
	require.NoError(f.t, err, out)
	return out
}

func (f *cliFixture) account(name string) ledger.Account {
	f.t.Helper()
	svc, err := f.env.Ledger(context.Background())
	require.NoError(f.t, err)
	accounts, err := svc.ListAccounts(context.Background(), ledger.AccountFilter{IncludeInactive: true})
	require.NoError(f.t, err)
	for _, a := range accounts {
		if a.Name == name {
			return a
		}
	}
	f.t.Fatalf("account %s not found", name)
	return ledger.Account{}
}

func TestFormatMoney(t *testing.T) {
	p := message.NewPrinter(language.English)
	cases := []struct {
		amount string
		code   string
		want   string
	}{
		{"1234567.5", "USD", "1,234,567.50 USD"},
		{"-12.3", "EUR", "-12.30 EUR"},
		{"1234", "JPY", "1,234 JPY"},
		{"1234.5", "JPY", "1,234.5000 JPY"},
		{"0.5", "JPY", "0.5000 JPY"},
		{"0", "IDR", "0.00 IDR"},
		{"-0.0001", "USD", "-0.0001 USD"},
		{"12.345", "USD", "12.3450 USD"},
		{"-0.5", "IDR", "-0.50 IDR"},
	}
	for _, tc := range cases {
		t.Run(tc.code+tc.amount, func(t *testing.T) {
			assert.Equal(t, tc.want, formatMoney(p, decimal.RequireFromString(tc.amount), tc.code))
		})
	}
}

func TestAccountsOpenListClose(t *testing.T) {
	f := newCLI(t)

	out := f.mustRun("accounts", "open", "--name", "Main", "--currency", "usd", "--balance", "1500", "--bank", "First")
	assert.Contains(t, out, "Opened Main")
	assert.Contains(t, out, "1,500.00 USD")

	f.mustRun("accounts", "open", "-n", "Ops", "-c", "USD", "-t", "company")

	out = f.mustRun("accounts", "list")
	assert.Contains(t, out, "Main")
	assert.Contains(t, out, "Ops")
	assert.Contains(t, out, "Total: 2 accounts")

	out = f.mustRun("accounts", "list", "--type", "company")
	assert.NotContains(t, out, "Main")
	assert.Contains(t, out, "Total: 1 accounts")

	main := f.account("Main")
	out = f.mustRun("accounts", "close", main.ID.String())
	assert.Contains(t, out, "Closed Main, final balance 1,500.00 USD")

	out = f.mustRun("accounts", "list")
	assert.NotContains(t, out, "Main")
	out = f.mustRun("accounts", "list", "--all")
	assert.Contains(t, out, "Main")
}

func TestWritesAdvanceDashboardGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newCLI(t)
	f.env.Config.DashboardCache = true
	f.env.Config.RedisAddr = mr.Addr()

	f.mustRun("accounts", "open", "-n", "Main", "-c", "USD", "-b", "10")
	main := f.account("Main")
	f.mustRun("record", "income", main.ID.String(), "5")

	gen, err := mr.Get(dashboard.GenerationKey)
	require.NoError(t, err)
	assert.Equal(t, "2", gen)
}

func TestAccountsOpenRejectsBadInput(t *testing.T) {
	f := newCLI(t)

	_, err := f.run("accounts", "open", "--name", "Main", "--currency", "XYZ")
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.run("accounts", "open", "--name", "Main", "--currency", "USD", "--balance", "ten")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid amount")

	_, err = f.run("accounts", "open", "--currency", "USD")
	require.Error(t, err)
}

func TestRecordTransferAndList(t *testing.T) {
	f := newCLI(t)
	f.mustRun("accounts", "open", "-n", "Main", "-c", "USD", "-b", "100")
	f.mustRun("accounts", "open", "-n", "Savings", "-c", "USD")
	main, savings := f.account("Main"), f.account("Savings")

	out := f.mustRun("record", "expense", main.ID.String(), "30.25", "--category", "Food", "-d", "lunch")
	assert.Contains(t, out, "balance 69.75 USD")

	_, err := f.run("record", "expense", savings.ID.String(), "1")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	_, err = f.run("record", "refund", main.ID.String(), "1")
	require.ErrorIs(t, err, ledger.ErrValidation)

	out = f.mustRun("transfer", main.ID.String(), savings.ID.String(), "50", "--key", "move-1")
	assert.Contains(t, out, "Transferred 50.00 USD from Main to Savings")
	assert.Contains(t, out, "19.75 USD")

	out = f.mustRun("transfer", main.ID.String(), savings.ID.String(), "50", "--key", "move-1")
	assert.Contains(t, out, `already booked under key "move-1"`)
	assert.True(t, f.account("Main").Balance.Equal(decimal.RequireFromString("19.75")))

	out = f.mustRun("transactions", "--account", main.ID.String())
	assert.Contains(t, out, "transfer_out")
	assert.Contains(t, out, "Food")
	assert.Contains(t, out, "Showing 3 of 3")

	out = f.mustRun("transactions", "--kind", "transfer_in")
	assert.Contains(t, out, "Showing 1 of 1")

	_, err = f.run("transactions", "--kind", "gift")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestReverseTransfer(t *testing.T) {
	f := newCLI(t)
	f.mustRun("accounts", "open", "-n", "A", "-c", "EUR", "-b", "80")
	f.mustRun("accounts", "open", "-n", "B", "-c", "EUR")
	a, b := f.account("A"), f.account("B")
	f.mustRun("transfer", a.ID.String(), b.ID.String(), "30")

	svc, err := f.env.Ledger(context.Background())
	require.NoError(t, err)
	rows, _, err := svc.ListTransactions(context.Background(), ledger.TransactionFilter{Kind: ledger.KindTransferIn})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	out := f.mustRun("reverse", rows[0].ID.String(), "--reason", "wrong account")
	assert.Contains(t, out, "Wrote 2 offsetting entries")
	assert.True(t, f.account("A").Balance.Equal(decimal.NewFromInt(80)))
	assert.True(t, f.account("B").Balance.IsZero())

	_, err = f.run("reverse", rows[0].ID.String())
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.run("reverse", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transaction id")
}

func TestTotalsAndIntegrity(t *testing.T) {
	f := newCLI(t)

	out := f.mustRun("totals")
	assert.Contains(t, out, "No active accounts")

	f.mustRun("accounts", "open", "-n", "Wallet", "-c", "USD", "-b", "1200")
	f.mustRun("accounts", "open", "-n", "Card", "-c", "USD", "--balance=-200", "-t", "company")
	f.mustRun("accounts", "open", "-n", "Euro", "-c", "EUR", "-b", "10")

	out = f.mustRun("totals")
	assert.Contains(t, out, "1,000.00 USD")
	assert.Contains(t, out, "200.00 USD")
	assert.Contains(t, out, "10.00 EUR")

	out = f.mustRun("integrity")
	assert.Contains(t, out, "Ledger consistent across 3 accounts")
}

func TestKeysHash(t *testing.T) {
	f := newCLI(t)

	out := f.mustRun("keys", "hash", "--name", "ops", "--scope", "company", "--secret", "0123456789abcdef")
	spec := strings.TrimSpace(out)
	keys, err := access.ParseKeys([]string{spec})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, access.ScopeCompany, keys[0].Scope)

	p, err := access.NewAuthenticator(keys).Authenticate("ops.0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "ops", p.Name)

	f.env.In = strings.NewReader("fedcba9876543210\n")
	out = f.mustRun("keys", "hash", "--name", "reader")
	assert.True(t, strings.HasPrefix(out, "reader:all:$2"))

	out = f.mustRun("keys", "hash", "--name", "gen", "--generate")
	assert.Contains(t, out, "Bearer token: gen.")

	_, err = f.run("keys", "hash", "--name", "short", "--secret", "tiny")
	require.Error(t, err)
	_, err = f.run("keys", "hash", "--name", "bad:name", "--secret", "0123456789abcdef")
	require.Error(t, err)
	_, err = f.run("keys", "hash", "--name", "ops", "--scope", "root", "--secret", "0123456789abcdef")
	require.Error(t, err)
}

func TestMigrateMemory(t *testing.T) {
	f := newCLI(t)
	out := f.mustRun("migrate")
	assert.Contains(t, out, "Memory store has no schema")

	f.env.Config.LedgerStore = "oracle"
	_, err := f.run("migrate")
	require.Error(t, err)
}

func TestJobsCLIRejectsUnknownJob(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)

	c, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Trigger(context.Background(), "analytics:warmup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported job")
}

func TestCommandTree(t *testing.T) {
	root := NewRootCmd(newCLI(t).env)
	for _, path := range [][]string{
		{"accounts", "list"}, {"accounts", "open"}, {"accounts", "close"},
		{"record"}, {"transfer"}, {"reverse"}, {"transactions"},
		{"totals"}, {"integrity"}, {"migrate"}, {"keys", "hash"},
		{"jobs", "trigger"}, {"jobs", "stats"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestExitErrorCarriesCode(t *testing.T) {
	err := error(exitError{code: 2, msg: "integrity check failed"})
	assert.Equal(t, "integrity check failed", err.Error())
	assert.Equal(t, "Integrity check failed", capitalize(err.Error()))
}
