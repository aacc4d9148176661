// Package cli implements fintrackctl, the operator command line for the ledger.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unicode"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/app"
	"github.com/fintrack/fintrack/internal/dashboard"
	"github.com/fintrack/fintrack/internal/ledger"
	"github.com/fintrack/fintrack/internal/shared"
)

// Env carries what commands share. The ledger is opened on first use so commands that do
// not need storage run without it.
type Env struct {
	Config  *app.Config
	Logger  *slog.Logger
	Out     io.Writer
	In      io.Reader
	Printer *message.Printer

	open   func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Ledger, error)
	ledger *app.Ledger
	redis  *redis.Client
}

// NewEnv builds an environment writing to out.
func NewEnv(cfg *app.Config, out io.Writer) *Env {
	return &Env{
		Config:  cfg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Out:     out,
		In:      os.Stdin,
		Printer: message.NewPrinter(language.English),
		open:    app.OpenLedger,
	}
}

// Ledger opens the configured store once and returns its service. Changes made through it
// invalidate the server's cached dashboard totals when Redis is reachable.
func (e *Env) Ledger(ctx context.Context) (*ledger.Service, error) {
	if e.ledger == nil {
		l, err := e.open(ctx, e.Config, e.Logger)
		if err != nil {
			return nil, err
		}
		e.ledger = l
		if e.redis = app.OpenRedis(ctx, e.Config, e.Logger); e.redis != nil {
			cache := dashboard.NewCache(e.redis, e.Config.DashboardCacheTTL)
			l.Service.Observe(dashboard.NewInvalidator(cache, e.Logger))
		}
	}
	return e.ledger.Service, nil
}

// Close releases the ledger and the cache client if they were opened.
func (e *Env) Close() error {
	var err error
	if e.redis != nil {
		err = e.redis.Close()
		e.redis = nil
	}
	if e.ledger != nil {
		if closeErr := e.ledger.Close(); closeErr != nil {
			err = closeErr
		}
		e.ledger = nil
	}
	return err
}

// NewRootCmd assembles the command tree.
func NewRootCmd(env *Env) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fintrackctl",
		Short:         "fintrackctl operates the fintrack ledger",
		Long:          `fintrackctl opens accounts, books transactions and checks ledger integrity against the store configured through the service environment variables.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.SetOut(env.Out)
	rootCmd.SetErr(env.Out)

	rootCmd.AddCommand(NewMigrateCmd(env))
	rootCmd.AddCommand(NewAccountsCmd(env))
	rootCmd.AddCommand(NewRecordCmd(env))
	rootCmd.AddCommand(NewTransferCmd(env))
	rootCmd.AddCommand(NewReverseCmd(env))
	rootCmd.AddCommand(NewTransactionsCmd(env))
	rootCmd.AddCommand(NewTotalsCmd(env))
	rootCmd.AddCommand(NewIntegrityCmd(env))
	rootCmd.AddCommand(NewKeysCmd(env))
	rootCmd.AddCommand(NewJobsCmd(env))
	return rootCmd
}

// Execute runs fintrackctl with args and returns the process exit code.
func Execute(args []string) int {
	pterm.Error.Prefix = pterm.Prefix{
		Text:  " ERROR ",
		Style: pterm.NewStyle(pterm.BgLightRed, pterm.FgBlack),
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		return 1
	}
	env := NewEnv(cfg, os.Stdout)
	env.Logger = app.NewLogger(cfg)
	defer func() {
		if err := env.Close(); err != nil {
			pterm.Warning.Println(err)
		}
	}()

	rootCmd := NewRootCmd(env)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(operatorContext()); err != nil {
		pterm.Error.Println(capitalize(err.Error()))
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		return 1
	}
	return 0
}

// exitError carries a specific exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

// operatorContext attributes CLI changes to the operator in the audit trail.
func operatorContext() context.Context {
	name := "fintrackctl"
	if user := os.Getenv("USER"); user != "" {
		name = fmt.Sprintf("fintrackctl:%s", user)
	}
	return shared.ContextWithPrincipal(context.Background(), shared.Principal{Name: name, Scope: access.ScopeAll})
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
