package cli

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fintrack/fintrack/internal/access"
	"github.com/fintrack/fintrack/internal/app"
	"github.com/fintrack/fintrack/internal/ledger/store/postgres"
	"github.com/fintrack/fintrack/internal/ledger/store/sqlite"
)

// NewMigrateCmd applies schema migrations for the configured store.
func NewMigrateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.Config
			switch cfg.LedgerStore {
			case app.StorePostgres:
				if err := postgres.Migrate(cfg.PGDSN); err != nil {
					return fmt.Errorf("migrate postgres: %w", err)
				}
			case app.StoreSQLite:
				if err := sqlite.Migrate(cfg.SQLitePath); err != nil {
					return fmt.Errorf("migrate sqlite: %w", err)
				}
			case app.StoreMemory:
				fmt.Fprintln(env.Out, pterm.Info.Sprint("Memory store has no schema"))
				return nil
			default:
				return fmt.Errorf("unknown ledger store %q", cfg.LedgerStore)
			}
			fmt.Fprintln(env.Out, pterm.Success.Sprintf("Migrated %s store", cfg.LedgerStore))
			return nil
		},
	}
}

// NewKeysCmd groups API key helpers.
func NewKeysCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysHashCmd(env))
	return cmd
}

type keysHashFlags struct {
	Name     string
	Scope    string
	Secret   string
	Generate bool
}

func newKeysHashCmd(env *Env) *cobra.Command {
	flags := &keysHashFlags{}
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print an ACCESS_KEYS entry for a secret",
		Long:  "Hashes the secret given with --secret, read from stdin, or generated with --generate, and prints the name:scope:hash entry together with the bearer token to hand out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Name == "" || strings.ContainsAny(flags.Name, ":.") {
				return errors.New("key name must be non-empty and contain neither ':' nor '.'")
			}
			secret := flags.Secret
			switch {
			case flags.Generate:
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				secret = hex.EncodeToString(buf)
			case secret == "":
				line, err := bufio.NewReader(env.In).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				secret = strings.TrimSpace(line)
			}
			hash, err := access.HashSecret(secret)
			if err != nil {
				return err
			}
			spec := fmt.Sprintf("%s:%s:%s", flags.Name, flags.Scope, hash)
			if _, err := access.ParseKeys([]string{spec}); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, spec)
			if flags.Generate {
				fmt.Fprintln(env.Out, pterm.Info.Sprintf("Bearer token: %s.%s", flags.Name, secret))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.Name, "name", "n", "", "key name")
	cmd.Flags().StringVarP(&flags.Scope, "scope", "s", access.ScopeAll, "key scope (personal, company, all)")
	cmd.Flags().StringVar(&flags.Secret, "secret", "", "secret to hash; read from stdin when empty")
	cmd.Flags().BoolVar(&flags.Generate, "generate", false, "generate a random secret")
	return cmd
}
