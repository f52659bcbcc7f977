package cmd

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrade/auth"
	"github.com/rustyeddy/papertrade/config"
	"github.com/rustyeddy/papertrade/ledger"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage paper-trading accounts",
	Long: `Open and inspect accounts in the configured ledger store.

These commands only make sense with a persistent store (ledger.store: sqlite
or PAPERTRADE_DB_PATH); the memory store is gone when the command exits.

Subcommands:
  open     - Create a funded account and print its bearer token
  token    - Issue a new bearer token for an account
  balance  - Show the current balance
  history  - List executed transactions
  fund     - Overwrite the balance without a ledger entry (trial funding)`,
}

var accountOpenCmd = &cobra.Command{
	Use:   "open ACCOUNT",
	Short: "Create a funded account",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountOpen,
}

var accountTokenCmd = &cobra.Command{
	Use:   "token ACCOUNT",
	Short: "Issue a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountToken,
}

var accountBalanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT",
	Short: "Show the balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountBalance,
}

var accountHistoryCmd = &cobra.Command{
	Use:   "history ACCOUNT",
	Short: "List transactions",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountHistory,
}

var accountFundCmd = &cobra.Command{
	Use:   "fund ACCOUNT AMOUNT",
	Short: "Overwrite the balance",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountFund,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountOpenCmd)
	accountCmd.AddCommand(accountTokenCmd)
	accountCmd.AddCommand(accountBalanceCmd)
	accountCmd.AddCommand(accountHistoryCmd)
	accountCmd.AddCommand(accountFundCmd)
}

// withLedger opens the configured store for the duration of fn.
func withLedger(fn func(*config.Config, *ledger.Ledger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Ledger.Store == "memory" {
		log.Warn("ledger.store is memory; changes will not persist")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(cfg, newLedger(cfg, store, log))
}

func issue(cfg *config.Config, accountID string) (string, error) {
	jwt, err := auth.NewJWT(cfg.Auth.Secret, auth.WithTTL(cfg.Auth.TTLDuration()))
	if err != nil {
		return "", fmt.Errorf("auth: %w (set JWT_SECRET)", err)
	}
	return jwt.Issue(accountID)
}

func runAccountOpen(cmd *cobra.Command, args []string) error {
	return withLedger(func(cfg *config.Config, l *ledger.Ledger) error {
		acct, err := l.OpenAccount(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Opened account %s with balance %s\n", acct.ID, acct.Balance)

		tok, err := issue(cfg, acct.ID)
		if err != nil {
			return err
		}
		fmt.Printf("  Token: %s\n", tok)
		return nil
	})
}

func runAccountToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	tok, err := issue(cfg, args[0])
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func runAccountBalance(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l *ledger.Ledger) error {
		bal, err := l.Balance(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], bal)
		return nil
	})
}

func runAccountHistory(cmd *cobra.Command, args []string) error {
	return withLedger(func(_ *config.Config, l *ledger.Ledger) error {
		hist, err := l.GetHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(hist) == 0 {
			fmt.Println("No transactions")
			return nil
		}
		for _, tx := range hist {
			fmt.Printf("%s  %-4s %s %s @ %s = %s  balance %s\n",
				tx.Timestamp.Format("2006-01-02 15:04:05"), tx.Side, tx.Amount, tx.Asset,
				tx.Price, tx.Total, tx.BalanceAfter)
		}
		return nil
	})
}

func runAccountFund(cmd *cobra.Command, args []string) error {
	amount, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("amount %q: %w", args[1], err)
	}
	return withLedger(func(_ *config.Config, l *ledger.Ledger) error {
		if err := l.SetBalance(context.Background(), args[0], amount); err != nil {
			return err
		}
		fmt.Printf("✓ %s balance set to %s\n", args[0], amount)
		return nil
	})
}
