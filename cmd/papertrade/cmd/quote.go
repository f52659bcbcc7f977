package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrade/market"
)

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL...",
	Short: "Fetch current prices",
	Long: `Fetch the current price of one or more trading pairs.

Example:
  papertrade quote BTC-USD ETH-USD`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	cache := newCache(cfg, newClient(cfg), log)
	ctx := context.Background()

	symbols := make([]market.Symbol, len(args))
	for i, a := range args {
		symbols[i] = market.Symbol(strings.ToUpper(a))
	}

	quotes := cache.GetMultiple(ctx, symbols)
	if len(quotes) == 0 {
		return fmt.Errorf("no quotes available for %s", strings.Join(args, ", "))
	}

	got := make(map[market.Symbol]bool, len(quotes))
	for _, q := range quotes {
		got[q.Symbol] = true
		fmt.Printf("%-10s %s  (%s)\n", q.Symbol, q.Price.String(), q.FetchedAt.Format("15:04:05"))
	}
	for _, s := range symbols {
		if !got[s] {
			fmt.Printf("%-10s unavailable\n", s)
		}
	}
	return nil
}
