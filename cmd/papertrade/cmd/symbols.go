package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List tradable pairs",
	Long: `List the USD pairs offered by the exchange, or its currencies with
--currencies. A built-in list is shown when the exchange is unreachable.`,
	RunE: runSymbols,
}

var symbolsCurrencies bool

func init() {
	rootCmd.AddCommand(symbolsCmd)

	symbolsCmd.Flags().BoolVar(&symbolsCurrencies, "currencies", false, "list currencies instead of pairs")
}

func runSymbols(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)
	ctx := context.Background()

	if symbolsCurrencies {
		for _, c := range client.ListCurrencies(ctx) {
			fmt.Printf("%-8s %-24s min %s\n", c.ID, c.Name, c.MinSize)
		}
		return nil
	}
	for _, s := range client.ListSupportedSymbols(ctx) {
		fmt.Println(s)
	}
	return nil
}
