package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "papertrade",
	Short: "A paper-trading exchange backed by live Coinbase prices",
	Long: `Papertrade simulates crypto trading against live market prices.

It provides tools for:
  - Serving quotes, a simulated wallet and a live price stream over HTTP
  - Looking up quotes and supported trading pairs from the command line
  - Opening and inspecting paper-trading accounts
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var cfgFile string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON)")
}
