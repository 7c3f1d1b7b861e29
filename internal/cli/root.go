package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "floorvault",
	Short: "FloorVault - reserve-backed token ledger",
	Long: `FloorVault is an event-sourced ledger for a reserve-backed token
protocol: a JitoSOL reserve pool backs the circulating vault token, setting a
floor price of reserve / circulating supply. The service ingests funding,
deposit, burn, borrow, and repay events, applies them through a deterministic
core, and serves balances, loans, and floor history over HTTP.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path")
}
