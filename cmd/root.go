package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"solswap/config"
	"solswap/pkg/logging"
	"solswap/pkg/metrics"
)

var (
	cfg *config.Config
	log zerolog.Logger

	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "solswap",
	Short: "A CLI for token swaps on Solana",
	Long: `solswap swaps tokens on Solana. Prices come from the Pyth oracle, routes
from an aggregator (Jupiter by default, NEAR 1Click optionally), and every swap
is signed, refreshed, simulated, submitted and confirmed with a distinct
outcome for each stage.

Examples:
  solswap swap 1 SOL to USDC
  solswap quote 250 USDC to JUP --slippage 50
  solswap price SOL USDC
  solswap balance
  solswap status <signature>`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = "debug"
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		log = logging.NewLogger(level, !jsonOutput)

		addr := cfg.MetricsAddr
		if metricsAddr != "" {
			addr = metricsAddr
		}
		if addr != "" {
			metrics.Serve(addr)
			log.Debug().Str("addr", addr).Msg("serving metrics")
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func printError(err error) {
	fmt.Printf("\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", color.GreenString(message))
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError(err)
		return
	}
	fmt.Println(string(data))
}

func jsonFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
