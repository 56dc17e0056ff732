package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"solswap/pkg/client"
	"solswap/pkg/parser"
	"solswap/pkg/pricesync"
	"solswap/pkg/quote"
	"solswap/pkg/swaperr"
	"solswap/pkg/types"
)

var (
	quoteSlippage   int
	quoteAggregator string
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <source-token> to <dest-token>",
	Short: "Get a swap quote without executing it",
	Long: `Ask the aggregator for a quote and compare its rate with the oracle rate.
Nothing is signed or submitted.

Examples:
  solswap quote 1 SOL to USDC
  solswap quote 1000 USDC to BONK --slippage 100
  solswap quote 1 SOL to USDC --aggregator oneclick`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().IntVar(&quoteSlippage, "slippage", -1, "Slippage tolerance in basis points (default from config)")
	quoteCmd.Flags().StringVar(&quoteAggregator, "aggregator", "", "Aggregator to quote with: jupiter or oneclick (default from config)")
}

func runQuote(cmd *cobra.Command, args []string) {
	swapReq, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	jsonOutput := jsonFlag(cmd)
	ctx := context.Background()

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	quotes, err := s.quotes(quoteAggregator)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	slippage := cfg.SlippageBps
	if quoteSlippage >= 0 {
		slippage = quoteSlippage
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Fetching quote..."
		spin.Start()
	}

	engine, warnings, err := fillForm(ctx, s, swapReq, slippage)
	if err != nil {
		spin.Stop()
		printError(err)
		os.Exit(1)
	}
	defer engine.Close()
	st := engine.Snapshot()

	q, err := quotes.GetQuote(ctx, st.PayToken, st.ReceiveToken, st.PayAmount, st.SlippageBps, s.owner())
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		printError(fmt.Errorf("%s: %w", swaperr.UserMessage(err), err))
		os.Exit(1)
	}

	display := types.QuoteDisplay{
		Aggregator:   q.Aggregator,
		SourceAmount: q.InputAmount().String(),
		SourceToken:  q.InputToken.Symbol,
		DestAmount:   q.ExpectedOutput().String(),
		DestToken:    q.OutputToken.Symbol,
		Rate:         q.Rate().String(),
		SlippageBps:  q.SlippageBps,
		ExpiresAt:    q.ExpiresAt.Format(time.RFC3339),
	}
	if q.Aggregator == "oneclick" {
		display.DepositAddress, _ = client.DepositAddress(q)
	}

	if jsonOutput {
		printJSON(display)
		return
	}

	displaySwapQuote(q)
	displayOracleComparison(q, st)
	for _, w := range warnings {
		color.Yellow("  ! %s", swaperr.UserMessage(w))
	}
	fmt.Println()
}

func displayOracleComparison(q *quote.Quote, st pricesync.State) {
	if st.PayPrice.IsZero() || st.ReceivePrice.IsZero() {
		color.HiBlack("  Oracle rate unavailable for this pair")
		return
	}
	oracleRate := pricesync.Convert(decimal.NewFromInt(1), st.PayPrice, st.ReceivePrice)
	dev := quote.Deviation(q.Rate(), oracleRate)

	fmt.Printf("  Oracle rate:       1 %s = %s %s\n", st.PayToken.Symbol, oracleRate.StringFixed(6), st.ReceiveToken.Symbol)
	pct := dev.Mul(decimal.NewFromInt(100)).StringFixed(2)
	switch {
	case dev.LessThan(decimal.NewFromFloat(-0.01)):
		color.Red("  Quote vs oracle:   %s%%", pct)
	case dev.IsNegative():
		color.Yellow("  Quote vs oracle:   %s%%", pct)
	default:
		color.Green("  Quote vs oracle:   +%s%%", pct)
	}
}
