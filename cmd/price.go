package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solswap/pkg/oracle"
	"solswap/pkg/parser"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
	"solswap/pkg/types"
)

var priceCmd = &cobra.Command{
	Use:   "price <token>...",
	Short: "Show oracle prices",
	Long: `Show the latest Pyth prices for one or more catalog tokens.

Examples:
  solswap price SOL
  solswap price SOL USDC JUP`,
	Args: cobra.MinimumNArgs(1),
	Run:  runPrice,
}

var convertCmd = &cobra.Command{
	Use:   "convert <amount> <source-token> to <dest-token>",
	Short: "Convert an amount at oracle prices",
	Long: `Convert an amount between two tokens using oracle prices only, the same
way the swap form derives the receive amount.

Examples:
  solswap convert 2 SOL to USDC
  solswap convert 100 USDC to JUP`,
	Args: cobra.MinimumNArgs(1),
	Run:  runConvert,
}

func init() {
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(convertCmd)
}

type priceRow struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price,omitempty"`
	Status      string `json:"status"`
	PublishTime string `json:"publish_time,omitempty"`
	Error       string `json:"error,omitempty"`
}

func runPrice(cmd *cobra.Command, args []string) {
	jsonOutput := jsonFlag(cmd)

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	tokens := make([]registry.Token, 0, len(args))
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		t, err := s.token(parser.NormalizeTokenSymbol(arg))
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		tokens = append(tokens, t)
		if t.HasPriceFeed() {
			ids = append(ids, t.PriceFeedID)
		}
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Fetching prices..."
		spin.Start()
	}
	results, err := s.oracle.GetPrices(context.Background(), ids, cfg.MaxStaleness)
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		printError(fmt.Errorf("%s: %w", swaperr.UserMessage(err), err))
		os.Exit(1)
	}

	rows := make([]priceRow, 0, len(tokens))
	for _, t := range tokens {
		row := priceRow{Symbol: t.Symbol}
		if !t.HasPriceFeed() {
			row.Status = "no_feed"
			row.Error = swaperr.UserMessage(swaperr.ErrConfigurationMissing)
			rows = append(rows, row)
			continue
		}
		res := results[t.PriceFeedID]
		row.Status = res.Status.String()
		if !res.Price.IsZero() {
			row.Price = res.Price.Display().String()
			row.PublishTime = res.Price.PublishTime.UTC().Format(time.RFC3339)
		}
		if res.Err != nil {
			row.Error = swaperr.UserMessage(res.Err)
		}
		rows = append(rows, row)
	}

	if jsonOutput {
		printJSON(rows)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                          ORACLE PRICES")
	fmt.Println(strings.Repeat("=", 70))
	for _, r := range rows {
		switch r.Status {
		case oracle.StatusOK.String():
			fmt.Printf("  %-8s $%-20s %s\n", color.YellowString(r.Symbol), r.Price, color.HiBlackString(r.PublishTime))
		case oracle.StatusStale.String():
			fmt.Printf("  %-8s $%-20s %s\n", color.YellowString(r.Symbol), r.Price, color.RedString("stale since %s", r.PublishTime))
		default:
			fmt.Printf("  %-8s %s\n", color.YellowString(r.Symbol), color.RedString(r.Error))
		}
	}
	fmt.Println(strings.Repeat("=", 70) + "\n")
}

func runConvert(cmd *cobra.Command, args []string) {
	req, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	jsonOutput := jsonFlag(cmd)

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	// Conversion needs prices only; the form runs without an owner.
	s.wallet = nil

	engine, warnings, err := fillForm(context.Background(), s, req, cfg.SlippageBps)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer engine.Close()
	st := engine.Snapshot()

	if st.PayPrice.IsZero() || st.ReceivePrice.IsZero() {
		msg := swaperr.UserMessage(swaperr.ErrFeedUnavailable)
		if len(warnings) > 0 {
			msg = swaperr.UserMessage(warnings[0])
		}
		if jsonOutput {
			printJSON(map[string]string{"error": msg})
		} else {
			printError(fmt.Errorf("%s", msg))
		}
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(types.QuoteDisplay{
			Aggregator:   "oracle",
			SourceAmount: st.PayAmount.String(),
			SourceToken:  st.PayToken.Symbol,
			DestAmount:   st.ReceiveAmount.String(),
			DestToken:    st.ReceiveToken.Symbol,
			Rate:         st.PayPrice.Display().Div(st.ReceivePrice.Display()).String(),
		})
		return
	}

	printSuccess(fmt.Sprintf("%s %s ≈ %s %s",
		st.PayAmount.String(), st.PayToken.Symbol,
		st.ReceiveAmount.StringFixed(min(st.ReceiveToken.Decimals, 6)), st.ReceiveToken.Symbol))
}
