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

	"solswap/pkg/parser"
	"solswap/pkg/portfolio"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

var (
	balanceOwner string
	evmOwner     string
)

var balanceCmd = &cobra.Command{
	Use:   "balance [token]...",
	Short: "Show Solana token balances",
	Long: `Show the wallet's balance of the given catalog tokens, or of every catalog
token on Solana when none are given. A balance that could not be read is shown
as zero with a warning.

Examples:
  solswap balance
  solswap balance SOL USDC
  solswap balance --owner <solana-address>`,
	Run: runBalance,
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Show holdings across networks, ordered by chain priority",
	Long: `Show every non-empty catalog holding on Solana and the configured EVM
networks, ordered by chain priority and valued in USD at oracle prices.

Examples:
  solswap portfolio
  solswap portfolio --evm-owner 0x1234...abcd`,
	Run: runPortfolio,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(portfolioCmd)

	balanceCmd.Flags().StringVar(&balanceOwner, "owner", "", "Solana address to inspect (default: configured wallet)")
	portfolioCmd.Flags().StringVar(&balanceOwner, "owner", "", "Solana address to inspect (default: configured wallet)")
	portfolioCmd.Flags().StringVar(&evmOwner, "evm-owner", "", "Address to inspect on the configured EVM networks")
}

type balanceRow struct {
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
	Warning string `json:"warning,omitempty"`
}

func resolveOwner(s *session) (string, error) {
	if balanceOwner != "" {
		return balanceOwner, nil
	}
	if owner := s.owner(); owner != "" {
		return owner, nil
	}
	return "", fmt.Errorf("%s: pass --owner or configure a signer", swaperr.UserMessage(swaperr.ErrWalletNotConnected))
}

func runBalance(cmd *cobra.Command, args []string) {
	jsonOutput := jsonFlag(cmd)
	ctx := context.Background()

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	owner, err := resolveOwner(s)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var tokens []registry.Token
	if len(args) == 0 {
		tokens = s.registry.All()
	}
	for _, arg := range args {
		t, err := s.token(parser.NormalizeTokenSymbol(arg))
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		tokens = append(tokens, t)
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Fetching balances..."
		spin.Start()
	}

	rows := make([]balanceRow, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := t.Address(registry.NetworkSolana); !ok && !t.IsNative(registry.NetworkSolana) {
			continue
		}
		res := s.solana.Resolve(ctx, owner, t)
		row := balanceRow{Symbol: t.Symbol, Amount: res.Amount.String()}
		if !res.Reliable() {
			row.Warning = swaperr.UserMessage(res.Warning)
		}
		rows = append(rows, row)
	}
	if !jsonOutput {
		spin.Stop()
	}

	if jsonOutput {
		printJSON(rows)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     BALANCES")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Owner: %s\n\n", color.CyanString(owner))
	for _, r := range rows {
		line := fmt.Sprintf("  %-10s %s", color.YellowString(r.Symbol), r.Amount)
		if r.Warning != "" {
			line += "  " + color.RedString(r.Warning)
		}
		fmt.Println(line)
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

type portfolioRow struct {
	Currency string `json:"currency"`
	Network  string `json:"network"`
	Amount   string `json:"amount"`
	USDValue string `json:"usd_value,omitempty"`
	Priority int    `json:"priority"`
}

func runPortfolio(cmd *cobra.Command, args []string) {
	jsonOutput := jsonFlag(cmd)
	ctx := context.Background()

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	owner, err := resolveOwner(s)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	owners := map[string]string{registry.NetworkSolana: owner}
	if evmOwner != "" {
		for _, n := range s.balances.Networks() {
			if n != registry.NetworkSolana {
				owners[n] = evmOwner
			}
		}
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Collecting balances..."
		spin.Start()
	}

	tokens := s.registry.All()
	balances, warn := portfolio.Collect(ctx, s.balances, tokens, owners)
	prices, err := portfolio.Prices(ctx, s.oracle, tokens, cfg.MaxStaleness)
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		log.Warn().Err(err).Msg("portfolio shown without USD values")
	}

	rows := portfolio.Sort(balances, prices)

	if jsonOutput {
		out := make([]portfolioRow, 0, len(rows))
		for _, r := range rows {
			pr := portfolioRow{Currency: r.Currency, Network: r.Network, Amount: r.Amount.String(), Priority: r.Priority}
			if r.Priced {
				pr.USDValue = r.USDValue.StringFixed(2)
			}
			out = append(out, pr)
		}
		printJSON(out)
		return
	}

	displayPortfolio(rows)
	if warn != nil {
		color.Yellow("  ! %s", swaperr.UserMessage(warn))
		fmt.Println()
	}
}

func displayPortfolio(rows []portfolio.Row) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                            PORTFOLIO")
	fmt.Println(strings.Repeat("=", 70))

	if len(rows) == 0 {
		fmt.Println("\nNo holdings found.")
		return
	}

	// rows are already in priority order, so first appearance orders networks
	byNetwork := make(map[string][]portfolio.Row)
	var networks []string
	for _, r := range rows {
		if _, ok := byNetwork[r.Network]; !ok {
			networks = append(networks, r.Network)
		}
		byNetwork[r.Network] = append(byNetwork[r.Network], r)
	}

	for _, n := range networks {
		color.Cyan("\n%s", strings.ToUpper(n))
		fmt.Println(strings.Repeat("-", 70))
		for _, r := range byNetwork[n] {
			usd := color.HiBlackString("n/a")
			if r.Priced {
				usd = "$" + r.USDValue.StringFixed(2)
			}
			fmt.Printf("  %-10s  %-24s  %s\n", color.YellowString(r.Currency), r.Amount.String(), usd)
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: $%s across %d holdings\n\n", portfolio.Total(rows).StringFixed(2), len(rows))
}
