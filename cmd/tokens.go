package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"solswap/pkg/client"
	"solswap/pkg/registry"
)

var (
	filterChain  string
	filterSymbol string
	listRemote   bool
)

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List all supported tokens",
	Long: `List the tokens of the local catalog, ordered by market cap rank.

With --remote, list the tokens the NEAR 1Click API supports instead. You can
filter tokens by blockchain or symbol.

Examples:
  solswap list-tokens
  solswap list-tokens --symbol USD
  solswap list-tokens --remote --chain sol`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol, name or address")
	tokensCmd.Flags().BoolVar(&listRemote, "remote", false, "List the tokens supported by the 1Click API")
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput := jsonFlag(cmd)

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !listRemote {
		tokens := s.registry.Search(filterSymbol)
		if filterChain != "" {
			var temp []registry.Token
			for _, t := range tokens {
				if _, ok := t.Address(filterChain); ok || t.IsNative(filterChain) {
					temp = append(temp, t)
				}
			}
			tokens = temp
		}
		if jsonOutput {
			printJSON(tokens)
		} else {
			displayCatalog(tokens)
		}
		return
	}

	if cfg.JWTToken == "" {
		printError(fmt.Errorf("JWT token not found. Please set SOLSWAP_JWT_TOKEN environment variable or add jwt_token to .solswap.yaml"))
		os.Exit(1)
	}
	apiClient := client.NewOneClickClient(cfg.OneClickURL, cfg.JWTToken, nil, log)

	// Get tokens with spinner
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Fetching supported tokens..."
		spin.Start()
	}

	tokens, err := apiClient.GetSupportedTokens(context.Background())
	if !jsonOutput {
		spin.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	// Apply filters
	filtered := tokens
	if filterChain != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.EqualFold(token.GetBlockchain(), filterChain) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	if filterSymbol != "" {
		var temp []oneclick.TokenResponse
		for _, token := range filtered {
			if strings.Contains(strings.ToUpper(token.GetSymbol()), strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		filtered = temp
	}

	// Output
	if jsonOutput {
		printJSON(filtered)
	} else {
		displayTokens(filtered)
	}
}

func displayCatalog(tokens []registry.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                              TOKEN CATALOG")
	fmt.Println(strings.Repeat("=", 90))

	for _, t := range tokens {
		feed := color.GreenString("price feed")
		if !t.HasPriceFeed() {
			feed = color.RedString("no price feed")
		}
		addr, ok := t.Address(registry.NetworkSolana)
		if !ok && t.IsNative(registry.NetworkSolana) {
			addr = "native"
		}
		if len(addr) > 44 {
			addr = addr[:41] + "..."
		}
		fmt.Printf("  %-10s %-22s %2d decimals  %-44s  %s\n",
			color.YellowString(t.Symbol),
			t.Name,
			t.Decimals,
			color.HiBlackString(addr),
			feed)
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}

func displayTokens(tokens []oneclick.TokenResponse) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                            SUPPORTED TOKENS")
	fmt.Println(strings.Repeat("=", 90))

	// Group tokens by blockchain
	tokensByChain := make(map[string][]oneclick.TokenResponse)
	for _, token := range tokens {
		chain := token.GetBlockchain()
		tokensByChain[chain] = append(tokensByChain[chain], token)
	}

	chains := make([]string, 0, len(tokensByChain))
	for chain := range tokensByChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 90))

		for _, token := range tokensByChain[chain] {
			address := token.GetContractAddress()
			if len(address) > 40 {
				address = address[:37] + "..."
			}

			fmt.Printf("  %-10s  %2.0f decimals  %s\n",
				color.YellowString(token.GetSymbol()),
				token.GetDecimals(),
				color.HiBlackString(address))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}
