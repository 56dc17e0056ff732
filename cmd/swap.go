package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"solswap/pkg/client"
	"solswap/pkg/parser"
	"solswap/pkg/pipeline"
	"solswap/pkg/quote"
	"solswap/pkg/swaperr"
	"solswap/pkg/types"
	"solswap/pkg/wallet"
)

var (
	swapSlippage   int
	swapAggregator string
	noConfirm      bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap tokens on Solana",
	Long: `Swap tokens on Solana through the configured aggregator.

The swap is quoted, built, signed with the configured keypair, re-signed if
the blockhash moved, simulated, submitted and confirmed at finalized
commitment. Press Ctrl+C before signing to abandon the swap.

IMPORTANT:
  - A signer must be configured (SOLSWAP_PRIVATE_KEY or keypair_path)
  - The pay amount must not exceed your balance

Examples:
  solswap swap 1 SOL to USDC
  solswap swap 250 USDC to JUP --slippage 100
  solswap swap 0.5 SOL to USDC --aggregator oneclick
  solswap swap 1 SOL to USDC --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().IntVar(&swapSlippage, "slippage", -1, "Slippage tolerance in basis points (default from config)")
	swapCmd.Flags().StringVar(&swapAggregator, "aggregator", "", "Aggregator to route through: jupiter or oneclick (default from config)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) {
	swapReq, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	jsonOutput := jsonFlag(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := newSession(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	slippage := cfg.SlippageBps
	if swapSlippage >= 0 {
		slippage = swapSlippage
	}

	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		spin.Suffix = " Fetching prices and balances..."
		spin.Start()
	}

	engine, warnings, err := fillForm(ctx, s, swapReq, slippage)
	if !jsonOutput {
		spin.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer engine.Close()

	if !jsonOutput {
		displayForm(engine.Snapshot(), warnings)
	}

	quotes, err := s.quotes(swapAggregator)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var w wallet.Wallet
	if s.wallet != nil {
		w = s.wallet
		if !noConfirm && !jsonOutput {
			w = wallet.WithApproval(s.wallet, approveOnce(spin))
		}
	}

	var built *quote.Quote
	observer := func(ev pipeline.Event) {
		if ev.Quote != nil {
			built = ev.Quote
		}
		log.Debug().Str("attempt", ev.AttemptID).Str("state", ev.State.String()).Msg(ev.Message)
		if jsonOutput {
			return
		}
		switch {
		case ev.Warning != nil:
			spin.Stop()
			color.Yellow("  ! %s", ev.Message)
			spin.Start()
		case ev.State == pipeline.StateBuilt && ev.Quote != nil:
			spin.Stop()
			displaySwapQuote(ev.Quote)
			spin.Start()
		case ev.Err == nil && !ev.State.Terminal():
			spin.Suffix = " " + ev.Message + "..."
		}
	}

	p := s.pipeline(quotes, w, pipeline.WithObserver(observer))

	if !jsonOutput {
		spin.Suffix = " Fetching quote..."
		spin.Start()
	}
	attempt := p.Execute(ctx, pipeline.RequestFromState(engine.Snapshot()))
	if !jsonOutput {
		spin.Stop()
	}

	status := types.SwapStatus{
		AttemptID: attempt.ID,
		Status:    attempt.State.String(),
		Message:   attempt.Message(),
	}
	if !attempt.Signature.IsZero() {
		status.Signature = attempt.Signature.String()
	}

	if jsonOutput {
		printJSON(status)
	} else {
		displayAttempt(attempt, built)
	}

	if attempt.State.Failed() {
		os.Exit(1)
	}
}

// approveOnce prompts before the first signature of an attempt. The re-sign
// after a blockhash refresh covers the same swap and is not prompted again.
func approveOnce(spin *spinner.Spinner) wallet.ApproveFunc {
	approved := false
	return func(ctx context.Context, tx *solana.Transaction) bool {
		if approved {
			return true
		}
		spin.Stop()
		defer spin.Start()
		approved = confirmSwap(ctx, os.Stdin)
		return approved
	}
}

func displaySwapQuote(q *quote.Quote) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Aggregator:        %s\n", q.Aggregator)
	fmt.Printf("  From:              %s %s\n", q.InputAmount().String(), color.YellowString(q.InputToken.Symbol))
	fmt.Printf("  To:                ~%s %s\n", q.ExpectedOutput().String(), color.YellowString(q.OutputToken.Symbol))
	fmt.Printf("  Rate:              1 %s = %s %s\n", q.InputToken.Symbol, q.Rate().StringFixed(6), q.OutputToken.Symbol)
	fmt.Printf("  Slippage:          %.2f%%\n", float64(q.SlippageBps)/100)
	if addr, err := client.DepositAddress(q); err == nil && q.Aggregator == "oneclick" {
		fmt.Printf("  Deposit Address:   %s\n", color.CyanString(addr))
	}
	fmt.Printf("  Quote expires in:  %.0f seconds\n", time.Until(q.ExpiresAt).Seconds())

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayAttempt(a *pipeline.Attempt, q *quote.Quote) {
	fmt.Println()
	for _, w := range a.Warnings {
		color.Yellow("Warning: %s", swaperr.UserMessage(w))
	}

	if !a.State.Failed() {
		color.Green("✓ %s", a.Message())
		fmt.Printf("  Signature: %s\n", color.CyanString(a.Signature.String()))
		fmt.Printf("  Explorer:  https://solscan.io/tx/%s\n", a.Signature)
		if q != nil && q.Aggregator == "oneclick" {
			if addr, err := client.DepositAddress(q); err == nil {
				fmt.Println("\nYou can monitor the cross-chain settlement using:")
				color.Cyan("  solswap status --deposit %s\n", addr)
			}
		}
		fmt.Println()
		return
	}

	color.Red("✗ %s", a.Message())
	fmt.Printf("  State: %s\n", a.State)
	if a.Err != nil {
		fmt.Printf("  Cause: %s\n", color.HiBlackString(a.Err.Error()))
	}
	if !a.Signature.IsZero() {
		fmt.Printf("  Signature: %s\n", color.CyanString(a.Signature.String()))
		fmt.Println("\nThe transaction may still land. Check it with:")
		color.Cyan("  solswap status %s\n", a.Signature)
	}
	fmt.Println()
}

// confirmSwap reads a yes/no answer from in. It gives up, declining, when
// ctx is cancelled first.
func confirmSwap(ctx context.Context, in io.Reader) bool {
	fmt.Print("\nProceed with swap? (y/N): ")

	answer := make(chan string, 1)
	go func() {
		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && response == "" {
			close(answer)
			return
		}
		answer <- response
	}()

	select {
	case <-ctx.Done():
		fmt.Println()
		return false
	case response, ok := <-answer:
		if !ok {
			return false
		}
		response = strings.TrimSpace(strings.ToLower(response))
		return response == "y" || response == "yes"
	}
}
