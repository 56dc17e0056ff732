package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"

	"solswap/pkg/client"
	"solswap/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
	depositMode   bool
)

var statusCmd = &cobra.Command{
	Use:   "status <signature | deposit-address>",
	Short: "Check the status of a swap",
	Long: `Check the confirmation status of a swap transaction by its signature.

With --deposit, check the settlement of a 1Click swap by its deposit address
instead.

Examples:
  solswap status 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW
  solswap status <signature> --watch
  solswap status <deposit-address> --deposit --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
	statusCmd.Flags().BoolVar(&depositMode, "deposit", false, "Treat the argument as a 1Click deposit address")
}

// statusCheck fetches and prints one status. done reports a terminal status.
type statusCheck func(ctx context.Context, jsonOutput bool) (done bool, err error)

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput := jsonFlag(cmd)

	var check statusCheck
	if depositMode {
		if cfg.JWTToken == "" {
			printError(fmt.Errorf("JWT token not found. Please set SOLSWAP_JWT_TOKEN environment variable or add jwt_token to .solswap.yaml"))
			os.Exit(1)
		}
		apiClient := client.NewOneClickClient(cfg.OneClickURL, cfg.JWTToken, nil, log)
		check = depositStatus(apiClient, args[0])
	} else {
		sig, err := solana.SignatureFromBase58(args[0])
		if err != nil {
			printError(fmt.Errorf("invalid transaction signature: %w", err))
			os.Exit(1)
		}
		check = signatureStatus(rpc.New(cfg.RPCURL), sig)
	}

	if watchStatus {
		watchSwapStatus(check, args[0], jsonOutput)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking swap status..."
		s.Start()
	}
	_, err := check(context.Background(), jsonOutput)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}
}

func watchSwapStatus(check statusCheck, subject string, jsonOutput bool) {
	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching swap status (%s)\n", color.CyanString(subject))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		done, err := check(context.Background(), false)
		if err != nil {
			color.Red("Error: %v", err)
		}
		if done {
			return
		}
		<-ticker.C
	}
}

func signatureStatus(rpcClient *rpc.Client, sig solana.Signature) statusCheck {
	return func(ctx context.Context, jsonOutput bool) (bool, error) {
		out, err := rpcClient.GetSignatureStatuses(ctx, true, sig)
		if err != nil && !errors.Is(err, rpc.ErrNotFound) {
			return false, fmt.Errorf("failed to get signature status: %w", err)
		}

		status := types.SwapStatus{Signature: sig.String(), Status: "NOT_FOUND"}
		done := false
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			status.Slot = st.Slot
			status.Status = strings.ToUpper(string(st.ConfirmationStatus))
			if st.Err != nil {
				status.Status = "FAILED"
				status.Message = fmt.Sprintf("%v", st.Err)
			}
			done = st.Err != nil || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
		}

		if jsonOutput {
			printJSON(status)
		} else {
			displaySignatureStatus(status)
		}
		return done, nil
	}
}

func depositStatus(apiClient *client.OneClickClient, depositAddress string) statusCheck {
	return func(ctx context.Context, jsonOutput bool) (bool, error) {
		status, err := apiClient.GetSwapStatus(ctx, depositAddress)
		if err != nil {
			return false, err
		}
		if jsonOutput {
			printJSON(status)
		} else {
			displayStatus(status, depositAddress)
		}
		switch strings.ToUpper(string(status.GetStatus())) {
		case "SUCCESS", "FAILED", "REFUNDED":
			return true, nil
		}
		return false, nil
	}
}

func displaySignatureStatus(status types.SwapStatus) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                      TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Signature:       %s\n", color.CyanString(status.Signature))
	fmt.Printf("  Status:          %s\n", getColoredStatus(status.Status))
	if status.Slot > 0 {
		fmt.Printf("  Slot:            %d\n", status.Slot)
	}
	if status.Message != "" {
		fmt.Printf("  Error:           %s\n", color.RedString(status.Message))
	}
	fmt.Printf("  Explorer:        https://solscan.io/tx/%s\n", status.Signature)

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func displayStatus(status *oneclick.GetExecutionStatusResponse, depositAddress string) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                        SWAP STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Deposit Address: %s\n", color.CyanString(depositAddress))
	fmt.Printf("  Status:          %s\n", getColoredStatus(string(status.GetStatus())))
	fmt.Printf("  Last Updated:    %s\n", status.GetUpdatedAt().Format("2006-01-02 15:04:05"))

	swapDetails := status.GetSwapDetails()

	// Origin chain transactions (deposits)
	for _, tx := range swapDetails.GetOriginChainTxHashes() {
		if hash := tx.GetHash(); hash != "" {
			fmt.Printf("  Deposit Tx:      %s\n", color.HiBlackString(hash))
		}
	}

	// Destination chain transactions (withdrawals)
	for _, tx := range swapDetails.GetDestinationChainTxHashes() {
		if hash := tx.GetHash(); hash != "" {
			fmt.Printf("  Withdrawal Tx:   %s\n", color.HiBlackString(hash))
		}
	}

	if swapDetails.HasAmountInFormatted() {
		fmt.Printf("  Amount In:       %s\n", swapDetails.GetAmountInFormatted())
	}
	if swapDetails.HasAmountOutFormatted() {
		fmt.Printf("  Amount Out:      %s\n", swapDetails.GetAmountOutFormatted())
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status string) string {
	status = strings.ToUpper(status)

	switch status {
	case "SUCCESS", "COMPLETED", "FINALIZED":
		return color.GreenString(status)
	case "PENDING_DEPOSIT", "PENDING", "PROCESSING", "PROCESSED", "CONFIRMED":
		return color.YellowString(status)
	case "FAILED", "REFUNDED":
		return color.RedString(status)
	case "INCOMPLETE_DEPOSIT", "NOT_FOUND":
		return color.MagentaString(status)
	default:
		return status
	}
}
