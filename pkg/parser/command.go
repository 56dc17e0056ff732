package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"solswap/pkg/types"
)

// Matches: "1 SOL TO USDC", "1.5 JUP TO BONK", "100.25 USDC TO SOL"
var swapPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)\s+TO\s+([A-Z0-9]+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 SOL to USDC"
//   - "1.5 JUP to BONK"
//   - "100 USDC to SOL"
func ParseSwapCommand(command string) (*types.SwapRequest, error) {
	// Normalize the command
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")

	// Remove the leading verb if present
	for _, verb := range []string{"SWAP ", "CONVERT ", "QUOTE "} {
		command = strings.TrimPrefix(command, verb)
	}

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1 SOL to USDC')")
	}

	amount, err := decimal.NewFromString(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", matches[1], err)
	}

	req := &types.SwapRequest{
		Amount:      amount,
		SourceToken: NormalizeTokenSymbol(matches[2]),
		DestToken:   NormalizeTokenSymbol(matches[3]),
	}
	if err := ValidateSwapRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero")
	}
	if req.SourceToken == "" {
		return fmt.Errorf("source token is required")
	}
	if req.DestToken == "" {
		return fmt.Errorf("destination token is required")
	}
	if req.SourceToken == req.DestToken {
		return fmt.Errorf("source and destination token are both %s", req.SourceToken)
	}
	return nil
}

// NormalizeTokenSymbol normalizes token symbols to the catalog's format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WSOL": "SOL",
		"BTC":  "WBTC",
		"WETH": "ETH",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
