package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"solswap/pkg/pricesync"
	"solswap/pkg/swaperr"
	"solswap/pkg/types"
)

// fillForm drives a fresh engine the way an interactive form would: owner,
// pay token, receive token, slippage, then the typed amount. Price and
// balance problems are returned as warnings; the form stays usable with
// whatever could be resolved.
func fillForm(ctx context.Context, s *session, req *types.SwapRequest, slippageBps int) (*pricesync.Engine, []error, error) {
	pay, err := s.token(req.SourceToken)
	if err != nil {
		return nil, nil, err
	}
	receive, err := s.token(req.DestToken)
	if err != nil {
		return nil, nil, err
	}

	engine := s.engine()
	if err := engine.SetSlippage(slippageBps); err != nil {
		return nil, nil, err
	}

	var warnings []error
	note := func(err error) {
		if err != nil && !errors.Is(err, pricesync.ErrSuperseded) {
			warnings = append(warnings, err)
		}
	}

	if owner := s.owner(); owner != "" {
		note(engine.SetOwner(ctx, owner))
	}
	note(engine.SelectPayToken(ctx, pay))
	note(engine.SelectReceiveToken(ctx, receive))
	note(engine.EditPayAmount(ctx, req.Amount))

	if w := engine.Snapshot().BalanceWarning; w != nil {
		warnings = append(warnings, w)
	}
	return engine, dedupe(warnings), nil
}

func dedupe(errs []error) []error {
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, err := range errs {
		msg := swaperr.UserMessage(err)
		if seen[msg] {
			continue
		}
		seen[msg] = true
		out = append(out, err)
	}
	return out
}

func displayForm(st pricesync.State, warnings []error) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP FORM")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  You pay:           %s %s\n", st.PayAmount.String(), color.YellowString(st.PayToken.Symbol))
	if st.ReceivePrice.IsZero() || st.PayPrice.IsZero() {
		fmt.Printf("  You receive:       %s %s\n", color.HiBlackString("unknown"), color.YellowString(st.ReceiveToken.Symbol))
	} else {
		fmt.Printf("  You receive:       ~%s %s\n", st.ReceiveAmount.StringFixed(min(st.ReceiveToken.Decimals, 6)), color.YellowString(st.ReceiveToken.Symbol))
		fmt.Printf("  Oracle prices:     %s = $%s, %s = $%s\n",
			st.PayToken.Symbol, st.PayPrice.Display().StringFixed(4),
			st.ReceiveToken.Symbol, st.ReceivePrice.Display().StringFixed(4))
	}
	fmt.Printf("  Slippage:          %.2f%%\n", float64(st.SlippageBps)/100)
	if st.Owner != "" {
		fmt.Printf("  Wallet:            %s\n", color.CyanString(st.Owner))
		fmt.Printf("  Balance:           %s %s\n", st.PayBalance.String(), st.PayToken.Symbol)
	}

	for _, w := range warnings {
		color.Yellow("  ! %s", swaperr.UserMessage(w))
	}
	fmt.Println("\n" + strings.Repeat("=", 60))
}
