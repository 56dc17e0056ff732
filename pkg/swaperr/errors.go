// Package swaperr holds the failure taxonomy shared by the swap packages.
//
// Stage errors wrap one of the sentinels below together with the cause, so
// callers classify with errors.Is and still see the underlying message.
package swaperr

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrInvalidSlippage      = fmt.Errorf("%w: slippage tolerance must be within [0, 5000] bps", ErrConfigurationMissing)
	ErrWalletNotConnected   = errors.New("wallet not connected")

	ErrFeedStale          = errors.New("price feed stale")
	ErrFeedUnavailable    = errors.New("price feed unavailable")
	ErrBalanceUnavailable = errors.New("balance unavailable")

	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrNoRoute           = fmt.Errorf("%w: no route found", ErrQuoteUnavailable)
	ErrBuildFailed       = errors.New("build failed")
	ErrSignRejected      = errors.New("rejected by signer")
	ErrSimulationWarning = errors.New("simulation warning")
	ErrSubmitFailed      = errors.New("submission rejected")
	ErrConfirmTimedOut   = errors.New("confirmation timed out")
	ErrConfirmFailed     = errors.New("confirmation failed")
	ErrAbandoned         = errors.New("attempt abandoned")
)

// Wrap tags cause with the given sentinel. A nil cause returns the sentinel.
func Wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// UserMessage turns an error from the swap packages into the message shown to
// the user. Order matters: ErrNoRoute and ErrInvalidSlippage wrap broader
// sentinels and are matched first.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, ErrWalletNotConnected):
		return "Connect a wallet before swapping"
	case errors.Is(err, ErrInvalidSlippage):
		return "Slippage tolerance must be between 0% and 50%"
	case errors.Is(err, ErrConfigurationMissing):
		return "Token is missing a price feed or route configuration"
	case errors.Is(err, ErrFeedStale):
		return "Price unavailable: oracle price is stale"
	case errors.Is(err, ErrFeedUnavailable):
		return "Price unavailable"
	case errors.Is(err, ErrNoRoute):
		return "No route found for this pair"
	case errors.Is(err, ErrQuoteUnavailable):
		return "Could not fetch a quote"
	case errors.Is(err, ErrBuildFailed):
		return "Could not build the swap transaction"
	case errors.Is(err, ErrSignRejected):
		return "Transaction rejected by signer"
	case errors.Is(err, ErrSimulationWarning):
		return "Simulation failed: " + err.Error()
	case errors.Is(err, ErrSubmitFailed):
		return "Transaction submission rejected"
	case errors.Is(err, ErrConfirmTimedOut):
		return "Timed out waiting for confirmation"
	case errors.Is(err, ErrConfirmFailed):
		return "Transaction failed: " + err.Error()
	case errors.Is(err, ErrAbandoned):
		return "Swap cancelled"
	case errors.Is(err, ErrBalanceUnavailable):
		return "Balance unavailable"
	default:
		return "Transaction failed!"
	}
}
