// Package quote turns a user-facing swap amount into an aggregator quote.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

// DefaultTTL is how long a quote may be used after it was fetched.
const DefaultTTL = 30 * time.Second

var (
	ErrExpired  = errors.New("quote expired")
	ErrConsumed = errors.New("quote already used")
)

// Quote is a single-use aggregator quote. Route is opaque to everything but
// the aggregator that produced it.
type Quote struct {
	InputToken        registry.Token
	OutputToken       registry.Token
	InputAmountRaw    uint64
	ExpectedOutputRaw uint64
	SlippageBps       int
	Route             json.RawMessage
	Aggregator        string
	FetchedAt         time.Time
	ExpiresAt         time.Time

	consumed atomic.Bool
}

// InputAmount is InputAmountRaw in user-facing units.
func (q *Quote) InputAmount() decimal.Decimal {
	return FromSmallestUnit(q.InputAmountRaw, q.InputToken.Decimals)
}

// ExpectedOutput is ExpectedOutputRaw in user-facing units.
func (q *Quote) ExpectedOutput() decimal.Decimal {
	return FromSmallestUnit(q.ExpectedOutputRaw, q.OutputToken.Decimals)
}

// Rate is how many output units one input unit buys at the quoted amounts.
func (q *Quote) Rate() decimal.Decimal {
	in := q.InputAmount()
	if in.IsZero() {
		return decimal.Zero
	}
	return q.ExpectedOutput().DivRound(in, 12)
}

// Deviation is the signed relative difference of rate from reference, e.g.
// -0.01 when the quote is 1% worse than the reference rate.
func Deviation(rate, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return rate.Sub(reference).DivRound(reference, 8)
}

// Expired reports whether the freshness window has elapsed at now.
func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && !now.Before(q.ExpiresAt)
}

// Consume marks the quote used. Only the first call returns true.
func (q *Quote) Consume() bool {
	return q.consumed.CompareAndSwap(false, true)
}

// Request is what an aggregator needs to price a swap.
type Request struct {
	Input       registry.Token
	Output      registry.Token
	InputMint   string
	OutputMint  string
	AmountRaw   uint64
	SlippageBps int
	// Owner is the wallet that will sign. Deposit-style aggregators use it as
	// the refund and recipient address.
	Owner string
}

// Aggregator is an external routing service.
type Aggregator interface {
	Name() string
	Quote(ctx context.Context, req Request) (*Quote, error)
	BuildSwapTransaction(ctx context.Context, q *Quote, owner solana.PublicKey) (*solana.Transaction, error)
}

// Notifier is implemented by aggregators that must be told about the
// submitted transaction before they act on it.
type Notifier interface {
	NotifySubmitted(ctx context.Context, q *Quote, sig solana.Signature) error
}

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// ToSmallestUnit converts amount to the token's integer unit, truncating
// toward zero. Non-positive results and values beyond uint64 are rejected.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (uint64, error) {
	raw := amount.Shift(decimals).Truncate(0).BigInt()
	if raw.Sign() <= 0 {
		return 0, fmt.Errorf("amount %s is below the smallest unit", amount)
	}
	if raw.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return raw.Uint64(), nil
}

// FromSmallestUnit converts an integer amount back to user-facing units.
func FromSmallestUnit(raw uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -decimals)
}

// MintAddress returns the Solana mint used to route token. Native SOL routes
// as the wrapped SOL mint.
func MintAddress(t registry.Token) (string, error) {
	if addr, ok := t.Address(registry.NetworkSolana); ok {
		return addr, nil
	}
	if t.IsNative(registry.NetworkSolana) {
		return solana.SolMint.String(), nil
	}
	return "", fmt.Errorf("%w: token %s has no solana mint", swaperr.ErrConfigurationMissing, t.Symbol)
}
