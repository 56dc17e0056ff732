package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

type fakeAggregator struct {
	got      Request
	quoteErr error
	out      uint64
	builds   int
	notified solana.Signature
}

func (f *fakeAggregator) Name() string { return "fake" }

func (f *fakeAggregator) Quote(ctx context.Context, req Request) (*Quote, error) {
	f.got = req
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &Quote{ExpectedOutputRaw: f.out, Route: []byte(`{"route":1}`)}, nil
}

func (f *fakeAggregator) BuildSwapTransaction(ctx context.Context, q *Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	f.builds++
	return solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(q.InputAmountRaw, owner, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{7},
		solana.TransactionPayer(owner),
	)
}

func (f *fakeAggregator) NotifySubmitted(ctx context.Context, q *Quote, sig solana.Signature) error {
	f.notified = sig
	return nil
}

func tokens(t *testing.T) (registry.Token, registry.Token) {
	t.Helper()
	r, err := registry.Default()
	require.NoError(t, err)
	sol, _ := r.Lookup("SOL", "")
	usdc, _ := r.Lookup("USDC", "")
	return sol, usdc
}

func TestToSmallestUnitTruncates(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		want     uint64
	}{
		{"1", 9, 1_000_000_000},
		{"1.9999999999", 9, 1_999_999_999},
		{"0.0000015", 6, 1},
		{"12.345678", 6, 12_345_678},
		{"18446744073709551615", 0, 18446744073709551615},
	}
	for _, tc := range cases {
		got, err := ToSmallestUnit(decimal.RequireFromString(tc.amount), tc.decimals)
		require.NoError(t, err, tc.amount)
		assert.Equal(t, tc.want, got, tc.amount)
	}

	for _, bad := range []string{"0", "-1", "0.0000009", "18446744073709551616"} {
		_, err := ToSmallestUnit(decimal.RequireFromString(bad), 6)
		assert.Error(t, err, bad)
	}
}

func TestGetQuotePassesRawAmountAndSlippage(t *testing.T) {
	sol, usdc := tokens(t)
	agg := &fakeAggregator{out: 300_000_000}
	now := time.Unix(1_700_000_000, 0)
	s := NewService(agg, WithClock(func() time.Time { return now }))

	q, err := s.GetQuote(context.Background(), sol, usdc, decimal.RequireFromString("2.0000000019"), 77, "owner")
	require.NoError(t, err)

	assert.Equal(t, uint64(2_000_000_001), agg.got.AmountRaw)
	assert.Equal(t, 77, agg.got.SlippageBps)
	assert.Equal(t, "So11111111111111111111111111111111111111112", agg.got.InputMint)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", agg.got.OutputMint)
	assert.Equal(t, "owner", agg.got.Owner)

	assert.Equal(t, "fake", q.Aggregator)
	assert.Equal(t, now, q.FetchedAt)
	assert.Equal(t, now.Add(DefaultTTL), q.ExpiresAt)
	assert.True(t, q.ExpectedOutput().Equal(decimal.NewFromInt(300)))
	assert.True(t, q.InputAmount().Equal(decimal.RequireFromString("2.000000001")))
}

func TestGetQuoteFailuresAreQuoteUnavailable(t *testing.T) {
	sol, usdc := tokens(t)

	s := NewService(&fakeAggregator{quoteErr: swaperr.ErrNoRoute})
	_, err := s.GetQuote(context.Background(), sol, usdc, decimal.NewFromInt(1), 30, "")
	assert.ErrorIs(t, err, swaperr.ErrQuoteUnavailable)
	assert.ErrorIs(t, err, swaperr.ErrNoRoute)
	assert.Equal(t, "No route found for this pair", swaperr.UserMessage(err))

	s = NewService(&fakeAggregator{quoteErr: errors.New("dial tcp: timeout")})
	_, err = s.GetQuote(context.Background(), sol, usdc, decimal.NewFromInt(1), 30, "")
	assert.ErrorIs(t, err, swaperr.ErrQuoteUnavailable)

	agg := &fakeAggregator{}
	s = NewService(agg)
	_, err = s.GetQuote(context.Background(), sol, usdc, decimal.Zero, 30, "")
	assert.ErrorIs(t, err, swaperr.ErrQuoteUnavailable)
	assert.Empty(t, agg.got.InputMint, "no request for a zero amount")

	eth := registry.Token{Symbol: "ETH", Decimals: 18, NativeOn: []string{registry.NetworkEthereum}}
	_, err = s.GetQuote(context.Background(), eth, usdc, decimal.NewFromInt(1), 30, "")
	assert.ErrorIs(t, err, swaperr.ErrQuoteUnavailable)
	assert.ErrorIs(t, err, swaperr.ErrConfigurationMissing)
}

func TestBuildConsumesQuoteOnce(t *testing.T) {
	sol, usdc := tokens(t)
	agg := &fakeAggregator{out: 1}
	s := NewService(agg)
	owner := solana.NewWallet().PublicKey()

	q, err := s.GetQuote(context.Background(), sol, usdc, decimal.NewFromInt(1), 30, owner.String())
	require.NoError(t, err)

	tx, err := s.Build(context.Background(), q, owner)
	require.NoError(t, err)
	assert.True(t, tx.IsSigner(owner))

	_, err = s.Build(context.Background(), q, owner)
	assert.ErrorIs(t, err, swaperr.ErrBuildFailed)
	assert.ErrorIs(t, err, ErrConsumed)
	assert.Equal(t, 1, agg.builds)
}

func TestBuildRejectsExpiredQuote(t *testing.T) {
	sol, usdc := tokens(t)
	now := time.Unix(1_700_000_000, 0)
	agg := &fakeAggregator{out: 1}
	s := NewService(agg, WithTTL(10*time.Second), WithClock(func() time.Time { return now }))

	q, err := s.GetQuote(context.Background(), sol, usdc, decimal.NewFromInt(1), 30, "")
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = s.Build(context.Background(), q, solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrExpired)
	assert.Zero(t, agg.builds)
}

func TestNotifyOnlyForNotifiers(t *testing.T) {
	agg := &fakeAggregator{}
	s := NewService(agg)
	sig := solana.Signature{1, 2, 3}

	require.NoError(t, s.Notify(context.Background(), &Quote{}, sig))
	assert.Equal(t, sig, agg.notified)
}

func TestRateAndDeviation(t *testing.T) {
	q := &Quote{
		InputToken:        registry.Token{Symbol: "SOL", Decimals: 9},
		OutputToken:       registry.Token{Symbol: "USDC", Decimals: 6},
		InputAmountRaw:    2_000_000_000,
		ExpectedOutputRaw: 297_000_000,
	}
	assert.Equal(t, "148.5", q.Rate().String())

	dev := Deviation(q.Rate(), decimal.NewFromInt(150))
	assert.Equal(t, "-0.01", dev.String())

	assert.True(t, Deviation(q.Rate(), decimal.Zero).IsZero())
	assert.True(t, (&Quote{}).Rate().IsZero())
}
