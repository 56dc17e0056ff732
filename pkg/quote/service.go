package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

// Service requests quotes from one aggregator and materializes them into
// unsigned transactions.
type Service struct {
	agg Aggregator
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// NewService creates a quote service backed by agg.
func NewService(agg Aggregator, opts ...Option) *Service {
	s := &Service{
		agg: agg,
		ttl: DefaultTTL,
		now: time.Now,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Aggregator returns the backing aggregator.
func (s *Service) Aggregator() Aggregator {
	return s.agg
}

// GetQuote prices amount of input in output. slippageBps is forwarded as is.
// Every failure wraps swaperr.ErrQuoteUnavailable and is never retried here.
func (s *Service) GetQuote(ctx context.Context, input, output registry.Token, amount decimal.Decimal, slippageBps int, owner string) (*Quote, error) {
	raw, err := ToSmallestUnit(amount, input.Decimals)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ErrQuoteUnavailable, err)
	}

	inMint, err := MintAddress(input)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ErrQuoteUnavailable, err)
	}
	outMint, err := MintAddress(output)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ErrQuoteUnavailable, err)
	}

	req := Request{
		Input:       input,
		Output:      output,
		InputMint:   inMint,
		OutputMint:  outMint,
		AmountRaw:   raw,
		SlippageBps: slippageBps,
		Owner:       owner,
	}

	q, err := s.agg.Quote(ctx, req)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("aggregator", s.agg.Name()).
			Str("input", input.Symbol).
			Str("output", output.Symbol).
			Uint64("amount", raw).
			Msg("quote failed")
		return nil, swaperr.Wrap(swaperr.ErrQuoteUnavailable, err)
	}

	q.InputToken = input
	q.OutputToken = output
	q.InputAmountRaw = raw
	q.SlippageBps = slippageBps
	q.Aggregator = s.agg.Name()
	q.FetchedAt = s.now()
	q.ExpiresAt = q.FetchedAt.Add(s.ttl)

	s.log.Debug().
		Str("aggregator", q.Aggregator).
		Str("input", input.Symbol).
		Str("output", output.Symbol).
		Uint64("in", q.InputAmountRaw).
		Uint64("out", q.ExpectedOutputRaw).
		Msg("quote received")
	return q, nil
}

// Build consumes q and asks the aggregator for the unsigned transaction.
// Failures wrap swaperr.ErrBuildFailed.
func (s *Service) Build(ctx context.Context, q *Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	if q.Expired(s.now()) {
		return nil, swaperr.Wrap(swaperr.ErrBuildFailed, ErrExpired)
	}
	if !q.Consume() {
		return nil, swaperr.Wrap(swaperr.ErrBuildFailed, ErrConsumed)
	}

	tx, err := s.agg.BuildSwapTransaction(ctx, q, owner)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ErrBuildFailed, err)
	}
	if tx == nil {
		return nil, swaperr.Wrap(swaperr.ErrBuildFailed, fmt.Errorf("%s returned no transaction", s.agg.Name()))
	}
	if !tx.IsSigner(owner) {
		return nil, swaperr.Wrap(swaperr.ErrBuildFailed, fmt.Errorf("transaction does not require a signature from %s", owner))
	}
	return tx, nil
}

// Notify forwards the submitted signature to aggregators that need it.
func (s *Service) Notify(ctx context.Context, q *Quote, sig solana.Signature) error {
	n, ok := s.agg.(Notifier)
	if !ok {
		return nil
	}
	return n.NotifySubmitted(ctx, q, sig)
}
