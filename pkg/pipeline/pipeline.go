// Package pipeline executes a swap: quote, build, sign, refresh the
// blockhash, simulate, submit and confirm, with one terminal state per
// failure cause.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solswap/pkg/metrics"
	"solswap/pkg/pricesync"
	"solswap/pkg/quote"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
	"solswap/pkg/wallet"
)

const (
	DefaultConfirmTimeout = 90 * time.Second
	DefaultPollInterval   = 2 * time.Second
)

// ChainRPC is the subset of *rpc.Client used to land a transaction.
type ChainRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Quoter is satisfied by *quote.Service.
type Quoter interface {
	GetQuote(ctx context.Context, input, output registry.Token, amount decimal.Decimal, slippageBps int, owner string) (*quote.Quote, error)
	Build(ctx context.Context, q *quote.Quote, owner solana.PublicKey) (*solana.Transaction, error)
	Notify(ctx context.Context, q *quote.Quote, sig solana.Signature) error
}

// Request is one submit action.
type Request struct {
	Input       registry.Token
	Output      registry.Token
	Amount      decimal.Decimal
	PayBalance  decimal.Decimal
	SlippageBps int
}

// RequestFromState builds a Request from a swap form snapshot.
func RequestFromState(s pricesync.State) Request {
	return Request{
		Input:       s.PayToken,
		Output:      s.ReceiveToken,
		Amount:      s.PayAmount,
		PayBalance:  s.PayBalance,
		SlippageBps: s.SlippageBps,
	}
}

// Attempt is the record of one Execute call. It is never reused.
type Attempt struct {
	ID        string
	Request   Request
	Quote     *quote.Quote
	Tx        *solana.Transaction
	Signature solana.Signature
	State     State
	History   []State
	Warnings  []error
	Err       error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Message is the user-visible summary of the attempt's current state.
func (a *Attempt) Message() string {
	if a.Err != nil {
		return swaperr.UserMessage(a.Err)
	}
	return progress[a.State]
}

// Event reports a state change or a warning on an attempt.
type Event struct {
	AttemptID string
	State     State
	// Quote is set once the attempt has one.
	Quote   *quote.Quote
	Warning error
	Err     error
	Message string
}

// Observer receives events synchronously from the executing goroutine.
type Observer func(Event)

// Config tunes the pipeline's chain interaction.
type Config struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// MaxRetries is forwarded to sendTransaction. Zero leaves the node default.
	MaxRetries uint
	// StrictSimulation turns a failed simulation into a terminal
	// SimulationFailed instead of a warning.
	StrictSimulation bool
}

// Pipeline runs swap attempts for one wallet.
type Pipeline struct {
	quotes   Quoter
	chain    ChainRPC
	wallet   wallet.Wallet
	cfg      Config
	observer Observer
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the event callback.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// New creates a pipeline. w may be nil, in which case every attempt fails
// with WalletNotConnected.
func New(quotes Quoter, chain ChainRPC, w wallet.Wallet, cfg Config, opts ...Option) *Pipeline {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	p := &Pipeline{
		quotes: quotes,
		chain:  chain,
		wallet: w,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs a fresh attempt to completion and returns it in a terminal
// state. Cancelling ctx abandons the attempt only until the transaction is
// signed; after that the attempt runs to a chain outcome.
func (p *Pipeline) Execute(ctx context.Context, req Request) *Attempt {
	a := &Attempt{
		ID:        uuid.NewString(),
		Request:   req,
		State:     StateIdle,
		History:   []State{StateIdle},
		StartedAt: p.now(),
	}
	log := p.log.With().
		Str("attempt", a.ID).
		Str("input", req.Input.Symbol).
		Str("output", req.Output.Symbol).
		Str("amount", req.Amount.String()).
		Logger()

	p.run(ctx, a, log)

	a.FinishedAt = p.now()
	metrics.AttemptsTotal.WithLabelValues(a.State.String()).Inc()
	ev := log.Info()
	if a.Err != nil {
		ev = log.Warn().Err(a.Err)
	}
	ev.Str("state", a.State.String()).
		Str("signature", signatureString(a)).
		Dur("elapsed", a.FinishedAt.Sub(a.StartedAt)).
		Msg("swap attempt finished")
	return a
}

func (p *Pipeline) run(ctx context.Context, a *Attempt, log zerolog.Logger) {
	req := a.Request

	if !req.PayBalance.IsPositive() || req.Amount.GreaterThan(req.PayBalance) {
		p.fail(a, StateInsufficientBalance, fmt.Errorf("%w: paying %s %s with a balance of %s",
			swaperr.ErrInsufficientBalance, req.Amount, req.Input.Symbol, req.PayBalance))
		return
	}

	var owner solana.PublicKey
	connected := false
	if p.wallet != nil {
		owner, connected = p.wallet.PublicKey()
	}
	if !connected {
		p.fail(a, StateWalletNotConnected, swaperr.ErrWalletNotConnected)
		return
	}

	if !pricesync.ValidSlippage(req.SlippageBps) {
		p.fail(a, StateInvalidSlippage, fmt.Errorf("%w: got %d", swaperr.ErrInvalidSlippage, req.SlippageBps))
		return
	}

	if p.abandoned(ctx, a) {
		return
	}
	p.advance(a, StateQuoting)

	q, err := p.quotes.GetQuote(ctx, req.Input, req.Output, req.Amount, req.SlippageBps, owner.String())
	if p.abandoned(ctx, a) {
		return
	}
	if err != nil {
		p.fail(a, StateQuoteFailed, err)
		return
	}
	a.Quote = q

	tx, err := p.quotes.Build(ctx, q, owner)
	if p.abandoned(ctx, a) {
		return
	}
	if err != nil {
		p.fail(a, StateBuildFailed, err)
		return
	}
	a.Tx = tx
	p.advance(a, StateBuilt)

	signed, err := p.wallet.SignTransaction(ctx, tx)
	if err != nil {
		if !errors.Is(err, wallet.ErrRejected) && p.abandoned(ctx, a) {
			return
		}
		p.fail(a, StateSignRejected, swaperr.Wrap(swaperr.ErrSignRejected, err))
		return
	}
	a.Tx = signed
	p.advance(a, StateSigned)

	// Signed: from here on the attempt is not cancellable.
	ctx = context.WithoutCancel(ctx)

	if !p.refreshBlockhash(ctx, a, log) {
		return
	}
	p.advance(a, StateBlockhashRefreshed)

	if !p.simulate(ctx, a, log) {
		return
	}
	p.advance(a, StateSimulated)

	opts := rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentProcessed,
	}
	if p.cfg.MaxRetries > 0 {
		retries := p.cfg.MaxRetries
		opts.MaxRetries = &retries
	}
	sig, err := p.chain.SendTransactionWithOpts(ctx, a.Tx, opts)
	if err != nil {
		p.fail(a, StateSubmitFailed, swaperr.Wrap(swaperr.ErrSubmitFailed, err))
		return
	}
	a.Signature = sig
	p.advance(a, StateSubmitted)
	log.Info().Str("signature", sig.String()).Msg("transaction submitted")

	if err := p.confirm(ctx, sig, log); err != nil {
		state := StateConfirmFailed
		if errors.Is(err, swaperr.ErrConfirmTimedOut) {
			state = StateConfirmTimedOut
		}
		p.fail(a, state, err)
		return
	}
	p.advance(a, StateConfirmed)

	if err := p.quotes.Notify(ctx, a.Quote, sig); err != nil {
		log.Warn().Err(err).Msg("failed to notify aggregator of the deposit")
	}
}

// refreshBlockhash swaps in the latest finalized blockhash. A changed
// message invalidates the signature, so the wallet signs it again.
func (p *Pipeline) refreshBlockhash(ctx context.Context, a *Attempt, log zerolog.Logger) bool {
	latest, err := p.chain.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		p.fail(a, StateSubmitFailed, swaperr.Wrap(swaperr.ErrSubmitFailed, fmt.Errorf("failed to get latest blockhash: %w", err)))
		return false
	}
	if latest == nil || latest.Value == nil {
		p.fail(a, StateSubmitFailed, swaperr.Wrap(swaperr.ErrSubmitFailed, errors.New("empty blockhash response")))
		return false
	}

	if latest.Value.Blockhash == a.Tx.Message.RecentBlockhash {
		return true
	}

	log.Debug().
		Str("old", a.Tx.Message.RecentBlockhash.String()).
		Str("new", latest.Value.Blockhash.String()).
		Msg("blockhash changed since signing, re-signing")

	a.Tx.Message.RecentBlockhash = latest.Value.Blockhash
	a.Tx.Signatures = make([]solana.Signature, len(a.Tx.Signatures))
	resigned, err := p.wallet.SignTransaction(ctx, a.Tx)
	if err != nil {
		p.fail(a, StateSignRejected, swaperr.Wrap(swaperr.ErrSignRejected, err))
		return false
	}
	a.Tx = resigned
	return true
}

// simulate dry-runs the transaction. A failed simulation is a warning unless
// StrictSimulation is set.
func (p *Pipeline) simulate(ctx context.Context, a *Attempt, log zerolog.Logger) bool {
	res, err := p.chain.SimulateTransactionWithOpts(ctx, a.Tx, &rpc.SimulateTransactionOpts{
		Commitment: rpc.CommitmentProcessed,
	})

	var warning error
	switch {
	case err != nil:
		warning = swaperr.Wrap(swaperr.ErrSimulationWarning, err)
	case res != nil && res.Value != nil && res.Value.Err != nil:
		warning = swaperr.Wrap(swaperr.ErrSimulationWarning, fmt.Errorf("%v", res.Value.Err))
		for _, line := range res.Value.Logs {
			log.Debug().Str("log", line).Msg("simulation")
		}
	}
	if warning == nil {
		return true
	}

	metrics.SimulationWarningsTotal.Inc()
	log.Warn().Err(warning).Msg("simulation failed")

	if p.cfg.StrictSimulation {
		p.fail(a, StateSimulationFailed, warning)
		return false
	}

	a.Warnings = append(a.Warnings, warning)
	p.emit(Event{AttemptID: a.ID, State: a.State, Warning: warning, Message: swaperr.UserMessage(warning)})
	return true
}

// confirm polls the signature status until it is finalized, fails, or the
// confirm timeout elapses. The timeout bounds the status calls themselves.
func (p *Pipeline) confirm(ctx context.Context, sig solana.Signature, log zerolog.Logger) error {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	var lastStatus rpc.ConfirmationStatusType
	timedOut := func() error {
		return swaperr.Wrap(swaperr.ErrConfirmTimedOut,
			fmt.Errorf("%s not finalized after %s (last status %q)", sig, p.cfg.ConfirmTimeout, lastStatus))
	}

	for {
		out, err := p.chain.GetSignatureStatuses(cctx, false, sig)
		if cctx.Err() != nil {
			return timedOut()
		}
		switch {
		case err != nil && !errors.Is(err, rpc.ErrNotFound):
			log.Debug().Err(err).Msg("signature status lookup failed")
		case err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil:
			st := out.Value[0]
			if st.Err != nil {
				return swaperr.Wrap(swaperr.ErrConfirmFailed, fmt.Errorf("%v", st.Err))
			}
			if st.ConfirmationStatus != lastStatus {
				lastStatus = st.ConfirmationStatus
				log.Debug().Str("status", string(lastStatus)).Uint64("slot", st.Slot).Msg("signature status")
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		select {
		case <-cctx.Done():
			return timedOut()
		case <-ticker.C:
			if cctx.Err() != nil {
				return timedOut()
			}
		}
	}
}

// abandoned ends the attempt if the caller cancelled before signing.
func (p *Pipeline) abandoned(ctx context.Context, a *Attempt) bool {
	if ctx.Err() == nil {
		return false
	}
	p.fail(a, StateAbandoned, swaperr.Wrap(swaperr.ErrAbandoned, ctx.Err()))
	return true
}

func (p *Pipeline) advance(a *Attempt, to State) {
	p.move(a, to)
	p.emit(Event{AttemptID: a.ID, State: to, Quote: a.Quote, Message: progress[to]})
}

func (p *Pipeline) fail(a *Attempt, to State, err error) {
	p.move(a, to)
	a.Err = err
	p.emit(Event{AttemptID: a.ID, State: to, Quote: a.Quote, Err: err, Message: swaperr.UserMessage(err)})
}

func (p *Pipeline) move(a *Attempt, to State) {
	if !CanTransition(a.State, to) {
		panic(fmt.Sprintf("pipeline: invalid transition %s -> %s", a.State, to))
	}
	a.State = to
	a.History = append(a.History, to)
}

func (p *Pipeline) emit(ev Event) {
	if p.observer != nil {
		p.observer(ev)
	}
}

func signatureString(a *Attempt) string {
	if a.Signature.IsZero() {
		return ""
	}
	return a.Signature.String()
}
