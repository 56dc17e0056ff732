// Package pricesync keeps the pay and receive amounts of a swap form
// consistent with the live oracle rate.
//
// Every asynchronous request (price recompute or balance refresh) captures a
// sequence number when it is issued. Its response is applied only if no newer
// request of the same kind has been issued since, so results land in issuance
// order no matter when the network answers.
package pricesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solswap/pkg/balance"
	"solswap/pkg/metrics"
	"solswap/pkg/oracle"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

var (
	// ErrSuperseded is returned by a request whose response arrived after a
	// newer request had been issued. The response was discarded.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("price sync engine closed")
)

// PriceSource is satisfied by *oracle.Client.
type PriceSource interface {
	GetPrices(ctx context.Context, feedIDs []string, maxStaleness time.Duration) (map[string]oracle.FeedResult, error)
}

// SignalKind classifies a Signal.
type SignalKind int

const (
	SignalStateChanged SignalKind = iota
	SignalPriceUnavailable
	SignalConfigurationMissing
	SignalBalanceWarning
)

func (k SignalKind) String() string {
	switch k {
	case SignalStateChanged:
		return "state_changed"
	case SignalPriceUnavailable:
		return "price_unavailable"
	case SignalConfigurationMissing:
		return "configuration_missing"
	case SignalBalanceWarning:
		return "balance_warning"
	default:
		return "unknown"
	}
}

// Signal is delivered to the Listener after the engine applied or rejected a
// change. State is a copy taken at that moment.
type Signal struct {
	Kind  SignalKind
	Err   error
	State State
}

// Listener receives signals. It is called without the engine lock held.
type Listener func(Signal)

// Engine owns one swap form's State.
type Engine struct {
	prices       PriceSource
	balances     balance.Resolver
	maxStaleness time.Duration
	listener     Listener
	log          zerolog.Logger

	mu         sync.Mutex
	state      State
	priceSeq   uint64
	balanceSeq uint64
	closed     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxStaleness overrides oracle.DefaultMaxStaleness.
func WithMaxStaleness(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxStaleness = d
		}
	}
}

// WithListener sets the signal callback.
func WithListener(l Listener) Option {
	return func(e *Engine) {
		e.listener = l
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New creates an engine. prices and balances are shared with the rest of the
// session and are not owned by the engine.
func New(prices PriceSource, balances balance.Resolver, opts ...Option) *Engine {
	e := &Engine{
		prices:       prices,
		balances:     balances,
		maxStaleness: oracle.DefaultMaxStaleness,
		log:          zerolog.Nop(),
		state: State{
			PayAmount:      decimal.Zero,
			ReceiveAmount:  decimal.Zero,
			PayBalance:     decimal.Zero,
			ReceiveBalance: decimal.Zero,
			SlippageBps:    DefaultSlippageBps,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// EditPayAmount records a user edit of the pay amount and derives the
// receive amount from it.
func (e *Engine) EditPayAmount(ctx context.Context, v decimal.Decimal) error {
	return e.edit(ctx, SidePay, v)
}

// EditReceiveAmount records a user edit of the receive amount and derives
// the pay amount from it.
func (e *Engine) EditReceiveAmount(ctx context.Context, v decimal.Decimal) error {
	return e.edit(ctx, SideReceive, v)
}

func (e *Engine) edit(ctx context.Context, side Side, v decimal.Decimal) error {
	if v.IsNegative() {
		return fmt.Errorf("amount must not be negative: %s", v)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state.setAmount(side, v)
	e.state.Authoritative = side
	req := e.issueRecompute(side)
	e.mu.Unlock()

	return e.recompute(ctx, req)
}

// SelectPayToken changes the pay token and recomputes the receive amount
// from the current pay amount. Selecting the current receive token swaps the
// two tokens; the amounts stay where they are.
func (e *Engine) SelectPayToken(ctx context.Context, t registry.Token) error {
	return e.selectToken(ctx, SidePay, t)
}

// SelectReceiveToken changes the receive token and recomputes the pay
// amount from the current receive amount. Selecting the current pay token
// swaps the two tokens; the amounts stay where they are.
func (e *Engine) SelectReceiveToken(ctx context.Context, t registry.Token) error {
	return e.selectToken(ctx, SideReceive, t)
}

func (e *Engine) selectToken(ctx context.Context, side Side, t registry.Token) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.state.Token(side.other()).Symbol == t.Symbol && t.Symbol != "" {
		e.state.swapTokens()
	} else {
		e.state.setToken(side, t)
	}
	e.state.Authoritative = side
	req := e.issueRecompute(side)
	bal := e.issueBalance()
	e.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		return e.recompute(ctx, req)
	})
	g.Go(func() error {
		if err := e.refreshBalances(ctx, bal); !errors.Is(err, ErrSuperseded) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// SwitchTokens exchanges the two sides: tokens, amounts, balances and
// prices. No recompute happens; any request still in flight is discarded
// when it returns.
func (e *Engine) SwitchTokens() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state.swapSides()
	e.priceSeq++
	e.balanceSeq++
	snap := e.state
	e.mu.Unlock()

	e.emit(Signal{Kind: SignalStateChanged, State: snap})
	return nil
}

// SetSlippage sets the slippage tolerance in basis points.
func (e *Engine) SetSlippage(bps int) error {
	if !ValidSlippage(bps) {
		return fmt.Errorf("%w: got %d", swaperr.ErrInvalidSlippage, bps)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state.SlippageBps = bps
	snap := e.state
	e.mu.Unlock()

	e.emit(Signal{Kind: SignalStateChanged, State: snap})
	return nil
}

// SetOwner changes the connected account and refreshes both balances. An
// empty owner clears them.
func (e *Engine) SetOwner(ctx context.Context, owner string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.state.Owner = owner
	bal := e.issueBalance()
	e.mu.Unlock()

	return e.refreshBalances(ctx, bal)
}

// RefreshBalances re-reads both balances for the current owner.
func (e *Engine) RefreshBalances(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	bal := e.issueBalance()
	e.mu.Unlock()

	return e.refreshBalances(ctx, bal)
}

// Close makes every pending and future request a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.priceSeq++
	e.balanceSeq++
	e.mu.Unlock()
}

type recomputeReq struct {
	seq   uint64
	side  Side
	value decimal.Decimal
	from  registry.Token
	to    registry.Token
}

// issueRecompute must be called with e.mu held.
func (e *Engine) issueRecompute(side Side) recomputeReq {
	e.priceSeq++
	return recomputeReq{
		seq:   e.priceSeq,
		side:  side,
		value: e.state.Amount(side),
		from:  e.state.Token(side),
		to:    e.state.Token(side.other()),
	}
}

func (e *Engine) recompute(ctx context.Context, req recomputeReq) error {
	if req.from.Symbol == "" || req.to.Symbol == "" {
		e.emit(Signal{Kind: SignalStateChanged, State: e.Snapshot()})
		return nil
	}

	for _, t := range []registry.Token{req.from, req.to} {
		if !t.HasPriceFeed() {
			err := fmt.Errorf("%w: token %s has no price feed", swaperr.ErrConfigurationMissing, t.Symbol)
			metrics.RecomputesTotal.WithLabelValues("configuration_missing").Inc()
			e.emit(Signal{Kind: SignalConfigurationMissing, Err: err, State: e.Snapshot()})
			return err
		}
	}

	results, err := e.prices.GetPrices(ctx, []string{req.from.PriceFeedID, req.to.PriceFeedID}, e.maxStaleness)
	if err != nil {
		return e.priceUnavailable(req, swaperr.Wrap(swaperr.ErrFeedUnavailable, err))
	}

	fromRes, toRes := results[req.from.PriceFeedID], results[req.to.PriceFeedID]
	for _, r := range []oracle.FeedResult{fromRes, toRes} {
		if r.Status != oracle.StatusOK {
			cause := r.Err
			if cause == nil {
				cause = swaperr.ErrFeedUnavailable
			}
			return e.priceUnavailable(req, cause)
		}
	}
	if fromRes.Price.Raw <= 0 || toRes.Price.Raw <= 0 {
		return e.priceUnavailable(req, fmt.Errorf("%w: non-positive price", swaperr.ErrFeedUnavailable))
	}

	e.mu.Lock()
	if err := e.checkLocked(req.seq, e.priceSeq); err != nil {
		e.mu.Unlock()
		metrics.RecomputesTotal.WithLabelValues("superseded").Inc()
		e.log.Debug().Uint64("seq", req.seq).Str("side", req.side.String()).Msg("discarding superseded price response")
		return err
	}
	e.state.setPrice(req.side, fromRes.Price)
	e.state.setPrice(req.side.other(), toRes.Price)
	e.state.setAmount(req.side.other(), Convert(req.value, fromRes.Price, toRes.Price))
	snap := e.state
	e.mu.Unlock()

	metrics.RecomputesTotal.WithLabelValues("applied").Inc()
	e.emit(Signal{Kind: SignalStateChanged, State: snap})
	return nil
}

func (e *Engine) priceUnavailable(req recomputeReq, cause error) error {
	e.mu.Lock()
	if err := e.checkLocked(req.seq, e.priceSeq); err != nil {
		e.mu.Unlock()
		metrics.RecomputesTotal.WithLabelValues("superseded").Inc()
		return err
	}
	snap := e.state
	e.mu.Unlock()

	metrics.RecomputesTotal.WithLabelValues("price_unavailable").Inc()
	e.log.Warn().
		Err(cause).
		Str("from", req.from.Symbol).
		Str("to", req.to.Symbol).
		Msg("price unavailable, amounts left unchanged")
	e.emit(Signal{Kind: SignalPriceUnavailable, Err: cause, State: snap})
	return cause
}

type balanceReq struct {
	seq     uint64
	owner   string
	pay     registry.Token
	receive registry.Token
}

// issueBalance must be called with e.mu held.
func (e *Engine) issueBalance() balanceReq {
	e.balanceSeq++
	return balanceReq{
		seq:     e.balanceSeq,
		owner:   e.state.Owner,
		pay:     e.state.PayToken,
		receive: e.state.ReceiveToken,
	}
}

func (e *Engine) refreshBalances(ctx context.Context, req balanceReq) error {
	pay := balance.Result{Amount: decimal.Zero}
	receive := balance.Result{Amount: decimal.Zero}

	if req.owner != "" && e.balances != nil {
		var g errgroup.Group
		if req.pay.Symbol != "" {
			g.Go(func() error {
				pay = e.balances.Resolve(ctx, req.owner, req.pay)
				return nil
			})
		}
		if req.receive.Symbol != "" {
			g.Go(func() error {
				receive = e.balances.Resolve(ctx, req.owner, req.receive)
				return nil
			})
		}
		_ = g.Wait()
	}

	e.mu.Lock()
	if err := e.checkLocked(req.seq, e.balanceSeq); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state.PayBalance = pay.Amount
	e.state.ReceiveBalance = receive.Amount
	e.state.BalanceWarning = errors.Join(pay.Warning, receive.Warning)
	snap := e.state
	e.mu.Unlock()

	if snap.BalanceWarning != nil {
		e.emit(Signal{Kind: SignalBalanceWarning, Err: snap.BalanceWarning, State: snap})
	}
	e.emit(Signal{Kind: SignalStateChanged, State: snap})
	return nil
}

// checkLocked must be called with e.mu held.
func (e *Engine) checkLocked(seq, latest uint64) error {
	if e.closed {
		return ErrClosed
	}
	if seq != latest {
		return ErrSuperseded
	}
	return nil
}

func (e *Engine) emit(s Signal) {
	if e.listener != nil {
		e.listener(s)
	}
}
