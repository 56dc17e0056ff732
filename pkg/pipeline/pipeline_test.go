package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solswap/pkg/metrics"
	"solswap/pkg/pricesync"
	"solswap/pkg/quote"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
	"solswap/pkg/wallet"
)

var (
	builtHash  = solana.Hash{1}
	latestHash = solana.Hash{2}
)

type fakeAggregator struct {
	quotes   int
	builds   int
	notified []solana.Signature
	quoteErr error
	onQuote  func()
}

func (f *fakeAggregator) Name() string { return "fake" }

func (f *fakeAggregator) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	f.quotes++
	if f.onQuote != nil {
		f.onQuote()
	}
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &quote.Quote{ExpectedOutputRaw: 300_000_000}, nil
}

func (f *fakeAggregator) BuildSwapTransaction(ctx context.Context, q *quote.Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	f.builds++
	return solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(q.InputAmountRaw, owner, solana.NewWallet().PublicKey()).Build()},
		builtHash,
		solana.TransactionPayer(owner),
	)
}

func (f *fakeAggregator) NotifySubmitted(ctx context.Context, q *quote.Quote, sig solana.Signature) error {
	f.notified = append(f.notified, sig)
	return nil
}

type fakeChain struct {
	mu sync.Mutex

	blockhash    solana.Hash
	blockhashErr error
	onBlockhash  func()

	simErr      interface{}
	simCallErr  error
	sendErr     error
	sentOpts    []rpc.TransactionOpts
	sentTx      []*solana.Transaction
	sendCtxErr  error
	statusErr   interface{}
	neverFinal  bool
	statusBlock chan struct{}
	statusCalls int

	blockhashCommitment rpc.CommitmentType
	simCommitment       rpc.CommitmentType
	calls               int
}

func (f *fakeChain) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.blockhashCommitment = commitment
	if f.onBlockhash != nil {
		f.onBlockhash()
	}
	if f.blockhashErr != nil {
		return nil, f.blockhashErr
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: f.blockhash}}, nil
}

func (f *fakeChain) SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.simCommitment = opts.Commitment
	if f.simCallErr != nil {
		return nil, f.simCallErr
	}
	return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{
		Err:  f.simErr,
		Logs: []string{"Program log: test"},
	}}, nil
}

func (f *fakeChain) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sentOpts = append(f.sentOpts, opts)
	f.sentTx = append(f.sentTx, tx)
	f.sendCtxErr = ctx.Err()
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

func (f *fakeChain) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	block := f.statusBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.statusCalls++
	if f.statusCalls == 1 {
		return nil, rpc.ErrNotFound
	}
	status := &rpc.SignatureStatusesResult{Slot: 42, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	if f.statusErr != nil {
		status.Err = f.statusErr
	} else if !f.neverFinal && f.statusCalls >= 3 {
		status.ConfirmationStatus = rpc.ConfirmationStatusFinalized
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{status}}, nil
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingWallet struct {
	wallet.Wallet
	signs int
}

func (c *countingWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	c.signs++
	return c.Wallet.SignTransaction(ctx, tx)
}

type harness struct {
	agg    *fakeAggregator
	chain  *fakeChain
	wallet *countingWallet
	events []Event
	p      *Pipeline
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	kp := wallet.NewKeypair(solana.NewWallet().PrivateKey)
	kp.Connect()

	h := &harness{
		agg:    &fakeAggregator{},
		chain:  &fakeChain{blockhash: latestHash},
		wallet: &countingWallet{Wallet: kp},
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = time.Second
	}
	h.p = New(quote.NewService(h.agg), h.chain, h.wallet, cfg, WithObserver(func(ev Event) {
		h.events = append(h.events, ev)
	}))
	return h
}

func pair(t *testing.T) (registry.Token, registry.Token) {
	t.Helper()
	r, err := registry.Default()
	require.NoError(t, err)
	sol, _ := r.Lookup("SOL", "")
	usdc, _ := r.Lookup("USDC", "")
	return sol, usdc
}

func validRequest(t *testing.T) Request {
	sol, usdc := pair(t)
	return Request{
		Input:       sol,
		Output:      usdc,
		Amount:      decimal.NewFromInt(2),
		PayBalance:  decimal.NewFromInt(5),
		SlippageBps: 50,
	}
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(t, Config{})

	a := h.p.Execute(context.Background(), validRequest(t))

	require.NoError(t, a.Err)
	assert.Equal(t, StateConfirmed, a.State)
	assert.Equal(t, []State{
		StateIdle, StateQuoting, StateBuilt, StateSigned,
		StateBlockhashRefreshed, StateSimulated, StateSubmitted, StateConfirmed,
	}, a.History)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.Signature.IsZero())

	assert.Equal(t, rpc.CommitmentFinalized, h.chain.blockhashCommitment)
	assert.Equal(t, rpc.CommitmentProcessed, h.chain.simCommitment)
	require.Len(t, h.chain.sentOpts, 1)
	assert.True(t, h.chain.sentOpts[0].SkipPreflight)
	assert.Equal(t, rpc.CommitmentProcessed, h.chain.sentOpts[0].PreflightCommitment)

	sent := h.chain.sentTx[0]
	assert.Equal(t, latestHash, sent.Message.RecentBlockhash)
	assert.NoError(t, sent.VerifySignatures(), "signature covers the refreshed blockhash")
	assert.Equal(t, 2, h.wallet.signs, "blockhash change requires a second signature")
	assert.Equal(t, []solana.Signature{a.Signature}, h.agg.notified)

	require.NotEmpty(t, h.events)
	for _, ev := range h.events {
		if ev.State == StateBuilt {
			require.NotNil(t, ev.Quote)
			assert.Equal(t, uint64(2_000_000_000), ev.Quote.InputAmountRaw)
		}
	}
	last := h.events[len(h.events)-1]
	assert.Equal(t, StateConfirmed, last.State)
	assert.Equal(t, "Transaction confirmed", a.Message())
}

func TestUnchangedBlockhashIsNotResigned(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.blockhash = builtHash

	a := h.p.Execute(context.Background(), validRequest(t))
	require.Equal(t, StateConfirmed, a.State)
	assert.Equal(t, 1, h.wallet.signs)
}

func TestInsufficientBalanceMakesNoCalls(t *testing.T) {
	cases := map[string]struct {
		amount, balance string
	}{
		"amount above balance": {"5.000000001", "5"},
		"zero balance":         {"1", "0"},
		"refreshed but short":  {"3", "2.99"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{})
			req := validRequest(t)
			req.Amount = decimal.RequireFromString(tc.amount)
			req.PayBalance = decimal.RequireFromString(tc.balance)

			a := h.p.Execute(context.Background(), req)

			assert.Equal(t, StateInsufficientBalance, a.State)
			assert.ErrorIs(t, a.Err, swaperr.ErrInsufficientBalance)
			assert.Equal(t, "Insufficient balance", a.Message())
			assert.Zero(t, h.agg.quotes)
			assert.Zero(t, h.chain.callCount())
			assert.Zero(t, h.wallet.signs)
		})
	}
}

func TestWalletNotConnected(t *testing.T) {
	h := newHarness(t, Config{})
	kp := wallet.NewKeypair(solana.NewWallet().PrivateKey)
	h.p.wallet = kp

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateWalletNotConnected, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrWalletNotConnected)
	assert.Zero(t, h.agg.quotes)

	h.p.wallet = nil
	a = h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateWalletNotConnected, a.State)
}

func TestInvalidSlippage(t *testing.T) {
	h := newHarness(t, Config{})
	req := validRequest(t)
	req.SlippageBps = 5001

	a := h.p.Execute(context.Background(), req)
	assert.Equal(t, StateInvalidSlippage, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrInvalidSlippage)
	assert.Zero(t, h.agg.quotes)
}

func TestQuoteFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.agg.quoteErr = swaperr.ErrNoRoute

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateQuoteFailed, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrQuoteUnavailable)
	assert.Equal(t, "No route found for this pair", a.Message())
	assert.Zero(t, h.agg.builds)
	assert.Zero(t, h.chain.callCount())
}

func TestSignRejectedNeverSubmits(t *testing.T) {
	h := newHarness(t, Config{})
	kp := wallet.NewKeypair(solana.NewWallet().PrivateKey)
	kp.Connect()
	h.p.wallet = wallet.WithApproval(kp, func(context.Context, *solana.Transaction) bool { return false })

	a := h.p.Execute(context.Background(), validRequest(t))

	assert.Equal(t, StateSignRejected, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrSignRejected)
	assert.Equal(t, "Transaction rejected by signer", a.Message())
	assert.Empty(t, h.chain.sentTx)
	assert.Zero(t, h.chain.callCount())
}

func TestSimulationFailureIsAdvisory(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.simErr = map[string]any{"InstructionError": []any{0, "Custom"}}
	before := testutil.ToFloat64(metrics.SimulationWarningsTotal)

	a := h.p.Execute(context.Background(), validRequest(t))

	assert.Equal(t, StateConfirmed, a.State)
	require.Len(t, a.Warnings, 1)
	assert.ErrorIs(t, a.Warnings[0], swaperr.ErrSimulationWarning)
	assert.Len(t, h.chain.sentTx, 1)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SimulationWarningsTotal))

	var warned bool
	for _, ev := range h.events {
		if ev.Warning != nil {
			warned = true
			assert.Contains(t, ev.Message, "Simulation failed")
		}
	}
	assert.True(t, warned)
}

func TestSimulationCallErrorIsAdvisory(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.simCallErr = errors.New("node behind")

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateConfirmed, a.State)
	assert.Len(t, a.Warnings, 1)
}

func TestStrictSimulationStops(t *testing.T) {
	h := newHarness(t, Config{StrictSimulation: true})
	h.chain.simErr = "AccountNotFound"

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateSimulationFailed, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrSimulationWarning)
	assert.Empty(t, h.chain.sentTx)
}

func TestBlockhashFailureIsSubmitFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.blockhashErr = errors.New("503")

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateSubmitFailed, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrSubmitFailed)
	assert.Empty(t, h.chain.sentTx)
}

func TestSubmitFailure(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	h.chain.sendErr = errors.New("Transaction simulation failed: Blockhash not found")

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateSubmitFailed, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrSubmitFailed)
	assert.Equal(t, "Transaction submission rejected", a.Message())
	require.Len(t, h.chain.sentOpts, 1)
	require.NotNil(t, h.chain.sentOpts[0].MaxRetries)
	assert.Equal(t, uint(3), *h.chain.sentOpts[0].MaxRetries)
	assert.Zero(t, h.chain.statusCalls)
}

func TestConfirmFailed(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.statusErr = map[string]any{"InstructionError": []any{1, map[string]any{"Custom": 6001}}}

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateConfirmFailed, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrConfirmFailed)
	assert.NotErrorIs(t, a.Err, swaperr.ErrConfirmTimedOut)
	assert.False(t, a.Signature.IsZero())
	assert.Empty(t, h.agg.notified)
}

func TestConfirmTimedOut(t *testing.T) {
	h := newHarness(t, Config{ConfirmTimeout: 30 * time.Millisecond})
	h.chain.neverFinal = true

	a := h.p.Execute(context.Background(), validRequest(t))
	assert.Equal(t, StateConfirmTimedOut, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrConfirmTimedOut)
	assert.Equal(t, "Timed out waiting for confirmation", a.Message())
}

func TestConfirmTimeoutBoundsHangingStatusCall(t *testing.T) {
	h := newHarness(t, Config{ConfirmTimeout: 50 * time.Millisecond})
	h.chain.statusBlock = make(chan struct{})
	defer close(h.chain.statusBlock)

	start := time.Now()
	a := h.p.Execute(context.Background(), validRequest(t))
	elapsed := time.Since(start)

	assert.Equal(t, StateConfirmTimedOut, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrConfirmTimedOut)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestCancelledBeforeStartIsAbandoned(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := h.p.Execute(ctx, validRequest(t))
	assert.Equal(t, StateAbandoned, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrAbandoned)
	assert.Zero(t, h.agg.quotes)
}

func TestCancelledWhileQuotingIsAbandoned(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.agg.onQuote = cancel

	a := h.p.Execute(ctx, validRequest(t))
	assert.Equal(t, StateAbandoned, a.State)
	assert.Zero(t, h.agg.builds)
	assert.Zero(t, h.wallet.signs)
	assert.Zero(t, h.chain.callCount())
}

func TestCancelledAtApprovalIsAbandoned(t *testing.T) {
	h := newHarness(t, Config{})
	kp := wallet.NewKeypair(solana.NewWallet().PrivateKey)
	kp.Connect()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.p.wallet = wallet.WithApproval(kp, func(ctx context.Context, _ *solana.Transaction) bool {
		cancel()
		<-ctx.Done()
		return false
	})

	a := h.p.Execute(ctx, validRequest(t))

	assert.Equal(t, StateAbandoned, a.State)
	assert.ErrorIs(t, a.Err, swaperr.ErrAbandoned)
	assert.Empty(t, h.chain.sentTx)
}

func TestCancelAfterSigningIsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.chain.onBlockhash = cancel

	a := h.p.Execute(ctx, validRequest(t))
	assert.Equal(t, StateConfirmed, a.State)
	assert.NoError(t, h.chain.sendCtxErr)
}

func TestRequestFromState(t *testing.T) {
	sol, usdc := pair(t)
	req := RequestFromState(pricesync.State{
		PayToken:     sol,
		ReceiveToken: usdc,
		PayAmount:    decimal.NewFromInt(2),
		PayBalance:   decimal.NewFromInt(3),
		SlippageBps:  30,
	})
	assert.Equal(t, "SOL", req.Input.Symbol)
	assert.Equal(t, "USDC", req.Output.Symbol)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, 30, req.SlippageBps)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateQuoting))
	assert.True(t, CanTransition(StateBuilt, StateAbandoned))
	assert.False(t, CanTransition(StateSigned, StateAbandoned), "signing is the point of no return")
	assert.False(t, CanTransition(StateIdle, StateSigned))
	assert.False(t, CanTransition(StateConfirmed, StateIdle))

	for s := StateInsufficientBalance; s <= StateAbandoned; s++ {
		assert.True(t, s.Failed(), s.String())
	}
	assert.True(t, StateConfirmed.Terminal())
	assert.False(t, StateConfirmed.Failed())
	assert.False(t, StateSubmitted.Terminal())
}
