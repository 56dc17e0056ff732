package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"solswap/pkg/quote"
	"solswap/pkg/swaperr"
)

const DefaultJupiterURL = "https://quote-api.jup.ag"

// JupiterClient is a quote.Aggregator over the Jupiter v6 swap API.
type JupiterClient struct {
	base        string
	http        *http.Client
	priorityFee uint64
	log         zerolog.Logger
}

// NewJupiterClient creates a client for base. priorityFee is the
// prioritization fee in lamports requested for built transactions.
func NewJupiterClient(base string, priorityFee uint64, log zerolog.Logger) *JupiterClient {
	if base == "" {
		base = DefaultJupiterURL
	}
	return &JupiterClient{
		base:        strings.TrimRight(base, "/"),
		http:        &http.Client{Timeout: 8 * time.Second},
		priorityFee: priorityFee,
		log:         log,
	}
}

// SetHTTPClient replaces the underlying http.Client.
func (j *JupiterClient) SetHTTPClient(hc *http.Client) {
	j.http = hc
}

// Name implements quote.Aggregator.
func (j *JupiterClient) Name() string {
	return "jupiter"
}

type jupiterQuote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	OtherAmount    string `json:"otherAmountThreshold"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type jupiterError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Quote implements quote.Aggregator. The raw response body becomes the
// quote's Route and is echoed back unchanged when building.
func (j *JupiterClient) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.AmountRaw, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	q.Set("onlyDirectRoutes", "false")
	u := j.base + "/v6/quote?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := j.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, quoteError(resp.StatusCode, body)
	}

	var out jupiterQuote
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}

	outAmount, err := strconv.ParseUint(out.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid outAmount %q: %w", out.OutAmount, err)
	}
	if outAmount == 0 {
		return nil, fmt.Errorf("%w: zero output", swaperr.ErrNoRoute)
	}

	j.log.Debug().
		Str("input", req.InputMint).
		Str("output", req.OutputMint).
		Str("in", out.InAmount).
		Str("out", out.OutAmount).
		Str("price_impact", out.PriceImpactPct).
		Msg("jupiter quote")

	return &quote.Quote{
		ExpectedOutputRaw: outAmount,
		Route:             json.RawMessage(body),
	}, nil
}

func quoteError(status int, body []byte) error {
	var e jupiterError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		switch e.ErrorCode {
		case "COULD_NOT_FIND_ANY_ROUTE", "NO_ROUTES_FOUND", "TOKEN_NOT_TRADABLE":
			return fmt.Errorf("%w: %s", swaperr.ErrNoRoute, e.Error)
		}
		return fmt.Errorf("jupiter quote status %d: %s", status, e.Error)
	}
	return fmt.Errorf("jupiter quote status %d", status)
}

// BuildSwapTransaction implements quote.Aggregator.
func (j *JupiterClient) BuildSwapTransaction(ctx context.Context, q *quote.Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	if len(q.Route) == 0 {
		return nil, fmt.Errorf("quote has no route")
	}

	payload := map[string]any{
		"userPublicKey":             owner.String(),
		"wrapAndUnwrapSol":          true,
		"asLegacyTransaction":       false,
		"useTokenLedger":            false,
		"prioritizationFeeLamports": j.priorityFee,
		"quoteResponse":             q.Route,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.base+"/v6/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request swap transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap status %d", resp.StatusCode)
	}

	var sr struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}

	return DecodeTransaction(sr.SwapTransaction)
}

// DecodeTransaction parses a base64 wire-format transaction.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	return tx, nil
}
