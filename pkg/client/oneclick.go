package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solswap/pkg/quote"
	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

// OneClickChain is the 1Click blockchain identifier for Solana.
const OneClickChain = "sol"

// SolanaRPC is the subset of *rpc.Client the 1Click transfer builder needs.
type SolanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// OneClickClient wraps the 1Click SDK. As a quote.Aggregator it quotes a
// swap as a deposit address and builds the Solana transfer into it.
type OneClickClient struct {
	client   *oneclick.APIClient
	jwtToken string
	rpc      SolanaRPC
	log      zerolog.Logger
}

// NewOneClickClient creates a new 1Click API client. baseURL may be empty
// for the SDK default. rpcClient is only needed for building transactions.
func NewOneClickClient(baseURL, jwtToken string, rpcClient SolanaRPC, log zerolog.Logger) *OneClickClient {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: strings.TrimRight(baseURL, "/")}}
	}

	return &OneClickClient{
		client:   oneclick.NewAPIClient(config),
		jwtToken: jwtToken,
		rpc:      rpcClient,
		log:      log,
	}
}

func (c *OneClickClient) authed(ctx context.Context) context.Context {
	if c.jwtToken == "" {
		return ctx
	}
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
}

// Name implements quote.Aggregator.
func (c *OneClickClient) Name() string {
	return "oneclick"
}

// GetSupportedTokens retrieves all supported tokens
func (c *OneClickClient) GetSupportedTokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.authed(ctx)).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// FindTokenOnChain searches for a token on a chain, preferring a contract
// address match over a symbol match.
func FindTokenOnChain(tokens []oneclick.TokenResponse, t registry.Token, chain string) (*oneclick.TokenResponse, error) {
	chain = strings.ToLower(chain)
	mint, _ := t.Address(registry.NetworkSolana)

	var bySymbol *oneclick.TokenResponse
	for i := range tokens {
		tok := &tokens[i]
		if strings.ToLower(tok.GetBlockchain()) != chain {
			continue
		}
		if mint != "" && tok.GetContractAddress() == mint {
			return tok, nil
		}
		if bySymbol == nil && strings.EqualFold(tok.GetSymbol(), t.Symbol) {
			bySymbol = tok
		}
	}
	if bySymbol != nil {
		return bySymbol, nil
	}

	return nil, fmt.Errorf("%w: token '%s' not found on chain '%s'", swaperr.ErrNoRoute, t.Symbol, chain)
}

// oneClickRoute is what a 1Click quote carries to the transaction builder.
type oneClickRoute struct {
	DepositAddress     string  `json:"depositAddress"`
	DepositMemo        string  `json:"depositMemo,omitempty"`
	OriginAsset        string  `json:"originAsset"`
	DestinationAsset   string  `json:"destinationAsset"`
	AmountInFormatted  string  `json:"amountInFormatted"`
	AmountOutFormatted string  `json:"amountOutFormatted"`
	TimeEstimateSec    float64 `json:"timeEstimateSec"`
}

// DepositAddress extracts the deposit address of a 1Click quote.
func DepositAddress(q *quote.Quote) (string, error) {
	r, err := decodeRoute(q)
	if err != nil {
		return "", err
	}
	return r.DepositAddress, nil
}

func decodeRoute(q *quote.Quote) (oneClickRoute, error) {
	var r oneClickRoute
	if err := json.Unmarshal(q.Route, &r); err != nil {
		return r, fmt.Errorf("invalid 1Click route: %w", err)
	}
	if r.DepositAddress == "" {
		return r, fmt.Errorf("1Click route has no deposit address")
	}
	return r, nil
}

// Quote implements quote.Aggregator.
func (c *OneClickClient) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	if req.Owner == "" {
		return nil, fmt.Errorf("owner address is required for 1Click quotes")
	}

	tokens, err := c.GetSupportedTokens(ctx)
	if err != nil {
		return nil, err
	}
	sourceToken, err := FindTokenOnChain(tokens, req.Input, OneClickChain)
	if err != nil {
		return nil, fmt.Errorf("source token error: %w", err)
	}
	destToken, err := FindTokenOnChain(tokens, req.Output, OneClickChain)
	if err != nil {
		return nil, fmt.Errorf("destination token error: %w", err)
	}

	deadline := time.Now().Add(24 * time.Hour)

	quoteReq := oneclick.NewQuoteRequest(
		false,                    // dry - false to get a real deposit address
		"EXACT_INPUT",            // swapType
		100,                      // slippageTolerance, overwritten below
		sourceToken.GetAssetId(), // originAsset
		"ORIGIN_CHAIN",           // depositType
		destToken.GetAssetId(),   // destinationAsset
		fmt.Sprintf("%d", req.AmountRaw),
		req.Owner,           // refundTo
		"ORIGIN_CHAIN",      // refundType
		req.Owner,           // recipient
		"DESTINATION_CHAIN", // recipientType
		deadline,
	)
	setNumber(&quoteReq.SlippageTolerance, req.SlippageBps)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authed(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		return nil, apiError(httpResp, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty quote response")
	}

	details := resp.GetQuote()
	route := oneClickRoute{
		DepositAddress:     details.GetDepositAddress(),
		OriginAsset:        sourceToken.GetAssetId(),
		DestinationAsset:   destToken.GetAssetId(),
		AmountInFormatted:  details.GetAmountInFormatted(),
		AmountOutFormatted: details.GetAmountOutFormatted(),
		TimeEstimateSec:    float64(details.GetTimeEstimate()),
	}
	if details.HasDepositMemo() {
		route.DepositMemo = details.GetDepositMemo()
	}
	if route.DepositAddress == "" {
		return nil, fmt.Errorf("%w: 1Click returned no deposit address", swaperr.ErrNoRoute)
	}

	out, err := decimal.NewFromString(route.AmountOutFormatted)
	if err != nil {
		return nil, fmt.Errorf("invalid amountOutFormatted %q: %w", route.AmountOutFormatted, err)
	}
	outRaw, err := quote.ToSmallestUnit(out, req.Output.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", swaperr.ErrNoRoute, err)
	}

	payload, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("failed to encode route: %w", err)
	}

	c.log.Debug().
		Str("deposit_address", route.DepositAddress).
		Str("amount_out", route.AmountOutFormatted).
		Float64("time_estimate_sec", route.TimeEstimateSec).
		Msg("1Click quote")

	return &quote.Quote{
		ExpectedOutputRaw: outRaw,
		Route:             payload,
	}, nil
}

// apiError extracts the message from a failed SDK call.
func apiError(httpResp *http.Response, err error) error {
	if httpResp == nil {
		return fmt.Errorf("failed to get quote from API: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("failed to get quote from API (status: %d): %w", httpResp.StatusCode, err)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			if strings.Contains(strings.ToLower(message), "no route") || strings.Contains(strings.ToLower(message), "not supported") {
				return fmt.Errorf("%w: %s", swaperr.ErrNoRoute, message)
			}
			return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, message)
		}
		if errs, ok := errorResp["errors"]; ok {
			return fmt.Errorf("API error (status %d): %v", httpResp.StatusCode, errs)
		}
	}
	return fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(bodyBytes))
}

// BuildSwapTransaction implements quote.Aggregator: a transfer of the quoted
// input amount from owner to the deposit address, followed by a memo
// instruction when the quote carries a deposit memo. SPL transfers create the
// deposit address's token account when it does not exist yet.
func (c *OneClickClient) BuildSwapTransaction(ctx context.Context, q *quote.Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	if c.rpc == nil {
		return nil, fmt.Errorf("1Click builder has no Solana RPC client")
	}

	route, err := decodeRoute(q)
	if err != nil {
		return nil, err
	}
	recipient, err := solana.PublicKeyFromBase58(route.DepositAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid deposit address: %w", err)
	}

	var instructions []solana.Instruction
	if q.InputToken.IsNative(registry.NetworkSolana) {
		instructions = append(instructions, system.NewTransferInstruction(q.InputAmountRaw, owner, recipient).Build())
	} else {
		instructions, err = c.splTransfer(ctx, q, owner, recipient)
		if err != nil {
			return nil, err
		}
	}

	// The deposit is credited only when the memo travels with the transfer.
	if route.DepositMemo != "" {
		instructions = append(instructions, solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{solana.Meta(owner).SIGNER()},
			[]byte(route.DepositMemo),
		))
	}

	recent, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return nil, fmt.Errorf("failed to get recent blockhash: empty response")
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}

func (c *OneClickClient) splTransfer(ctx context.Context, q *quote.Quote, owner, recipient solana.PublicKey) ([]solana.Instruction, error) {
	mintStr, err := quote.MintAddress(q.InputToken)
	if err != nil {
		return nil, err
	}
	mint, err := solana.PublicKeyFromBase58(mintStr)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address: %w", err)
	}

	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get source token account: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get destination token account: %w", err)
	}

	exists, err := c.accountExists(ctx, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to check destination account: %w", err)
	}

	var instructions []solana.Instruction
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(owner, recipient, mint).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(
		q.InputAmountRaw,
		source,
		dest,
		owner,
		[]solana.PublicKey{},
	).Build())
	return instructions, nil
}

func (c *OneClickClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, err
	}
	return info != nil && info.Value != nil, nil
}

// NotifySubmitted implements quote.Notifier so 1Click starts processing the
// deposit without waiting for its own chain indexer.
func (c *OneClickClient) NotifySubmitted(ctx context.Context, q *quote.Quote, sig solana.Signature) error {
	depositAddr, err := DepositAddress(q)
	if err != nil {
		return err
	}
	return c.SubmitDepositTx(ctx, depositAddr, sig.String())
}

// GetSwapStatus checks the execution status of a swap
func (c *OneClickClient) GetSwapStatus(ctx context.Context, depositAddress string) (*oneclick.GetExecutionStatusResponse, error) {
	resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authed(ctx)).DepositAddress(depositAddress).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return resp, nil
}

// SubmitDepositTx submits the deposit transaction hash
func (c *OneClickClient) SubmitDepositTx(ctx context.Context, depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authed(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return fmt.Errorf("failed to submit deposit: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		return fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}

	return nil
}

func setNumber[T ~int | ~int32 | ~int64 | ~float32 | ~float64](dst *T, v int) {
	*dst = T(v)
}
