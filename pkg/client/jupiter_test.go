package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solswap/pkg/quote"
	"solswap/pkg/swaperr"
)

const quoteBody = `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","inAmount":"2000000000","outAmount":"299500000","otherAmountThreshold":"298000000","slippageBps":50,"priceImpactPct":"0.001","routePlan":[{"percent":100}]}`

func unsignedTxBase64(t *testing.T, owner solana.PublicKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, owner, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{9},
		solana.TransactionPayer(owner),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, 1)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestJupiterQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v6/quote", r.URL.Path)
		assert.Equal(t, "So11111111111111111111111111111111111111112", r.URL.Query().Get("inputMint"))
		assert.Equal(t, "2000000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "50", r.URL.Query().Get("slippageBps"))
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer server.Close()

	j := NewJupiterClient(server.URL, 0, zerolog.Nop())
	j.SetHTTPClient(server.Client())

	q, err := j.Quote(context.Background(), quote.Request{
		InputMint:   "So11111111111111111111111111111111111111112",
		OutputMint:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountRaw:   2_000_000_000,
		SlippageBps: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(299_500_000), q.ExpectedOutputRaw)
	assert.JSONEq(t, quoteBody, string(q.Route))
}

func TestJupiterNoRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}))
	defer server.Close()

	j := NewJupiterClient(server.URL, 0, zerolog.Nop())
	_, err := j.Quote(context.Background(), quote.Request{AmountRaw: 1})
	assert.ErrorIs(t, err, swaperr.ErrNoRoute)
}

func TestJupiterServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	j := NewJupiterClient(server.URL, 0, zerolog.Nop())
	_, err := j.Quote(context.Background(), quote.Request{AmountRaw: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, swaperr.ErrNoRoute)
}

func TestJupiterBuildSwapTransaction(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	txB64 := unsignedTxBase64(t, owner)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v6/swap", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.JSONEq(t, `"`+owner.String()+`"`, string(body["userPublicKey"]))
		assert.JSONEq(t, `true`, string(body["wrapAndUnwrapSol"]))
		assert.JSONEq(t, `5000`, string(body["prioritizationFeeLamports"]))
		assert.JSONEq(t, quoteBody, string(body["quoteResponse"]))

		_ = json.NewEncoder(w).Encode(map[string]any{"swapTransaction": txB64, "lastValidBlockHeight": 100})
	}))
	defer server.Close()

	j := NewJupiterClient(server.URL, 5000, zerolog.Nop())
	tx, err := j.BuildSwapTransaction(context.Background(), &quote.Quote{Route: json.RawMessage(quoteBody)}, owner)
	require.NoError(t, err)
	assert.True(t, tx.IsSigner(owner))
	assert.Equal(t, solana.Hash{9}, tx.Message.RecentBlockhash)
}

func TestDecodeTransactionRejectsGarbage(t *testing.T) {
	_, err := DecodeTransaction("not base64!")
	assert.Error(t, err)
	_, err = DecodeTransaction(base64.StdEncoding.EncodeToString([]byte{5, 1, 2}))
	assert.Error(t, err)
}
