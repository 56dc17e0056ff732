package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solswap/pkg/swaperr"
)

const (
	solFeed  = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"
	usdcFeed = "0xeaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a"
)

func hermesServer(t *testing.T, feeds []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/latest_price_feeds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		ids := r.URL.Query()["ids[]"]
		var out []map[string]any
		for _, f := range feeds {
			for _, id := range ids {
				if f["id"] == id {
					out = append(out, f)
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
}

func feed(id string, price string, publish time.Time) map[string]any {
	return map[string]any{
		"id": NormalizeFeedID(id),
		"price": map[string]any{
			"price":        price,
			"conf":         "100",
			"expo":         -8,
			"publish_time": publish.Unix(),
		},
	}
}

func TestGetPricesFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := hermesServer(t, []map[string]any{
		feed(solFeed, "15000000000", now.Add(-5*time.Second)),
		feed(usdcFeed, "100000000", now.Add(-1*time.Second)),
	})
	defer srv.Close()

	c := NewClient(srv.URL, WithClock(func() time.Time { return now }), WithRateLimit(0))
	res, err := c.GetPrices(context.Background(), []string{solFeed, usdcFeed}, DefaultMaxStaleness)
	require.NoError(t, err)

	sol := res[solFeed]
	require.Equal(t, StatusOK, sol.Status)
	assert.EqualValues(t, 15_000_000_000, sol.Price.Raw)
	assert.True(t, sol.Price.Display().Equal(decimal.NewFromInt(150)))
	assert.True(t, res[usdcFeed].Price.Display().Equal(decimal.NewFromInt(1)))
}

func TestGetPricesStaleAndMissing(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	srv := hermesServer(t, []map[string]any{
		feed(solFeed, "15000000000", now.Add(-DefaultMaxStaleness-time.Second)),
	})
	defer srv.Close()

	c := NewClient(srv.URL, WithClock(func() time.Time { return now }), WithRateLimit(0))
	res, err := c.GetPrices(context.Background(), []string{solFeed, usdcFeed}, DefaultMaxStaleness)
	require.NoError(t, err)

	assert.Equal(t, StatusStale, res[solFeed].Status)
	assert.ErrorIs(t, res[solFeed].Err, swaperr.ErrFeedStale)
	assert.Equal(t, StatusUnavailable, res[usdcFeed].Status)
	assert.ErrorIs(t, res[usdcFeed].Err, swaperr.ErrFeedUnavailable)
}

func TestGetPricesTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRateLimit(0))
	_, err := c.GetPrices(context.Background(), []string{solFeed}, DefaultMaxStaleness)
	assert.ErrorIs(t, err, swaperr.ErrFeedUnavailable)
}

func TestPriceDisplayIsExact(t *testing.T) {
	p := Price{Raw: 123456789, Expo: -8}
	assert.Equal(t, "1.23456789", p.Display().String())
}

func TestNormalizeFeedID(t *testing.T) {
	assert.Equal(t, "abcd", NormalizeFeedID(" 0xABCD "))
	assert.Equal(t, "abcd", NormalizeFeedID("abcd"))
}
