// Package oracle fetches Pyth prices from a Hermes price service.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"solswap/pkg/metrics"
	"solswap/pkg/swaperr"
)

const (
	DefaultBaseURL = "https://hermes.pyth.network"
	DefaultTimeout = 8 * time.Second

	// Hermes allows 30 requests per 10 seconds per IP.
	DefaultRequestsPerSecond = 3
)

// Client talks to the Hermes REST API. One client is built per session and
// shared by every component that needs prices.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests. Zero or negative disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a Hermes client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	WithRateLimit(DefaultRequestsPerSecond)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesFeed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

// GetPrices returns the latest price of every requested feed. The map is
// keyed by the ids as passed in. A feed whose publish time is older than
// maxStaleness at request time is reported as StatusStale; a feed missing
// from the response is StatusUnavailable. A transport failure returns an
// error wrapping swaperr.ErrFeedUnavailable.
func (c *Client) GetPrices(ctx context.Context, feedIDs []string, maxStaleness time.Duration) (map[string]FeedResult, error) {
	if len(feedIDs) == 0 {
		return map[string]FeedResult{}, nil
	}
	if maxStaleness <= 0 {
		maxStaleness = DefaultMaxStaleness
	}

	requestedAt := c.now()
	feeds, err := c.fetch(ctx, feedIDs)
	if err != nil {
		metrics.FeedResultsTotal.WithLabelValues(StatusUnavailable.String()).Add(float64(len(feedIDs)))
		return nil, swaperr.Wrap(swaperr.ErrFeedUnavailable, err)
	}

	byID := make(map[string]hermesFeed, len(feeds))
	for _, f := range feeds {
		byID[NormalizeFeedID(f.ID)] = f
	}

	out := make(map[string]FeedResult, len(feedIDs))
	for _, id := range feedIDs {
		res := c.classify(id, byID, requestedAt, maxStaleness)
		metrics.FeedResultsTotal.WithLabelValues(res.Status.String()).Inc()
		out[id] = res
	}
	return out, nil
}

func (c *Client) classify(id string, byID map[string]hermesFeed, requestedAt time.Time, maxStaleness time.Duration) FeedResult {
	feed, ok := byID[NormalizeFeedID(id)]
	if !ok {
		return FeedResult{
			Status: StatusUnavailable,
			Err:    fmt.Errorf("%w: feed %s missing from response", swaperr.ErrFeedUnavailable, id),
		}
	}

	raw, err := strconv.ParseInt(feed.Price.Price, 10, 64)
	if err != nil {
		return FeedResult{
			Status: StatusUnavailable,
			Err:    fmt.Errorf("%w: feed %s: invalid price %q", swaperr.ErrFeedUnavailable, id, feed.Price.Price),
		}
	}

	price := Price{
		Raw:         raw,
		Expo:        feed.Price.Expo,
		PublishTime: time.Unix(feed.Price.PublishTime, 0),
	}

	if age := requestedAt.Sub(price.PublishTime); age > maxStaleness {
		c.log.Warn().
			Str("feed", id).
			Dur("age", age).
			Dur("max_staleness", maxStaleness).
			Msg("stale price feed")
		return FeedResult{
			Price:  price,
			Status: StatusStale,
			Err:    fmt.Errorf("%w: feed %s published %s ago", swaperr.ErrFeedStale, id, age.Truncate(time.Second)),
		}
	}

	if raw <= 0 {
		return FeedResult{
			Price:  price,
			Status: StatusUnavailable,
			Err:    fmt.Errorf("%w: feed %s has non-positive price", swaperr.ErrFeedUnavailable, id),
		}
	}

	return FeedResult{Price: price, Status: StatusOK}
}

func (c *Client) fetch(ctx context.Context, feedIDs []string) ([]hermesFeed, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	for _, id := range feedIDs {
		q.Add("ids[]", NormalizeFeedID(id))
	}
	u := c.baseURL + "/api/latest_price_feeds?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price feeds: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hermes returned status code %d", resp.StatusCode)
	}

	var feeds []hermesFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return nil, fmt.Errorf("failed to decode price feeds: %w", err)
	}

	c.log.Debug().Int("requested", len(feedIDs)).Int("returned", len(feeds)).Msg("fetched price feeds")
	return feeds, nil
}
