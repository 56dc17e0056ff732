package oracle

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMaxStaleness is how old a published price may be before it is
// reported as stale.
const DefaultMaxStaleness = 60 * time.Second

// Price is a fixed-point oracle price: Raw × 10^Expo.
type Price struct {
	Raw         int64
	Expo        int32
	PublishTime time.Time
}

// Display converts the fixed-point value exactly, without float rounding.
func (p Price) Display() decimal.Decimal {
	return decimal.New(p.Raw, p.Expo)
}

// IsZero reports whether no price has been recorded.
func (p Price) IsZero() bool {
	return p.Raw == 0 && p.PublishTime.IsZero()
}

// Status classifies a feed in a GetPrices response.
type Status int

const (
	StatusOK Status = iota
	StatusStale
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusStale:
		return "stale"
	default:
		return "unavailable"
	}
}

// FeedResult is the outcome for a single feed. Err is set unless Status is
// StatusOK.
type FeedResult struct {
	Price  Price
	Status Status
	Err    error
}

// NormalizeFeedID lowercases the id and strips the 0x prefix, matching the
// format Hermes echoes back.
func NormalizeFeedID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}
