// Package portfolio builds the wallet overview: every catalog token the owner
// holds on the configured networks, ordered by chain priority and valued in
// USD.
package portfolio

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"solswap/pkg/balance"
	"solswap/pkg/oracle"
	"solswap/pkg/registry"
)

// maxConcurrentLookups bounds the balance requests in flight during Collect.
const maxConcurrentLookups = 8

var priorities = map[string]int{
	"osmosis":  100,
	"solana":   60,
	"ethereum": 50,
	"arbitrum": 30,
	"zilliqa":  20,
	"neo":      20,
}

// Priority returns the display priority of a network. Unknown networks have
// no priority and are left out of the overview.
func Priority(network string) (int, bool) {
	p, ok := priorities[strings.ToLower(network)]
	return p, ok
}

// Balance is one holding.
type Balance struct {
	Currency string
	Network  string
	Amount   decimal.Decimal
}

// Row is a Balance ready for display.
type Row struct {
	Balance
	Priority int
	USDValue decimal.Decimal
	// Priced is false when no USD price was known for the currency.
	Priced bool
}

// Sort drops empty holdings and holdings on networks without a priority,
// then orders the rest by priority (highest first) and currency.
func Sort(balances []Balance, prices map[string]decimal.Decimal) []Row {
	rows := make([]Row, 0, len(balances))
	for _, b := range balances {
		if !b.Amount.IsPositive() {
			continue
		}
		prio, ok := Priority(b.Network)
		if !ok {
			continue
		}
		row := Row{Balance: b, Priority: prio, USDValue: decimal.Zero}
		if price, ok := prices[strings.ToUpper(b.Currency)]; ok {
			row.USDValue = b.Amount.Mul(price)
			row.Priced = true
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Priority != rows[j].Priority {
			return rows[i].Priority > rows[j].Priority
		}
		if rows[i].Currency != rows[j].Currency {
			return rows[i].Currency < rows[j].Currency
		}
		return rows[i].Network < rows[j].Network
	})
	return rows
}

// Total sums the USD value of the priced rows.
func Total(rows []Row) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if r.Priced {
			total = total.Add(r.USDValue)
		}
	}
	return total
}

// BalanceSource is satisfied by *balance.Multi.
type BalanceSource interface {
	Resolve(ctx context.Context, network, owner string, token registry.Token) balance.Result
}

var _ BalanceSource = (*balance.Multi)(nil)

// Collect resolves every token in tokens on every network in owners
// (network → owner address). Tokens with no presence on a network are
// skipped. Lookups that completed with a warning still contribute their
// (zero) amount; the warnings are joined into the returned error.
func Collect(ctx context.Context, src BalanceSource, tokens []registry.Token, owners map[string]string) ([]Balance, error) {
	var (
		mu       sync.Mutex
		out      []Balance
		warnings []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for network, owner := range owners {
		if owner == "" {
			continue
		}
		for _, tok := range tokens {
			if _, ok := tok.Address(network); !ok && !tok.IsNative(network) {
				continue
			}
			network, owner, tok := network, owner, tok
			g.Go(func() error {
				res := src.Resolve(ctx, network, owner, tok)
				mu.Lock()
				defer mu.Unlock()
				out = append(out, Balance{Currency: tok.Symbol, Network: network, Amount: res.Amount})
				if res.Warning != nil {
					warnings = append(warnings, res.Warning)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	return out, errors.Join(warnings...)
}

// PriceSource is satisfied by *oracle.Client.
type PriceSource interface {
	GetPrices(ctx context.Context, feedIDs []string, maxStaleness time.Duration) (map[string]oracle.FeedResult, error)
}

// Prices fetches USD prices for the tokens that have a price feed, keyed by
// upper-case symbol. Stale and unavailable feeds are omitted.
func Prices(ctx context.Context, src PriceSource, tokens []registry.Token, maxStaleness time.Duration) (map[string]decimal.Decimal, error) {
	bySymbol := make(map[string]string)
	ids := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !t.HasPriceFeed() {
			continue
		}
		bySymbol[strings.ToUpper(t.Symbol)] = t.PriceFeedID
		ids = append(ids, t.PriceFeedID)
	}

	results, err := src.GetPrices(ctx, ids, maxStaleness)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(bySymbol))
	for symbol, id := range bySymbol {
		if res, ok := results[id]; ok && res.Status == oracle.StatusOK {
			prices[symbol] = res.Price.Display()
		}
	}
	return prices, nil
}
