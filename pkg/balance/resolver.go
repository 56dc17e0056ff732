// Package balance resolves an owner's spendable balance of a catalog token.
//
// Resolvers never fail outright: a lookup that cannot be completed yields a
// zero amount and a Warning, so a broken RPC endpoint degrades the display
// without taking the rest of the session down. Submission is still guarded
// because a zero pay balance fails the pipeline's pre-flight check.
package balance

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"solswap/pkg/registry"
	"solswap/pkg/swaperr"
)

// Result is a resolved balance in user-facing units.
type Result struct {
	Amount  decimal.Decimal
	Warning error
}

// Reliable reports whether the lookup completed without a warning.
func (r Result) Reliable() bool {
	return r.Warning == nil
}

// Resolver looks up balances on one network.
type Resolver interface {
	Network() string
	Resolve(ctx context.Context, owner string, token registry.Token) Result
}

// Multi dispatches to a resolver per network.
type Multi struct {
	resolvers map[string]Resolver
}

// NewMulti creates a dispatcher over the given resolvers.
func NewMulti(resolvers ...Resolver) *Multi {
	m := &Multi{resolvers: make(map[string]Resolver, len(resolvers))}
	for _, r := range resolvers {
		m.resolvers[strings.ToLower(r.Network())] = r
	}
	return m
}

// Networks lists the networks with a registered resolver.
func (m *Multi) Networks() []string {
	out := make([]string, 0, len(m.resolvers))
	for n := range m.resolvers {
		out = append(out, n)
	}
	return out
}

// Resolve looks up owner's balance of token on network.
func (m *Multi) Resolve(ctx context.Context, network, owner string, token registry.Token) Result {
	r, ok := m.resolvers[strings.ToLower(network)]
	if !ok {
		return warn(fmt.Errorf("no resolver for network %s", network))
	}
	return r.Resolve(ctx, owner, token)
}

func warn(err error) Result {
	return Result{Amount: decimal.Zero, Warning: swaperr.Wrap(swaperr.ErrBalanceUnavailable, err)}
}
