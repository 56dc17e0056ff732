package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solswap/pkg/metrics"
	"solswap/pkg/registry"
)

// NativeDecimals is the lamport scale of SOL.
const NativeDecimals = 9

// SolanaRPC is the subset of *rpc.Client used for balance lookups.
type SolanaRPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// SolanaResolver resolves SOL and SPL token balances.
type SolanaResolver struct {
	client     SolanaRPC
	commitment rpc.CommitmentType
	log        zerolog.Logger
}

// NewSolanaResolver creates a resolver reading at the given commitment.
func NewSolanaResolver(client SolanaRPC, commitment rpc.CommitmentType, log zerolog.Logger) *SolanaResolver {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &SolanaResolver{
		client:     client,
		commitment: commitment,
		log:        log,
	}
}

// Network implements Resolver.
func (s *SolanaResolver) Network() string {
	return registry.NetworkSolana
}

// Resolve implements Resolver.
func (s *SolanaResolver) Resolve(ctx context.Context, owner string, token registry.Token) Result {
	res := s.resolve(ctx, owner, token)
	if res.Warning != nil {
		metrics.BalanceWarningsTotal.WithLabelValues(registry.NetworkSolana).Inc()
		s.log.Warn().
			Err(res.Warning).
			Str("owner", owner).
			Str("token", token.Symbol).
			Msg("balance lookup degraded to zero")
	}
	return res
}

func (s *SolanaResolver) resolve(ctx context.Context, owner string, token registry.Token) Result {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return warn(fmt.Errorf("invalid owner address: %w", err))
	}

	if token.IsNative(registry.NetworkSolana) {
		lamports, err := s.nativeBalance(ctx, ownerKey)
		if err != nil {
			return warn(err)
		}
		return Result{Amount: decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -NativeDecimals)}
	}

	mintAddr, ok := token.Address(registry.NetworkSolana)
	if !ok {
		return warn(fmt.Errorf("token %s has no solana address", token.Symbol))
	}
	mint, err := solana.PublicKeyFromBase58(mintAddr)
	if err != nil {
		return warn(fmt.Errorf("invalid mint address: %w", err))
	}

	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return warn(fmt.Errorf("failed to derive associated token address: %w", err))
	}

	out, err := s.client.GetTokenAccountBalance(ctx, ata, s.commitment)
	if err != nil {
		if isAccountNotFound(err) {
			return Result{Amount: decimal.Zero}
		}
		return warn(fmt.Errorf("failed to get token balance: %w", err))
	}
	if out == nil || out.Value == nil {
		return Result{Amount: decimal.Zero}
	}

	raw, err := decimal.NewFromString(out.Value.Amount)
	if err != nil {
		return warn(fmt.Errorf("failed to parse token balance: %w", err))
	}

	// the mint's on-chain decimals win over the catalog's
	return Result{Amount: raw.Shift(-int32(out.Value.Decimals))}
}

func (s *SolanaResolver) nativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	out, err := s.client.GetBalance(ctx, owner, s.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if out == nil {
		return 0, nil
	}
	return out.Value, nil
}

// isAccountNotFound reports whether err means the token account has never
// been created, which is a zero balance rather than a failure.
func isAccountNotFound(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "could not find account")
	}
	return strings.Contains(strings.ToLower(err.Error()), "could not find account")
}
