package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"solswap/pkg/metrics"
	"solswap/pkg/registry"
)

// EVMNativeDecimals is the wei scale of ETH-like native assets.
const EVMNativeDecimals = 18

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// EVMBackend is the subset of *ethclient.Client used for balance lookups.
type EVMBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMResolver resolves native and ERC-20 balances on one EVM network.
type EVMResolver struct {
	network string
	backend EVMBackend
	erc20   abi.ABI
	log     zerolog.Logger
}

// DialEVM connects to an EVM JSON-RPC endpoint for network.
func DialEVM(network, rpcURL string, log zerolog.Logger) (*EVMResolver, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for network %s", network)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return NewEVMResolver(network, client, log)
}

// NewEVMResolver creates a resolver over backend.
func NewEVMResolver(network string, backend EVMBackend, log zerolog.Logger) (*EVMResolver, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse balanceOf ABI: %w", err)
	}
	return &EVMResolver{
		network: strings.ToLower(network),
		backend: backend,
		erc20:   parsed,
		log:     log,
	}, nil
}

// Network implements Resolver.
func (e *EVMResolver) Network() string {
	return e.network
}

// Resolve implements Resolver.
func (e *EVMResolver) Resolve(ctx context.Context, owner string, token registry.Token) Result {
	res := e.resolve(ctx, owner, token)
	if res.Warning != nil {
		metrics.BalanceWarningsTotal.WithLabelValues(e.network).Inc()
		e.log.Warn().
			Err(res.Warning).
			Str("network", e.network).
			Str("owner", owner).
			Str("token", token.Symbol).
			Msg("balance lookup degraded to zero")
	}
	return res
}

func (e *EVMResolver) resolve(ctx context.Context, owner string, token registry.Token) Result {
	if !common.IsHexAddress(owner) {
		return warn(fmt.Errorf("invalid owner address %q", owner))
	}
	account := common.HexToAddress(owner)

	if token.IsNative(e.network) {
		wei, err := e.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return warn(fmt.Errorf("failed to get balance: %w", err))
		}
		return Result{Amount: decimal.NewFromBigInt(wei, -EVMNativeDecimals)}
	}

	contract, ok := token.Address(e.network)
	if !ok {
		return warn(fmt.Errorf("token %s has no %s address", token.Symbol, e.network))
	}

	data, err := e.erc20.Pack("balanceOf", account)
	if err != nil {
		return warn(fmt.Errorf("failed to pack balanceOf data: %w", err))
	}

	to := common.HexToAddress(contract)
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return warn(fmt.Errorf("failed to call balanceOf: %w", err))
	}

	raw := new(big.Int).SetBytes(out)
	return Result{Amount: decimal.NewFromBigInt(raw, -token.Decimals)}
}
