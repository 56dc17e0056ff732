package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"solswap/config"
	"solswap/pkg/balance"
	"solswap/pkg/client"
	"solswap/pkg/oracle"
	"solswap/pkg/pipeline"
	"solswap/pkg/pricesync"
	"solswap/pkg/quote"
	"solswap/pkg/registry"
	"solswap/pkg/wallet"
)

// session holds the clients shared by every component of one command run.
type session struct {
	cfg      *config.Config
	log      zerolog.Logger
	rpc      *rpc.Client
	registry *registry.Registry
	oracle   *oracle.Client
	solana   *balance.SolanaResolver
	balances *balance.Multi
	wallet   *wallet.Keypair
}

func newSession(cfg *config.Config, log zerolog.Logger) (*session, error) {
	reg, err := loadRegistry(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	rpcClient := rpc.New(cfg.RPCURL)
	solResolver := balance.NewSolanaResolver(rpcClient, rpc.CommitmentConfirmed, log)

	resolvers := []balance.Resolver{solResolver}
	networks := make([]string, 0, len(cfg.EVMRPC))
	for network := range cfg.EVMRPC {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	for _, network := range networks {
		evm, err := balance.DialEVM(network, cfg.EVMRPC[network], log)
		if err != nil {
			log.Warn().Err(err).Str("network", network).Msg("skipping EVM balance network")
			continue
		}
		resolvers = append(resolvers, evm)
	}

	s := &session{
		cfg:      cfg,
		log:      log,
		rpc:      rpcClient,
		registry: reg,
		oracle: oracle.NewClient(cfg.HermesURL,
			oracle.WithRateLimit(cfg.OracleRPS),
			oracle.WithLogger(log),
		),
		solana:   solResolver,
		balances: balance.NewMulti(resolvers...),
	}

	if cfg.HasSigner() {
		w, err := loadWallet(cfg)
		if err != nil {
			return nil, err
		}
		w.Connect()
		s.wallet = w
	}
	return s, nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	return registry.LoadFile(path)
}

func loadWallet(cfg *config.Config) (*wallet.Keypair, error) {
	if cfg.KeypairPath != "" {
		return wallet.KeypairFromFile(cfg.KeypairPath)
	}
	return wallet.KeypairFromBase58(cfg.PrivateKey)
}

// owner is the connected wallet's address, or "" without a signer.
func (s *session) owner() string {
	if s.wallet == nil {
		return ""
	}
	pub, ok := s.wallet.PublicKey()
	if !ok {
		return ""
	}
	return pub.String()
}

func (s *session) token(symbol string) (registry.Token, error) {
	t, ok := s.registry.Lookup(symbol, s.cfg.Network)
	if !ok {
		return registry.Token{}, fmt.Errorf("unknown token %q (try: solswap list-tokens)", symbol)
	}
	return t, nil
}

// aggregator builds the configured quote.Aggregator. name overrides the
// configured one when not empty.
func (s *session) aggregator(name string) (quote.Aggregator, error) {
	if name == "" {
		name = s.cfg.Aggregator
	}
	switch strings.ToLower(name) {
	case config.AggregatorJupiter:
		return client.NewJupiterClient(s.cfg.JupiterURL, s.cfg.PriorityFeeLamports, s.log), nil
	case config.AggregatorOneClick:
		if s.cfg.JWTToken == "" {
			return nil, fmt.Errorf("JWT token not found. Please set SOLSWAP_JWT_TOKEN environment variable or add jwt_token to .solswap.yaml")
		}
		return client.NewOneClickClient(s.cfg.OneClickURL, s.cfg.JWTToken, s.rpc, s.log), nil
	default:
		return nil, fmt.Errorf("unknown aggregator %q", name)
	}
}

func (s *session) quotes(name string) (*quote.Service, error) {
	agg, err := s.aggregator(name)
	if err != nil {
		return nil, err
	}
	return quote.NewService(agg,
		quote.WithTTL(s.cfg.QuoteTTL),
		quote.WithLogger(s.log),
	), nil
}

func (s *session) engine(opts ...pricesync.Option) *pricesync.Engine {
	opts = append([]pricesync.Option{
		pricesync.WithMaxStaleness(s.cfg.MaxStaleness),
		pricesync.WithLogger(s.log),
	}, opts...)
	return pricesync.New(s.oracle, s.solana, opts...)
}

func (s *session) pipeline(quotes pipeline.Quoter, w wallet.Wallet, opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithLogger(s.log)}, opts...)
	return pipeline.New(quotes, s.rpc, w, pipeline.Config{
		ConfirmTimeout:   s.cfg.ConfirmTimeout,
		PollInterval:     s.cfg.ConfirmPoll,
		MaxRetries:       s.cfg.MaxRetries,
		StrictSimulation: s.cfg.StrictSimulation,
	}, opts...)
}
