package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"solswap/pkg/pricesync"
)

// Aggregators understood by the swap and quote commands.
const (
	AggregatorJupiter  = "jupiter"
	AggregatorOneClick = "oneclick"
)

// Config holds the application configuration
type Config struct {
	RPCURL      string
	JupiterURL  string
	HermesURL   string
	OneClickURL string
	JWTToken    string

	PrivateKey  string
	KeypairPath string
	Network     string
	Aggregator  string

	SlippageBps         int
	MaxStaleness        time.Duration
	QuoteTTL            time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPoll         time.Duration
	MaxRetries          uint
	StrictSimulation    bool
	PriorityFeeLamports uint64
	OracleRPS           float64

	CatalogPath string
	EVMRPC      map[string]string

	LogLevel    string
	MetricsAddr string
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".solswap")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("SOLSWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("jupiter_url", "https://quote-api.jup.ag")
	v.SetDefault("hermes_url", "https://hermes.pyth.network")
	v.SetDefault("oneclick_url", "https://1click.chaindefuser.com")
	v.SetDefault("network", "solana")
	v.SetDefault("aggregator", AggregatorJupiter)
	v.SetDefault("slippage_bps", pricesync.DefaultSlippageBps)
	v.SetDefault("max_staleness", "60s")
	v.SetDefault("quote_ttl", "30s")
	v.SetDefault("confirm_timeout", "90s")
	v.SetDefault("confirm_poll", "2s")
	v.SetDefault("max_retries", 0)
	v.SetDefault("strict_simulation", false)
	v.SetDefault("priority_fee_lamports", 0)
	v.SetDefault("oracle_rps", 3)
	v.SetDefault("log_level", "info")
}

// FromViper builds and validates a Config from an initialised viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		RPCURL:      v.GetString("rpc_url"),
		JupiterURL:  v.GetString("jupiter_url"),
		HermesURL:   v.GetString("hermes_url"),
		OneClickURL: v.GetString("oneclick_url"),
		JWTToken:    v.GetString("jwt_token"),

		PrivateKey:  v.GetString("private_key"),
		KeypairPath: v.GetString("keypair_path"),
		Network:     strings.ToLower(v.GetString("network")),
		Aggregator:  strings.ToLower(v.GetString("aggregator")),

		SlippageBps:         v.GetInt("slippage_bps"),
		MaxStaleness:        v.GetDuration("max_staleness"),
		QuoteTTL:            v.GetDuration("quote_ttl"),
		ConfirmTimeout:      v.GetDuration("confirm_timeout"),
		ConfirmPoll:         v.GetDuration("confirm_poll"),
		MaxRetries:          v.GetUint("max_retries"),
		StrictSimulation:    v.GetBool("strict_simulation"),
		PriorityFeeLamports: v.GetUint64("priority_fee_lamports"),
		OracleRPS:           v.GetFloat64("oracle_rps"),

		CatalogPath: v.GetString("catalog_path"),
		EVMRPC:      v.GetStringMapString("evm_rpc"),

		LogLevel:    v.GetString("log_level"),
		MetricsAddr: v.GetString("metrics_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have a fixed domain.
func (c *Config) Validate() error {
	if !pricesync.ValidSlippage(c.SlippageBps) {
		return fmt.Errorf("slippage_bps must be within [0, %d], got %d", pricesync.MaxSlippageBps, c.SlippageBps)
	}
	switch c.Aggregator {
	case AggregatorJupiter:
	case AggregatorOneClick:
		if c.JWTToken == "" {
			return fmt.Errorf("JWT token not found. Please set SOLSWAP_JWT_TOKEN environment variable or add jwt_token to .solswap.yaml")
		}
	default:
		return fmt.Errorf("unknown aggregator %q (expected %s or %s)", c.Aggregator, AggregatorJupiter, AggregatorOneClick)
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ConfirmTimeout <= 0 || c.ConfirmPoll <= 0 {
		return fmt.Errorf("confirm_timeout and confirm_poll must be positive")
	}
	if c.OracleRPS < 0 {
		return fmt.Errorf("oracle_rps must not be negative")
	}
	return nil
}

// HasSigner reports whether a private key or keypair file is configured.
func (c *Config) HasSigner() bool {
	return c.PrivateKey != "" || c.KeypairPath != ""
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
