// Package registry is the static token catalog: symbol and per-network
// address lookup over an immutable in-memory table.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

const (
	NetworkSolana   = "solana"
	NetworkEthereum = "ethereum"
	NetworkArbitrum = "arbitrum"
)

//go:embed catalog.json
var defaultCatalog []byte

// Token is the metadata of one catalog entry. Values are never mutated after
// the registry is built.
type Token struct {
	Symbol        string            `json:"symbol" yaml:"symbol"`
	Name          string            `json:"name" yaml:"name"`
	Decimals      int32             `json:"decimals" yaml:"decimals"`
	MarketCapRank int               `json:"marketCapRank,omitempty" yaml:"marketCapRank,omitempty"`
	PriceFeedID   string            `json:"priceFeedId,omitempty" yaml:"priceFeedId,omitempty"`
	NativeOn      []string          `json:"native,omitempty" yaml:"native,omitempty"`
	Addresses     map[string]string `json:"addresses" yaml:"addresses"`
}

// Address returns the token address on the given network.
func (t Token) Address(network string) (string, bool) {
	addr, ok := t.Addresses[strings.ToLower(network)]
	return addr, ok && addr != ""
}

// IsNative reports whether the token is the native asset of network.
func (t Token) IsNative(network string) bool {
	for _, n := range t.NativeOn {
		if strings.EqualFold(n, network) {
			return true
		}
	}
	return false
}

// HasPriceFeed reports whether the token can be priced by the oracle.
func (t Token) HasPriceFeed() bool {
	return t.PriceFeedID != ""
}

// Registry is a read-only token table.
type Registry struct {
	tokens   []Token
	bySymbol map[string]int
}

// New builds a registry from tokens, validating symbols and addresses.
func New(tokens []Token) (*Registry, error) {
	r := &Registry{
		tokens:   make([]Token, 0, len(tokens)),
		bySymbol: make(map[string]int, len(tokens)),
	}

	for _, t := range tokens {
		t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
		if t.Symbol == "" {
			return nil, fmt.Errorf("token with empty symbol")
		}
		if _, dup := r.bySymbol[t.Symbol]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", t.Symbol)
		}
		if t.Decimals < 0 || t.Decimals > 18 {
			return nil, fmt.Errorf("token %s: invalid decimals %d", t.Symbol, t.Decimals)
		}

		addrs := make(map[string]string, len(t.Addresses))
		for network, addr := range t.Addresses {
			network = strings.ToLower(network)
			if err := validateAddress(network, addr); err != nil {
				return nil, fmt.Errorf("token %s: %w", t.Symbol, err)
			}
			addrs[network] = addr
		}
		t.Addresses = addrs
		t.NativeOn = slices.Clone(t.NativeOn)

		r.bySymbol[t.Symbol] = len(r.tokens)
		r.tokens = append(r.tokens, t)
	}

	return r, nil
}

// Default returns the registry built from the embedded catalog.
func Default() (*Registry, error) {
	var tokens []Token
	if err := json.Unmarshal(defaultCatalog, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode embedded catalog: %w", err)
	}
	return New(tokens)
}

// LoadFile builds a registry from a JSON or YAML catalog file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var tokens []Token
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tokens)
	default:
		err = json.Unmarshal(data, &tokens)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}

	return New(tokens)
}

// Lookup finds a token by symbol, or by address when the argument is not a
// known symbol. An empty network matches an address on any network.
func (r *Registry) Lookup(symbolOrAddress, network string) (Token, bool) {
	key := strings.TrimSpace(symbolOrAddress)
	if key == "" {
		return Token{}, false
	}

	if i, ok := r.bySymbol[strings.ToUpper(key)]; ok {
		return r.tokens[i].clone(), true
	}

	network = strings.ToLower(network)
	for _, t := range r.tokens {
		for n, addr := range t.Addresses {
			if network != "" && n != network {
				continue
			}
			if strings.EqualFold(addr, key) {
				return t.clone(), true
			}
		}
	}

	return Token{}, false
}

// Search returns the tokens whose symbol, name, or any network address
// contains query, case-insensitively. Results are ordered by market cap rank
// (unranked last) and then symbol.
func (r *Registry) Search(query string) []Token {
	q := strings.ToLower(strings.TrimSpace(query))

	var out []Token
	for _, t := range r.tokens {
		if matches(t, q) {
			out = append(out, t.clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rankKey(out[i]), rankKey(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// All returns every token in catalog order.
func (r *Registry) All() []Token {
	out := make([]Token, len(r.tokens))
	for i, t := range r.tokens {
		out[i] = t.clone()
	}
	return out
}

// clone copies the address map and native list so callers cannot reach the
// catalog's own.
func (t Token) clone() Token {
	t.Addresses = maps.Clone(t.Addresses)
	t.NativeOn = slices.Clone(t.NativeOn)
	return t
}

func matches(t Token, q string) bool {
	if strings.Contains(strings.ToLower(t.Symbol), q) || strings.Contains(strings.ToLower(t.Name), q) {
		return true
	}
	for _, addr := range t.Addresses {
		if strings.Contains(strings.ToLower(addr), q) {
			return true
		}
	}
	return false
}

func rankKey(t Token) int {
	if t.MarketCapRank <= 0 {
		return int(^uint(0) >> 1)
	}
	return t.MarketCapRank
}

func validateAddress(network, addr string) error {
	if addr == "" {
		return nil
	}
	switch network {
	case NetworkSolana:
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return fmt.Errorf("invalid solana address %q: %w", addr, err)
		}
	case NetworkEthereum, NetworkArbitrum:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid %s address %q", network, addr)
		}
	}
	return nil
}
