package id

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	swaperr "github.com/avelar/swapflow/internal/errors"
)

var (
	eip155ChainPattern     = regexp.MustCompile(`^eip155:[0-9]+$`)
	solanaChainPattern     = regexp.MustCompile(`^solana:[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	evmAddressPattern      = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	solanaTokenMintPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// NativePlaceholderAddress marks a network's gas asset. Venues and the
// approval manager treat it specially: it is never approved and transfers
// move value instead of calling a token contract.
const NativePlaceholderAddress = "0x0000000000000000000000000000000000000000"

const solanaMainnetRef = "5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"

const solanaMainnetCAIP2 = "solana:" + solanaMainnetRef

// Family is the settlement family of a network. Venues are local to one
// family; only the bridge aggregator can cross families.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

type Network struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

func (n Network) Namespace() string {
	parts := strings.SplitN(strings.TrimSpace(n.CAIP2), ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[0])
}

func (n Network) Family() Family {
	if n.Namespace() == "solana" {
		return FamilySolana
	}
	return FamilyEVM
}

func (n Network) IsEVM() bool {
	return n.Family() == FamilyEVM
}

// Equal compares networks by canonical chain identity.
func (n Network) Equal(other Network) bool {
	return n.CAIP2 == other.CAIP2
}

// Token is a concrete asset on one network. IsNative distinguishes the gas
// pseudo-token (placeholder address) from a contract token; the two have
// different transfer and approval behavior.
type Token struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	IsNative bool   `json:"is_native"`
}

func (t Token) Equal(other Token) bool {
	if t.Network != other.Network {
		return false
	}
	if t.IsNative || other.IsNative {
		return t.IsNative == other.IsNative
	}
	return tokenAddressEqual(t.Network, t.Address, other.Address)
}

var networkBySlug = map[string]Network{
	"ethereum":  {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":   {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"base":      {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"arbitrum":  {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"optimism":  {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"polygon":   {Name: "Polygon", Slug: "polygon", CAIP2: "eip155:137", EVMChainID: 137},
	"avalanche": {Name: "Avalanche", Slug: "avalanche", CAIP2: "eip155:43114", EVMChainID: 43114},
	"bsc":       {Name: "BSC", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56},
	"solana":    {Name: "Solana", Slug: "solana", CAIP2: solanaMainnetCAIP2},
}

var networkByID = map[int64]Network{
	1:     networkBySlug["ethereum"],
	10:    networkBySlug["optimism"],
	56:    networkBySlug["bsc"],
	137:   networkBySlug["polygon"],
	8453:  networkBySlug["base"],
	42161: networkBySlug["arbitrum"],
	43114: networkBySlug["avalanche"],
}

var networkByCAIP2 = func() map[string]Network {
	out := make(map[string]Network, len(networkBySlug))
	for _, network := range networkBySlug {
		out[network.CAIP2] = network
	}
	return out
}()

var nativeBySlug = map[string]Token{
	"ethereum":  {Network: "eip155:1", Address: NativePlaceholderAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
	"base":      {Network: "eip155:8453", Address: NativePlaceholderAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
	"arbitrum":  {Network: "eip155:42161", Address: NativePlaceholderAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
	"optimism":  {Network: "eip155:10", Address: NativePlaceholderAddress, Symbol: "ETH", Decimals: 18, IsNative: true},
	"polygon":   {Network: "eip155:137", Address: NativePlaceholderAddress, Symbol: "POL", Decimals: 18, IsNative: true},
	"avalanche": {Network: "eip155:43114", Address: NativePlaceholderAddress, Symbol: "AVAX", Decimals: 18, IsNative: true},
	"bsc":       {Network: "eip155:56", Address: NativePlaceholderAddress, Symbol: "BNB", Decimals: 18, IsNative: true},
	"solana":    {Network: solanaMainnetCAIP2, Address: "So11111111111111111111111111111111111111112", Symbol: "SOL", Decimals: 9, IsNative: true},
}

// Small bootstrap registry for deterministic token parsing on Tier-1 networks.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Network: "eip155:1", Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Network: "eip155:1", Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Network: "eip155:1", Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Network: "eip155:1", Symbol: "WETH", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Decimals: 18},
	},
	"eip155:8453": {
		{Network: "eip155:8453", Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6},
		{Network: "eip155:8453", Symbol: "DAI", Address: "0x50c5725949a6f0c72e6c4a641f24049a917db0cb", Decimals: 18},
		{Network: "eip155:8453", Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:42161": {
		{Network: "eip155:42161", Symbol: "USDC", Address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", Decimals: 6},
		{Network: "eip155:42161", Symbol: "USDT", Address: "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9", Decimals: 6},
		{Network: "eip155:42161", Symbol: "WETH", Address: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", Decimals: 18},
	},
	"eip155:10": {
		{Network: "eip155:10", Symbol: "USDC", Address: "0x7f5c764cbc14f9669b88837ca1490cca17c31607", Decimals: 6},
		{Network: "eip155:10", Symbol: "DAI", Address: "0xda10009cbd5d07dd0cecc66161fc93d7c9000da1", Decimals: 18},
		{Network: "eip155:10", Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:137": {
		{Network: "eip155:137", Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Network: "eip155:137", Symbol: "USDT", Address: "0xc2132d05d31c914a87c6611c10748aeb04b58e8f", Decimals: 6},
		{Network: "eip155:137", Symbol: "WETH", Address: "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619", Decimals: 18},
	},
	"eip155:56": {
		{Network: "eip155:56", Symbol: "USDC", Address: "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", Decimals: 18},
		{Network: "eip155:56", Symbol: "USDT", Address: "0x55d398326f99059ff775485246999027b3197955", Decimals: 18},
		{Network: "eip155:56", Symbol: "WBNB", Address: "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", Decimals: 18},
	},
	"eip155:43114": {
		{Network: "eip155:43114", Symbol: "USDC", Address: "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e", Decimals: 6},
		{Network: "eip155:43114", Symbol: "USDT", Address: "0x9702230a8ea53601f5cd2dc00fdbc13d4df4a8c7", Decimals: 6},
	},
	solanaMainnetCAIP2: {
		{Network: solanaMainnetCAIP2, Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		{Network: solanaMainnetCAIP2, Symbol: "USDT", Address: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
		{Network: solanaMainnetCAIP2, Symbol: "JUP", Address: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Decimals: 6},
	},
}

// Networks lists the registered networks sorted by slug.
func Networks() []Network {
	seen := make(map[string]bool, len(networkBySlug))
	out := make([]Network, 0, len(networkBySlug))
	for _, network := range networkBySlug {
		if seen[network.CAIP2] {
			continue
		}
		seen[network.CAIP2] = true
		out = append(out, network)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func ParseNetwork(input string) (Network, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Network{}, swaperr.New(swaperr.CodeUsage, "network is required")
	}
	norm := strings.ToLower(raw)

	if network, ok := networkBySlug[norm]; ok {
		return network, nil
	}

	if eip155ChainPattern.MatchString(norm) {
		parts := strings.Split(norm, ":")
		chainID, _ := strconv.ParseInt(parts[1], 10, 64)
		if known, ok := networkByID[chainID]; ok {
			return known, nil
		}
		return Network{Name: fmt.Sprintf("EVM-%d", chainID), Slug: fmt.Sprintf("evm-%d", chainID), CAIP2: norm, EVMChainID: chainID}, nil
	}

	if solanaChainPattern.MatchString(raw) {
		if known, ok := networkByCAIP2[raw]; ok {
			return known, nil
		}
		return Network{Name: "Solana", Slug: "solana-custom", CAIP2: raw}, nil
	}

	if chainID, err := strconv.ParseInt(norm, 10, 64); err == nil {
		if network, ok := networkByID[chainID]; ok {
			return network, nil
		}
		return Network{Name: fmt.Sprintf("EVM-%d", chainID), Slug: fmt.Sprintf("evm-%d", chainID), CAIP2: fmt.Sprintf("eip155:%d", chainID), EVMChainID: chainID}, nil
	}

	return Network{}, swaperr.New(swaperr.CodeUsage, fmt.Sprintf("unsupported network input: %s", input))
}

// ParseToken resolves a symbol, address, or native slug against the network.
// "native" (or the network's gas symbol) resolves to the gas pseudo-token.
func ParseToken(input string, network Network) (Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Token{}, swaperr.New(swaperr.CodeUsage, "token is required")
	}

	if native, ok := NativeToken(network); ok {
		if strings.EqualFold(raw, "native") || strings.EqualFold(raw, native.Symbol) {
			return native, nil
		}
		if network.IsEVM() && strings.EqualFold(raw, NativePlaceholderAddress) {
			return native, nil
		}
	}

	if network.IsEVM() && evmAddressPattern.MatchString(raw) {
		addr := normalizeTokenAddress(network.CAIP2, raw)
		if token, ok := findTokenByAddress(network.CAIP2, addr); ok {
			return token, nil
		}
		return Token{Network: network.CAIP2, Address: addr, Decimals: 18}, nil
	}

	if !network.IsEVM() && solanaTokenMintPattern.MatchString(raw) {
		if token, ok := findTokenByAddress(network.CAIP2, raw); ok {
			return token, nil
		}
	}

	matches := findTokensBySymbol(network.CAIP2, raw)
	if len(matches) == 0 {
		return Token{}, swaperr.New(swaperr.CodeUsage, fmt.Sprintf("token %s not found in registry for network %s", input, network.CAIP2))
	}
	if len(matches) > 1 {
		return Token{}, swaperr.New(swaperr.CodeUsage, fmt.Sprintf("symbol %s is ambiguous on network %s, use the token address", input, network.CAIP2))
	}
	return matches[0], nil
}

// NativeToken returns the gas pseudo-token for the network, if registered.
func NativeToken(network Network) (Token, bool) {
	for slug, token := range nativeBySlug {
		if networkBySlug[slug].CAIP2 == network.CAIP2 {
			return token, true
		}
	}
	return Token{}, false
}

func normalizeTokenAddress(networkID, address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(networkID, "eip155:") {
		return strings.ToLower(address)
	}
	return address
}

func tokenAddressEqual(networkID, a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if strings.HasPrefix(networkID, "eip155:") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func findTokenByAddress(networkID, address string) (Token, bool) {
	for _, t := range tokenRegistry[networkID] {
		if tokenAddressEqual(networkID, t.Address, address) {
			return t, true
		}
	}
	return Token{}, false
}

func findTokensBySymbol(networkID, symbol string) []Token {
	matches := []Token{}
	for _, t := range tokenRegistry[networkID] {
		if strings.EqualFold(t.Symbol, symbol) {
			matches = append(matches, t)
		}
	}
	return matches
}
