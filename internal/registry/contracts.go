package registry

// Canonical Uniswap V2-compatible router deployments used by AMM quoting and
// swap execution.
var uniswapV2RouterByChainID = map[int64]string{
	1:     "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", // Ethereum
	10:    "0x4A7b5Da61326A6379179b40d00F57E5bbDC962c2", // Optimism
	137:   "0xedf6066a2b290C185783862C7F4776A2C8077AD1", // Polygon
	8453:  "0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24", // Base
	42161: "0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24", // Arbitrum
	43114: "0x60aE616a2155Ee3d9A68541Ba4544862310933d4", // Avalanche (Joe router, V2-compatible)
}

// PancakeSwap V2 router deployments. The BSC family routes through these
// instead of the Uniswap-compatible routers above.
var pancakeV2RouterByChainID = map[int64]string{
	56:   "0x10ED43C718714eb63d5aA57B78B54704E256024E", // BSC
	1:    "0xEfF92A263d31888d860bD50809A8D171709b7b1c", // Ethereum deployment
	8453: "0x8cFe327CEc66d1C090Dd72bd0FF11d690C33a2Eb", // Base deployment
}

func UniswapV2Router(chainID int64) (string, bool) {
	v, ok := uniswapV2RouterByChainID[chainID]
	return v, ok
}

func PancakeV2Router(chainID int64) (string, bool) {
	v, ok := pancakeV2RouterByChainID[chainID]
	return v, ok
}

// ammVenuePriority is the fixed per-network trial order for same-network
// swaps, keyed by CAIP-2 network id. Networks absent from this map have no
// local venue and fall back to the bridge aggregator.
var ammVenuePriority = map[string][]string{
	"eip155:1":     {"uniswap", "pancake"},
	"eip155:10":    {"uniswap"},
	"eip155:137":   {"uniswap"},
	"eip155:8453":  {"uniswap", "pancake"},
	"eip155:42161": {"uniswap"},
	"eip155:43114": {"uniswap"},
	"eip155:56":    {"pancake"},

	"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp": {"jupiter"},
}

func AMMVenuePriorityFor(caip2 string) []string {
	return ammVenuePriority[caip2]
}

// Wrapped-native token deployments, used as the routing intermediate and as
// the on-path stand-in for the native pseudo-token.
var wrappedNativeByChainID = map[int64]string{
	1:     "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", // WETH
	10:    "0x4200000000000000000000000000000000000006", // WETH
	56:    "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", // WBNB
	137:   "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270", // WPOL
	8453:  "0x4200000000000000000000000000000000000006", // WETH
	42161: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", // WETH
	43114: "0xb31f66aa3c1e785363f0875a1b74e27b85fd66c7", // WAVAX
}

func WrappedNative(chainID int64) (string, bool) {
	v, ok := wrappedNativeByChainID[chainID]
	return v, ok
}
