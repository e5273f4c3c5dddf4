// Package pancake configures the V2 router client against PancakeSwap
// deployments.
package pancake

import (
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues/univ2"
)

// Reflection and tax tokens commonly traded on BSC take a transfer fee; swaps
// touching them must use the fee-on-transfer router entrypoint and widened
// slippage.
var feeOnTransferTokens = map[string]bool{
	"0x8076c74c5e3f5852037f31ff0093eeb8c8add8d3": true, // SAFEMOON (v1)
	"0xc748673057861a797275cd8a068abb95a902e8de": true, // BABYDOGE
	"0x2859e4544c4bb03966803b044a93563bd2d0dd4d": true, // SHIBA (BSC)
}

func New(rpcOverrides map[int64]string) *univ2.Client {
	return univ2.New(univ2.Config{
		Name:                "pancake",
		RouterFor:           registry.PancakeV2Router,
		FeeOnTransferTokens: feeOnTransferTokens,
		RPCOverrides:        rpcOverrides,
	})
}
