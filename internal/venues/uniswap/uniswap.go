// Package uniswap configures the V2 router client against canonical Uniswap
// deployments.
package uniswap

import (
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues/univ2"
)

func New(rpcOverrides map[int64]string) *univ2.Client {
	return univ2.New(univ2.Config{
		Name:         "uniswap",
		RouterFor:    registry.UniswapV2Router,
		RPCOverrides: rpcOverrides,
	})
}
