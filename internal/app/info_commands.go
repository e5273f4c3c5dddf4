package app

import (
	"github.com/spf13/cobra"

	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/registry"
)

type venueInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Networks []string `json:"networks"`
}

type networkInfo struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	CAIP2      string `json:"caip2"`
	EVMChainID int64  `json:"evm_chain_id,omitempty"`
	Family     string `json:"family"`
	Native     string `json:"native_symbol,omitempty"`
}

func (s *runtimeState) newVenuesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "venues",
		Short: "List liquidity venues and their network coverage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var uniswapNets, pancakeNets []string
			for _, network := range id.Networks() {
				if network.EVMChainID == 0 {
					continue
				}
				if _, ok := registry.UniswapV2Router(network.EVMChainID); ok {
					uniswapNets = append(uniswapNets, network.CAIP2)
				}
				if _, ok := registry.PancakeV2Router(network.EVMChainID); ok {
					pancakeNets = append(pancakeNets, network.CAIP2)
				}
			}
			data := []venueInfo{
				{Name: "lifi", Kind: "bridge-aggregator", Networks: []string{"*"}},
				{Name: "uniswap", Kind: "amm", Networks: uniswapNets},
				{Name: "pancake", Kind: "amm", Networks: pancakeNets},
				{Name: "jupiter", Kind: "dex-aggregator", Networks: []string{"solana"}},
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List supported networks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			networks := id.Networks()
			data := make([]networkInfo, 0, len(networks))
			for _, network := range networks {
				info := networkInfo{
					Name:       network.Name,
					Slug:       network.Slug,
					CAIP2:      network.CAIP2,
					EVMChainID: network.EVMChainID,
					Family:     string(network.Family()),
				}
				if native, ok := id.NativeToken(network); ok {
					info.Native = native.Symbol
				}
				data = append(data, info)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}
