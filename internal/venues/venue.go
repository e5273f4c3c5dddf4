// Package venues defines the liquidity-venue capability interface and the
// aggregator that tries venues in priority order for a swap request.
package venues

import (
	"context"
	"math/big"

	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
)

// QuoteRequest carries the exact integer input a quote is computed for.
// A quote is only valid for this exact (FromToken, ToToken, AmountIn) tuple.
type QuoteRequest struct {
	FromNetwork id.Network
	ToNetwork   id.Network
	FromToken   id.Token
	ToToken     id.Token
	AmountIn    *big.Int
	Signer      string
	Recipient   string
}

// BuildOptions parameterize transaction construction for an already-priced
// quote.
type BuildOptions struct {
	Sender       string
	Recipient    string
	AmountOutMin *big.Int
	RPCURL       string
}

// SlippageBps converts a protected minimum output into the basis-point
// tolerance hosted venue APIs accept. The division floors, so the tolerance
// the venue enforces is never looser than min itself.
func SlippageBps(expected, min *big.Int) int64 {
	if expected == nil || min == nil || expected.Sign() <= 0 || min.Sign() <= 0 {
		return 0
	}
	if min.Cmp(expected) >= 0 {
		return 0
	}
	diff := new(big.Int).Sub(expected, min)
	diff.Mul(diff, big.NewInt(10000))
	return diff.Div(diff, expected).Int64()
}

// Venue is a liquidity source able to price and execute a trade. Quote
// returns a typed NoRoute error when the pair has no usable path; transport
// failures keep their own codes so the aggregator can distinguish "this
// venue has no market" from "this venue is down".
type Venue interface {
	Name() string
	Supports(req QuoteRequest) bool
	Quote(ctx context.Context, req QuoteRequest) (model.Quote, error)
	BuildSwapTx(ctx context.Context, quote model.Quote, opts BuildOptions) (model.TxRequest, error)
}
