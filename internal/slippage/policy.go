// Package slippage derives the minimum acceptable output for a quote.
//
// The policy is monotonic in severity: the base tolerance only ever grows
// with price impact, hop count, and fee-on-transfer detection, and is capped
// at MaxPercent. All base-unit math is big.Int; the percentage is applied in
// milli-percent so no binary floating point touches the output amount.
package slippage

import (
	"math"
	"math/big"
)

const (
	// BasePercent applies to single-hop, low-impact trades.
	BasePercent = 0.5
	// LowLiquidityFloorPercent replaces the base when price impact exceeds
	// 5% or the path is multi-hop.
	LowLiquidityFloorPercent = 3.0
	// FeeOnTransferSurchargePercent is added flat for fee-on-transfer input
	// tokens, which burn part of every transfer before the router sees it.
	FeeOnTransferSurchargePercent = 15.0
	// MaxPercent bounds the final tolerance.
	MaxPercent = 50.0

	// NoProtectionPercent is the near-zero floor the legacy flow used to
	// "guarantee" success. It defeats slippage protection and is reachable
	// only through an explicit opt-in that emits a warning.
	NoProtectionPercent = 0.01

	// ReducedInputRatio is the simulated fraction of the real input used to
	// absorb intra-block price movement on multi-hop paths.
	ReducedInputRatio = 0.9
)

type Input struct {
	PriceImpactPct float64
	Hops           int
	FeeOnTransfer  bool
}

// Percent computes the slippage tolerance for a quote. Triggers stack as the
// maximum of all that apply: the low-liquidity floor, one impact surcharge
// from the highest tier crossed, and the fee-on-transfer surcharge.
func Percent(in Input) float64 {
	pct := BasePercent
	multiHop := in.Hops >= 2
	if in.PriceImpactPct > 5 || multiHop {
		pct = LowLiquidityFloorPercent
	}

	switch {
	case in.PriceImpactPct > 50:
		pct += 20
	case in.PriceImpactPct > 20:
		pct += 10
	case in.PriceImpactPct > 10:
		pct += 5
	case in.PriceImpactPct > 5:
		pct += 2
	}

	if in.FeeOnTransfer {
		pct += FeeOnTransferSurchargePercent
	}

	if pct > MaxPercent {
		pct = MaxPercent
	}
	return pct
}

// MinOut applies pct to expectedOut and floors the result to a 1/1000
// granularity, so an off-by-one against the venue's own rounding can never
// push the minimum above what the venue will deliver.
func MinOut(expectedOut *big.Int, pct float64) *big.Int {
	if expectedOut == nil || expectedOut.Sign() <= 0 {
		return big.NewInt(0)
	}
	milli := int64(math.Round(pct * 1000))
	if milli < 0 {
		milli = 0
	}
	if milli > 100000 {
		milli = 100000
	}
	min := new(big.Int).Mul(expectedOut, big.NewInt(100000-milli))
	min.Quo(min, big.NewInt(100000))
	return coarsen(min)
}

// ConservativeMinOut picks the smaller of the full-input minimum and the
// minimum derived from a reduced-input requote (see ReducedInputRatio).
// reducedOut may be nil when no requote was available.
func ConservativeMinOut(expectedOut, reducedOut *big.Int, pct float64) *big.Int {
	min := MinOut(expectedOut, pct)
	if reducedOut == nil || reducedOut.Sign() <= 0 {
		return min
	}
	reducedMin := MinOut(reducedOut, pct)
	if reducedMin.Cmp(min) < 0 {
		return reducedMin
	}
	return min
}

// coarsen floors v to a multiple of v/1000.
func coarsen(v *big.Int) *big.Int {
	granularity := new(big.Int).Quo(v, big.NewInt(1000))
	if granularity.Sign() <= 0 {
		return v
	}
	return v.Quo(v, granularity).Mul(v, granularity)
}
