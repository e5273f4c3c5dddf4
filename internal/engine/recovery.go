package engine

import (
	"context"
	"fmt"
	"math/big"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/slippage"
	"github.com/avelar/swapflow/internal/venues"
)

// recoveryFractions are the reduced input sizes tried after a revert, in
// order. Integer ratios keep the base-unit math exact.
var recoveryFractions = []struct {
	num, den int64
	label    float64
}{
	{1, 1, 1.0},
	{1, 2, 0.5},
	{1, 5, 0.2},
	{1, 10, 0.1},
	{1, 20, 0.05},
}

// RecoveryCandidate is a viable reduced-size retry after a reverted swap.
// It is a proposal only: the caller must obtain explicit confirmation
// before executing it as a fresh attempt.
type RecoveryCandidate struct {
	Fraction    float64
	AmountIn    *big.Int
	Quote       model.Quote
	SlippagePct float64
	MinOut      *big.Int
}

// PlanRecovery searches for the largest input fraction that still quotes
// after a revert, typically caused by thin liquidity or a fee-on-transfer
// token eating the protected minimum. revertErr is the revert that
// triggered the search; it is carried in the NoRecoverableRoute error when
// every fraction fails.
func (e *Engine) PlanRecovery(ctx context.Context, req model.SwapRequest, revertErr error) (RecoveryCandidate, error) {
	fullAmount, err := parseAmount(req.FromAmountDecimal, req.FromToken.Decimals)
	if err != nil {
		return RecoveryCandidate{}, err
	}

	for _, fr := range recoveryFractions {
		amount := new(big.Int).Mul(fullAmount, big.NewInt(fr.num))
		amount.Quo(amount, big.NewInt(fr.den))
		if amount.Sign() <= 0 {
			continue
		}

		quote, err := e.quoter.Quote(ctx, venues.QuoteRequest{
			FromNetwork: req.FromNetwork,
			ToNetwork:   req.ToNetwork,
			FromToken:   req.FromToken,
			ToToken:     req.ToToken,
			AmountIn:    amount,
			Signer:      req.Signer,
			Recipient:   req.EffectiveRecipient(),
		})
		if err != nil {
			e.log.Debug().
				Float64("fraction", fr.label).
				Err(err).
				Msg("recovery fraction has no route")
			continue
		}

		pct := slippage.Percent(slippage.Input{
			PriceImpactPct: quote.PriceImpactPct,
			Hops:           quote.Hops(),
			FeeOnTransfer:  quote.FeeOnTransfer,
		})
		candidate := RecoveryCandidate{
			Fraction:    fr.label,
			AmountIn:    amount,
			Quote:       quote,
			SlippagePct: pct,
			MinOut:      slippage.MinOut(quote.ExpectedOut, pct),
		}
		e.log.Info().
			Float64("fraction", fr.label).
			Str("amount_in", amount.String()).
			Str("expected_out", quote.ExpectedOut.String()).
			Str("venue", quote.Venue).
			Msg("recovery candidate found")
		return candidate, nil
	}

	return RecoveryCandidate{}, swaperr.Wrap(swaperr.CodeNoRecoverableRoute,
		fmt.Sprintf("no route found at any input size down to 1/%d of the original", recoveryFractions[len(recoveryFractions)-1].den),
		revertErr)
}
