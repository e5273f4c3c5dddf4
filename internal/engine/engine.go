// Package engine orchestrates swap and transfer execution: quoting,
// slippage protection, approval, network alignment, submission, and the
// attempt journal. The engine never resubmits on its own; every broadcast
// happens inside exactly one attempt.
package engine

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/slippage"
	"github.com/avelar/swapflow/internal/venues"
	"github.com/avelar/swapflow/internal/wallet"
)

const defaultConfirmTimeout = 2 * time.Minute

// Quoter is the venue aggregation surface the engine depends on.
type Quoter interface {
	Quote(ctx context.Context, req venues.QuoteRequest) (model.Quote, error)
	VenueByName(name string) (venues.Venue, bool)
}

// Approver guarantees router allowance before a swap is built.
type Approver interface {
	EnsureApproval(ctx context.Context, token id.Token, owner, spender string, required *big.Int) (bool, error)
}

// NetworkEnsurer aligns the wallet's active network with a requirement.
type NetworkEnsurer interface {
	EnsureNetwork(ctx context.Context, required id.Network) error
}

// Options tune one execution. Zero values mean protected defaults.
type Options struct {
	// Simulate runs an eth_call dry run before broadcasting, when the
	// provider supports it.
	Simulate bool
	// NoSlippageProtection drops the minimum-output floor to the legacy
	// near-zero tolerance. Explicit opt-in only.
	NoSlippageProtection bool
	// ConfirmTimeout bounds the wait for on-chain confirmation.
	ConfirmTimeout time.Duration
}

func (o Options) confirmTimeout() time.Duration {
	if o.ConfirmTimeout > 0 {
		return o.ConfirmTimeout
	}
	return defaultConfirmTimeout
}

type simulator interface {
	Simulate(ctx context.Context, tx model.TxRequest) error
}

type Engine struct {
	quoter    Quoter
	approvals Approver
	chains    NetworkEnsurer
	provider  wallet.Provider
	store     *Store
	log       zerolog.Logger
}

func New(quoter Quoter, approvals Approver, chains NetworkEnsurer, provider wallet.Provider, store *Store, logger zerolog.Logger) *Engine {
	return &Engine{
		quoter:    quoter,
		approvals: approvals,
		chains:    chains,
		provider:  provider,
		store:     store,
		log:       logger.With().Str("component", "engine").Logger(),
	}
}

// Plan is the priced half of an execution: the winning quote plus the
// slippage decision derived from it.
type Plan struct {
	Quote       model.Quote
	AmountIn    *big.Int
	SlippagePct float64
	MinOut      *big.Int
	Warnings    []string
}

// PlanSwap quotes the request and applies the slippage policy without
// touching the wallet. The swap command uses it for --quote-only output and
// Swap reuses it as its first phase.
func (e *Engine) PlanSwap(ctx context.Context, req model.SwapRequest, opts Options) (Plan, error) {
	if sameAsset(req) {
		return Plan{}, swaperr.New(swaperr.CodeSameWalletTransfer,
			"from and to describe the same asset; a swap would send funds back to the same wallet")
	}
	amountIn, err := parseAmount(req.FromAmountDecimal, req.FromToken.Decimals)
	if err != nil {
		return Plan{}, err
	}

	quote, err := e.quoter.Quote(ctx, venues.QuoteRequest{
		FromNetwork: req.FromNetwork,
		ToNetwork:   req.ToNetwork,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		AmountIn:    amountIn,
		Signer:      req.Signer,
		Recipient:   req.EffectiveRecipient(),
	})
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Quote: quote, AmountIn: amountIn}
	plan.SlippagePct = slippage.Percent(slippage.Input{
		PriceImpactPct: quote.PriceImpactPct,
		Hops:           quote.Hops(),
		FeeOnTransfer:  quote.FeeOnTransfer,
	})
	if opts.NoSlippageProtection {
		plan.SlippagePct = slippage.NoProtectionPercent
		plan.Warnings = append(plan.Warnings,
			"slippage protection disabled: the transaction accepts nearly any output and can be sandwiched for the full amount")
	}
	plan.MinOut = slippage.MinOut(quote.ExpectedOut, plan.SlippagePct)
	if quote.Hops() >= 2 && !opts.NoSlippageProtection {
		plan.MinOut = slippage.ConservativeMinOut(quote.ExpectedOut, e.reducedRequoteOut(ctx, req, plan), plan.SlippagePct)
	}
	return plan, nil
}

// reducedRequoteOut requotes the winning venue at ReducedInputRatio of the
// input and scales the result back to a full-input equivalent. Multi-hop
// paths compound per-pool movement, so the protected minimum takes
// whichever projection is lower. Returns nil when no requote is available.
func (e *Engine) reducedRequoteOut(ctx context.Context, req model.SwapRequest, plan Plan) *big.Int {
	venue, ok := e.quoter.VenueByName(plan.Quote.Venue)
	if !ok {
		return nil
	}
	reduced := new(big.Int).Mul(plan.AmountIn, big.NewInt(9))
	reduced.Quo(reduced, big.NewInt(10))
	if reduced.Sign() <= 0 {
		return nil
	}
	quote, err := venue.Quote(ctx, venues.QuoteRequest{
		FromNetwork: req.FromNetwork,
		ToNetwork:   req.ToNetwork,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		AmountIn:    reduced,
		Signer:      req.Signer,
		Recipient:   req.EffectiveRecipient(),
	})
	if err != nil || quote.ExpectedOut == nil || quote.ExpectedOut.Sign() <= 0 {
		return nil
	}
	full := new(big.Int).Mul(quote.ExpectedOut, big.NewInt(10))
	return full.Quo(full, big.NewInt(9))
}

// Swap executes a full swap attempt. The returned attempt is journaled at
// every status transition, including failures, so it is non-nil whenever an
// attempt was opened even when err is non-nil.
func (e *Engine) Swap(ctx context.Context, req model.SwapRequest, opts Options) (*Attempt, error) {
	// Same token, same network, distinct recipient is a transfer, not a
	// swap. No venue is consulted for it.
	if sameAsset(req) && !strings.EqualFold(req.EffectiveRecipient(), req.Signer) {
		return e.Transfer(ctx, req, opts)
	}

	attempt := e.openAttempt(KindSwap, req)
	plan, err := e.PlanSwap(ctx, req, opts)
	if err != nil {
		return e.failAttempt(attempt, err)
	}
	attempt.Venue = plan.Quote.Venue
	attempt.AmountIn = plan.AmountIn.String()
	attempt.ExpectedOut = plan.Quote.ExpectedOut.String()
	attempt.MinOut = plan.MinOut.String()
	attempt.SlippagePct = plan.SlippagePct
	e.save(attempt)

	if err := e.checkBalance(ctx, req.FromToken, req.Signer, plan.AmountIn); err != nil {
		return e.failAttempt(attempt, err)
	}

	if needsApproval(req, plan.Quote) && e.approvals != nil {
		if err := attempt.Advance(StatusAwaitingApproval); err != nil {
			return e.failAttempt(attempt, err)
		}
		e.save(attempt)
		if _, err := e.approvals.EnsureApproval(ctx, req.FromToken, req.Signer, plan.Quote.Router, plan.AmountIn); err != nil {
			return e.failAttempt(attempt, err)
		}
	}

	if err := e.alignNetwork(ctx, attempt, req.FromNetwork); err != nil {
		return e.failAttempt(attempt, err)
	}

	venue, ok := e.quoter.VenueByName(plan.Quote.Venue)
	if !ok {
		return e.failAttempt(attempt, swaperr.New(swaperr.CodeInternal, "quoted venue "+plan.Quote.Venue+" is no longer registered"))
	}

	// Same-network quotes are re-checked against live reserves right before
	// submission; approval and network switching can take long enough for
	// the pool to move past the protected minimum.
	if !req.CrossNetwork() {
		if err := e.revalidate(ctx, venue, req, plan); err != nil {
			return e.failAttempt(attempt, err)
		}
	}

	tx, err := venue.BuildSwapTx(ctx, plan.Quote, venues.BuildOptions{
		Sender:       req.Signer,
		Recipient:    req.EffectiveRecipient(),
		AmountOutMin: plan.MinOut,
	})
	if err != nil {
		return e.failAttempt(attempt, err)
	}

	return e.submit(ctx, attempt, tx, opts)
}

// Transfer moves a single asset to a recipient without touching any venue.
func (e *Engine) Transfer(ctx context.Context, req model.SwapRequest, opts Options) (*Attempt, error) {
	attempt := e.openAttempt(KindTransfer, req)

	if strings.EqualFold(req.EffectiveRecipient(), req.Signer) {
		return e.failAttempt(attempt, swaperr.New(swaperr.CodeSameWalletTransfer,
			"transfer recipient is the sending wallet itself"))
	}
	amount, err := parseAmount(req.FromAmountDecimal, req.FromToken.Decimals)
	if err != nil {
		return e.failAttempt(attempt, err)
	}
	attempt.AmountIn = amount.String()
	e.save(attempt)

	builder, ok := e.provider.(wallet.TransferBuilder)
	if !ok {
		return e.failAttempt(attempt, swaperr.New(swaperr.CodeUnsupported, "wallet provider cannot build transfers"))
	}

	if err := e.checkBalance(ctx, req.FromToken, req.Signer, amount); err != nil {
		return e.failAttempt(attempt, err)
	}
	if err := e.alignNetwork(ctx, attempt, req.FromNetwork); err != nil {
		return e.failAttempt(attempt, err)
	}

	tx, err := builder.BuildTransferTx(ctx, req.FromToken, req.EffectiveRecipient(), amount)
	if err != nil {
		return e.failAttempt(attempt, err)
	}
	return e.submit(ctx, attempt, tx, opts)
}

func (e *Engine) submit(ctx context.Context, attempt *Attempt, tx model.TxRequest, opts Options) (*Attempt, error) {
	if opts.Simulate {
		if sim, ok := e.provider.(simulator); ok {
			if err := sim.Simulate(ctx, tx); err != nil {
				return e.failAttempt(attempt, err)
			}
		}
	}

	hash, err := e.provider.SignAndSend(ctx, tx)
	if err != nil {
		return e.failAttempt(attempt, err)
	}
	attempt.TxHash = hash
	if err := attempt.Advance(StatusSubmitted); err != nil {
		return e.failAttempt(attempt, err)
	}
	e.save(attempt)
	e.log.Info().
		Str("attempt_id", attempt.AttemptID).
		Str("tx_hash", hash).
		Msg("transaction submitted")

	waitCtx, cancel := context.WithTimeout(ctx, opts.confirmTimeout())
	defer cancel()
	if err := e.provider.WaitConfirmed(waitCtx, tx.Network, hash); err != nil {
		if swaperr.HasCode(err, swaperr.CodeTransactionReverted) {
			attempt.Error = err.Error()
			if advErr := attempt.Advance(StatusReverted); advErr != nil {
				return e.failAttempt(attempt, advErr)
			}
			e.save(attempt)
			return attempt, err
		}
		return e.failAttempt(attempt, err)
	}

	if err := attempt.Advance(StatusConfirmed); err != nil {
		return e.failAttempt(attempt, err)
	}
	e.save(attempt)
	e.log.Info().
		Str("attempt_id", attempt.AttemptID).
		Str("tx_hash", hash).
		Msg("transaction confirmed")
	return attempt, nil
}

// revalidate requotes the winning venue with the original inputs and fails
// with StaleQuote when the live output dropped below the protected minimum.
func (e *Engine) revalidate(ctx context.Context, venue venues.Venue, req model.SwapRequest, plan Plan) error {
	fresh, err := venue.Quote(ctx, venues.QuoteRequest{
		FromNetwork: req.FromNetwork,
		ToNetwork:   req.ToNetwork,
		FromToken:   req.FromToken,
		ToToken:     req.ToToken,
		AmountIn:    plan.AmountIn,
		Signer:      req.Signer,
		Recipient:   req.EffectiveRecipient(),
	})
	if err != nil {
		// The venue served this exact quote moments ago; a transient
		// re-check failure does not invalidate it.
		e.log.Warn().Err(err).Str("venue", venue.Name()).Msg("pre-submit requote failed, proceeding on original quote")
		return nil
	}
	if fresh.ExpectedOut == nil || fresh.ExpectedOut.Cmp(plan.MinOut) < 0 {
		return swaperr.New(swaperr.CodeStaleQuote,
			"live output fell below the protected minimum since quoting; refresh the quote and retry")
	}
	return nil
}

func (e *Engine) alignNetwork(ctx context.Context, attempt *Attempt, required id.Network) error {
	active, err := e.provider.ActiveNetwork(ctx)
	if err == nil && active.Equal(required) {
		return nil
	}
	if advErr := attempt.Advance(StatusAwaitingNetworkSwitch); advErr != nil {
		return advErr
	}
	e.save(attempt)
	return e.chains.EnsureNetwork(ctx, required)
}

func (e *Engine) checkBalance(ctx context.Context, token id.Token, owner string, amount *big.Int) error {
	reader, ok := e.provider.(wallet.BalanceReader)
	if !ok {
		return nil
	}
	balance, err := reader.BalanceOf(ctx, token, owner)
	if err != nil {
		// Balance reads are advisory; the chain enforces the real check.
		e.log.Warn().Err(err).Str("token", token.Symbol).Msg("balance pre-flight unavailable")
		return nil
	}
	if balance.Cmp(amount) < 0 {
		return swaperr.New(swaperr.CodeInsufficientBalance,
			"wallet holds "+id.FormatBaseUnits(balance.String(), token.Decimals)+" "+token.Symbol+
				", need "+id.FormatBaseUnits(amount.String(), token.Decimals))
	}
	return nil
}

func (e *Engine) openAttempt(kind Kind, req model.SwapRequest) *Attempt {
	attempt := NewAttempt(kind)
	attempt.FromNetwork = req.FromNetwork.CAIP2
	attempt.ToNetwork = req.ToNetwork.CAIP2
	attempt.FromToken = req.FromToken.Symbol
	attempt.ToToken = req.ToToken.Symbol
	attempt.Signer = req.Signer
	if !strings.EqualFold(req.EffectiveRecipient(), req.Signer) {
		attempt.Recipient = req.EffectiveRecipient()
	}
	e.save(attempt)
	return attempt
}

func (e *Engine) failAttempt(attempt *Attempt, err error) (*Attempt, error) {
	attempt.Error = err.Error()
	if !attempt.Terminal() {
		attempt.Status = StatusFailed
		attempt.Touch()
	}
	e.save(attempt)
	return attempt, err
}

func (e *Engine) save(attempt *Attempt) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(*attempt); err != nil {
		e.log.Warn().Err(err).Str("attempt_id", attempt.AttemptID).Msg("attempt journal write failed")
	}
}

func sameAsset(req model.SwapRequest) bool {
	return !req.CrossNetwork() && req.FromToken.Equal(req.ToToken)
}

func needsApproval(req model.SwapRequest, quote model.Quote) bool {
	return req.FromNetwork.IsEVM() && !req.FromToken.IsNative && quote.Router != ""
}

func parseAmount(decimal string, decimals int) (*big.Int, error) {
	base, err := id.ToBaseUnits(decimal, decimals)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(base, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, swaperr.New(swaperr.CodeInvalidAmount, "amount must be a positive decimal")
	}
	return amount, nil
}
