package engine

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/venues"
	"github.com/avelar/swapflow/internal/wallet"
)

var (
	ethereum = mustNetwork("ethereum")
	solana   = mustNetwork("solana")

	eth  = id.Token{Network: "eip155:1", Address: id.NativePlaceholderAddress, Symbol: "ETH", Decimals: 18, IsNative: true}
	usdc = id.Token{Network: "eip155:1", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Decimals: 6}

	signerAddr    = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
	routerAddr    = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
)

func mustNetwork(slug string) id.Network {
	network, err := id.ParseNetwork(slug)
	if err != nil {
		panic(err)
	}
	return network
}

type fakeVenue struct {
	name       string
	quotes     []model.Quote
	quoteErr   error
	quoteCalls int
	lastAmount *big.Int
	builtTx    model.TxRequest
	buildErr   error
	buildCalls int
	builtMin   *big.Int
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) Supports(venues.QuoteRequest) bool { return true }

func (v *fakeVenue) Quote(_ context.Context, req venues.QuoteRequest) (model.Quote, error) {
	v.quoteCalls++
	v.lastAmount = new(big.Int).Set(req.AmountIn)
	if v.quoteErr != nil {
		return model.Quote{}, v.quoteErr
	}
	idx := v.quoteCalls - 1
	if idx >= len(v.quotes) {
		idx = len(v.quotes) - 1
	}
	return v.quotes[idx], nil
}

func (v *fakeVenue) BuildSwapTx(_ context.Context, _ model.Quote, opts venues.BuildOptions) (model.TxRequest, error) {
	v.buildCalls++
	v.builtMin = opts.AmountOutMin
	if v.buildErr != nil {
		return model.TxRequest{}, v.buildErr
	}
	return v.builtTx, nil
}

// fakeQuoter serves quotes from a single fake venue and records every
// aggregated quote request.
type fakeQuoter struct {
	venue   *fakeVenue
	amounts []*big.Int
}

func (q *fakeQuoter) Quote(ctx context.Context, req venues.QuoteRequest) (model.Quote, error) {
	q.amounts = append(q.amounts, new(big.Int).Set(req.AmountIn))
	return q.venue.Quote(ctx, req)
}

func (q *fakeQuoter) VenueByName(name string) (venues.Venue, bool) {
	if q.venue != nil && q.venue.name == name {
		return q.venue, true
	}
	return nil, false
}

type fakeProvider struct {
	family  id.Family
	active  id.Network
	balance *big.Int

	sent        []model.TxRequest
	sendErr     error
	hash        string
	waitErr     error
	simulateErr error
	simulated   int

	transferTx model.TxRequest
	transfers  int
}

func (p *fakeProvider) Family() id.Family { return p.family }

func (p *fakeProvider) Accounts(context.Context) ([]string, error) {
	return []string{signerAddr}, nil
}

func (p *fakeProvider) ActiveNetwork(context.Context) (id.Network, error) { return p.active, nil }

func (p *fakeProvider) RequestNetworkSwitch(_ context.Context, network id.Network) error {
	p.active = network
	return nil
}

func (p *fakeProvider) SignAndSend(_ context.Context, tx model.TxRequest) (string, error) {
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, tx)
	return p.hash, nil
}

func (p *fakeProvider) WaitConfirmed(context.Context, id.Network, string) error { return p.waitErr }

func (p *fakeProvider) Events() <-chan wallet.Event { return nil }

func (p *fakeProvider) BalanceOf(context.Context, id.Token, string) (*big.Int, error) {
	return new(big.Int).Set(p.balance), nil
}

func (p *fakeProvider) BuildTransferTx(_ context.Context, _ id.Token, _ string, amount *big.Int) (model.TxRequest, error) {
	p.transfers++
	tx := p.transferTx
	tx.ValueBaseUnits = amount
	return tx, nil
}

func (p *fakeProvider) Simulate(context.Context, model.TxRequest) error {
	p.simulated++
	return p.simulateErr
}

type fakeApprover struct {
	calls   int
	spender string
	err     error
}

func (a *fakeApprover) EnsureApproval(_ context.Context, _ id.Token, _, spender string, _ *big.Int) (bool, error) {
	a.calls++
	a.spender = spender
	return a.err == nil, a.err
}

type fakeEnsurer struct {
	calls int
	err   error
}

func (e *fakeEnsurer) EnsureNetwork(context.Context, id.Network) error {
	e.calls++
	return e.err
}

func out(v string) *big.Int {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		panic("bad int literal " + v)
	}
	return n
}

func swapFixture() (*fakeVenue, *fakeQuoter, *fakeProvider, *fakeApprover, *fakeEnsurer, *Engine) {
	venue := &fakeVenue{
		name: "uniswap",
		quotes: []model.Quote{{
			Venue:       "uniswap",
			Path:        []id.Token{usdc, eth},
			AmountIn:    out("250000000"),
			ExpectedOut: out("100000000000000000"),
			Router:      routerAddr,
		}},
		builtTx: model.TxRequest{Network: ethereum, To: routerAddr, Data: []byte{0x01}},
	}
	quoter := &fakeQuoter{venue: venue}
	provider := &fakeProvider{
		family:  id.FamilyEVM,
		active:  ethereum,
		balance: out("1000000000"),
		hash:    "0xabc",
	}
	approver := &fakeApprover{}
	ensurer := &fakeEnsurer{}
	eng := New(quoter, approver, ensurer, provider, nil, zerolog.Nop())
	return venue, quoter, provider, approver, ensurer, eng
}

func swapRequest() model.SwapRequest {
	return model.SwapRequest{
		FromNetwork:       ethereum,
		ToNetwork:         ethereum,
		FromToken:         usdc,
		ToToken:           eth,
		FromAmountDecimal: "250",
		Signer:            signerAddr,
	}
}

func TestSwapConfirmedEndToEnd(t *testing.T) {
	venue, _, provider, approver, _, eng := swapFixture()

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if attempt.Status != StatusConfirmed {
		t.Fatalf("status = %s, want %s", attempt.Status, StatusConfirmed)
	}
	if attempt.TxHash != "0xabc" {
		t.Fatalf("tx hash = %q", attempt.TxHash)
	}
	if approver.calls != 1 || approver.spender != routerAddr {
		t.Fatalf("approval calls = %d spender = %q", approver.calls, approver.spender)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(provider.sent))
	}
	if venue.builtMin == nil || venue.builtMin.Sign() <= 0 {
		t.Fatalf("swap built without a protected minimum: %v", venue.builtMin)
	}
	// Single hop, low impact: base tolerance.
	if attempt.SlippagePct != 0.5 {
		t.Fatalf("slippage = %v, want 0.5", attempt.SlippagePct)
	}
}

func TestSwapSameWalletRejectedBeforeQuoting(t *testing.T) {
	venue, quoter, _, _, _, eng := swapFixture()

	req := swapRequest()
	req.ToToken = req.FromToken
	_, err := eng.Swap(context.Background(), req, Options{})
	if !swaperr.HasCode(err, swaperr.CodeSameWalletTransfer) {
		t.Fatalf("err = %v, want SameWalletTransfer", err)
	}
	if venue.quoteCalls != 0 || len(quoter.amounts) != 0 {
		t.Fatalf("venue consulted %d times for a same-wallet request", venue.quoteCalls)
	}
}

func TestSwapSameAssetWithRecipientBecomesTransfer(t *testing.T) {
	venue, _, provider, approver, _, eng := swapFixture()
	provider.transferTx = model.TxRequest{Network: ethereum, To: usdc.Address}

	req := swapRequest()
	req.ToToken = req.FromToken
	req.Recipient = recipientAddr
	attempt, err := eng.Swap(context.Background(), req, Options{})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if attempt.Kind != KindTransfer {
		t.Fatalf("kind = %s, want %s", attempt.Kind, KindTransfer)
	}
	if attempt.Status != StatusConfirmed {
		t.Fatalf("status = %s", attempt.Status)
	}
	if venue.quoteCalls != 0 {
		t.Fatal("venue consulted for a direct transfer")
	}
	if provider.transfers != 1 {
		t.Fatalf("transfers built = %d, want 1", provider.transfers)
	}
	if approver.calls != 0 {
		t.Fatal("approval requested for a direct transfer")
	}
}

func TestSwapInsufficientBalance(t *testing.T) {
	_, _, provider, _, _, eng := swapFixture()
	provider.balance = out("1000") // far below 250 USDC in base units

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if !swaperr.HasCode(err, swaperr.CodeInsufficientBalance) {
		t.Fatalf("err = %v, want InsufficientBalance", err)
	}
	if attempt.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", attempt.Status, StatusFailed)
	}
	if len(provider.sent) != 0 {
		t.Fatal("transaction broadcast despite failed balance check")
	}
}

func TestSwapNativeInputSkipsApproval(t *testing.T) {
	venue, _, provider, approver, _, eng := swapFixture()
	venue.quotes[0].Path = []id.Token{eth, usdc}
	provider.balance = out("1000000000000000000") // 1 ETH, covers the 0.1 ETH input

	req := swapRequest()
	req.FromToken = eth
	req.ToToken = usdc
	req.FromAmountDecimal = "0.1"
	if _, err := eng.Swap(context.Background(), req, Options{}); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if approver.calls != 0 {
		t.Fatalf("approval calls = %d for native input", approver.calls)
	}
}

func TestSwapApprovalRejectedFailsAttempt(t *testing.T) {
	_, _, provider, approver, _, eng := swapFixture()
	approver.err = swaperr.New(swaperr.CodeApprovalRejected, "user declined the approval signature")

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if !swaperr.HasCode(err, swaperr.CodeApprovalRejected) {
		t.Fatalf("err = %v", err)
	}
	if attempt.Status != StatusFailed {
		t.Fatalf("status = %s", attempt.Status)
	}
	if len(provider.sent) != 0 {
		t.Fatal("transaction broadcast after rejected approval")
	}
}

func TestSwapRevalidationStaleQuote(t *testing.T) {
	venue, _, provider, _, _, eng := swapFixture()
	// First quote prices the trade; the pre-submit requote returns far less
	// than the protected minimum.
	venue.quotes = append(venue.quotes, model.Quote{
		Venue:       "uniswap",
		Path:        []id.Token{usdc, eth},
		ExpectedOut: out("80000000000000000"),
		Router:      routerAddr,
	})

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if !swaperr.HasCode(err, swaperr.CodeStaleQuote) {
		t.Fatalf("err = %v, want StaleQuote", err)
	}
	if attempt.Status != StatusFailed {
		t.Fatalf("status = %s", attempt.Status)
	}
	if venue.buildCalls != 0 {
		t.Fatal("swap built from a stale quote")
	}
	if len(provider.sent) != 0 {
		t.Fatal("stale quote was broadcast")
	}
}

func TestSwapRevertedAttempt(t *testing.T) {
	_, _, provider, _, _, eng := swapFixture()
	provider.waitErr = swaperr.New(swaperr.CodeTransactionReverted, "execution reverted: UniswapV2: K")

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if !swaperr.HasCode(err, swaperr.CodeTransactionReverted) {
		t.Fatalf("err = %v", err)
	}
	if attempt.Status != StatusReverted {
		t.Fatalf("status = %s, want %s", attempt.Status, StatusReverted)
	}
	if attempt.TxHash != "0xabc" {
		t.Fatalf("revert lost the submitted hash: %q", attempt.TxHash)
	}
	if !strings.Contains(attempt.Error, "UniswapV2: K") {
		t.Fatalf("attempt error = %q", attempt.Error)
	}
}

func TestSwapSimulateFailureBlocksBroadcast(t *testing.T) {
	_, _, provider, _, _, eng := swapFixture()
	provider.simulateErr = swaperr.New(swaperr.CodeTransactionReverted, "execution reverted: TRANSFER_FROM_FAILED")

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{Simulate: true})
	if err == nil {
		t.Fatal("expected simulate failure")
	}
	if provider.simulated != 1 {
		t.Fatalf("simulations = %d, want 1", provider.simulated)
	}
	if len(provider.sent) != 0 {
		t.Fatal("broadcast despite failed simulation")
	}
	if attempt.Status != StatusFailed {
		t.Fatalf("status = %s", attempt.Status)
	}
}

func TestSwapNoSlippageProtectionWarns(t *testing.T) {
	_, _, _, _, _, eng := swapFixture()

	plan, err := eng.PlanSwap(context.Background(), swapRequest(), Options{NoSlippageProtection: true})
	if err != nil {
		t.Fatalf("PlanSwap: %v", err)
	}
	if plan.SlippagePct != 0.01 {
		t.Fatalf("slippage = %v, want the 0.01 opt-in floor", plan.SlippagePct)
	}
	if len(plan.Warnings) == 0 || !strings.Contains(plan.Warnings[0], "slippage protection disabled") {
		t.Fatalf("warnings = %v", plan.Warnings)
	}
}

func TestSwapNetworkSwitchRecorded(t *testing.T) {
	_, _, provider, _, ensurer, eng := swapFixture()
	provider.active = mustNetwork("base")

	attempt, err := eng.Swap(context.Background(), swapRequest(), Options{})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if ensurer.calls != 1 {
		t.Fatalf("EnsureNetwork calls = %d, want 1", ensurer.calls)
	}
	if attempt.Status != StatusConfirmed {
		t.Fatalf("status = %s", attempt.Status)
	}
}

func TestSwapAlignedNetworkSkipsSwitch(t *testing.T) {
	_, _, _, _, ensurer, eng := swapFixture()

	if _, err := eng.Swap(context.Background(), swapRequest(), Options{}); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if ensurer.calls != 0 {
		t.Fatalf("EnsureNetwork calls = %d for an aligned wallet", ensurer.calls)
	}
}

func TestTransferSameWalletRejected(t *testing.T) {
	_, _, provider, _, _, eng := swapFixture()

	req := swapRequest()
	req.ToToken = req.FromToken
	req.Recipient = signerAddr
	_, err := eng.Transfer(context.Background(), req, Options{})
	if !swaperr.HasCode(err, swaperr.CodeSameWalletTransfer) {
		t.Fatalf("err = %v", err)
	}
	if provider.transfers != 0 {
		t.Fatal("transfer built for the sending wallet itself")
	}
}

func TestMultiHopConservativeMinimum(t *testing.T) {
	venue, _, _, _, _, eng := swapFixture()
	dai := id.Token{Network: "eip155:1", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Symbol: "DAI", Decimals: 18}
	// Full quote, then a reduced-input requote whose scaled-up projection is
	// materially worse than the full quote.
	venue.quotes = []model.Quote{
		{
			Venue:       "uniswap",
			Path:        []id.Token{usdc, eth, dai},
			ExpectedOut: out("100000000000000000000"),
			Router:      routerAddr,
		},
		{
			Venue:       "uniswap",
			Path:        []id.Token{usdc, eth, dai},
			ExpectedOut: out("81000000000000000000"), // 90% in, 81% out
			Router:      routerAddr,
		},
	}

	req := swapRequest()
	req.ToToken = dai
	plan, err := eng.PlanSwap(context.Background(), req, Options{})
	if err != nil {
		t.Fatalf("PlanSwap: %v", err)
	}
	if venue.quoteCalls != 2 {
		t.Fatalf("quote calls = %d, want full + reduced", venue.quoteCalls)
	}
	// Scaled reduced projection is 90e18; its minimum must undercut the
	// full-quote minimum.
	fullMin := out("97000000000000000000")
	if plan.MinOut.Cmp(fullMin) >= 0 {
		t.Fatalf("min out %s not conservative (full-quote floor %s)", plan.MinOut, fullMin)
	}
	if plan.SlippagePct != 3.0 {
		t.Fatalf("slippage = %v, want the multi-hop floor", plan.SlippagePct)
	}
}

func TestPlanRecoveryFindsReducedFraction(t *testing.T) {
	venue, quoter, _, _, _, eng := swapFixture()
	// Full and half-size quotes fail; one fifth routes.
	venue.quoteErr = swaperr.New(swaperr.CodeNoRoute, "no route available")
	attempts := 0
	origQuotes := venue.quotes
	venue.quotes = nil
	quoterWrap := &recoveryQuoter{inner: quoter, failUntil: 2, success: origQuotes[0], counter: &attempts}

	eng = New(quoterWrap, &fakeApprover{}, &fakeEnsurer{}, &fakeProvider{family: id.FamilyEVM, active: ethereum, balance: out("1000000000")}, nil, zerolog.Nop())

	revert := swaperr.New(swaperr.CodeTransactionReverted, "execution reverted: INSUFFICIENT_OUTPUT_AMOUNT")
	candidate, err := eng.PlanRecovery(context.Background(), swapRequest(), revert)
	if err != nil {
		t.Fatalf("PlanRecovery: %v", err)
	}
	if candidate.Fraction != 0.2 {
		t.Fatalf("fraction = %v, want 0.2", candidate.Fraction)
	}
	if candidate.AmountIn.Cmp(out("50000000")) != 0 {
		t.Fatalf("amount = %s, want 50000000", candidate.AmountIn)
	}
	if candidate.MinOut == nil || candidate.MinOut.Sign() <= 0 {
		t.Fatalf("candidate lacks a protected minimum: %v", candidate.MinOut)
	}
}

func TestPlanRecoveryExhaustedWrapsRevert(t *testing.T) {
	venue, _, _, _, _, eng := swapFixture()
	venue.quotes = nil
	venue.quoteErr = swaperr.New(swaperr.CodeNoRoute, "no route available")

	revert := swaperr.New(swaperr.CodeTransactionReverted, "execution reverted: UniswapV2: K")
	_, err := eng.PlanRecovery(context.Background(), swapRequest(), revert)
	if !swaperr.HasCode(err, swaperr.CodeNoRecoverableRoute) {
		t.Fatalf("err = %v, want NoRecoverableRoute", err)
	}
	if !strings.Contains(err.Error(), "UniswapV2: K") {
		t.Fatalf("original revert reason dropped: %v", err)
	}
	if venue.quoteCalls != 5 {
		t.Fatalf("quote calls = %d, want all 5 fractions", venue.quoteCalls)
	}
}

// recoveryQuoter fails the first failUntil quote calls and then serves the
// success quote, independent of input size.
type recoveryQuoter struct {
	inner     Quoter
	failUntil int
	success   model.Quote
	counter   *int
}

func (q *recoveryQuoter) Quote(_ context.Context, req venues.QuoteRequest) (model.Quote, error) {
	*q.counter++
	if *q.counter <= q.failUntil {
		return model.Quote{}, swaperr.New(swaperr.CodeNoRoute, "no route available")
	}
	quote := q.success
	quote.AmountIn = new(big.Int).Set(req.AmountIn)
	return quote, nil
}

func (q *recoveryQuoter) VenueByName(name string) (venues.Venue, bool) {
	return q.inner.VenueByName(name)
}
