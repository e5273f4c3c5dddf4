package venues

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
)

type fakeVenue struct {
	name     string
	supports bool
	out      *big.Int
	err      error
	calls    int
	mu       sync.Mutex
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) Supports(req QuoteRequest) bool { return f.supports }

func (f *fakeVenue) Quote(ctx context.Context, req QuoteRequest) (model.Quote, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return model.Quote{}, f.err
	}
	return model.Quote{
		Venue:       f.name,
		Path:        []id.Token{req.FromToken, req.ToToken},
		AmountIn:    req.AmountIn,
		ExpectedOut: f.out,
	}, nil
}

func (f *fakeVenue) BuildSwapTx(ctx context.Context, quote model.Quote, opts BuildOptions) (model.TxRequest, error) {
	return model.TxRequest{}, nil
}

func (f *fakeVenue) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testRequest(t *testing.T, amount string) QuoteRequest {
	t.Helper()
	network, err := id.ParseNetwork("bsc")
	if err != nil {
		t.Fatal(err)
	}
	from, err := id.ParseToken("USDT", network)
	if err != nil {
		t.Fatal(err)
	}
	to, err := id.ParseToken("USDC", network)
	if err != nil {
		t.Fatal(err)
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		t.Fatalf("bad amount %s", amount)
	}
	return QuoteRequest{
		FromNetwork: network,
		ToNetwork:   network,
		FromToken:   from,
		ToToken:     to,
		AmountIn:    amt,
		Signer:      "0x00000000000000000000000000000000000000aa",
	}
}

func TestSlippageBps(t *testing.T) {
	cases := []struct {
		name     string
		expected int64
		min      int64
		want     int64
	}{
		{"half percent", 10000, 9950, 50},
		{"floors fractional bps", 49750000, 49500000, 50},
		{"min above expected clamps to zero", 1000, 1200, 0},
		{"zero min clamps to zero", 1000, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SlippageBps(big.NewInt(tc.expected), big.NewInt(tc.min))
			if got != tc.want {
				t.Fatalf("SlippageBps(%d, %d) = %d, want %d", tc.expected, tc.min, got, tc.want)
			}
		})
	}
	if got := SlippageBps(nil, big.NewInt(1)); got != 0 {
		t.Fatalf("nil expected should clamp to zero, got %d", got)
	}
}

func TestClassify(t *testing.T) {
	eth, _ := id.ParseNetwork("ethereum")
	base, _ := id.ParseNetwork("base")
	sol, _ := id.ParseNetwork("solana")
	tok := func(n id.Network) id.Token {
		native, _ := id.NativeToken(n)
		return native
	}

	if got := Classify(QuoteRequest{FromNetwork: eth, ToNetwork: eth, FromToken: tok(eth), ToToken: tok(eth)}); got != RouteSameNetwork {
		t.Fatalf("same network classified as %s", got)
	}
	if got := Classify(QuoteRequest{FromNetwork: eth, ToNetwork: base}); got != RouteCrossNetwork {
		t.Fatalf("cross network classified as %s", got)
	}
	if got := Classify(QuoteRequest{FromNetwork: eth, ToNetwork: sol}); got != RouteCrossFamily {
		t.Fatalf("cross family classified as %s", got)
	}
}

func TestQuoteTriesVenuesInPriorityOrder(t *testing.T) {
	// BSC priority is pancake only; the failing bridge must not be consulted.
	pancake := &fakeVenue{name: "pancake", supports: true, out: big.NewInt(999)}
	bridge := &fakeVenue{name: "bridge", supports: true, err: swaperr.New(swaperr.CodeUnavailable, "down")}
	agg := NewAggregator(bridge, []Venue{pancake}, zerolog.Nop())

	quote, err := agg.Quote(context.Background(), testRequest(t, "1000000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Venue != "pancake" {
		t.Fatalf("expected pancake quote, got %s", quote.Venue)
	}
	if bridge.callCount() != 0 {
		t.Fatal("bridge venue must not be consulted when an AMM serves the network")
	}
}

func TestQuoteAdvancesPastFailingVenue(t *testing.T) {
	eth, _ := id.ParseNetwork("ethereum")
	from, _ := id.ParseToken("USDC", eth)
	to, _ := id.ParseToken("DAI", eth)
	req := QuoteRequest{FromNetwork: eth, ToNetwork: eth, FromToken: from, ToToken: to, AmountIn: big.NewInt(5_000_000)}

	uniswap := &fakeVenue{name: "uniswap", supports: true, err: swaperr.New(swaperr.CodeUnavailable, "rpc down")}
	pancake := &fakeVenue{name: "pancake", supports: true, out: big.NewInt(4_990_000)}
	agg := NewAggregator(nil, []Venue{uniswap, pancake}, zerolog.Nop())

	quote, err := agg.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Venue != "pancake" {
		t.Fatalf("expected fallback to pancake, got %s", quote.Venue)
	}
	if uniswap.callCount() != 1 {
		t.Fatalf("failing venue must be tried exactly once, got %d", uniswap.callCount())
	}
}

func TestQuoteNoRouteCarriesUnionOfReasons(t *testing.T) {
	eth, _ := id.ParseNetwork("ethereum")
	from, _ := id.ParseToken("USDC", eth)
	to, _ := id.ParseToken("DAI", eth)
	req := QuoteRequest{FromNetwork: eth, ToNetwork: eth, FromToken: from, ToToken: to, AmountIn: big.NewInt(1)}

	uniswap := &fakeVenue{name: "uniswap", supports: true, err: swaperr.New(swaperr.CodeUnavailable, "rpc down")}
	pancake := &fakeVenue{name: "pancake", supports: true, err: swaperr.New(swaperr.CodeNoRoute, "no pair")}
	agg := NewAggregator(nil, []Venue{uniswap, pancake}, zerolog.Nop())

	_, err := agg.Quote(context.Background(), req)
	typed, ok := swaperr.As(err)
	if !ok || typed.Code != swaperr.CodeNoRoute {
		t.Fatalf("expected NoRoute, got %v", err)
	}
	for _, fragment := range []string{"uniswap", "rpc down", "pancake", "no pair"} {
		if !strings.Contains(typed.Message, fragment) {
			t.Fatalf("expected reason union to mention %q, got %q", fragment, typed.Message)
		}
	}
}

func TestGenerationOnlyLastEditApplies(t *testing.T) {
	pancake := &fakeVenue{name: "pancake", supports: true, out: big.NewInt(1)}
	agg := NewAggregator(nil, []Venue{pancake}, zerolog.Nop())

	// Three rapid successive edits; fetches for the first two arrive late.
	gen1 := agg.Begin(testRequest(t, "100"))
	gen2 := agg.Begin(testRequest(t, "200"))
	gen3 := agg.Begin(testRequest(t, "300"))
	if gen1 >= gen2 || gen2 >= gen3 {
		t.Fatalf("generations must be strictly increasing: %d %d %d", gen1, gen2, gen3)
	}

	for _, stale := range []uint64{gen1, gen2} {
		_, err := agg.Accept(model.Quote{Venue: "pancake", Generation: stale, ExpectedOut: big.NewInt(1)})
		if !swaperr.HasCode(err, swaperr.CodeStaleQuote) {
			t.Fatalf("expected stale generation %d to be dropped, got %v", stale, err)
		}
	}
	if _, err := agg.Accept(model.Quote{Venue: "pancake", Generation: gen3, ExpectedOut: big.NewInt(1)}); err != nil {
		t.Fatalf("current generation must be accepted: %v", err)
	}
}

func TestGenerationStableForIdenticalInputs(t *testing.T) {
	agg := NewAggregator(nil, nil, zerolog.Nop())
	gen1 := agg.Begin(testRequest(t, "100"))
	gen2 := agg.Begin(testRequest(t, "100"))
	if gen1 != gen2 {
		t.Fatalf("identical inputs must keep the generation: %d vs %d", gen1, gen2)
	}
}

func TestDebouncerCoalescesRapidTriggers(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var mu sync.Mutex
	runs := 0
	for i := 0; i < 5; i++ {
		d.Trigger(func() {
			mu.Lock()
			runs++
			mu.Unlock()
		})
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("expected exactly one run after rapid triggers, got %d", runs)
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	fired := make(chan struct{}, 1)
	d.Trigger(func() { fired <- struct{}{} })
	d.Stop()
	select {
	case <-fired:
		t.Fatal("stopped debouncer must not fire")
	case <-time.After(40 * time.Millisecond):
	}
}
