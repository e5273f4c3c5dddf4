package univ2

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues"
)

// fakeCaller answers getAmountsOut with a configurable rate function so
// tests can shape the probe-vs-full spread.
type fakeCaller struct {
	rate  func(amountIn *big.Int) *big.Int
	paths [][]common.Address
	err   error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	method := routerABI.Methods["getAmountsOut"]
	if !bytes.Equal(msg.Data[:4], method.ID) {
		return nil, context.Canceled
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	amountIn := args[0].(*big.Int)
	path := args[1].([]common.Address)
	f.paths = append(f.paths, path)

	amounts := make([]*big.Int, len(path))
	amounts[0] = amountIn
	for i := 1; i < len(path); i++ {
		amounts[i] = f.rate(amountIn)
	}
	return method.Outputs.Pack(amounts)
}

func newTestClient(fake *fakeCaller, feeOnTransfer map[string]bool) *Client {
	return New(Config{
		Name:                "uniswap",
		RouterFor:           registry.UniswapV2Router,
		FeeOnTransferTokens: feeOnTransfer,
		Dial: func(ctx context.Context, rawurl string) (Caller, error) {
			return fake, nil
		},
	})
}

func ethereumPair(t *testing.T, from, to string) venues.QuoteRequest {
	t.Helper()
	eth, err := id.ParseNetwork("ethereum")
	if err != nil {
		t.Fatal(err)
	}
	fromToken, err := id.ParseToken(from, eth)
	if err != nil {
		t.Fatal(err)
	}
	toToken, err := id.ParseToken(to, eth)
	if err != nil {
		t.Fatal(err)
	}
	return venues.QuoteRequest{
		FromNetwork: eth,
		ToNetwork:   eth,
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    big.NewInt(1_000_000_000),
		Signer:      "0x1111111111111111111111111111111111111111",
	}
}

func TestQuoteDirectPathForNativePair(t *testing.T) {
	fake := &fakeCaller{rate: func(in *big.Int) *big.Int {
		return new(big.Int).Mul(in, big.NewInt(2000))
	}}
	client := newTestClient(fake, nil)

	quote, err := client.Quote(context.Background(), ethereumPair(t, "native", "USDC"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(fake.paths) == 0 || len(fake.paths[0]) != 2 {
		t.Fatalf("expected a direct 2-token path, got %v", fake.paths)
	}
	wrapped, _ := registry.WrappedNative(1)
	if fake.paths[0][0] != common.HexToAddress(wrapped) {
		t.Fatalf("native leg not substituted with wrapped native: %s", fake.paths[0][0])
	}
	want := new(big.Int).Mul(big.NewInt(1_000_000_000), big.NewInt(2000))
	if quote.ExpectedOut.Cmp(want) != 0 {
		t.Fatalf("ExpectedOut = %s, want %s", quote.ExpectedOut, want)
	}
	if quote.Hops() != 1 {
		t.Fatalf("Hops = %d, want 1", quote.Hops())
	}
}

func TestQuoteInsertsWrappedNativeIntermediate(t *testing.T) {
	fake := &fakeCaller{rate: func(in *big.Int) *big.Int {
		return new(big.Int).Set(in)
	}}
	client := newTestClient(fake, nil)

	quote, err := client.Quote(context.Background(), ethereumPair(t, "USDC", "DAI"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if len(fake.paths[0]) != 3 {
		t.Fatalf("expected wrapped-native intermediate, path = %v", fake.paths[0])
	}
	if len(quote.Path) != 3 || quote.Hops() != 2 {
		t.Fatalf("token path = %v", quote.Path)
	}
}

func TestQuotePriceImpactFromProbeSpread(t *testing.T) {
	full := big.NewInt(1_000_000_000)
	fake := &fakeCaller{rate: func(in *big.Int) *big.Int {
		// Small probe trades at 2000 per unit, the full size at 1800,
		// a 10% effective-rate degradation.
		if in.Cmp(full) < 0 {
			return new(big.Int).Mul(in, big.NewInt(2000))
		}
		return new(big.Int).Mul(in, big.NewInt(1800))
	}}
	client := newTestClient(fake, nil)

	quote, err := client.Quote(context.Background(), ethereumPair(t, "USDC", "native"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.PriceImpactPct < 9.9 || quote.PriceImpactPct > 10.1 {
		t.Fatalf("PriceImpactPct = %f, want ~10", quote.PriceImpactPct)
	}
}

func TestQuoteNoRouteOnRevert(t *testing.T) {
	fake := &fakeCaller{err: errRevert{}, rate: func(in *big.Int) *big.Int { return in }}
	client := newTestClient(fake, nil)

	_, err := client.Quote(context.Background(), ethereumPair(t, "USDC", "DAI"))
	if !swaperr.HasCode(err, swaperr.CodeNoRoute) {
		t.Fatalf("expected no-route, got %v", err)
	}
}

type errRevert struct{}

func (errRevert) Error() string { return "execution reverted" }

func TestSupportsRequiresRouterDeployment(t *testing.T) {
	client := newTestClient(&fakeCaller{}, nil)
	req := ethereumPair(t, "USDC", "DAI")

	if !client.Supports(req) {
		t.Fatal("expected mainnet support")
	}
	bsc, err := id.ParseNetwork("bsc")
	if err != nil {
		t.Fatal(err)
	}
	req.FromNetwork = bsc
	req.ToNetwork = bsc
	if client.Supports(req) {
		t.Fatal("uniswap has no bsc router; Supports should be false")
	}
	sol, err := id.ParseNetwork("solana")
	if err != nil {
		t.Fatal(err)
	}
	req.FromNetwork = sol
	if client.Supports(req) {
		t.Fatal("non-EVM networks are unsupported")
	}
}

func TestBuildSwapTxSelectsRouterEntrypoint(t *testing.T) {
	fake := &fakeCaller{rate: func(in *big.Int) *big.Int {
		return new(big.Int).Mul(in, big.NewInt(2))
	}}
	client := newTestClient(fake, map[string]bool{
		"0x6b175474e89094c44da98b954eedeac495271d0f": true, // DAI, for the fee-path case
	})

	cases := []struct {
		name   string
		from   string
		to     string
		method string
		value  bool
	}{
		{name: "native input", from: "native", to: "USDC", method: "swapExactETHForTokens", value: true},
		{name: "native output", from: "USDC", to: "native", method: "swapExactTokensForETH"},
		{name: "fee on transfer", from: "USDC", to: "DAI", method: "swapExactTokensForTokensSupportingFeeOnTransferTokens"},
		{name: "token to token", from: "USDC", to: "USDT", method: "swapExactTokensForTokens"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := ethereumPair(t, tc.from, tc.to)
			quote, err := client.Quote(context.Background(), req)
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			tx, err := client.BuildSwapTx(context.Background(), quote, venues.BuildOptions{
				Sender:       req.Signer,
				AmountOutMin: big.NewInt(1),
			})
			if err != nil {
				t.Fatalf("BuildSwapTx: %v", err)
			}
			wantID := routerABI.Methods[tc.method].ID
			if !bytes.Equal(tx.Data[:4], wantID) {
				t.Fatalf("selector mismatch for %s", tc.method)
			}
			if tc.value && tx.ValueBaseUnits.Cmp(req.AmountIn) != 0 {
				t.Fatalf("native input must carry value, got %s", tx.ValueBaseUnits)
			}
			if !tc.value && tx.ValueBaseUnits.Sign() != 0 {
				t.Fatalf("unexpected value %s", tx.ValueBaseUnits)
			}
			if tx.To != quote.Router {
				t.Fatalf("tx.To = %s, want router %s", tx.To, quote.Router)
			}
		})
	}
}

func TestBuildSwapTxRequiresMinOut(t *testing.T) {
	fake := &fakeCaller{rate: func(in *big.Int) *big.Int { return in }}
	client := newTestClient(fake, nil)

	quote, err := client.Quote(context.Background(), ethereumPair(t, "USDC", "USDT"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	_, err = client.BuildSwapTx(context.Background(), quote, venues.BuildOptions{Sender: "0x1111111111111111111111111111111111111111"})
	if !swaperr.HasCode(err, swaperr.CodeInternal) {
		t.Fatalf("expected error without a minimum output, got %v", err)
	}
}
