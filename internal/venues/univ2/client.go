// Package univ2 implements quoting and swap construction against Uniswap
// V2-compatible routers. The uniswap and pancake venues are thin
// configurations of this client; they differ only in router deployments and
// known fee-on-transfer token lists.
package univ2

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues"
)

// Caller is the subset of the RPC client needed for read-only router calls.
// *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var routerABI = mustParseABI(registry.UniswapV2RouterABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

const swapDeadline = 20 * time.Minute

// Config parameterizes the client for a concrete venue.
type Config struct {
	Name                string
	RouterFor           func(chainID int64) (string, bool)
	FeeOnTransferTokens map[string]bool // lowercase token addresses
	RPCOverrides        map[int64]string
	Dial                func(ctx context.Context, rawurl string) (Caller, error)
}

type Client struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	callers map[int64]Caller
}

func New(cfg Config) *Client {
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, rawurl string) (Caller, error) {
			return ethclient.DialContext(ctx, rawurl)
		}
	}
	return &Client{
		cfg:     cfg,
		now:     time.Now,
		callers: make(map[int64]Caller),
	}
}

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Supports(req venues.QuoteRequest) bool {
	if !req.FromNetwork.IsEVM() || !req.FromNetwork.Equal(req.ToNetwork) {
		return false
	}
	_, ok := c.cfg.RouterFor(req.FromNetwork.EVMChainID)
	return ok
}

func (c *Client) caller(ctx context.Context, chainID int64) (Caller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller, ok := c.callers[chainID]; ok {
		return caller, nil
	}
	rpcURL, err := registry.ResolveRPCURL(c.cfg.RPCOverrides[chainID], chainID)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnsupported, "resolve rpc endpoint", err)
	}
	caller, err := c.cfg.Dial(ctx, rpcURL)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "dial rpc endpoint", err)
	}
	c.callers[chainID] = caller
	return caller, nil
}

// addressPath maps the token pair to the router address path, substituting
// the wrapped-native deployment for the native pseudo-token and inserting it
// as the intermediate hop when neither side is (wrapped) native.
func (c *Client) addressPath(req venues.QuoteRequest) ([]common.Address, error) {
	wrapped, ok := registry.WrappedNative(req.FromNetwork.EVMChainID)
	if !ok {
		return nil, swaperr.New(swaperr.CodeUnsupported, "no wrapped-native deployment for network "+req.FromNetwork.Slug)
	}
	wrappedAddr := common.HexToAddress(wrapped)

	from := wrappedAddr
	if !req.FromToken.IsNative {
		from = common.HexToAddress(req.FromToken.Address)
	}
	to := wrappedAddr
	if !req.ToToken.IsNative {
		to = common.HexToAddress(req.ToToken.Address)
	}
	if from == to {
		return nil, swaperr.New(swaperr.CodeUnsupported, "from and to resolve to the same pool token")
	}
	if from == wrappedAddr || to == wrappedAddr {
		return []common.Address{from, to}, nil
	}
	return []common.Address{from, wrappedAddr, to}, nil
}

func (c *Client) getAmountsOut(ctx context.Context, caller Caller, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInternal, "encode getAmountsOut", err)
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeNoRoute, "router has no path for pair", err)
	}
	outputs, err := routerABI.Unpack("getAmountsOut", raw)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "decode getAmountsOut", err)
	}
	amounts, ok := outputs[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, swaperr.New(swaperr.CodeUnavailable, "router returned malformed amounts")
	}
	return amounts[len(amounts)-1], nil
}

func (c *Client) Quote(ctx context.Context, req venues.QuoteRequest) (model.Quote, error) {
	if !c.Supports(req) {
		return model.Quote{}, swaperr.New(swaperr.CodeUnsupported, c.cfg.Name+" has no router on this network")
	}
	routerHex, _ := c.cfg.RouterFor(req.FromNetwork.EVMChainID)
	router := common.HexToAddress(routerHex)

	caller, err := c.caller(ctx, req.FromNetwork.EVMChainID)
	if err != nil {
		return model.Quote{}, err
	}
	path, err := c.addressPath(req)
	if err != nil {
		return model.Quote{}, err
	}

	expectedOut, err := c.getAmountsOut(ctx, caller, router, req.AmountIn, path)
	if err != nil {
		return model.Quote{}, err
	}
	if expectedOut.Sign() <= 0 {
		return model.Quote{}, swaperr.New(swaperr.CodeNoRoute, "router returned zero output for pair")
	}

	impact := c.priceImpact(ctx, caller, router, req.AmountIn, expectedOut, path)

	return model.Quote{
		Venue:          c.cfg.Name,
		Path:           c.tokenPath(req, path),
		AmountIn:       new(big.Int).Set(req.AmountIn),
		ExpectedOut:    expectedOut,
		PriceImpactPct: impact,
		FeeOnTransfer:  c.pathHasFeeOnTransfer(req),
		Router:         routerHex,
		EstimatedTime:  15 * time.Second,
	}, nil
}

// priceImpact compares the effective rate of the full trade against the rate
// of a small probe trade on the same path. A probe failure degrades to zero
// impact rather than failing the quote.
func (c *Client) priceImpact(ctx context.Context, caller Caller, router common.Address, amountIn, expectedOut *big.Int, path []common.Address) float64 {
	probeIn := new(big.Int).Div(amountIn, big.NewInt(1000))
	if probeIn.Sign() == 0 {
		return 0
	}
	probeOut, err := c.getAmountsOut(ctx, caller, router, probeIn, path)
	if err != nil || probeOut.Sign() <= 0 {
		return 0
	}

	effective := new(big.Float).Quo(new(big.Float).SetInt(expectedOut), new(big.Float).SetInt(amountIn))
	spot := new(big.Float).Quo(new(big.Float).SetInt(probeOut), new(big.Float).SetInt(probeIn))
	if spot.Sign() <= 0 {
		return 0
	}
	ratio, _ := new(big.Float).Quo(effective, spot).Float64()
	impact := (1 - ratio) * 100
	if impact < 0 {
		return 0
	}
	return impact
}

func (c *Client) tokenPath(req venues.QuoteRequest, path []common.Address) []id.Token {
	tokens := []id.Token{req.FromToken}
	if len(path) == 3 {
		wrapped, err := id.ParseToken(strings.ToLower(path[1].Hex()), req.FromNetwork)
		if err != nil {
			wrapped = id.Token{Network: req.FromNetwork.CAIP2, Address: strings.ToLower(path[1].Hex()), Decimals: 18}
		}
		tokens = append(tokens, wrapped)
	}
	return append(tokens, req.ToToken)
}

func (c *Client) pathHasFeeOnTransfer(req venues.QuoteRequest) bool {
	if c.cfg.FeeOnTransferTokens == nil {
		return false
	}
	return c.cfg.FeeOnTransferTokens[strings.ToLower(req.FromToken.Address)] ||
		c.cfg.FeeOnTransferTokens[strings.ToLower(req.ToToken.Address)]
}

func (c *Client) BuildSwapTx(ctx context.Context, quote model.Quote, opts venues.BuildOptions) (model.TxRequest, error) {
	if len(quote.Path) < 2 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "quote path is incomplete")
	}
	fromToken := quote.Path[0]
	toToken := quote.Path[len(quote.Path)-1]
	network, err := id.ParseNetwork(fromToken.Network)
	if err != nil {
		return model.TxRequest{}, err
	}
	if opts.AmountOutMin == nil || opts.AmountOutMin.Sign() <= 0 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "minimum output amount is required")
	}

	wrapped, ok := registry.WrappedNative(network.EVMChainID)
	if !ok {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUnsupported, "no wrapped-native deployment for network "+network.Slug)
	}
	path := make([]common.Address, 0, len(quote.Path))
	for _, token := range quote.Path {
		if token.IsNative {
			path = append(path, common.HexToAddress(wrapped))
			continue
		}
		path = append(path, common.HexToAddress(token.Address))
	}

	recipient := opts.Recipient
	if recipient == "" {
		recipient = opts.Sender
	}
	to := common.HexToAddress(recipient)
	deadline := big.NewInt(c.now().Add(swapDeadline).Unix())

	var (
		data  []byte
		value = new(big.Int)
	)
	switch {
	case fromToken.IsNative:
		data, err = routerABI.Pack("swapExactETHForTokens", opts.AmountOutMin, path, to, deadline)
		value = new(big.Int).Set(quote.AmountIn)
	case toToken.IsNative:
		data, err = routerABI.Pack("swapExactTokensForETH", quote.AmountIn, opts.AmountOutMin, path, to, deadline)
	case quote.FeeOnTransfer:
		data, err = routerABI.Pack("swapExactTokensForTokensSupportingFeeOnTransferTokens", quote.AmountIn, opts.AmountOutMin, path, to, deadline)
	default:
		data, err = routerABI.Pack("swapExactTokensForTokens", quote.AmountIn, opts.AmountOutMin, path, to, deadline)
	}
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "encode swap calldata", err)
	}

	return model.TxRequest{
		Network:        network,
		To:             quote.Router,
		Data:           data,
		ValueBaseUnits: value,
	}, nil
}
