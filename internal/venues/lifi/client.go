// Package lifi is the cross-network bridge/aggregator venue. It is the only
// venue that can leave a network or cross settlement families, and it also
// backstops same-network swaps on networks without local AMM coverage.
package lifi

import (
	"context"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/httpx"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues"
)

// quoteOnlySender is a deterministic placeholder for price discovery before
// a wallet is known.
const quoteOnlySender = "0x0000000000000000000000000000000000000001"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.LiFiBaseURL, now: time.Now}
}

// WithAPIKey attaches an api key for higher rate limits. Anonymous access
// works with tighter quotas.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = strings.TrimSpace(key)
	return c
}

func (c *Client) Name() string { return "lifi" }

func (c *Client) Supports(req venues.QuoteRequest) bool {
	// The aggregator service quotes within and across both settlement
	// families; nothing to pre-filter beyond well-formed networks.
	return req.FromNetwork.CAIP2 != "" && req.ToNetwork.CAIP2 != ""
}

type quoteResponse struct {
	Estimate struct {
		ToAmount          string `json:"toAmount"`
		ToAmountMin       string `json:"toAmountMin"`
		ApprovalAddress   string `json:"approvalAddress"`
		FromAmountUSD     string `json:"fromAmountUSD"`
		ToAmountUSD       string `json:"toAmountUSD"`
		ExecutionDuration int64  `json:"executionDuration"`
	} `json:"estimate"`
	IncludedSteps []struct {
		Action struct {
			ToChainID int64 `json:"toChainId"`
			ToToken   struct {
				Address  string `json:"address"`
				Symbol   string `json:"symbol"`
				Decimals int    `json:"decimals"`
			} `json:"toToken"`
		} `json:"action"`
	} `json:"includedSteps"`
	TransactionRequest struct {
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int64  `json:"chainId"`
	} `json:"transactionRequest"`
}

func chainKey(network id.Network) string {
	if network.IsEVM() {
		return strconv.FormatInt(network.EVMChainID, 10)
	}
	return "SOL"
}

func tokenKey(token id.Token) string {
	if token.IsNative && strings.HasPrefix(token.Network, "eip155:") {
		return id.NativePlaceholderAddress
	}
	return token.Address
}

func (c *Client) Quote(ctx context.Context, req venues.QuoteRequest) (model.Quote, error) {
	sender := strings.TrimSpace(req.Signer)
	if sender == "" {
		sender = quoteOnlySender
	}
	resp, err := c.quoteRaw(ctx, req, sender, req.Recipient, -1)
	if err != nil {
		return model.Quote{}, err
	}

	expectedOut, ok := new(big.Int).SetString(resp.Estimate.ToAmount, 10)
	if !ok || expectedOut.Sign() < 0 {
		return model.Quote{}, swaperr.New(swaperr.CodeUnavailable, "lifi quote output amount is malformed")
	}

	return model.Quote{
		Venue:          c.Name(),
		Path:           c.pathFromSteps(req, resp),
		AmountIn:       new(big.Int).Set(req.AmountIn),
		ExpectedOut:    expectedOut,
		PriceImpactPct: impactFromUSD(resp.Estimate.FromAmountUSD, resp.Estimate.ToAmountUSD),
		Router:         resp.Estimate.ApprovalAddress,
		EstimatedTime:  time.Duration(resp.Estimate.ExecutionDuration) * time.Second,
		Tx:             c.txFromResponse(req, resp),
	}, nil
}

// BuildSwapTx refreshes the route with the real sender and the protected
// minimum folded in as the aggregator's slippage tolerance. The discovery
// quote's embedded transaction is priced for a placeholder sender and the
// service's default tolerance, so it is never submitted as-is.
func (c *Client) BuildSwapTx(ctx context.Context, quote model.Quote, opts venues.BuildOptions) (model.TxRequest, error) {
	sender := strings.TrimSpace(opts.Sender)
	if sender == "" {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUsage, "a sender address is required to build a bridge transaction")
	}
	if opts.AmountOutMin == nil || opts.AmountOutMin.Sign() <= 0 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "minimum output amount is required")
	}
	if len(quote.Path) < 2 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "quote path is incomplete")
	}
	fromNetwork, err := id.ParseNetwork(quote.Path[0].Network)
	if err != nil {
		return model.TxRequest{}, err
	}
	toNetwork, err := id.ParseNetwork(quote.Path[len(quote.Path)-1].Network)
	if err != nil {
		return model.TxRequest{}, err
	}

	req := venues.QuoteRequest{
		FromNetwork: fromNetwork,
		ToNetwork:   toNetwork,
		FromToken:   quote.Path[0],
		ToToken:     quote.Path[len(quote.Path)-1],
		AmountIn:    quote.AmountIn,
	}
	resp, err := c.quoteRaw(ctx, req, sender, opts.Recipient, venues.SlippageBps(quote.ExpectedOut, opts.AmountOutMin))
	if err != nil {
		return model.TxRequest{}, err
	}
	tx := c.txFromResponse(req, resp)
	if tx == nil {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUnavailable, "lifi returned no transaction request for the route")
	}
	return *tx, nil
}

// quoteRaw queries /quote. A non-negative slippageBps is forwarded as the
// request's fractional slippage parameter; -1 leaves the service default.
func (c *Client) quoteRaw(ctx context.Context, req venues.QuoteRequest, sender, recipient string, slippageBps int64) (quoteResponse, error) {
	vals := url.Values{}
	vals.Set("fromChain", chainKey(req.FromNetwork))
	vals.Set("toChain", chainKey(req.ToNetwork))
	vals.Set("fromToken", tokenKey(req.FromToken))
	vals.Set("toToken", tokenKey(req.ToToken))
	vals.Set("fromAmount", req.AmountIn.String())
	vals.Set("fromAddress", sender)
	if recipient != "" && !strings.EqualFold(recipient, sender) {
		vals.Set("toAddress", recipient)
	}
	if slippageBps >= 0 {
		vals.Set("slippage", strconv.FormatFloat(float64(slippageBps)/10000, 'f', -1, 64))
	}

	endpoint := c.baseURL + "/quote?" + vals.Encode()
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return quoteResponse{}, swaperr.Wrap(swaperr.CodeInternal, "build lifi quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-lifi-api-key", c.apiKey)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return quoteResponse{}, err
	}
	if resp.Estimate.ToAmount == "" {
		return quoteResponse{}, swaperr.New(swaperr.CodeNoRoute, "lifi returned no route for pair")
	}
	return resp, nil
}

func (c *Client) pathFromSteps(req venues.QuoteRequest, resp quoteResponse) []id.Token {
	path := []id.Token{req.FromToken}
	for _, step := range resp.IncludedSteps {
		hop := id.Token{
			Network:  "eip155:" + strconv.FormatInt(step.Action.ToChainID, 10),
			Address:  strings.ToLower(step.Action.ToToken.Address),
			Symbol:   step.Action.ToToken.Symbol,
			Decimals: step.Action.ToToken.Decimals,
		}
		last := path[len(path)-1]
		if !last.Equal(hop) {
			path = append(path, hop)
		}
	}
	last := path[len(path)-1]
	if !last.Equal(req.ToToken) {
		path = append(path, req.ToToken)
	}
	return path
}

func (c *Client) txFromResponse(req venues.QuoteRequest, resp quoteResponse) *model.TxRequest {
	if resp.TransactionRequest.To == "" && resp.TransactionRequest.Data == "" {
		return nil
	}
	if !req.FromNetwork.IsEVM() {
		// Solana-origin routes deliver a base64 transaction in the data field.
		return &model.TxRequest{
			Network:        req.FromNetwork,
			SolanaTxBase64: resp.TransactionRequest.Data,
		}
	}
	value := new(big.Int)
	raw := strings.TrimSpace(resp.TransactionRequest.Value)
	if raw != "" {
		if strings.HasPrefix(raw, "0x") {
			value.SetString(strings.TrimPrefix(raw, "0x"), 16)
		} else {
			value.SetString(raw, 10)
		}
	}
	return &model.TxRequest{
		Network:        req.FromNetwork,
		To:             resp.TransactionRequest.To,
		Data:           common.FromHex(resp.TransactionRequest.Data),
		ValueBaseUnits: value,
	}
}

func impactFromUSD(fromUSD, toUSD string) float64 {
	from, err1 := strconv.ParseFloat(strings.TrimSpace(fromUSD), 64)
	to, err2 := strconv.ParseFloat(strings.TrimSpace(toUSD), 64)
	if err1 != nil || err2 != nil || from <= 0 {
		return 0
	}
	impact := (1 - to/from) * 100
	if impact < 0 {
		return 0
	}
	return impact
}
