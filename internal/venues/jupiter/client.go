// Package jupiter is the order-routing venue for same-network Solana swaps.
package jupiter

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/httpx"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/venues"
)

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: registry.JupiterBaseURL}
}

// WithAPIKey attaches an api key for the hosted quote API's higher tiers.
func (c *Client) WithAPIKey(key string) *Client {
	c.apiKey = strings.TrimSpace(key)
	return c
}

func (c *Client) Name() string { return "jupiter" }

func (c *Client) Supports(req venues.QuoteRequest) bool {
	return !req.FromNetwork.IsEVM() && req.FromNetwork.Equal(req.ToNetwork)
}

type quoteResponse struct {
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label      string `json:"label"`
			OutputMint string `json:"outputMint"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// quoteURL builds the quote query. A non-negative slippageBps pins the
// route's enforced minimum; -1 leaves pricing unconstrained for discovery.
func (c *Client) quoteURL(req venues.QuoteRequest, slippageBps int64) string {
	vals := url.Values{}
	vals.Set("inputMint", req.FromToken.Address)
	vals.Set("outputMint", req.ToToken.Address)
	vals.Set("amount", req.AmountIn.String())
	vals.Set("swapMode", "ExactIn")
	if slippageBps >= 0 {
		vals.Set("slippageBps", strconv.FormatInt(slippageBps, 10))
	}
	return c.baseURL + "/quote?" + vals.Encode()
}

func (c *Client) fetchQuote(ctx context.Context, req venues.QuoteRequest, slippageBps int64) (quoteResponse, json.RawMessage, error) {
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteURL(req, slippageBps), nil)
	if err != nil {
		return quoteResponse{}, nil, swaperr.Wrap(swaperr.CodeInternal, "build jupiter quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-api-key", c.apiKey)
	}
	var raw json.RawMessage
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return quoteResponse{}, nil, err
	}
	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return quoteResponse{}, nil, swaperr.Wrap(swaperr.CodeUnavailable, "decode jupiter quote", err)
	}
	if resp.OutAmount == "" {
		return quoteResponse{}, nil, swaperr.New(swaperr.CodeNoRoute, "jupiter returned no route for pair")
	}
	return resp, raw, nil
}

func (c *Client) Quote(ctx context.Context, req venues.QuoteRequest) (model.Quote, error) {
	resp, _, err := c.fetchQuote(ctx, req, -1)
	if err != nil {
		return model.Quote{}, err
	}

	expectedOut, ok := new(big.Int).SetString(resp.OutAmount, 10)
	if !ok || expectedOut.Sign() <= 0 {
		return model.Quote{}, swaperr.New(swaperr.CodeUnavailable, "jupiter output amount is malformed")
	}

	impact, _ := strconv.ParseFloat(strings.TrimSpace(resp.PriceImpactPct), 64)
	if impact < 0 {
		impact = 0
	}

	return model.Quote{
		Venue:          c.Name(),
		Path:           c.pathFromPlan(req, resp),
		AmountIn:       new(big.Int).Set(req.AmountIn),
		ExpectedOut:    expectedOut,
		PriceImpactPct: impact * 100,
		EstimatedTime:  5 * time.Second,
	}, nil
}

// pathFromPlan keeps one token per distinct output mint so hop counting
// reflects the routed legs, not the number of split fills.
func (c *Client) pathFromPlan(req venues.QuoteRequest, resp quoteResponse) []id.Token {
	path := []id.Token{req.FromToken}
	for _, leg := range resp.RoutePlan {
		mint := leg.SwapInfo.OutputMint
		if mint == "" || mint == path[len(path)-1].Address {
			continue
		}
		token, err := id.ParseToken(mint, req.FromNetwork)
		if err != nil {
			token = id.Token{Network: req.FromNetwork.CAIP2, Address: mint}
		}
		path = append(path, token)
	}
	last := path[len(path)-1]
	if last.Address != req.ToToken.Address {
		path = append(path, req.ToToken)
	} else {
		path[len(path)-1] = req.ToToken
	}
	return path
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

func (c *Client) BuildSwapTx(ctx context.Context, quote model.Quote, opts venues.BuildOptions) (model.TxRequest, error) {
	if opts.Sender == "" {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUsage, "a sender public key is required to build a solana swap")
	}
	if opts.AmountOutMin == nil || opts.AmountOutMin.Sign() <= 0 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "minimum output amount is required")
	}
	if len(quote.Path) < 2 {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInternal, "quote path is incomplete")
	}
	network, err := id.ParseNetwork(quote.Path[0].Network)
	if err != nil {
		return model.TxRequest{}, err
	}

	// The swap endpoint consumes the raw quote document, so refresh it at
	// build time rather than carrying stale route state. The protected
	// minimum rides along as the document's slippageBps.
	req := venues.QuoteRequest{
		FromNetwork: network,
		ToNetwork:   network,
		FromToken:   quote.Path[0],
		ToToken:     quote.Path[len(quote.Path)-1],
		AmountIn:    quote.AmountIn,
	}
	_, raw, err := c.fetchQuote(ctx, req, venues.SlippageBps(quote.ExpectedOut, opts.AmountOutMin))
	if err != nil {
		return model.TxRequest{}, err
	}

	body, err := json.Marshal(swapRequest{
		QuoteResponse:    raw,
		UserPublicKey:    opts.Sender,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "encode jupiter swap request", err)
	}

	var headers map[string]string
	if c.apiKey != "" {
		headers = map[string]string{"x-api-key": c.apiKey}
	}
	var resp swapResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.baseURL+"/swap", body, headers, &resp); err != nil {
		return model.TxRequest{}, err
	}
	if resp.SwapTransaction == "" {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUnavailable, "jupiter returned no swap transaction")
	}

	return model.TxRequest{
		Network:        network,
		SolanaTxBase64: resp.SwapTransaction,
	}, nil
}
