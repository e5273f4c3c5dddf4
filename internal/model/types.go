package model

import (
	"math/big"
	"time"

	"github.com/avelar/swapflow/internal/id"
)

const EnvelopeVersion = "v1"

// SwapRequest is immutable per attempt: a user edit produces a new request
// and invalidates any in-flight quote or attempt built from the old one.
type SwapRequest struct {
	FromNetwork       id.Network
	ToNetwork         id.Network
	FromToken         id.Token
	ToToken           id.Token
	FromAmountDecimal string
	Signer            string
	Recipient         string
}

// EffectiveRecipient is the recipient or, when unset, the signer.
func (r SwapRequest) EffectiveRecipient() string {
	if r.Recipient != "" {
		return r.Recipient
	}
	return r.Signer
}

// CrossNetwork reports whether the route leaves the source network.
func (r SwapRequest) CrossNetwork() bool {
	return !r.FromNetwork.Equal(r.ToNetwork)
}

// CrossFamily reports whether the route crosses settlement families.
func (r SwapRequest) CrossFamily() bool {
	return r.FromNetwork.Family() != r.ToNetwork.Family()
}

// TxRequest is a venue-built transaction ready for the wallet provider.
// Exactly one of the EVM fields or SolanaTxBase64 is populated, keyed by the
// network's settlement family.
type TxRequest struct {
	Network        id.Network
	To             string
	Data           []byte
	ValueBaseUnits *big.Int
	GasLimit       uint64
	SolanaTxBase64 string
}

// Quote is valid only for the exact (fromToken, toToken, amountBaseUnits) it
// was computed for. Generation ties it to the aggregator request that
// produced it; a stale generation means the quote must be discarded.
type Quote struct {
	Venue          string
	Path           []id.Token
	AmountIn       *big.Int
	ExpectedOut    *big.Int
	PriceImpactPct float64
	FeeOnTransfer  bool
	Router         string
	Generation     uint64
	EstimatedTime  time.Duration
	Tx             *TxRequest
}

// Hops is the number of trade legs in the path.
func (q Quote) Hops() int {
	if len(q.Path) < 2 {
		return 0
	}
	return len(q.Path) - 1
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// Envelope is the CLI output wrapper.
type Envelope struct {
	Version  string     `json:"version"`
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error"`
	Warnings []string   `json:"warnings,omitempty"`
	Meta     Meta       `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}

// QuoteView is the rendered form of a quote plus the slippage decision.
type QuoteView struct {
	Venue          string     `json:"venue"`
	Path           []string   `json:"path"`
	InputAmount    AmountInfo `json:"input_amount"`
	ExpectedOut    AmountInfo `json:"expected_out"`
	AmountOutMin   AmountInfo `json:"amount_out_min"`
	SlippagePct    float64    `json:"slippage_pct"`
	PriceImpactPct float64    `json:"price_impact_pct"`
	FeeOnTransfer  bool       `json:"fee_on_transfer"`
	Router         string     `json:"router,omitempty"`
	EstimatedTimeS int64      `json:"estimated_time_s,omitempty"`
	CrossNetwork   bool       `json:"cross_network"`
}
