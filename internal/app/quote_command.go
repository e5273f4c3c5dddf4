package app

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/avelar/swapflow/internal/engine"
	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
)

type swapArgs struct {
	fromNetwork string
	toNetwork   string
	fromToken   string
	toToken     string
	amount      string
	signer      string
	recipient   string
}

func registerRouteFlags(cmd *cobra.Command, a *swapArgs) {
	cmd.Flags().StringVar(&a.fromNetwork, "from-network", "", "Source network (slug, chain id, or CAIP-2)")
	cmd.Flags().StringVar(&a.toNetwork, "to-network", "", "Destination network (defaults to the source)")
	cmd.Flags().StringVar(&a.fromToken, "from-token", "", "Input token (symbol or address)")
	cmd.Flags().StringVar(&a.toToken, "to-token", "", "Output token (symbol or address)")
	cmd.Flags().StringVar(&a.amount, "amount", "", "Input amount in token units (decimal)")
	cmd.Flags().StringVar(&a.signer, "signer", "", "Sending wallet address")
	cmd.Flags().StringVar(&a.recipient, "recipient", "", "Recipient (defaults to the signer)")
	_ = cmd.MarkFlagRequired("from-network")
	_ = cmd.MarkFlagRequired("from-token")
	_ = cmd.MarkFlagRequired("to-token")
	_ = cmd.MarkFlagRequired("amount")
}

func buildSwapRequest(a swapArgs) (model.SwapRequest, error) {
	fromNetwork, err := id.ParseNetwork(a.fromNetwork)
	if err != nil {
		return model.SwapRequest{}, err
	}
	toNetwork := fromNetwork
	if strings.TrimSpace(a.toNetwork) != "" {
		toNetwork, err = id.ParseNetwork(a.toNetwork)
		if err != nil {
			return model.SwapRequest{}, err
		}
	}
	fromToken, err := id.ParseToken(a.fromToken, fromNetwork)
	if err != nil {
		return model.SwapRequest{}, err
	}
	toToken, err := id.ParseToken(a.toToken, toNetwork)
	if err != nil {
		return model.SwapRequest{}, err
	}
	if strings.TrimSpace(a.amount) == "" {
		return model.SwapRequest{}, swaperr.New(swaperr.CodeUsage, "--amount is required")
	}
	return model.SwapRequest{
		FromNetwork:       fromNetwork,
		ToNetwork:         toNetwork,
		FromToken:         fromToken,
		ToToken:           toToken,
		FromAmountDecimal: strings.TrimSpace(a.amount),
		Signer:            strings.TrimSpace(a.signer),
		Recipient:         strings.TrimSpace(a.recipient),
	}, nil
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var args swapArgs
	var noProtection bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap without executing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildSwapRequest(args)
			if err != nil {
				return err
			}
			eng := engine.New(s.aggregator, nil, nil, nil, nil, s.log)
			plan, err := eng.PlanSwap(cmd.Context(), req, engine.Options{NoSlippageProtection: noProtection})
			if err != nil {
				return err
			}
			view := quoteView(req, plan)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, plan.Warnings)
		},
	}
	registerRouteFlags(cmd, &args)
	cmd.Flags().BoolVar(&noProtection, "no-slippage-protection", false, "Disable the minimum-output floor (dangerous)")
	return cmd
}

func quoteView(req model.SwapRequest, plan engine.Plan) model.QuoteView {
	path := make([]string, 0, len(plan.Quote.Path))
	for _, tok := range plan.Quote.Path {
		label := tok.Symbol
		if label == "" {
			label = tok.Address
		}
		path = append(path, label)
	}
	return model.QuoteView{
		Venue:          plan.Quote.Venue,
		Path:           path,
		InputAmount:    amountInfo(plan.AmountIn.String(), req.FromToken.Decimals),
		ExpectedOut:    amountInfo(plan.Quote.ExpectedOut.String(), req.ToToken.Decimals),
		AmountOutMin:   amountInfo(plan.MinOut.String(), req.ToToken.Decimals),
		SlippagePct:    plan.SlippagePct,
		PriceImpactPct: plan.Quote.PriceImpactPct,
		FeeOnTransfer:  plan.Quote.FeeOnTransfer,
		Router:         plan.Quote.Router,
		EstimatedTimeS: int64(plan.Quote.EstimatedTime.Seconds()),
		CrossNetwork:   req.CrossNetwork(),
	}
}

func amountInfo(baseUnits string, decimals int) model.AmountInfo {
	return model.AmountInfo{
		AmountBaseUnits: baseUnits,
		AmountDecimal:   id.FormatBaseUnits(baseUnits, decimals),
		Decimals:        decimals,
	}
}
