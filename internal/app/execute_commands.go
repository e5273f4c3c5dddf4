package app

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avelar/swapflow/internal/approval"
	"github.com/avelar/swapflow/internal/chainctx"
	"github.com/avelar/swapflow/internal/engine"
	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/wallet"
)

type executeFlags struct {
	simulate     bool
	yes          bool
	noProtection bool
	recover      bool
	keySource    string
}

func registerExecuteFlags(cmd *cobra.Command, f *executeFlags) {
	cmd.Flags().BoolVar(&f.simulate, "simulate", false, "Dry-run the transaction before broadcasting")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Approve signature requests without prompting")
	cmd.Flags().StringVar(&f.keySource, "key-source", wallet.KeySourceAuto, "Signing key source: auto, env, file, or keystore")
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var args swapArgs
	var flags executeFlags
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a token swap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := buildSwapRequest(args)
			if err != nil {
				return err
			}
			if flags.noProtection {
				fmt.Fprintln(s.runner.stderr, "WARNING: slippage protection disabled. The swap accepts nearly any output amount and can be sandwiched for the full input.")
			}

			provider, err := s.buildWalletProvider(req.FromNetwork, flags)
			if err != nil {
				return err
			}
			if req.Signer == "" {
				req.Signer, err = defaultAccount(cmd, provider)
				if err != nil {
					return err
				}
			}

			eng, cleanup, err := s.buildEngine(provider)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := engine.Options{
				Simulate:             flags.simulate,
				NoSlippageProtection: flags.noProtection,
				ConfirmTimeout:       s.settings.ConfirmTimeout,
			}
			attempt, err := eng.Swap(cmd.Context(), req, opts)
			if err == nil {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), attempt, nil)
			}
			if !flags.recover || !swaperr.HasCode(err, swaperr.CodeTransactionReverted) {
				return err
			}

			candidate, recErr := eng.PlanRecovery(cmd.Context(), req, err)
			if recErr != nil {
				return recErr
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), recoveryView(req, attempt, candidate), []string{
				fmt.Sprintf("swap reverted; a route exists at %.0f%% of the input amount. Re-run with --amount %s to take it.",
					candidate.Fraction*100, id.FormatBaseUnits(candidate.AmountIn.String(), req.FromToken.Decimals)),
			})
		},
	}
	registerRouteFlags(cmd, &args)
	registerExecuteFlags(cmd, &flags)
	cmd.Flags().BoolVar(&flags.noProtection, "no-slippage-protection", false, "Disable the minimum-output floor (dangerous)")
	cmd.Flags().BoolVar(&flags.recover, "recover", false, "After a revert, search for a reduced-size route instead of failing")
	return cmd
}

func (s *runtimeState) newTransferCommand() *cobra.Command {
	var args swapArgs
	var flags executeFlags
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Send a token to another wallet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			args.toNetwork = args.fromNetwork
			args.toToken = args.fromToken
			req, err := buildSwapRequest(args)
			if err != nil {
				return err
			}
			if req.Recipient == "" {
				return swaperr.New(swaperr.CodeUsage, "--recipient is required")
			}

			provider, err := s.buildWalletProvider(req.FromNetwork, flags)
			if err != nil {
				return err
			}
			if req.Signer == "" {
				req.Signer, err = defaultAccount(cmd, provider)
				if err != nil {
					return err
				}
			}

			eng, cleanup, err := s.buildEngine(provider)
			if err != nil {
				return err
			}
			defer cleanup()

			attempt, err := eng.Transfer(cmd.Context(), req, engine.Options{
				Simulate:       flags.simulate,
				ConfirmTimeout: s.settings.ConfirmTimeout,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), attempt, nil)
		},
	}
	cmd.Flags().StringVar(&args.fromNetwork, "network", "", "Network (slug, chain id, or CAIP-2)")
	cmd.Flags().StringVar(&args.fromToken, "token", "", "Token to send (symbol or address)")
	cmd.Flags().StringVar(&args.amount, "amount", "", "Amount in token units (decimal)")
	cmd.Flags().StringVar(&args.signer, "signer", "", "Sending wallet address")
	cmd.Flags().StringVar(&args.recipient, "recipient", "", "Destination wallet")
	_ = cmd.MarkFlagRequired("network")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("recipient")
	registerExecuteFlags(cmd, &flags)
	return cmd
}

// buildEngine assembles the execution engine around a wallet provider. The
// cleanup stops the network watcher; the attempt store is closed by Run.
func (s *runtimeState) buildEngine(provider wallet.Provider) (*engine.Engine, func(), error) {
	store, err := s.openStore()
	if err != nil {
		return nil, nil, err
	}

	var approvals engine.Approver
	if evm, ok := provider.(*wallet.EVMProvider); ok {
		approvals = approval.NewManager(evm, evm, s.log)
	}
	chains := chainctx.NewManager(provider, s.log)
	eng := engine.New(s.aggregator, approvals, chains, provider, store, s.log)
	return eng, chains.Stop, nil
}

func (s *runtimeState) buildWalletProvider(network id.Network, flags executeFlags) (wallet.Provider, error) {
	confirm := s.confirmFunc(flags.yes)
	if network.Family() == id.FamilySolana {
		key, err := wallet.SolanaKeyFromEnv()
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeSigner, "load solana signing key", err)
		}
		return wallet.NewSolanaProvider(wallet.SolanaOptions{
			PrivateKey: key,
			Confirm:    confirm,
			Logger:     s.log,
		})
	}

	signer, err := wallet.NewLocalSignerFromEnv(flags.keySource)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeSigner, "load signing key", err)
	}
	overrides := make(map[int64]string, len(s.settings.RPCOverrides)+1)
	for chainID, url := range s.settings.RPCOverrides {
		overrides[chainID] = url
	}
	if strings.TrimSpace(s.flags.RPCURL) != "" && network.EVMChainID != 0 {
		overrides[network.EVMChainID] = strings.TrimSpace(s.flags.RPCURL)
	}
	return wallet.NewEVMProvider(wallet.EVMOptions{
		Signer:       signer,
		RPCOverrides: overrides,
		Confirm:      confirm,
		Logger:       s.log,
	})
}

// confirmFunc gates every signature request. --yes approves everything;
// otherwise the user is prompted on stderr and answers on stdin.
func (s *runtimeState) confirmFunc(yes bool) func(tx model.TxRequest) bool {
	if yes {
		return nil
	}
	reader := bufio.NewReader(s.runner.stdin)
	return func(tx model.TxRequest) bool {
		target := tx.To
		if target == "" {
			target = "solana transaction"
		}
		fmt.Fprintf(s.runner.stderr, "Sign and send transaction to %s on %s? [y/N]: ", target, tx.Network.Slug)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func defaultAccount(cmd *cobra.Command, provider wallet.Provider) (string, error) {
	accounts, err := provider.Accounts(cmd.Context())
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", swaperr.New(swaperr.CodeSigner, "wallet exposes no accounts")
	}
	return accounts[0], nil
}

type recoveryProposal struct {
	Attempt     *engine.Attempt  `json:"attempt"`
	Fraction    float64          `json:"fraction"`
	AmountIn    model.AmountInfo `json:"amount_in"`
	ExpectedOut model.AmountInfo `json:"expected_out"`
	AmountMin   model.AmountInfo `json:"amount_out_min"`
	SlippagePct float64          `json:"slippage_pct"`
	Venue       string           `json:"venue"`
}

func recoveryView(req model.SwapRequest, attempt *engine.Attempt, candidate engine.RecoveryCandidate) recoveryProposal {
	return recoveryProposal{
		Attempt:     attempt,
		Fraction:    candidate.Fraction,
		AmountIn:    amountInfo(candidate.AmountIn.String(), req.FromToken.Decimals),
		ExpectedOut: amountInfo(candidate.Quote.ExpectedOut.String(), req.ToToken.Decimals),
		AmountMin:   amountInfo(candidate.MinOut.String(), req.ToToken.Decimals),
		SlippagePct: candidate.SlippagePct,
		Venue:       candidate.Quote.Venue,
	}
}
