// Package app wires the CLI: command tree, configuration, output envelope,
// and the assembly of venues, wallet providers, and the execution engine.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/avelar/swapflow/internal/config"
	"github.com/avelar/swapflow/internal/engine"
	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/httpx"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/out"
	"github.com/avelar/swapflow/internal/venues"
	"github.com/avelar/swapflow/internal/venues/jupiter"
	"github.com/avelar/swapflow/internal/venues/lifi"
	"github.com/avelar/swapflow/internal/venues/pancake"
	"github.com/avelar/swapflow/internal/venues/uniswap"
	"github.com/avelar/swapflow/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithStreams(os.Stdout, os.Stderr, os.Stdin)
}

func NewRunnerWithStreams(stdout, stderr io.Writer, stdin io.Reader) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  stdin,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         zerolog.Logger
	root        *cobra.Command
	lastCommand string

	aggregator *venues.Aggregator
	store      *engine.Store
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if state.store != nil {
		_ = state.store.Close()
	}
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return swaperr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain swap quoting and execution CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return swaperr.Wrap(swaperr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			s.log = newLogger(s.runner.stderr, settings.LogLevel)

			if s.aggregator == nil {
				httpClient := httpx.New(settings.Timeout, settings.Retries)
				bridge := lifi.New(httpClient).WithAPIKey(settings.LiFiAPIKey)
				amms := []venues.Venue{
					uniswap.New(settings.RPCOverrides),
					pancake.New(settings.RPCOverrides),
					jupiter.New(httpClient).WithAPIKey(settings.JupiterAPIKey),
				}
				s.aggregator = venues.NewAggregator(bridge, amms, s.log)
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return swaperr.Wrap(swaperr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Venue request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per venue request")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC endpoint override for the source network")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVarP(&s.flags.Verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newTransferCommand())
	cmd.AddCommand(s.newAttemptsCommand())
	cmd.AddCommand(s.newVenuesCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
}

func (s *runtimeState) openStore() (*engine.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	store, err := engine.OpenStore(s.settings.AttemptStorePath, s.settings.AttemptLockPath)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInternal, "open attempt journal", err)
	}
	s.store = store
	return store, nil
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.Meta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if typed, ok := swaperr.As(err); ok {
		message = typed.Message
		if typed.Cause != nil {
			message = fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    swaperr.ExitCode(err),
			Type:    errorTypeName(err),
			Message: message,
		},
		Meta: model.Meta{
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func errorTypeName(err error) string {
	typed, ok := swaperr.As(err)
	if !ok {
		return "internal_error"
	}
	switch typed.Code {
	case swaperr.CodeUsage:
		return "usage_error"
	case swaperr.CodeAuth:
		return "auth_error"
	case swaperr.CodeRateLimited:
		return "rate_limited"
	case swaperr.CodeUnavailable:
		return "venue_unavailable"
	case swaperr.CodeUnsupported:
		return "unsupported"
	case swaperr.CodeInvalidAmount:
		return "invalid_amount"
	case swaperr.CodeNoRoute:
		return "no_route"
	case swaperr.CodeStaleQuote:
		return "stale_quote"
	case swaperr.CodeApprovalRejected:
		return "approval_rejected"
	case swaperr.CodeInsufficientAllowance:
		return "insufficient_allowance"
	case swaperr.CodeNetworkSwitchRejected:
		return "network_switch_rejected"
	case swaperr.CodeNetworkSwitchTimeout:
		return "network_switch_timeout"
	case swaperr.CodeTransactionReverted:
		return "transaction_reverted"
	case swaperr.CodeSameWalletTransfer:
		return "same_wallet_transfer"
	case swaperr.CodeInsufficientBalance:
		return "insufficient_balance"
	case swaperr.CodeNoRecoverableRoute:
		return "no_recoverable_route"
	case swaperr.CodeSigner:
		return "signer_error"
	case swaperr.CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := swaperr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return swaperr.Wrap(swaperr.CodeUsage, "invalid command input", err)
	}
	return swaperr.Wrap(swaperr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}
