// Package approval grants ERC-20 spending allowances to swap routers before
// execution. Approvals are unlimited (MaxUint256) so repeat swaps of the
// same token skip this step entirely.
package approval

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
	"github.com/avelar/swapflow/internal/retry"
)

// MaxUint256 is the unlimited approval amount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var erc20ABI = mustParseABI(registry.ERC20MinimalABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Reader reads on-chain allowances.
type Reader interface {
	Allowance(ctx context.Context, token id.Token, owner, spender string) (*big.Int, error)
}

// Submitter signs and lands the approval transaction.
type Submitter interface {
	SignAndSend(ctx context.Context, tx model.TxRequest) (string, error)
	WaitConfirmed(ctx context.Context, network id.Network, txHash string) error
}

type State struct {
	Token    id.Token
	Owner    string
	Spender  string
	Current  *big.Int
	Required *big.Int
}

func (s State) NeedsApproval() bool {
	if s.Current == nil {
		return true
	}
	return s.Current.Cmp(s.Required) < 0
}

type Manager struct {
	reader    Reader
	submitter Submitter
	// policy bounds the post-confirmation allowance re-reads. RPC nodes
	// can serve a stale allowance for a few seconds after the approval
	// lands.
	policy retry.Policy
	log    zerolog.Logger
}

func NewManager(reader Reader, submitter Submitter, logger zerolog.Logger) *Manager {
	return &Manager{
		reader:    reader,
		submitter: submitter,
		policy: retry.Policy{
			MaxAttempts: 6,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    4 * time.Second,
		},
		log: logger.With().Str("component", "approval").Logger(),
	}
}

// EnsureApproval makes sure spender can move required base units of token
// from owner. It reports whether an approval transaction was submitted.
//
// If the approval confirmed but allowance reads stay stale past the retry
// budget, it proceeds optimistically: the router's own transferFrom is the
// authoritative check.
func (m *Manager) EnsureApproval(ctx context.Context, token id.Token, owner, spender string, required *big.Int) (bool, error) {
	if token.IsNative {
		return false, nil
	}
	if strings.TrimSpace(spender) == "" {
		return false, swaperr.New(swaperr.CodeInternal, "missing spender for approval")
	}

	current, err := m.reader.Allowance(ctx, token, owner, spender)
	if err != nil {
		return false, err
	}
	state := State{Token: token, Owner: owner, Spender: spender, Current: current, Required: required}
	if !state.NeedsApproval() {
		return false, nil
	}

	network, err := id.ParseNetwork(token.Network)
	if err != nil {
		return false, err
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), MaxUint256)
	if err != nil {
		return false, swaperr.Wrap(swaperr.CodeInternal, "encode approve", err)
	}

	m.log.Info().Str("token", token.Symbol).Str("spender", spender).Msg("submitting approval")
	hash, err := m.submitter.SignAndSend(ctx, model.TxRequest{
		Network:        network,
		To:             token.Address,
		Data:           data,
		ValueBaseUnits: new(big.Int),
	})
	if err != nil {
		if swaperr.HasCode(err, swaperr.CodeSigner) {
			return false, swaperr.Wrap(swaperr.CodeApprovalRejected, "approval signature declined", err)
		}
		return false, err
	}
	if err := m.submitter.WaitConfirmed(ctx, network, hash); err != nil {
		return true, err
	}

	err = retry.Do(ctx, m.policy, func(ctx context.Context) error {
		fresh, err := m.reader.Allowance(ctx, token, owner, spender)
		if err != nil {
			return err
		}
		if fresh.Cmp(required) < 0 {
			return swaperr.New(swaperr.CodeInsufficientAllowance, "allowance read is still stale")
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return true, swaperr.Wrap(swaperr.CodeTimeout, "approval verification interrupted", ctx.Err())
		}
		// Confirmed on-chain but reads lag; the swap proceeds and the
		// router call settles the question.
		m.log.Warn().Str("token", token.Symbol).Msg("allowance reads stayed stale after confirmed approval; proceeding")
	}
	return true, nil
}
