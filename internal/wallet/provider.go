// Package wallet abstracts transaction signing and submission behind a
// capability interface so the engine can treat EVM and Solana wallets
// uniformly.
package wallet

import (
	"context"
	"math/big"

	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
)

type EventType string

const (
	EventNetworkChanged  EventType = "network-changed"
	EventAccountsChanged EventType = "accounts-changed"
)

type Event struct {
	Type     EventType
	Network  id.Network
	Accounts []string
}

// Provider is the wallet capability surface. SignAndSend returns the
// transaction hash (or signature, on Solana) immediately after broadcast;
// confirmation is a separate WaitConfirmed call so callers can journal the
// submitted state first.
type Provider interface {
	Family() id.Family
	Accounts(ctx context.Context) ([]string, error)
	ActiveNetwork(ctx context.Context) (id.Network, error)
	RequestNetworkSwitch(ctx context.Context, network id.Network) error
	SignAndSend(ctx context.Context, tx model.TxRequest) (string, error)
	WaitConfirmed(ctx context.Context, network id.Network, txHash string) error
	Events() <-chan Event
}

// BalanceReader is implemented by providers that can read token balances
// for the pre-flight check.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token id.Token, owner string) (*big.Int, error)
}

// TransferBuilder is implemented by providers that can construct a plain
// token transfer for the direct-transfer path.
type TransferBuilder interface {
	BuildTransferTx(ctx context.Context, token id.Token, recipient string, amount *big.Int) (model.TxRequest, error)
}
