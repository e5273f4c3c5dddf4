package wallet

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
)

// Backend is the subset of the RPC client the provider needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type EVMOptions struct {
	Signer        Signer
	RPCOverrides  map[int64]string
	GasMultiplier float64
	PollInterval  time.Duration
	// Confirm gates every signature request. A nil Confirm approves
	// everything; returning false declines without touching the network.
	Confirm func(tx model.TxRequest) bool
	Dial    func(ctx context.Context, rawurl string) (Backend, error)
	Logger  zerolog.Logger
}

type EVMProvider struct {
	signer        Signer
	rpcOverrides  map[int64]string
	gasMultiplier float64
	pollInterval  time.Duration
	confirm       func(tx model.TxRequest) bool
	dial          func(ctx context.Context, rawurl string) (Backend, error)
	log           zerolog.Logger

	mu       sync.Mutex
	backends map[int64]Backend
	active   id.Network
	events   chan Event
}

func NewEVMProvider(opts EVMOptions) (*EVMProvider, error) {
	if opts.Signer == nil {
		return nil, swaperr.New(swaperr.CodeSigner, "missing signer")
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, rawurl string) (Backend, error) {
			return ethclient.DialContext(ctx, rawurl)
		}
	}
	return &EVMProvider{
		signer:        opts.Signer,
		rpcOverrides:  opts.RPCOverrides,
		gasMultiplier: opts.GasMultiplier,
		pollInterval:  opts.PollInterval,
		confirm:       opts.Confirm,
		dial:          opts.Dial,
		log:           opts.Logger.With().Str("component", "wallet.evm").Logger(),
		backends:      make(map[int64]Backend),
		events:        make(chan Event, 8),
	}, nil
}

func (p *EVMProvider) Family() id.Family { return id.FamilyEVM }

func (p *EVMProvider) Accounts(ctx context.Context) ([]string, error) {
	return []string{p.signer.Address().Hex()}, nil
}

func (p *EVMProvider) Events() <-chan Event { return p.events }

func (p *EVMProvider) ActiveNetwork(ctx context.Context) (id.Network, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active.CAIP2 == "" {
		return id.Network{}, swaperr.New(swaperr.CodeUsage, "no active network; request a network switch first")
	}
	return p.active, nil
}

// RequestNetworkSwitch verifies the endpoint actually serves the requested
// chain before adopting it, so a misconfigured RPC override can never cause
// a submission on the wrong network.
func (p *EVMProvider) RequestNetworkSwitch(ctx context.Context, network id.Network) error {
	if !network.IsEVM() {
		return swaperr.New(swaperr.CodeNetworkSwitchRejected, "wallet cannot switch to non-EVM network "+network.Slug)
	}
	backend, err := p.backend(ctx, network.EVMChainID)
	if err != nil {
		return err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return swaperr.Wrap(swaperr.CodeUnavailable, "read chain id", err)
	}
	if chainID.Int64() != network.EVMChainID {
		return swaperr.New(swaperr.CodeNetworkSwitchRejected,
			"rpc endpoint serves chain "+chainID.String()+", not "+network.Slug)
	}

	p.mu.Lock()
	changed := !p.active.Equal(network)
	p.active = network
	p.mu.Unlock()
	if changed {
		p.emit(Event{Type: EventNetworkChanged, Network: network})
		p.log.Info().Str("network", network.Slug).Msg("active network switched")
	}
	return nil
}

func (p *EVMProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *EVMProvider) backend(ctx context.Context, chainID int64) (Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if backend, ok := p.backends[chainID]; ok {
		return backend, nil
	}
	rpcURL, err := registry.ResolveRPCURL(p.rpcOverrides[chainID], chainID)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnsupported, "resolve rpc endpoint", err)
	}
	backend, err := p.dial(ctx, rpcURL)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "connect rpc", err)
	}
	p.backends[chainID] = backend
	return backend, nil
}

// Simulate runs the transaction through eth_call and decodes any revert.
func (p *EVMProvider) Simulate(ctx context.Context, tx model.TxRequest) error {
	backend, err := p.backend(ctx, tx.Network.EVMChainID)
	if err != nil {
		return err
	}
	msg, err := p.callMsg(tx)
	if err != nil {
		return err
	}
	if _, err := backend.CallContract(ctx, msg, nil); err != nil {
		return wrapRevertError(swaperr.CodeTransactionReverted, "simulate transaction (eth_call)", err)
	}
	return nil
}

// BalanceOf reads an ERC-20 or native balance.
func (p *EVMProvider) BalanceOf(ctx context.Context, token id.Token, owner string) (*big.Int, error) {
	backend, err := p.backend(ctx, mustChainID(token.Network))
	if err != nil {
		return nil, err
	}
	ownerAddr := common.HexToAddress(owner)
	if token.IsNative {
		balance, err := backend.BalanceAt(ctx, ownerAddr, nil)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeUnavailable, "read native balance", err)
		}
		return balance, nil
	}
	data, err := erc20ABI.Pack("balanceOf", ownerAddr)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInternal, "encode balanceOf", err)
	}
	tokenAddr := common.HexToAddress(token.Address)
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "read token balance", err)
	}
	outputs, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "decode balanceOf", err)
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, swaperr.New(swaperr.CodeUnavailable, "balanceOf returned a non-integer")
	}
	return balance, nil
}

func (p *EVMProvider) callMsg(tx model.TxRequest) (ethereum.CallMsg, error) {
	if strings.TrimSpace(tx.To) == "" || !common.IsHexAddress(strings.TrimSpace(tx.To)) {
		return ethereum.CallMsg{}, swaperr.New(swaperr.CodeUsage, "transaction target is not a valid address")
	}
	target := common.HexToAddress(strings.TrimSpace(tx.To))
	value := tx.ValueBaseUnits
	if value == nil {
		value = new(big.Int)
	}
	return ethereum.CallMsg{
		From:  p.signer.Address(),
		To:    &target,
		Value: value,
		Data:  tx.Data,
	}, nil
}

func (p *EVMProvider) SignAndSend(ctx context.Context, tx model.TxRequest) (string, error) {
	p.mu.Lock()
	active := p.active
	p.mu.Unlock()
	if !active.Equal(tx.Network) {
		return "", swaperr.New(swaperr.CodeInternal,
			"refusing to submit: active network is "+active.Slug+", transaction targets "+tx.Network.Slug)
	}
	if p.confirm != nil && !p.confirm(tx) {
		return "", swaperr.New(swaperr.CodeSigner, "signature request declined")
	}

	backend, err := p.backend(ctx, tx.Network.EVMChainID)
	if err != nil {
		return "", err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeUnavailable, "read chain id", err)
	}
	msg, err := p.callMsg(tx)
	if err != nil {
		return "", err
	}

	gasLimit := tx.GasLimit
	if gasLimit == 0 {
		estimated, err := backend.EstimateGas(ctx, msg)
		if err != nil {
			return "", wrapRevertError(swaperr.CodeTransactionReverted, "estimate gas", err)
		}
		gasLimit = uint64(float64(estimated) * p.gasMultiplier)
	}

	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000) // 2 gwei fallback
	}
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := backend.PendingNonceAt(ctx, p.signer.Address())
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeUnavailable, "fetch nonce", err)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	})
	signed, err := p.signer.SignTx(chainID, unsigned)
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeSigner, "sign transaction", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return "", wrapRevertError(swaperr.CodeUnavailable, "broadcast transaction", err)
	}
	hash := signed.Hash().Hex()
	p.log.Info().Str("network", tx.Network.Slug).Str("tx", hash).Msg("transaction submitted")
	return hash, nil
}

// WaitConfirmed polls for the receipt until confirmation, revert, or the
// context deadline. Transient polling failures are ignored until timeout.
func (p *EVMProvider) WaitConfirmed(ctx context.Context, network id.Network, txHash string) error {
	backend, err := p.backend(ctx, network.EVMChainID)
	if err != nil {
		return err
	}
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return swaperr.New(swaperr.CodeTransactionReverted, "transaction reverted on-chain")
		}
		select {
		case <-ctx.Done():
			return swaperr.Wrap(swaperr.CodeTimeout, "timed out waiting for receipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

func mustChainID(caip2 string) int64 {
	network, err := id.ParseNetwork(caip2)
	if err != nil {
		return 0
	}
	return network.EVMChainID
}

// BuildTransferTx constructs a plain native or ERC-20 transfer.
func (p *EVMProvider) BuildTransferTx(ctx context.Context, token id.Token, recipient string, amount *big.Int) (model.TxRequest, error) {
	network, err := id.ParseNetwork(token.Network)
	if err != nil {
		return model.TxRequest{}, err
	}
	if !common.IsHexAddress(recipient) {
		return model.TxRequest{}, swaperr.New(swaperr.CodeUsage, "recipient is not a valid address")
	}
	if token.IsNative {
		return model.TxRequest{
			Network:        network,
			To:             recipient,
			ValueBaseUnits: new(big.Int).Set(amount),
			GasLimit:       21_000,
		}, nil
	}
	data, err := erc20ABI.Pack("transfer", common.HexToAddress(recipient), amount)
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "encode transfer", err)
	}
	return model.TxRequest{
		Network:        network,
		To:             token.Address,
		Data:           data,
		ValueBaseUnits: new(big.Int),
	}, nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (p *EVMProvider) Allowance(ctx context.Context, token id.Token, owner, spender string) (*big.Int, error) {
	backend, err := p.backend(ctx, mustChainID(token.Network))
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInternal, "encode allowance", err)
	}
	tokenAddr := common.HexToAddress(token.Address)
	raw, err := backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "read allowance", err)
	}
	outputs, err := erc20ABI.Unpack("allowance", raw)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "decode allowance", err)
	}
	allowance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, swaperr.New(swaperr.CodeUnavailable, "allowance returned a non-integer")
	}
	return allowance, nil
}
