package wallet

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/model"
	"github.com/avelar/swapflow/internal/registry"
)

const (
	EnvSolanaPrivateKey = "SWAPFLOW_SOLANA_PRIVATE_KEY"
	EnvSolanaKeyFile    = "SWAPFLOW_SOLANA_KEY_FILE"
)

// SolanaRPC is the subset of the Solana RPC client the provider needs.
// *rpc.Client satisfies it.
type SolanaRPC interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solrpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*solrpc.GetSignatureStatusesResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solrpc.CommitmentType) (*solrpc.GetLatestBlockhashResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solrpc.CommitmentType) (*solrpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment solrpc.CommitmentType) (*solrpc.GetTokenAccountBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solrpc.GetAccountInfoResult, error)
}

type SolanaOptions struct {
	PrivateKey   solana.PrivateKey
	RPC          SolanaRPC
	RPCURL       string
	PollInterval time.Duration
	Confirm      func(tx model.TxRequest) bool
	Logger       zerolog.Logger
}

type SolanaProvider struct {
	key          solana.PrivateKey
	pub          solana.PublicKey
	rpc          SolanaRPC
	network      id.Network
	pollInterval time.Duration
	confirm      func(tx model.TxRequest) bool
	log          zerolog.Logger
	events       chan Event
}

// SolanaKeyFromEnv loads the signing key from the environment: a base58 key
// takes precedence over a solana-keygen JSON file.
func SolanaKeyFromEnv() (solana.PrivateKey, error) {
	if raw := strings.TrimSpace(os.Getenv(EnvSolanaPrivateKey)); raw != "" {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvSolanaPrivateKey, err)
		}
		return key, nil
	}
	if path := strings.TrimSpace(os.Getenv(EnvSolanaKeyFile)); path != "" {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", EnvSolanaKeyFile, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("missing solana signing key: set %s or %s", EnvSolanaPrivateKey, EnvSolanaKeyFile)
}

func NewSolanaProvider(opts SolanaOptions) (*SolanaProvider, error) {
	if len(opts.PrivateKey) == 0 {
		return nil, swaperr.New(swaperr.CodeSigner, "missing solana signing key")
	}
	if opts.RPC == nil {
		rpcURL := opts.RPCURL
		if rpcURL == "" {
			rpcURL = registry.SolanaMainnetRPC
		}
		opts.RPC = solrpc.New(rpcURL)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	network, err := id.ParseNetwork("solana")
	if err != nil {
		return nil, err
	}
	return &SolanaProvider{
		key:          opts.PrivateKey,
		pub:          opts.PrivateKey.PublicKey(),
		rpc:          opts.RPC,
		network:      network,
		pollInterval: opts.PollInterval,
		confirm:      opts.Confirm,
		log:          opts.Logger.With().Str("component", "wallet.solana").Logger(),
		events:       make(chan Event, 8),
	}, nil
}

func (p *SolanaProvider) Family() id.Family { return id.FamilySolana }

func (p *SolanaProvider) Accounts(ctx context.Context) ([]string, error) {
	return []string{p.pub.String()}, nil
}

func (p *SolanaProvider) Events() <-chan Event { return p.events }

func (p *SolanaProvider) ActiveNetwork(ctx context.Context) (id.Network, error) {
	return p.network, nil
}

func (p *SolanaProvider) RequestNetworkSwitch(ctx context.Context, network id.Network) error {
	if network.Equal(p.network) {
		return nil
	}
	return swaperr.New(swaperr.CodeNetworkSwitchRejected, "solana wallet cannot switch to "+network.Slug)
}

func (p *SolanaProvider) SignAndSend(ctx context.Context, txReq model.TxRequest) (string, error) {
	if txReq.SolanaTxBase64 == "" {
		return "", swaperr.New(swaperr.CodeInternal, "transaction request carries no solana payload")
	}
	if p.confirm != nil && !p.confirm(txReq) {
		return "", swaperr.New(swaperr.CodeSigner, "signature request declined")
	}
	raw, err := base64.StdEncoding.DecodeString(txReq.SolanaTxBase64)
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeInternal, "decode transaction payload", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeInternal, "deserialize transaction", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.pub) {
			return &p.key
		}
		return nil
	}); err != nil {
		return "", swaperr.Wrap(swaperr.CodeSigner, "sign transaction", err)
	}

	sig, err := p.rpc.SendTransactionWithOpts(ctx, tx, solrpc.TransactionOpts{
		PreflightCommitment: solrpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", swaperr.Wrap(swaperr.CodeUnavailable, "broadcast transaction", err)
	}
	p.log.Info().Str("network", p.network.Slug).Str("tx", sig.String()).Msg("transaction submitted")
	return sig.String(), nil
}

func (p *SolanaProvider) WaitConfirmed(ctx context.Context, network id.Network, txHash string) error {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return swaperr.Wrap(swaperr.CodeInternal, "parse transaction signature", err)
	}
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		statuses, err := p.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return swaperr.New(swaperr.CodeTransactionReverted, fmt.Sprintf("transaction failed on-chain: %v", status.Err))
			}
			switch status.ConfirmationStatus {
			case solrpc.ConfirmationStatusConfirmed, solrpc.ConfirmationStatusFinalized:
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return swaperr.Wrap(swaperr.CodeTimeout, "timed out waiting for confirmation", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *SolanaProvider) BalanceOf(ctx context.Context, tok id.Token, owner string) (*big.Int, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUsage, "parse owner address", err)
	}
	if tok.IsNative {
		balance, err := p.rpc.GetBalance(ctx, ownerKey, solrpc.CommitmentConfirmed)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.CodeUnavailable, "read native balance", err)
		}
		return new(big.Int).SetUint64(balance.Value), nil
	}
	mint, err := solana.PublicKeyFromBase58(tok.Address)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeUsage, "parse token mint", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mint)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.CodeInternal, "derive associated token address", err)
	}
	balance, err := p.rpc.GetTokenAccountBalance(ctx, ata, solrpc.CommitmentConfirmed)
	if err != nil {
		// A missing token account means a zero balance, not an outage.
		if strings.Contains(err.Error(), "could not find account") || strings.Contains(err.Error(), "not found") {
			return new(big.Int), nil
		}
		return nil, swaperr.Wrap(swaperr.CodeUnavailable, "read token balance", err)
	}
	amount, ok := new(big.Int).SetString(balance.Value.Amount, 10)
	if !ok {
		return nil, swaperr.New(swaperr.CodeUnavailable, "token balance is malformed")
	}
	return amount, nil
}

// BuildTransferTx constructs a native SOL or SPL transfer, creating the
// recipient's associated token account when it does not exist yet.
func (p *SolanaProvider) BuildTransferTx(ctx context.Context, tok id.Token, recipient string, amount *big.Int) (model.TxRequest, error) {
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeUsage, "parse recipient address", err)
	}
	if !amount.IsUint64() {
		return model.TxRequest{}, swaperr.New(swaperr.CodeInvalidAmount, "amount exceeds the representable lamport range")
	}

	var instructions []solana.Instruction
	if tok.IsNative {
		instructions = append(instructions, system.NewTransferInstruction(
			amount.Uint64(),
			p.pub,
			recipientKey,
		).Build())
	} else {
		mint, err := solana.PublicKeyFromBase58(tok.Address)
		if err != nil {
			return model.TxRequest{}, swaperr.Wrap(swaperr.CodeUsage, "parse token mint", err)
		}
		source, _, err := solana.FindAssociatedTokenAddress(p.pub, mint)
		if err != nil {
			return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "derive source token account", err)
		}
		dest, _, err := solana.FindAssociatedTokenAddress(recipientKey, mint)
		if err != nil {
			return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "derive destination token account", err)
		}
		info, err := p.rpc.GetAccountInfo(ctx, dest)
		if err != nil || info == nil || info.Value == nil {
			instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
				p.pub,
				recipientKey,
				mint,
			).Build())
		}
		instructions = append(instructions, token.NewTransferInstruction(
			amount.Uint64(),
			source,
			dest,
			p.pub,
			nil,
		).Build())
	}

	blockhash, err := p.rpc.GetLatestBlockhash(ctx, solrpc.CommitmentFinalized)
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeUnavailable, "fetch recent blockhash", err)
	}
	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(p.pub))
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "build transaction", err)
	}
	// Reserve the signature slots so the payload round-trips through the
	// wire encoding before signing.
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return model.TxRequest{}, swaperr.Wrap(swaperr.CodeInternal, "serialize transaction", err)
	}
	return model.TxRequest{
		Network:        p.network,
		SolanaTxBase64: base64.StdEncoding.EncodeToString(raw),
	}, nil
}
