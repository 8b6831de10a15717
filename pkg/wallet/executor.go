package wallet

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/pkg/cache"
	"github.com/nerochain/aa-client/pkg/client"
	"github.com/nerochain/aa-client/pkg/contracts"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/signer"
	"github.com/nerochain/aa-client/pkg/tokens"
)

// Result is the normalized outcome of a wallet action. UserOpHash is always
// set. TransactionHash is empty when inclusion could not be observed within
// the wait window; Receipt is nil unless the bundler returned one.
type Result struct {
	UserOpHash      string
	TransactionHash string
	Receipt         *client.UserOperationReceipt
}

// Executor runs wallet actions. Identical in-flight actions collapse onto
// one submission: completed results stay shared for the pending window,
// failures are forgotten immediately so a retry submits fresh.
type Executor struct {
	provider *Provider
	pending  *cache.Group[*Result]
	window   time.Duration
	logger   logr.Logger
}

// NewExecutor wraps a provider.
func NewExecutor(p *Provider, cfg *config.Config, l logr.Logger) *Executor {
	return &Executor{
		provider: p,
		pending:  cache.NewGroup[*Result](),
		window:   cfg.PendingOpWindow,
		logger:   l.WithName("executor"),
	}
}

// actionKey identifies a submission. Two calls are duplicates only when the
// action, signer, arguments, payment type, token and gas multiplier all
// match; amounts compare by exact decimal string, never by float.
func actionKey(action string, eoa *signer.EOA, policy paymaster.Policy, args ...string) string {
	key := fmt.Sprintf("%s|%s|%d|%s|%d", action, eoa.Address.Hex(), policy.Type, policy.Token, policy.GasMultiplier)
	for _, a := range args {
		key += "|" + a
	}
	return key
}

func (e *Executor) run(ctx context.Context, key string, eoa *signer.EOA, target common.Address, data []byte, policy paymaster.Policy) (*Result, error) {
	return e.pending.Do(ctx, key, e.window, func() (*Result, error) {
		b, err := e.provider.Builder(ctx, eoa)
		if err != nil {
			return nil, err
		}

		op, err := b.Execute(ctx, target, big.NewInt(0), data, policy)
		if err != nil {
			return nil, err
		}

		hash, err := e.provider.bundler.SendUserOperation(ctx, op)
		if err != nil {
			return nil, err
		}

		return e.normalize(ctx, hash), nil
	})
}

// normalize reduces whatever the bundler yields to a Result. Inclusion
// evidence is taken in order of strength: the receipt, then a by-hash
// lookup, then the bare hash.
func (e *Executor) normalize(ctx context.Context, hash common.Hash) *Result {
	res := &Result{UserOpHash: hash.Hex()}

	receipt, err := e.provider.bundler.Wait(ctx, hash)
	if err == nil && receipt != nil {
		res.Receipt = receipt
		if receipt.Receipt != nil {
			res.TransactionHash = receipt.Receipt.TransactionHash.Hex()
		}
		return res
	}

	lookup, err := e.provider.bundler.GetUserOperationByHash(ctx, hash)
	if err == nil && lookup != nil && lookup.TransactionHash != (common.Hash{}) {
		res.TransactionHash = lookup.TransactionHash.Hex()
	}

	return res
}

// MintNFT mints an NFT with the given metadata URI to the recipient through
// the abstracted wallet.
func (e *Executor) MintNFT(ctx context.Context, eoa *signer.EOA, to common.Address, uri string, policy paymaster.Policy) (*Result, error) {
	data, err := contracts.Pack(contracts.ERC721, "mint", to, uri)
	if err != nil {
		return nil, err
	}

	key := actionKey("mint_nft", eoa, policy, to.Hex(), uri)
	return e.run(ctx, key, eoa, e.provider.cfg.NFTContract(), data, policy)
}

// MintToken mints amount (in whole-token units) of the configured test token
// to the recipient.
func (e *Executor) MintToken(ctx context.Context, eoa *signer.EOA, to common.Address, amount decimal.Decimal, policy paymaster.Policy) (*Result, error) {
	token := e.provider.cfg.TokenContract()
	units, err := e.minorUnits(ctx, token, amount)
	if err != nil {
		return nil, err
	}

	data, err := contracts.Pack(contracts.ERC20, "mint", to, units)
	if err != nil {
		return nil, err
	}

	key := actionKey("mint_token", eoa, policy, token.Hex(), to.Hex(), amount.String())
	return e.run(ctx, key, eoa, token, data, policy)
}

// TransferToken moves amount (in whole-token units) of token from the
// abstracted wallet to the recipient.
func (e *Executor) TransferToken(ctx context.Context, eoa *signer.EOA, token, to common.Address, amount decimal.Decimal, policy paymaster.Policy) (*Result, error) {
	units, err := e.minorUnits(ctx, token, amount)
	if err != nil {
		return nil, err
	}

	data, err := contracts.Pack(contracts.ERC20, "transfer", to, units)
	if err != nil {
		return nil, err
	}

	key := actionKey("transfer_token", eoa, policy, token.Hex(), to.Hex(), amount.String())
	return e.run(ctx, key, eoa, token, data, policy)
}

// ApproveToken grants the spender an allowance from the abstracted wallet.
// Approvals always run sponsored: paying gas in a token the wallet has not
// yet approved cannot work.
func (e *Executor) ApproveToken(ctx context.Context, eoa *signer.EOA, token, spender common.Address, amount decimal.Decimal, policy paymaster.Policy) (*Result, error) {
	policy = paymaster.SponsoredPolicy(policy.Credential)

	units, err := e.minorUnits(ctx, token, amount)
	if err != nil {
		return nil, err
	}

	data, err := contracts.Pack(contracts.ERC20, "approve", spender, units)
	if err != nil {
		return nil, err
	}

	key := actionKey("approve_token", eoa, policy, token.Hex(), spender.Hex(), amount.String())
	return e.run(ctx, key, eoa, token, data, policy)
}

func (e *Executor) minorUnits(ctx context.Context, token common.Address, amount decimal.Decimal) (*big.Int, error) {
	decimals, err := tokens.Decimals(ctx, e.provider.backend, token)
	if err != nil {
		return nil, err
	}
	return tokens.ToMinorUnits(amount, decimals)
}
