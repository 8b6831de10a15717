// Package wallet is the top of the stack: it owns the shared RPC clients,
// caches one builder per controlling key and runs wallet actions with
// duplicate-submission protection.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/pkg/account"
	"github.com/nerochain/aa-client/pkg/client"
	"github.com/nerochain/aa-client/pkg/contracts"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/signer"
)

// Provider holds the process-wide node, bundler and paymaster connections
// and a builder per controlling key. Builders are expensive to set up, so a
// cache hit only refreshes the credential and hands the builder back.
type Provider struct {
	cfg       *config.Config
	eth       *ethclient.Client
	backend   contracts.Backend
	bundler   *client.Client
	paymaster *paymaster.Client
	builders  *xsync.MapOf[common.Address, *account.Builder]
	building  singleflight.Group
	logger    logr.Logger
}

// NewProvider dials the node, bundler and paymaster endpoints from cfg.
func NewProvider(ctx context.Context, cfg *config.Config, l logr.Logger) (*Provider, error) {
	eth, err := ethclient.DialContext(ctx, cfg.EthClientURL)
	if err != nil {
		return nil, errors.Wrap(err, "dial eth client")
	}

	bundler, err := client.Dial(ctx, cfg.BundlerURL, cfg.EntryPoint(), cfg.ReceiptPollInterval, cfg.ReceiptWaitTimeout, l)
	if err != nil {
		eth.Close()
		return nil, err
	}

	pm, err := paymaster.Dial(ctx, cfg.PaymasterURL, cfg.EntryPoint(), l)
	if err != nil {
		eth.Close()
		return nil, err
	}

	return &Provider{
		cfg:       cfg,
		eth:       eth,
		backend:   eth,
		bundler:   bundler,
		paymaster: pm,
		builders:  xsync.NewMapOf[common.Address, *account.Builder](),
		logger:    l.WithName("wallet"),
	}, nil
}

// Eth exposes the shared node connection.
func (p *Provider) Eth() *ethclient.Client { return p.eth }

// Bundler exposes the shared bundler connection.
func (p *Provider) Bundler() *client.Client { return p.bundler }

// Paymaster exposes the shared paymaster connection.
func (p *Provider) Paymaster() *paymaster.Client { return p.paymaster }

// Builder returns the builder for eoa, creating it on first use. Concurrent
// first calls for the same key share one construction.
func (p *Provider) Builder(ctx context.Context, eoa *signer.EOA) (*account.Builder, error) {
	if b, ok := p.builders.Load(eoa.Address); ok {
		b.SetCredential(p.cfg.Credential())
		return b, nil
	}

	v, err, _ := p.building.Do(eoa.Address.Hex(), func() (interface{}, error) {
		if b, ok := p.builders.Load(eoa.Address); ok {
			return b, nil
		}

		gas := func(multiplier int) account.GasParams {
			g := p.cfg.GasParams(multiplier)
			return account.GasParams{
				CallGasLimit:         g.CallGasLimit,
				VerificationGasLimit: g.VerificationGasLimit,
				PreVerificationGas:   g.PreVerificationGas,
				MaxFeePerGas:         g.MaxFeePerGas,
				MaxPriorityFeePerGas: g.MaxPriorityFeePerGas,
			}
		}

		b, err := account.New(
			ctx,
			eoa,
			p.backend,
			p.paymaster,
			p.cfg.EntryPoint(),
			p.cfg.AccountFactory(),
			big.NewInt(p.cfg.ChainID),
			gas,
			p.cfg.Credential(),
			p.logger,
		)
		if err != nil {
			return nil, err
		}

		p.builders.Store(eoa.Address, b)
		p.logger.Info("builder created", "owner", eoa.Address.Hex(), "wallet", b.Sender().Hex())
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	b := v.(*account.Builder)
	b.SetCredential(p.cfg.Credential())
	return b, nil
}

// WalletAddress returns the abstracted wallet address controlled by eoa.
func (p *Provider) WalletAddress(ctx context.Context, eoa *signer.EOA) (common.Address, error) {
	b, err := p.Builder(ctx, eoa)
	if err != nil {
		return common.Address{}, err
	}
	return b.Sender(), nil
}

// Close releases the node connection and the credential store.
func (p *Provider) Close() error {
	p.eth.Close()
	return p.cfg.Close()
}
