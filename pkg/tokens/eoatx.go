package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/nerochain/aa-client/pkg/contracts"
	"github.com/nerochain/aa-client/pkg/signer"
)

// TxBackend is the node surface needed to send plain EOA transactions on
// top of the read-only Backend. *ethclient.Client satisfies it.
type TxBackend interface {
	contracts.Backend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EOAApprove sends a plain approve transaction from the controlling key
// itself, for flows where the allowance must come from the EOA rather than
// the abstracted wallet.
func (s *Service) EOAApprove(ctx context.Context, backend TxBackend, eoa *signer.EOA, chainID *big.Int, token, spender common.Address, amount decimal.Decimal) (common.Hash, error) {
	d, err := Decimals(ctx, s.backend, token)
	if err != nil {
		return common.Hash{}, err
	}
	units, err := ToMinorUnits(amount, d)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := contracts.Pack(contracts.ERC20, "approve", spender, units)
	if err != nil {
		return common.Hash{}, err
	}

	return s.sendLegacyTx(ctx, backend, eoa, chainID, token, data)
}

// EOATransfer moves tokens directly from the EOA, typically to fund the
// abstracted wallet before its first token-paid operation.
func (s *Service) EOATransfer(ctx context.Context, backend TxBackend, eoa *signer.EOA, chainID *big.Int, token, to common.Address, amount decimal.Decimal) (common.Hash, error) {
	d, err := Decimals(ctx, s.backend, token)
	if err != nil {
		return common.Hash{}, err
	}
	units, err := ToMinorUnits(amount, d)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := contracts.Pack(contracts.ERC20, "transfer", to, units)
	if err != nil {
		return common.Hash{}, err
	}

	return s.sendLegacyTx(ctx, backend, eoa, chainID, token, data)
}

func (s *Service) sendLegacyTx(ctx context.Context, backend TxBackend, eoa *signer.EOA, chainID *big.Int, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := backend.PendingNonceAt(ctx, eoa.Address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "fetch nonce")
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "suggest gas price")
	}
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: eoa.Address, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "estimate gas")
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), eoa.PrivateKey)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}

	s.logger.Info("eoa transaction sent", "tx", signed.Hash().Hex(), "to", to.Hex())
	return signed.Hash(), nil
}
