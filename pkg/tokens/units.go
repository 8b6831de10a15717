// Package tokens covers the ERC-20 side of the wallet: paymaster token
// discovery, balances, allowances, unit conversion and the approval flow.
package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/nerochain/aa-client/pkg/contracts"
)

// Decimals reads the decimals of an ERC-20 token.
func Decimals(ctx context.Context, backend contracts.Backend, token common.Address) (uint8, error) {
	res, err := contracts.Call(ctx, backend, contracts.ERC20, token, "decimals")
	if err != nil {
		return 0, err
	}

	d, ok := res[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals: unexpected output type %T", res[0])
	}
	return d, nil
}

// ToMinorUnits converts a whole-token amount to minor units exactly. Amounts
// with more fractional digits than the token carries are rejected rather
// than rounded.
func ToMinorUnits(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	shifted := amount.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, errors.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// FromMinorUnits converts minor units back to a whole-token amount.
func FromMinorUnits(units *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(units, 0).Shift(-int32(decimals))
}
