package tokens

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/nerochain/aa-client/pkg/contracts"
)

// Balance reads the raw minor-unit balance of owner for token.
func (s *Service) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return contracts.CallUint(ctx, s.backend, contracts.ERC20, token, "balanceOf", owner)
}

// Allowance reads the raw minor-unit allowance owner has granted spender.
func (s *Service) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return contracts.CallUint(ctx, s.backend, contracts.ERC20, token, "allowance", owner, spender)
}

// SufficientAllowance reports whether owner's allowance to spender covers
// amount. The comparison is exact in minor units.
func (s *Service) SufficientAllowance(ctx context.Context, token, owner, spender common.Address, amount decimal.Decimal) (bool, error) {
	allowance, err := s.Allowance(ctx, token, owner, spender)
	if err != nil {
		return false, err
	}

	d, err := Decimals(ctx, s.backend, token)
	if err != nil {
		return false, err
	}
	units, err := ToMinorUnits(amount, d)
	if err != nil {
		return false, err
	}

	return allowance.Cmp(units) >= 0, nil
}

// AllBalances reads owner's display-unit balance for every listed token in
// parallel. A token whose read fails reports "0"; a partial node outage
// should degrade the view, not blank it.
func (s *Service) AllBalances(ctx context.Context, owner common.Address, list []Token) map[common.Address]string {
	out := make(map[common.Address]string, len(list))
	results := make([]string, len(list))

	g, ctx := errgroup.WithContext(ctx)
	for i, t := range list {
		i, t := i, t
		g.Go(func() error {
			bal, err := s.Balance(ctx, t.Address, owner)
			if err != nil {
				s.logger.V(1).Info("balance read failed", "token", t.Address.Hex(), "err", err.Error())
				results[i] = "0"
				return nil
			}
			results[i] = FromMinorUnits(bal, t.Decimals).String()
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range list {
		out[t.Address] = results[i]
	}
	return out
}
