package tokens

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ApprovalState is where a token-payment setup currently stands.
type ApprovalState int

const (
	// Unchecked means no allowance has been inspected yet.
	Unchecked ApprovalState = iota
	// EOAApprovalNeeded means the controlling key must approve the spender.
	EOAApprovalNeeded
	// TransferNeeded means the abstracted wallet lacks the token balance and
	// must be funded first.
	TransferNeeded
	// AAApprovalNeeded means the abstracted wallet holds enough tokens but
	// has not approved the spender.
	AAApprovalNeeded
	// Complete means the spender can pull the required amount.
	Complete
)

func (s ApprovalState) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case EOAApprovalNeeded:
		return "eoa_approval_needed"
	case TransferNeeded:
		return "transfer_needed"
	case AAApprovalNeeded:
		return "aa_approval_needed"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// PaymentPath selects whose allowance makes the payment work.
type PaymentPath int

const (
	// PathEOA pays from the controlling key's own balance.
	PathEOA PaymentPath = iota
	// PathAAWallet pays from the abstracted wallet's balance.
	PathAAWallet
)

// NextApprovalStep inspects allowances and balances and returns the next
// state of the approval flow for paying amount of token to spender. One
// decision point serves both payment paths; the path only selects which
// checks run.
func (s *Service) NextApprovalStep(
	ctx context.Context,
	path PaymentPath,
	token common.Address,
	eoaOwner common.Address,
	aaWallet common.Address,
	spender common.Address,
	amount decimal.Decimal,
) (ApprovalState, error) {
	switch path {
	case PathEOA:
		ok, err := s.SufficientAllowance(ctx, token, eoaOwner, spender, amount)
		if err != nil {
			return Unchecked, err
		}
		if ok {
			return Complete, nil
		}
		return EOAApprovalNeeded, nil

	case PathAAWallet:
		ok, err := s.SufficientAllowance(ctx, token, aaWallet, spender, amount)
		if err != nil {
			return Unchecked, err
		}
		if ok {
			return Complete, nil
		}

		balance, err := s.Balance(ctx, token, aaWallet)
		if err != nil {
			return Unchecked, err
		}
		d, err := Decimals(ctx, s.backend, token)
		if err != nil {
			return Unchecked, err
		}
		units, err := ToMinorUnits(amount, d)
		if err != nil {
			return Unchecked, err
		}

		if balance.Cmp(units) >= 0 {
			return AAApprovalNeeded, nil
		}
		return TransferNeeded, nil
	}

	return Unchecked, nil
}
