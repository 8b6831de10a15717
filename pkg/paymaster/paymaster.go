// Package paymaster models the gas payment policy for a single user
// operation and the direct RPC surface of the paymaster service.
package paymaster

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/nerochain/aa-client/pkg/userop"
)

// PaymentType selects who pays for an operation's gas.
type PaymentType int

const (
	// Sponsored means the paymaster covers gas.
	Sponsored PaymentType = iota
	// Prepay means the sender pays gas in an ERC-20 token upfront.
	Prepay
	// Postpay means the sender pays gas in an ERC-20 token after execution.
	Postpay
)

func (t PaymentType) String() string {
	switch t {
	case Sponsored:
		return "sponsored"
	case Prepay:
		return "prepay"
	case Postpay:
		return "postpay"
	default:
		return "unknown"
	}
}

// Policy is the complete payment configuration for one operation. It is an
// immutable value passed into assembly, never state carried on the builder,
// so a previous call's policy cannot leak into the next.
type Policy struct {
	Type          PaymentType
	Credential    string
	Token         common.Address
	GasMultiplier int // percent, 0 or 100 = configured defaults
}

// SponsoredPolicy is the policy forced onto approval operations: an approval
// that unlocks token payment cannot itself be paid in that token.
func SponsoredPolicy(credential string) Policy {
	return Policy{Type: Sponsored, Credential: credential}
}

type sponsorContext struct {
	Type  int    `json:"type"`
	Token string `json:"token,omitempty"`
}

func (p Policy) sponsorContext() sponsorContext {
	sc := sponsorContext{Type: int(p.Type)}
	if p.Type != Sponsored && p.Token != (common.Address{}) {
		sc.Token = p.Token.Hex()
	}
	return sc
}

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Client talks to the paymaster RPC endpoint directly, bypassing the bundler.
type Client struct {
	rpc        rpcCaller
	entryPoint common.Address
	logger     logr.Logger
}

// Dial connects to the paymaster endpoint.
func Dial(ctx context.Context, url string, entryPoint common.Address, l logr.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "dial paymaster")
	}

	return NewClient(c, entryPoint, l), nil
}

// NewClient wraps an existing RPC connection; tests inject a fake caller.
func NewClient(caller rpcCaller, entryPoint common.Address, l logr.Logger) *Client {
	return &Client{rpc: caller, entryPoint: entryPoint, logger: l.WithName("paymaster")}
}

type sponsorResult struct {
	PaymasterAndData     string `json:"paymasterAndData"`
	PreVerificationGas   string `json:"preVerificationGas"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	CallGasLimit         string `json:"callGasLimit"`
}

// Sponsor asks the paymaster to pay for op under the given policy and writes
// the returned paymasterAndData blob (and any gas overrides) onto op. Errors
// propagate: without paymaster data a non-sponsored operation cannot proceed.
func (c *Client) Sponsor(ctx context.Context, op *userop.UserOperation, policy Policy) error {
	var res sponsorResult
	err := c.rpc.CallContext(ctx, &res, "pm_sponsor_userop",
		op, policy.Credential, c.entryPoint.Hex(), policy.sponsorContext())
	if err != nil {
		return errors.Wrap(err, "pm_sponsor_userop")
	}
	if res.PaymasterAndData == "" {
		return errors.New("paymaster returned empty paymasterAndData")
	}

	blob, err := hexutil.Decode(res.PaymasterAndData)
	if err != nil {
		return errors.Wrap(err, "decode paymasterAndData")
	}
	op.PaymasterAndData = blob

	// The paymaster may tighten gas fields; apply only what it returned.
	for _, f := range []struct {
		raw string
		dst **big.Int
	}{
		{res.PreVerificationGas, &op.PreVerificationGas},
		{res.VerificationGasLimit, &op.VerificationGasLimit},
		{res.CallGasLimit, &op.CallGasLimit},
	} {
		if f.raw == "" {
			continue
		}
		v, err := hexutil.DecodeBig(f.raw)
		if err != nil {
			c.logger.Error(err, "ignoring malformed gas override", "value", f.raw)
			continue
		}
		*f.dst = v
	}

	return nil
}

// minimalUserOp is the synthetic operation sent with pm_supported_tokens.
// Nonce stays zero so the paymaster skips nonce validation.
func minimalUserOp(sender common.Address) map[string]string {
	return map[string]string{
		"sender":               sender.Hex(),
		"nonce":                "0x0",
		"initCode":             "0x",
		"callData":             "0x",
		"callGasLimit":         "0x88b8",
		"verificationGasLimit": "0x33450",
		"preVerificationGas":   "0xc350",
		"maxFeePerGas":         "0x2162553062",
		"maxPriorityFeePerGas": "0x40dbcf36",
		"paymasterAndData":     "0x",
		"signature":            "0x",
	}
}

// SupportedTokens is the low-overhead probe for the paymaster's accepted
// token list. The raw result is returned untyped; the token service owns
// normalization. Callers must fail soft on error or empty result.
func (c *Client) SupportedTokens(ctx context.Context, sender common.Address, credential string) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.rpc.CallContext(ctx, &res, "pm_supported_tokens",
		minimalUserOp(sender), credential, c.entryPoint.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "pm_supported_tokens")
	}

	return res, nil
}

// SupportedTokensForOp is the heavier fallback probe: it sends a fully
// assembled (unsigned) operation, which some paymaster versions require
// before answering.
func (c *Client) SupportedTokensForOp(ctx context.Context, op *userop.UserOperation, credential string) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.rpc.CallContext(ctx, &res, "pm_supported_tokens",
		op, credential, c.entryPoint.Hex())
	if err != nil {
		return nil, errors.Wrap(err, "pm_supported_tokens")
	}

	return res, nil
}
