// Package client talks to an ERC-4337 bundler over JSON-RPC: submitting
// user operations, polling for inclusion receipts and looking operations up
// by hash.
package client

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/nerochain/aa-client/pkg/userop"
)

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// TxReceipt is the on-chain transaction receipt embedded in a user operation
// receipt, reduced to the fields callers read.
type TxReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	BlockHash       common.Hash    `json:"blockHash"`
	GasUsed         *hexutil.Big   `json:"gasUsed"`
	Status          hexutil.Uint64 `json:"status"`
}

// UserOperationReceipt is the bundler's eth_getUserOperationReceipt result.
type UserOperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Receipt       *TxReceipt     `json:"receipt"`
}

// Lookup is the bundler's eth_getUserOperationByHash result: the operation
// plus its inclusion coordinates. TransactionHash is zero while the
// operation is still pending.
type Lookup struct {
	UserOperation   *userop.UserOperation `json:"userOperation"`
	EntryPoint      common.Address        `json:"entryPoint"`
	BlockNumber     *hexutil.Big          `json:"blockNumber"`
	BlockHash       common.Hash           `json:"blockHash"`
	TransactionHash common.Hash           `json:"transactionHash"`
}

// Client wraps a bundler RPC endpoint.
type Client struct {
	rpc          rpcCaller
	entryPoint   common.Address
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       logr.Logger
}

// Dial connects to a bundler endpoint.
func Dial(ctx context.Context, url string, entryPoint common.Address, pollInterval, pollTimeout time.Duration, l logr.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "dial bundler")
	}
	return NewClient(rc, entryPoint, pollInterval, pollTimeout, l), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(rc rpcCaller, entryPoint common.Address, pollInterval, pollTimeout time.Duration, l logr.Logger) *Client {
	return &Client{
		rpc:          rc,
		entryPoint:   entryPoint,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       l.WithName("bundler"),
	}
}

// SendUserOperation submits op and returns the user operation hash assigned
// by the bundler.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendUserOperation", op, c.entryPoint.Hex()); err != nil {
		return common.Hash{}, errors.Wrap(err, "eth_sendUserOperation")
	}

	c.logger.Info("user operation submitted", "userop_hash", hash.Hex())
	return hash, nil
}

// GetUserOperationReceipt fetches the receipt for a user operation hash.
// A nil receipt with nil error means the operation is not yet included.
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := c.rpc.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash.Hex()); err != nil {
		return nil, errors.Wrap(err, "eth_getUserOperationReceipt")
	}
	return receipt, nil
}

// GetUserOperationByHash looks up a submitted operation. Returns nil when
// the bundler does not know the hash.
func (c *Client) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*Lookup, error) {
	var lookup *Lookup
	if err := c.rpc.CallContext(ctx, &lookup, "eth_getUserOperationByHash", hash.Hex()); err != nil {
		return nil, errors.Wrap(err, "eth_getUserOperationByHash")
	}
	return lookup, nil
}

// Wait polls for the inclusion receipt of hash. It returns (nil, nil) when
// the poll window elapses without inclusion; RPC failures during polling are
// retried until the window closes.
func (c *Client) Wait(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			c.logger.V(1).Info("receipt poll failed", "userop_hash", hash.Hex(), "err", err.Error())
		} else if receipt != nil {
			return receipt, nil
		}

		if time.Now().After(deadline) {
			c.logger.Info("receipt poll timed out", "userop_hash", hash.Hex())
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
