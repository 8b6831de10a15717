// Package contracts holds the parsed ABIs for the external token and NFT
// collaborators and thin helpers for packing calls and decoding results.
// Contracts are reached exclusively through call-data encoding; nothing here
// depends on contract internals.
package contracts

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Backend is the minimal chain-read surface the discovery and balance paths
// need. *ethclient.Client satisfies it; tests inject fakes.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

const erc20JSON = `[
	{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"type":"uint8"}],"stateMutability":"view"},
	{"type":"function","name":"symbol","inputs":[],"outputs":[{"type":"string"}],"stateMutability":"view"}
]`

const erc721JSON = `[
	{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"tokenURI","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"type":"string"}],"stateMutability":"view"},
	{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"type":"uint256"}],"stateMutability":"view"}
]`

var (
	// ERC20 covers the token surface: mint, transfer, approve, balanceOf,
	// allowance, decimals, symbol.
	ERC20 = mustParse(erc20JSON)

	// ERC721 covers the NFT surface: mint(to, uri), balanceOf, ownerOf,
	// tokenURI, totalSupply.
	ERC721 = mustParse(erc721JSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Pack encodes a method call against the given ABI.
func Pack(contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	return data, errors.Wrapf(err, "pack %s", method)
}

// Call performs an eth_call of method on addr and unpacks the outputs.
func Call(ctx context.Context, backend Backend, contract abi.ABI, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := Pack(contract, method, args...)
	if err != nil {
		return nil, err
	}

	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}

	res, err := contract.Unpack(method, out)
	return res, errors.Wrapf(err, "unpack %s", method)
}

// CallUint is Call for methods returning a single uint256.
func CallUint(ctx context.Context, backend Backend, contract abi.ABI, addr common.Address, method string, args ...interface{}) (*big.Int, error) {
	res, err := Call(ctx, backend, contract, addr, method, args...)
	if err != nil {
		return nil, err
	}

	v, ok := res[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s: unexpected output type %T", method, res[0])
	}

	return v, nil
}
