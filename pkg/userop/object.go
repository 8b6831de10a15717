// Package userop models the ERC-4337 v0.6 user operation envelope: the
// struct, its hex wire encoding, and its canonical hash.
package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
)

// UserOperation is the envelope submitted to a bundler in place of a regular
// transaction. It is assembled and signed by the account builder and treated
// as immutable once submitted.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	packArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes32")},
		{Type: mustType("bytes32")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("uint256")},
		{Type: mustType("bytes32")},
	}
	hashArgs = abi.Arguments{
		{Type: mustType("bytes32")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
	}
)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// PackForSignature returns the static encoding of the operation with byte
// fields collapsed to their keccak256 hashes, as hashed by the entry point.
func (op *UserOperation) PackForSignature() []byte {
	packed, err := packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		// Arguments are statically typed; packing cannot fail on valid input.
		panic(err)
	}

	return packed
}

// GetUserOpHash returns the canonical operation hash bound to the entry
// point and chain.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	enc, err := hashArgs.Pack(
		crypto.Keccak256Hash(op.PackForSignature()),
		entryPoint,
		chainID,
	)
	if err != nil {
		panic(err)
	}

	return crypto.Keccak256Hash(enc)
}

type wireOp struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// MarshalJSON encodes every field as a 0x-prefixed hex string, the form
// bundler and paymaster RPC endpoints expect.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{
		Sender:               op.Sender.Hex(),
		Nonce:                hexutil.EncodeBig(orZero(op.Nonce)),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         hexutil.EncodeBig(orZero(op.CallGasLimit)),
		VerificationGasLimit: hexutil.EncodeBig(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   hexutil.EncodeBig(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         hexutil.EncodeBig(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: hexutil.EncodeBig(orZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	})
}

// UnmarshalJSON decodes the hex wire form.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	decodeBig := func(s string) (*big.Int, error) {
		if s == "" {
			return big.NewInt(0), nil
		}
		return hexutil.DecodeBig(s)
	}
	decodeBytes := func(s string) ([]byte, error) {
		if s == "" || s == "0x" {
			return []byte{}, nil
		}
		return hexutil.Decode(s)
	}

	var err error
	op.Sender = common.HexToAddress(w.Sender)
	if op.Nonce, err = decodeBig(w.Nonce); err != nil {
		return err
	}
	if op.InitCode, err = decodeBytes(w.InitCode); err != nil {
		return err
	}
	if op.CallData, err = decodeBytes(w.CallData); err != nil {
		return err
	}
	if op.CallGasLimit, err = decodeBig(w.CallGasLimit); err != nil {
		return err
	}
	if op.VerificationGasLimit, err = decodeBig(w.VerificationGasLimit); err != nil {
		return err
	}
	if op.PreVerificationGas, err = decodeBig(w.PreVerificationGas); err != nil {
		return err
	}
	if op.MaxFeePerGas, err = decodeBig(w.MaxFeePerGas); err != nil {
		return err
	}
	if op.MaxPriorityFeePerGas, err = decodeBig(w.MaxPriorityFeePerGas); err != nil {
		return err
	}
	if op.PaymasterAndData, err = decodeBytes(w.PaymasterAndData); err != nil {
		return err
	}
	op.Signature, err = decodeBytes(w.Signature)

	return err
}
