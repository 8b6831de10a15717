// Package account assembles and signs user operations for a simple-account
// abstracted wallet. A Builder is bound to one controlling EOA; the gas
// payment policy is supplied per call.
package account

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/nerochain/aa-client/pkg/contracts"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/signer"
	"github.com/nerochain/aa-client/pkg/userop"
)

const factoryJSON = `[
	{"type":"function","name":"createAccount","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"type":"address"}]},
	{"type":"function","name":"getAddress","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"type":"address"}],"stateMutability":"view"}
]`

const accountJSON = `[
	{"type":"function","name":"execute","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]}
]`

const entryPointJSON = `[
	{"type":"function","name":"getNonce","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"type":"uint256"}],"stateMutability":"view"}
]`

var (
	factoryABI    = mustParse(factoryJSON)
	accountABI    = mustParse(accountJSON)
	entryPointABI = mustParse(entryPointJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// GasParams are the default gas fields applied to assembled operations,
// already adjusted for any fee multiplier.
type GasParams struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasSource returns gas defaults for a multiplier in percent (0 = default).
type GasSource func(multiplier int) GasParams

// Builder constructs signed user operations for the abstracted wallet
// controlled by one EOA. Construction derives the counterfactual wallet
// address, which costs RPC round trips; builders are therefore cached by the
// wallet provider and reused while the controlling key stays the same.
type Builder struct {
	eoa        *signer.EOA
	backend    contracts.Backend
	pm         *paymaster.Client
	entryPoint common.Address
	factory    common.Address
	chainID    *big.Int
	gas        GasSource
	credential string
	sender     common.Address
	logger     logr.Logger
}

// New derives the sender address for eoa through the factory and returns a
// Builder bound to it. The salt is fixed at zero: one wallet per key.
func New(
	ctx context.Context,
	eoa *signer.EOA,
	backend contracts.Backend,
	pm *paymaster.Client,
	entryPoint common.Address,
	factory common.Address,
	chainID *big.Int,
	gas GasSource,
	credential string,
	l logr.Logger,
) (*Builder, error) {
	res, err := contracts.Call(ctx, backend, factoryABI, factory, "getAddress", eoa.Address, big.NewInt(0))
	if err != nil {
		return nil, errors.Wrap(err, "derive wallet address")
	}
	sender, ok := res[0].(common.Address)
	if !ok {
		return nil, errors.Errorf("getAddress: unexpected output type %T", res[0])
	}

	return &Builder{
		eoa:        eoa,
		backend:    backend,
		pm:         pm,
		entryPoint: entryPoint,
		factory:    factory,
		chainID:    chainID,
		gas:        gas,
		credential: credential,
		sender:     sender,
		logger:     l.WithName("builder").WithValues("sender", sender.Hex()),
	}, nil
}

// Sender returns the abstracted wallet address.
func (b *Builder) Sender() common.Address {
	return b.sender
}

// Owner returns the controlling EOA address.
func (b *Builder) Owner() common.Address {
	return b.eoa.Address
}

// SetCredential refreshes the ambient credential used when a policy carries
// none. This is the only mutation a cache hit performs.
func (b *Builder) SetCredential(credential string) {
	b.credential = credential
}

// initCode returns factory++createAccount calldata while the wallet is not
// yet deployed, empty bytes afterwards.
func (b *Builder) initCode(ctx context.Context) ([]byte, error) {
	code, err := b.backend.CodeAt(ctx, b.sender, nil)
	if err != nil {
		return nil, errors.Wrap(err, "check wallet deployment")
	}
	if len(code) > 0 {
		return []byte{}, nil
	}

	create, err := contracts.Pack(factoryABI, "createAccount", b.eoa.Address, big.NewInt(0))
	if err != nil {
		return nil, err
	}

	return append(b.factory.Bytes(), create...), nil
}

func (b *Builder) nonce(ctx context.Context) (*big.Int, error) {
	return contracts.CallUint(ctx, b.backend, entryPointABI, b.entryPoint, "getNonce", b.sender, big.NewInt(0))
}

// Prepare assembles an unsigned operation with live nonce, init code and
// gas defaults but no call data. Used for paymaster queries that want a
// realistic envelope.
func (b *Builder) Prepare(ctx context.Context, multiplier int) (*userop.UserOperation, error) {
	nonce, err := b.nonce(ctx)
	if err != nil {
		return nil, err
	}
	initCode, err := b.initCode(ctx)
	if err != nil {
		return nil, err
	}

	gas := b.gas(multiplier)
	return &userop.UserOperation{
		Sender:               b.sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             []byte{},
		CallGasLimit:         gas.CallGasLimit,
		VerificationGasLimit: gas.VerificationGasLimit,
		PreVerificationGas:   gas.PreVerificationGas,
		MaxFeePerGas:         gas.MaxFeePerGas,
		MaxPriorityFeePerGas: gas.MaxPriorityFeePerGas,
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}, nil
}

// Execute assembles, sponsors and signs a user operation that makes the
// wallet call target with value and data. The policy is applied whole for
// this call only; nothing about it survives onto the builder.
func (b *Builder) Execute(ctx context.Context, target common.Address, value *big.Int, data []byte, policy paymaster.Policy) (*userop.UserOperation, error) {
	if policy.Credential == "" {
		policy.Credential = b.credential
	}
	if value == nil {
		value = big.NewInt(0)
	}

	op, err := b.Prepare(ctx, policy.GasMultiplier)
	if err != nil {
		return nil, err
	}

	callData, err := contracts.Pack(accountABI, "execute", target, value, data)
	if err != nil {
		return nil, err
	}
	op.CallData = callData

	if err := b.pm.Sponsor(ctx, op, policy); err != nil {
		return nil, err
	}

	op.Signature, err = b.sign(op)
	if err != nil {
		return nil, err
	}

	b.logger.V(1).Info("assembled user operation",
		"target", target.Hex(),
		"payment_type", policy.Type.String(),
		"nonce", op.Nonce)

	return op, nil
}

// sign produces the EIP-191 prefixed signature over the operation hash with
// low-S normalization and the Ethereum recovery id offset.
func (b *Builder) sign(op *userop.UserOperation) ([]byte, error) {
	opHash := op.GetUserOpHash(b.entryPoint, b.chainID).Bytes()
	prefixed := crypto.Keccak256Hash(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(opHash), opHash)),
	)

	sig, err := crypto.Sign(prefixed.Bytes(), b.eoa.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "sign user operation")
	}

	s := new(big.Int).SetBytes(sig[32:64])
	secp256k1N := crypto.S256().Params().N
	if s.Cmp(new(big.Int).Rsh(secp256k1N, 1)) > 0 {
		// negating s flips the recovery id with it
		s.Sub(secp256k1N, s)
		copy(sig[32:64], common.LeftPadBytes(s.Bytes(), 32))
		sig[64] ^= 1
	}
	sig[64] += 27

	return sig, nil
}
